// cmd/propwatchctl is the operator CLI for propwatch: create and manage
// monitoring agents and trigger corpus reloads against a running
// propwatch service, without needing direct database access.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/propwatch/internal/apiclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serverURL string
	apiKey    string
	cfgFile   string
	outFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "propwatchctl",
	Short: "propwatch operator CLI",
	Long: `propwatchctl is the command-line interface for propwatch.

It creates and manages monitoring agents, inspects their matches, and
triggers corpus reloads against a running propwatch server.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.propwatch")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("propwatchctl")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if apiKey == "" {
			apiKey = viper.GetString("api_key")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.propwatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "propwatch server base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "bearer token for the propwatch server, if auth is enabled")
	rootCmd.PersistentFlags().StringVar(&outFormat, "format", "text", "output format: text or json")

	agentCmd.AddCommand(agentCreateCmd, agentListCmd, agentGetCmd, agentPauseCmd, agentResumeCmd, agentCancelCmd, agentCheckCmd, agentMatchesCmd)
	rootCmd.AddCommand(agentCmd)
	corpusCmd.AddCommand(corpusReloadCmd)
	rootCmd.AddCommand(corpusCmd)
	rootCmd.AddCommand(versionCmd)
}

func apiClient() *apiclient.Client {
	opts := []apiclient.Option{}
	if apiKey != "" {
		opts = append(opts, apiclient.WithAPIKey(apiKey))
	}
	return apiclient.New(serverURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── agent ────────────────────────────────────────────────────────────────────

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage monitoring agents",
}

var (
	createClientName     string
	createClientEmail    string
	createLocations      []string
	createPriceMin       int64
	createPriceMax       int64
	createMinScore       int
	createInvestmentType string
	createNotifyEmail    bool
	createNotifySMS      bool
)

var agentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new monitoring agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := apiclient.CreateAgentRequest{
			ClientName:  createClientName,
			ClientEmail: createClientEmail,
			Criteria: apiclient.Criteria{
				Locations:      createLocations,
				InvestmentType: createInvestmentType,
			},
			Notify: apiclient.Notify{Email: createNotifyEmail, SMS: createNotifySMS},
		}
		if createPriceMin > 0 {
			req.Criteria.PriceMin = &createPriceMin
		}
		if createPriceMax > 0 {
			req.Criteria.PriceMax = &createPriceMax
		}
		if cmd.Flags().Changed("min-score") {
			req.Criteria.MinScore = &createMinScore
		}

		agent, err := apiClient().CreateAgent(context.Background(), req)
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(agent)
		}
		fmt.Printf("created agent %s (client=%s, status=%s)\n", agent.ID, agent.ClientID, agent.Status)
		return nil
	},
}

func init() {
	agentCreateCmd.Flags().StringVar(&createClientName, "client-name", "", "name of the client the agent acts on behalf of (required)")
	agentCreateCmd.Flags().StringVar(&createClientEmail, "client-email", "", "email of the client the agent acts on behalf of (required)")
	agentCreateCmd.Flags().StringSliceVar(&createLocations, "location", nil, "postal code to monitor (repeatable)")
	agentCreateCmd.Flags().Int64Var(&createPriceMin, "price-min", 0, "minimum list price")
	agentCreateCmd.Flags().Int64Var(&createPriceMax, "price-max", 0, "maximum list price")
	agentCreateCmd.Flags().IntVar(&createMinScore, "min-score", 0, "minimum match score [0,100]")
	agentCreateCmd.Flags().StringVar(&createInvestmentType, "investment-type", "", "investment strategy label")
	agentCreateCmd.Flags().BoolVar(&createNotifyEmail, "notify-email", true, "notify by email on new matches")
	agentCreateCmd.Flags().BoolVar(&createNotifySMS, "notify-sms", false, "notify by SMS on new matches")
	_ = agentCreateCmd.MarkFlagRequired("client-name")
	_ = agentCreateCmd.MarkFlagRequired("client-email")
}

var agentListStatus string

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitoring agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		agents, err := apiClient().ListAgents(context.Background(), agentListStatus)
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(agents)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCLIENT\tSTATUS\tHEALTH\tMATCHES\tNEXT CHECK")
		for _, a := range agents {
			next := "-"
			if a.NextCheckAt != nil {
				next = a.NextCheckAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", a.ID, a.ClientID, a.Status, a.Health, a.MatchCount, next)
		}
		return tw.Flush()
	},
}

func init() {
	agentListCmd.Flags().StringVar(&agentListStatus, "status", "", "filter by status (active, paused, cancelled, completed)")
}

var agentGetCmd = &cobra.Command{
	Use:   "get <agent-id>",
	Short: "Show a single agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := apiClient().GetAgent(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(agent)
	},
}

var agentPauseCmd = &cobra.Command{
	Use:   "pause <agent-id>",
	Short: "Pause an agent's periodic checks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().PauseAgent(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("paused %s\n", args[0])
		return nil
	},
}

var agentResumeCmd = &cobra.Command{
	Use:   "resume <agent-id>",
	Short: "Resume a paused agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().ResumeAgent(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("resumed %s\n", args[0])
		return nil
	},
}

var agentCancelCmd = &cobra.Command{
	Use:   "cancel <agent-id>",
	Short: "Permanently cancel an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().CancelAgent(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("cancelled %s\n", args[0])
		return nil
	},
}

var agentCheckCmd = &cobra.Command{
	Use:   "check <agent-id>",
	Short: "Trigger an immediate on-demand check",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := apiClient().CheckAgent(context.Background(), args[0])
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(result)
		}
		fmt.Printf("checked %s: %d new matches, %d price drops, health=%s (%dms)\n",
			result.AgentID, result.NewMatches, result.PriceDrops, result.Health, result.TookMS)
		return nil
	},
}

var agentMatchesCmd = &cobra.Command{
	Use:   "matches <agent-id>",
	Short: "List matches recorded for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		matches, err := apiClient().ListMatches(context.Background(), args[0])
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(matches)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSCORE\tDELIVERY\tMATCHED AT")
		for _, m := range matches {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", m.ID, m.MatchScore, m.DeliveryStatus, m.MatchedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

// ── corpus ───────────────────────────────────────────────────────────────────

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the property corpus",
}

var corpusReloadCmd = &cobra.Command{
	Use:   "reload <snapshot.json> <feed.csv>",
	Short: "Merge an auxiliary feed into a base snapshot and swap it in",
	Long: `reload runs the enrichment pipeline on the server: it loads the base
property snapshot at snapshot.json, merges the owner-intelligence feed at
feed.csv into it by address key, and atomically swaps the result in as the
corpus store's current snapshot. Both paths are resolved on the server, not
the machine running propwatchctl.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := apiClient().ReloadCorpus(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(result)
		}
		fmt.Printf("corpus reloaded: %d properties, %d matched, %d unmatched, %d rows skipped\n",
			result.Properties, result.Matched, result.Unmatched, result.SkippedRows)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the propwatchctl version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version)
		return nil
	},
}
