// Package apiclient is the propwatch HTTP SDK used by cmd/propwatchctl. It
// wraps the REST surface exposed by internal/httpapi. Grounded on
// pkg/client's Client/Option/New shape, trimmed to plain bearer-token HTTP
// (propwatch carries no mTLS/identity subsystem).
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the propwatch API SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client (e.g. for custom timeouts).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIKey attaches an Authorization: Bearer header to every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// New creates a Client targeting baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Criteria is the wire shape of a Criteria accepted/returned by the API.
type Criteria struct {
	Locations      []string `json:"locations"`
	PriceMin       *int64   `json:"price_min,omitempty"`
	PriceMax       *int64   `json:"price_max,omitempty"`
	BedroomsMin    *float64 `json:"bedrooms_min,omitempty"`
	BathroomsMin   *float64 `json:"bathrooms_min,omitempty"`
	PropertyTypes  []string `json:"property_types,omitempty"`
	DealQualities  []string `json:"deal_qualities,omitempty"`
	MinScore       *int     `json:"min_score,omitempty"`
	InvestmentType string   `json:"investment_type,omitempty"`
}

// Notify is the wire shape of an agent's notification preferences.
type Notify struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Chat  bool `json:"chat"`
}

// Agent is the wire shape returned by the agent endpoints.
type Agent struct {
	ID          string     `json:"id"`
	ClientID    string     `json:"client_id"`
	Status      string     `json:"status"`
	Health      string     `json:"health"`
	Criteria    Criteria   `json:"criteria"`
	Notify      Notify     `json:"notify"`
	CreatedAt   time.Time  `json:"created_at"`
	LastCheckAt *time.Time `json:"last_check_at,omitempty"`
	NextCheckAt *time.Time `json:"next_check_at,omitempty"`
	CheckCount  int        `json:"check_count"`
	MatchCount  int        `json:"match_count"`
}

// Match is the wire shape returned by GET /api/agents/{id}/matches.
type Match struct {
	ID             string          `json:"id"`
	AgentID        string          `json:"agent_id"`
	PropertyKey    string          `json:"property_key"`
	MatchScore     int             `json:"match_score"`
	Reasons        []string        `json:"reasons"`
	Property       json.RawMessage `json:"property"`
	MatchedAt      time.Time       `json:"matched_at"`
	DeliveryStatus string          `json:"delivery_status"`
}

// CheckResult is the wire shape returned by POST /api/agents/{id}/check.
type CheckResult struct {
	AgentID    string `json:"agent_id"`
	NewMatches int    `json:"new_matches"`
	PriceDrops int    `json:"price_drops"`
	Health     string `json:"health"`
	TookMS     int64  `json:"took_ms"`
}

// CreateAgentRequest is the payload for CreateAgent.
type CreateAgentRequest struct {
	ClientName  string   `json:"client_name"`
	ClientEmail string   `json:"client_email"`
	Criteria    Criteria `json:"criteria"`
	Notify      Notify   `json:"notify"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// CreateAgent creates a new monitoring agent.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (*Agent, error) {
	var out Agent
	if err := c.do(ctx, http.MethodPost, "/api/agents", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAgent fetches a single agent by ID.
func (c *Client) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var out Agent
	if err := c.do(ctx, http.MethodGet, "/api/agents/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAgents lists agents, optionally filtered by status ("" = all).
func (c *Client) ListAgents(ctx context.Context, status string) ([]Agent, error) {
	path := "/api/agents"
	if status != "" {
		path += "?status=" + status
	}
	var out struct {
		Agents []Agent `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// PauseAgent suspends periodic checks for the agent.
func (c *Client) PauseAgent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/agents/"+id+"/pause", nil, nil)
}

// ResumeAgent resumes periodic checks for a paused agent.
func (c *Client) ResumeAgent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/agents/"+id+"/resume", nil, nil)
}

// CancelAgent permanently stops the agent (soft delete).
func (c *Client) CancelAgent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/agents/"+id, nil, nil)
}

// CheckAgent triggers an immediate, on-demand check.
func (c *Client) CheckAgent(ctx context.Context, id string) (*CheckResult, error) {
	var out CheckResult
	if err := c.do(ctx, http.MethodPost, "/api/agents/"+id+"/check", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReloadCorpusResult is the wire shape returned by POST /api/corpus/reload.
type ReloadCorpusResult struct {
	Properties   int       `json:"properties"`
	Matched      int       `json:"matched"`
	Unmatched    int       `json:"unmatched"`
	SkippedRows  int       `json:"skipped_rows"`
	SnapshotTime time.Time `json:"snapshot_time"`
}

// ReloadCorpus triggers the enrichment pipeline against a base snapshot and
// auxiliary feed already present on the server's filesystem.
func (c *Client) ReloadCorpus(ctx context.Context, snapshotPath, feedPath string) (*ReloadCorpusResult, error) {
	var out ReloadCorpusResult
	body := struct {
		SnapshotPath string `json:"snapshot_path"`
		FeedPath     string `json:"feed_path"`
	}{SnapshotPath: snapshotPath, FeedPath: feedPath}
	if err := c.do(ctx, http.MethodPost, "/api/corpus/reload", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMatches lists matches recorded for an agent.
func (c *Client) ListMatches(ctx context.Context, agentID string) ([]Match, error) {
	var out struct {
		Matches []Match `json:"matches"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/agents/"+agentID+"/matches", nil, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}
