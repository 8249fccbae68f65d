// Package model defines the persisted domain entities for the Agent
// Manager: Client, Criteria, Agent, and Match.
//
// Grounded on internal/registry/model/agent.go's struct shape (status enum,
// db tags, JSON metadata column) and internal/dns's crypto/rand short-token
// generator, adapted to produce short human-readable agent IDs instead of a
// DNS challenge token.
package model

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/propwatch/internal/matchengine"
	"github.com/jmerrifield20/propwatch/internal/propertymodel"
)

// ClientStatus is the lifecycle state of a Client.
type ClientStatus string

const (
	ClientStatusActive   ClientStatus = "active"
	ClientStatusInactive ClientStatus = "inactive"
)

// Client is an investor or buyer on whose behalf agents search the corpus.
type Client struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Notes     string
	Status    ClientStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CriteriaRecord wraps a matchengine.Criteria with persistence metadata.
// Criteria is immutable once attached to an agent; a re-configured
// agent owns a new CriteriaRecord rather than mutating this one in place.
type CriteriaRecord struct {
	matchengine.Criteria
	CreatedAt time.Time
}

// AgentStatus is the lifecycle state of an Agent.
type AgentStatus string

const (
	AgentStatusActive    AgentStatus = "active"
	AgentStatusPaused    AgentStatus = "paused"
	AgentStatusCancelled AgentStatus = "cancelled"
	AgentStatusCompleted AgentStatus = "completed"
)

// HealthStatus surfaces the degraded-health heuristic on the read API.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
)

// NotificationPrefs are the per-agent channels to notify on a new match.
type NotificationPrefs struct {
	Email bool
	SMS   bool
	Chat  bool
}

// Agent is a persistent per-client configuration that periodically searches
// the corpus.
type Agent struct {
	ID         string
	ClientID   string
	CriteriaID string
	Status     AgentStatus
	Health     HealthStatus

	CreatedAt   time.Time
	LastCheckAt *time.Time
	NextCheckAt *time.Time

	CheckCount int
	MatchCount int

	ConsecutiveFailures int

	Notify NotificationPrefs
}

// Terminal reports whether the agent is in a state from which no further
// lifecycle transition is allowed.
func (a *Agent) Terminal() bool {
	return a.Status == AgentStatusCancelled || a.Status == AgentStatusCompleted
}

// DeliveryStatus is the CRM delivery lifecycle of a Match.
type DeliveryStatus string

const (
	DeliveryStatusNew       DeliveryStatus = "new"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusViewed    DeliveryStatus = "viewed"
	DeliveryStatusContacted DeliveryStatus = "contacted"
	DeliveryStatusClosed    DeliveryStatus = "closed"
)

// Match is a persisted record that an agent has been notified about a given
// property. Created exactly once per (AgentID, PropertyKey).
type Match struct {
	ID             string
	AgentID        string
	PropertyKey    string
	MatchScore     int
	Reasons        []string
	Property       propertymodel.Property // captured value at the moment of match
	MatchedAt      time.Time
	DeliveryStatus DeliveryStatus
}

// GenerateAgentID returns a short, human-readable, URL-safe agent
// identifier: a 6-byte random value, base32-encoded without padding, always
// lower-case, giving 10 characters after the prefix. E.g. "ag_k3n5qzr7wm".
func GenerateAgentID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate agent id: %w", err)
	}
	enc := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf))
	return "ag_" + enc, nil
}
