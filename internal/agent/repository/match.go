package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/propwatch/internal/agent/model"
	"github.com/jmerrifield20/propwatch/internal/propertymodel"
)

// MatchRepository provides create/read/update operations for Match.
type MatchRepository struct {
	db dbTx
}

// NewMatchRepository creates a new MatchRepository.
func NewMatchRepository(db *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{db: db}
}

// WithTx returns a MatchRepository bound to an in-progress transaction, used
// by the check procedure to group match writes with the agent counter
// update and outbox enqueue they must commit or roll back alongside (see
// internal/agentsvc.Manager.evaluate).
func (r *MatchRepository) WithTx(tx pgx.Tx) *MatchRepository {
	return &MatchRepository{db: tx}
}

// Create inserts a new Match row. (agent_id, property_key) is unique;
// a conflict here indicates a bug in the match engine's dedup logic upstream
// and is surfaced as a plain error rather than silently ignored.
func (r *MatchRepository) Create(ctx context.Context, m *model.Match) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.MatchedAt.IsZero() {
		m.MatchedAt = time.Now().UTC()
	}
	if m.DeliveryStatus == "" {
		m.DeliveryStatus = model.DeliveryStatusNew
	}

	propJSON, err := json.Marshal(m.Property)
	if err != nil {
		return fmt.Errorf("marshal property snapshot: %w", err)
	}

	query := `
		INSERT INTO matches (id, agent_id, property_key, match_score, reasons, property_json, matched_at, delivery_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = r.db.Exec(ctx, query, m.ID, m.AgentID, m.PropertyKey, m.MatchScore, m.Reasons, propJSON, m.MatchedAt, m.DeliveryStatus)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

const matchColumns = `id, agent_id, property_key, match_score, reasons, property_json, matched_at, delivery_status`

func scanMatch(row pgx.Row) (*model.Match, error) {
	var m model.Match
	var propJSON []byte
	err := row.Scan(&m.ID, &m.AgentID, &m.PropertyKey, &m.MatchScore, &m.Reasons, &propJSON, &m.MatchedAt, &m.DeliveryStatus)
	if err != nil {
		return nil, err
	}
	var p propertymodel.Property
	if err := json.Unmarshal(propJSON, &p); err != nil {
		return nil, fmt.Errorf("unmarshal property snapshot: %w", err)
	}
	m.Property = p
	return &m, nil
}

// ListByAgent returns every Match row owned by the given agent.
func (r *MatchRepository) ListByAgent(ctx context.Context, agentID string) ([]*model.Match, error) {
	rows, err := r.db.Query(ctx, `SELECT `+matchColumns+` FROM matches WHERE agent_id = $1 ORDER BY matched_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var matches []*model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// GetByAgentAndKey looks up the match row for a given agent and property
// key, used to resolve the durable match ID a price-drop event references
// before it is enqueued to the CRM outbox.
func (r *MatchRepository) GetByAgentAndKey(ctx context.Context, agentID, propertyKey string) (*model.Match, error) {
	m, err := scanMatch(r.db.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE agent_id = $1 AND property_key = $2`, agentID, propertyKey))
	if err != nil {
		return nil, translateNoRows(err, ErrNotFound)
	}
	return m, nil
}

// ExistingKeys returns, for dedup purposes, the property_key and captured
// list price of every Match row owned by the agent. Only the key and
// captured price are needed for dedup and price-drop comparison.
func (r *MatchRepository) ExistingKeys(ctx context.Context, agentID string) (map[string]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT property_key, (property_json->>'ListPrice')::bigint FROM matches WHERE agent_id = $1`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list existing keys: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var price int64
		if err := rows.Scan(&key, &price); err != nil {
			return nil, err
		}
		out[key] = price
	}
	return out, rows.Err()
}

// UpdateCapturedPrice updates the captured property snapshot's price after a
// PriceDrop event.
func (r *MatchRepository) UpdateCapturedPrice(ctx context.Context, agentID, propertyKey string, newPrice int64) error {
	query := `UPDATE matches SET property_json = jsonb_set(property_json, '{ListPrice}', to_jsonb($3::bigint))
		WHERE agent_id = $1 AND property_key = $2`
	tag, err := r.db.Exec(ctx, query, agentID, propertyKey, newPrice)
	if err != nil {
		return fmt.Errorf("update captured price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDeliveryStatus moves a match through its CRM delivery lifecycle.
func (r *MatchRepository) UpdateDeliveryStatus(ctx context.Context, id string, status model.DeliveryStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE matches SET delivery_status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a single match by ID. The CRM sync worker does not use
// it: queued deliveries carry the match in their outbox payload.
func (r *MatchRepository) GetByID(ctx context.Context, id string) (*model.Match, error) {
	m, err := scanMatch(r.db.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if err != nil {
		return nil, translateNoRows(err, ErrNotFound)
	}
	return m, nil
}

// CountByAgent returns the count of Match rows owned by an agent, used by
// tests and operator tooling to verify the match_count bookkeeping.
func (r *MatchRepository) CountByAgent(ctx context.Context, agentID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM matches WHERE agent_id = $1`, agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return n, nil
}
