package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxStatus is the delivery lifecycle of a single CRM outbox event.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusDelivering OutboxStatus = "delivering"
	OutboxStatusDelivered  OutboxStatus = "delivered"
	OutboxStatusDead       OutboxStatus = "dead"
)

// OutboxEvent is a durable, at-least-once queue entry carrying a match to
// the configured CRM. Living in Postgres rather than an in-memory channel
// means a crashed delivery worker loses no events: they are simply picked
// back up by the next poll.
type OutboxEvent struct {
	ID            string
	AgentID       string
	MatchID       string
	EventType     string
	Payload       json.RawMessage
	Status        OutboxStatus
	Attempt       int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastError     string
}

// OutboxRepository provides enqueue/claim/settle operations for the CRM
// delivery outbox. pool is non-nil only on the pool-backed repository;
// ClaimBatch needs it directly to run its own claim transaction, separate
// from any transaction db is bound to.
type OutboxRepository struct {
	db   dbTx
	pool *pgxpool.Pool
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{db: db, pool: db}
}

// WithTx returns an OutboxRepository bound to an in-progress transaction, so
// Enqueue can be grouped with match writes and the agent counter update
// (see internal/agentsvc.Manager.evaluate). ClaimBatch must not be called on
// the result: only the delivery worker's pool-backed repository runs its
// own claim transaction.
func (r *OutboxRepository) WithTx(tx pgx.Tx) *OutboxRepository {
	return &OutboxRepository{db: tx}
}

// Enqueue inserts a new pending outbox event for immediate delivery.
func (r *OutboxRepository) Enqueue(ctx context.Context, agentID, matchID, eventType string, payload json.RawMessage) (*OutboxEvent, error) {
	now := time.Now().UTC()
	e := &OutboxEvent{
		ID:            uuid.New().String(),
		AgentID:       agentID,
		MatchID:       matchID,
		EventType:     eventType,
		Payload:       payload,
		Status:        OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	query := `
		INSERT INTO crm_outbox (id, agent_id, match_id, event_type, payload_json, status,
		                         attempt, next_attempt_at, created_at, updated_at, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.Exec(ctx, query,
		e.ID, e.AgentID, e.MatchID, e.EventType, []byte(e.Payload), e.Status,
		e.Attempt, e.NextAttemptAt, e.CreatedAt, e.UpdatedAt, e.LastError,
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue outbox event: %w", err)
	}
	return e, nil
}

const outboxColumns = `id, agent_id, match_id, event_type, payload_json, status,
		attempt, next_attempt_at, created_at, updated_at, last_error`

func scanOutboxEvent(row pgx.Row) (*OutboxEvent, error) {
	var e OutboxEvent
	var payload []byte
	err := row.Scan(
		&e.ID, &e.AgentID, &e.MatchID, &e.EventType, &payload, &e.Status,
		&e.Attempt, &e.NextAttemptAt, &e.CreatedAt, &e.UpdatedAt, &e.LastError,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}

// ClaimBatch selects up to limit pending events whose next_attempt_at has
// passed, oldest first per agent (FIFO-per-agent delivery ordering), and
// atomically marks them delivering so a second concurrent worker poll
// cannot pick up the same row. Uses FOR UPDATE SKIP LOCKED so multiple
// delivery workers can run against the same table without contending.
func (r *OutboxRepository) ClaimBatch(ctx context.Context, asOf time.Time, limit int) ([]*OutboxEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT ` + outboxColumns + ` FROM crm_outbox
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY agent_id, created_at, id
		LIMIT $3
		FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, OutboxStatusPending, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch select: %w", err)
	}
	var events []*OutboxEvent
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, e := range events {
		_, err := tx.Exec(ctx, `UPDATE crm_outbox SET status = $2, updated_at = $3 WHERE id = $1`,
			e.ID, OutboxStatusDelivering, asOf)
		if err != nil {
			return nil, fmt.Errorf("mark delivering: %w", err)
		}
		e.Status = OutboxStatusDelivering
		e.UpdatedAt = asOf
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return events, nil
}

// MarkDelivered settles a successfully delivered event.
func (r *OutboxRepository) MarkDelivered(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE crm_outbox SET status = $2, updated_at = now(), last_error = '' WHERE id = $1`,
		id, OutboxStatusDelivered)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRetry returns a delivering event to pending with a future
// next_attempt_at and an incremented attempt counter, recording the
// failure reason for operator visibility.
func (r *OutboxRepository) MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) error {
	query := `
		UPDATE crm_outbox SET
			status          = $2,
			attempt         = attempt + 1,
			next_attempt_at = $3,
			updated_at      = now(),
			last_error      = $4
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, OutboxStatusPending, nextAttemptAt, lastErr)
	if err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDead permanently fails an event (e.g. after a 401/403 response, or
// exhausting the retry budget) so it is never retried again.
func (r *OutboxRepository) MarkDead(ctx context.Context, id string, lastErr string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE crm_outbox SET status = $2, updated_at = now(), last_error = $3 WHERE id = $1`,
		id, OutboxStatusDead, lastErr)
	if err != nil {
		return fmt.Errorf("mark dead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByStatus returns the number of outbox rows in the given status.
func (r *OutboxRepository) CountByStatus(ctx context.Context, status OutboxStatus) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM crm_outbox WHERE status = $1`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outbox by status: %w", err)
	}
	return n, nil
}
