package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/propwatch/internal/agent/model"
)

// AgentRepository provides CRUD and scheduling queries for Agent, grounded
// on internal/registry/repository/agent.go's Create/GetByID/List/Update/
// UpdateStatus shape.
type AgentRepository struct {
	db dbTx
}

// NewAgentRepository creates a new AgentRepository.
func NewAgentRepository(db *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{db: db}
}

// WithTx returns an AgentRepository bound to an in-progress transaction,
// used by the check procedure to group ApplyCheckOutcome with the match and
// outbox writes it must commit or roll back alongside (see
// internal/agentsvc.Manager.evaluate).
func (r *AgentRepository) WithTx(tx pgx.Tx) *AgentRepository {
	return &AgentRepository{db: tx}
}

// Create inserts a new agent, generating an ID if one isn't already set.
func (r *AgentRepository) Create(ctx context.Context, a *model.Agent) error {
	if a.ID == "" {
		id, err := model.GenerateAgentID()
		if err != nil {
			return err
		}
		a.ID = id
	}
	a.CreatedAt = time.Now().UTC()
	if a.Status == "" {
		a.Status = model.AgentStatusActive
	}
	if a.Health == "" {
		a.Health = model.HealthHealthy
	}

	query := `
		INSERT INTO agents (id, client_id, criteria_id, status, health, created_at,
		                     last_check_at, next_check_at, check_count, match_count,
		                     consecutive_failures, notify_email, notify_sms, notify_chat)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.db.Exec(ctx, query,
		a.ID, a.ClientID, a.CriteriaID, a.Status, a.Health, a.CreatedAt,
		a.LastCheckAt, a.NextCheckAt, a.CheckCount, a.MatchCount,
		a.ConsecutiveFailures, a.Notify.Email, a.Notify.SMS, a.Notify.Chat,
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

const agentColumns = `id, client_id, criteria_id, status, health, created_at,
		last_check_at, next_check_at, check_count, match_count,
		consecutive_failures, notify_email, notify_sms, notify_chat`

func scanAgent(row pgx.Row) (*model.Agent, error) {
	var a model.Agent
	err := row.Scan(
		&a.ID, &a.ClientID, &a.CriteriaID, &a.Status, &a.Health, &a.CreatedAt,
		&a.LastCheckAt, &a.NextCheckAt, &a.CheckCount, &a.MatchCount,
		&a.ConsecutiveFailures, &a.Notify.Email, &a.Notify.SMS, &a.Notify.Chat,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByID retrieves an agent by its ID.
func (r *AgentRepository) GetByID(ctx context.Context, id string) (*model.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	a, err := scanAgent(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translateNoRows(err, ErrNotFound)
	}
	return a, nil
}

// List returns all agents, optionally filtered by status.
func (r *AgentRepository) List(ctx context.Context, status model.AgentStatus) ([]*model.Agent, error) {
	var rows pgx.Rows
	var err error
	if status != "" {
		rows, err = r.db.Query(ctx, `SELECT `+agentColumns+` FROM agents WHERE status = $1 ORDER BY created_at DESC`, status)
	} else {
		rows, err = r.db.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ListDue returns active agents whose next_check_at has already passed, used
// by the scheduler to reconstruct pending checks on restart.
func (r *AgentRepository) ListDue(ctx context.Context, asOf time.Time) ([]*model.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents
		WHERE status = $1 AND next_check_at IS NOT NULL AND next_check_at <= $2
		ORDER BY next_check_at ASC`
	rows, err := r.db.Query(ctx, query, model.AgentStatusActive, asOf)
	if err != nil {
		return nil, fmt.Errorf("list due agents: %w", err)
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateNotifyPrefs partially updates only the notification preferences
// Other agent fields are left untouched.
func (r *AgentRepository) UpdateNotifyPrefs(ctx context.Context, id string, prefs model.NotificationPrefs) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE agents SET notify_email = $2, notify_sms = $3, notify_chat = $4 WHERE id = $1`,
		id, prefs.Email, prefs.SMS, prefs.Chat,
	)
	if err != nil {
		return fmt.Errorf("update notify prefs: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus transitions an agent's status. When moving to a terminal
// status, next_check_at is cleared in the same statement: an agent in a
// terminal state never has a future next_check_at.
func (r *AgentRepository) UpdateStatus(ctx context.Context, id string, status model.AgentStatus) error {
	var query string
	if status == model.AgentStatusCancelled || status == model.AgentStatusCompleted {
		query = `UPDATE agents SET status = $2, next_check_at = NULL WHERE id = $1`
	} else {
		query = `UPDATE agents SET status = $2 WHERE id = $1`
	}
	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetNextCheckAt updates next_check_at alone, used by pause (clears it) and
// resume (recomputes it from now, with no backfill).
func (r *AgentRepository) SetNextCheckAt(ctx context.Context, id string, nextCheckAt *time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE agents SET next_check_at = $2 WHERE id = $1`, id, nextCheckAt)
	if err != nil {
		return fmt.Errorf("set next_check_at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CheckOutcome is the set of columns the check procedure updates
// atomically at the end of a successful check.
type CheckOutcome struct {
	LastCheckAt  time.Time
	NextCheckAt  time.Time
	NewMatches   int
	Health       model.HealthStatus
	FailureReset bool // true clears ConsecutiveFailures to 0
}

// ApplyCheckOutcome updates an agent's scheduling and counter columns after
// a successful check, in a single statement so readers never observe
// match_count incremented without last_check_at/next_check_at also moving
// forward: a failure partway through a check must never leave the agent
// with match_count incremented but scheduling columns stale.
func (r *AgentRepository) ApplyCheckOutcome(ctx context.Context, id string, o CheckOutcome) error {
	query := `
		UPDATE agents SET
			last_check_at        = $2,
			next_check_at        = $3,
			check_count          = check_count + 1,
			match_count          = match_count + $4,
			health               = $5,
			consecutive_failures = CASE WHEN $6 THEN 0 ELSE consecutive_failures END
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, o.LastCheckAt, o.NextCheckAt, o.NewMatches, o.Health, o.FailureReset)
	if err != nil {
		return fmt.Errorf("apply check outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyCheckFailure records a failed check: next_check_at still advances
// reschedules at now + interval anyway, to avoid a fast-loop retry storm,
// but last_check_at and match_count are untouched, and
// consecutive_failures increments. Returns the new failure count so the
// caller can decide whether to flip health to degraded.
func (r *AgentRepository) ApplyCheckFailure(ctx context.Context, id string, nextCheckAt time.Time) (int, error) {
	query := `
		UPDATE agents SET
			next_check_at        = $2,
			consecutive_failures = consecutive_failures + 1
		WHERE id = $1
		RETURNING consecutive_failures`
	var count int
	err := r.db.QueryRow(ctx, query, id, nextCheckAt).Scan(&count)
	if err != nil {
		return 0, translateNoRows(err, ErrNotFound)
	}
	return count, nil
}

// SetHealth updates only the health flag, used when a degraded agent
// recovers on a subsequent success or crosses the failure threshold.
func (r *AgentRepository) SetHealth(ctx context.Context, id string, health model.HealthStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE agents SET health = $2 WHERE id = $1`, id, health)
	if err != nil {
		return fmt.Errorf("set health: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
