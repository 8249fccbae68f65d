// Package agentsvc implements agent lifecycle management and the per-agent
// check procedure: load criteria, evaluate the current corpus snapshot,
// persist new matches and price drops, enqueue CRM delivery events, and
// advance scheduling state. Grounded on
// internal/registry/service/agent.go's service-wraps-repository shape and
// internal/health.HealthChecker's fail-count/threshold/recovery state
// machine, adapted from per-endpoint HTTP probing to per-agent check
// outcomes.
package agentsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jmerrifield20/propwatch/internal/agent/model"
	"github.com/jmerrifield20/propwatch/internal/agent/repository"
	"github.com/jmerrifield20/propwatch/internal/corpus"
	"github.com/jmerrifield20/propwatch/internal/crmsync"
	"github.com/jmerrifield20/propwatch/internal/matchengine"
	"github.com/jmerrifield20/propwatch/internal/propertymodel"
	"go.uber.org/zap"
)

// failThreshold is the number of consecutive check failures that flips an
// agent's health to degraded.
const failThreshold = 3

// agentRepo is the persistence interface the manager needs for Agent rows.
// *repository.AgentRepository satisfies this.
type agentRepo interface {
	Create(ctx context.Context, a *model.Agent) error
	GetByID(ctx context.Context, id string) (*model.Agent, error)
	List(ctx context.Context, status model.AgentStatus) ([]*model.Agent, error)
	ListDue(ctx context.Context, asOf time.Time) ([]*model.Agent, error)
	UpdateNotifyPrefs(ctx context.Context, id string, prefs model.NotificationPrefs) error
	UpdateStatus(ctx context.Context, id string, status model.AgentStatus) error
	SetNextCheckAt(ctx context.Context, id string, nextCheckAt *time.Time) error
	ApplyCheckOutcome(ctx context.Context, id string, o repository.CheckOutcome) error
	ApplyCheckFailure(ctx context.Context, id string, nextCheckAt time.Time) (int, error)
	SetHealth(ctx context.Context, id string, health model.HealthStatus) error
}

// criteriaRepo is the persistence interface for Criteria rows.
type criteriaRepo interface {
	Create(ctx context.Context, c *matchengine.Criteria) error
	GetByID(ctx context.Context, id string) (*model.CriteriaRecord, error)
}

// matchRepo is the persistence interface for Match rows.
type matchRepo interface {
	Create(ctx context.Context, m *model.Match) error
	ListByAgent(ctx context.Context, agentID string) ([]*model.Match, error)
	ExistingKeys(ctx context.Context, agentID string) (map[string]int64, error)
	UpdateCapturedPrice(ctx context.Context, agentID, propertyKey string, newPrice int64) error
	GetByAgentAndKey(ctx context.Context, agentID, propertyKey string) (*model.Match, error)
}

// outboxEnqueuer is the interface the manager uses to hand matches and price
// drops to the CRM delivery pipeline. *repository.OutboxRepository satisfies
// this; tests may substitute a recording fake.
type outboxEnqueuer interface {
	Enqueue(ctx context.Context, agentID, matchID, eventType string, payload json.RawMessage) (*repository.OutboxEvent, error)
}

// snapshotReader is the read side of the corpus store.
type snapshotReader interface {
	Current() (*propertymodel.Snapshot, error)
}

// txBeginner begins a transaction over the state store, so the check
// procedure can persist new matches, price drops, CRM outbox events, and
// the agent's scheduling counters as one atomic unit. *pgxpool.Pool
// satisfies this. A nil txBeginner (the default in tests) runs the check
// procedure's writes directly against the configured repositories instead,
// since the in-memory fakes used in tests have no database to roll back.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// clientRepo resolves the client a new agent belongs to.
// *repository.ClientRepository satisfies this.
type clientRepo interface {
	FindOrCreateByEmail(ctx context.Context, name, email string) (*model.Client, error)
}

// Config controls scheduling behavior the manager applies after each check.
type Config struct {
	CheckInterval time.Duration
	JitterMax     time.Duration
	CheckTimeout  time.Duration
}

// Manager implements agent lifecycle transitions and the check procedure.
type Manager struct {
	agents   agentRepo
	criteria criteriaRepo
	matches  matchRepo
	outbox   outboxEnqueuer
	corpus   snapshotReader
	clients  clientRepo
	db       txBeginner
	cfg      Config
	logger   *zap.Logger

	locks sync.Map // agentID -> *sync.Mutex, guards concurrent checks of the same agent
}

// New creates a new Manager. db may be nil, which disables transactional
// wrapping of the check procedure's persistence steps (see txBeginner).
func New(agents agentRepo, criteria criteriaRepo, matches matchRepo, outbox outboxEnqueuer, corpusStore snapshotReader, clients clientRepo, db txBeginner, cfg Config, logger *zap.Logger) *Manager {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 4 * time.Hour
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 30 * time.Second
	}
	return &Manager{
		agents:   agents,
		criteria: criteria,
		matches:  matches,
		outbox:   outbox,
		corpus:   corpusStore,
		clients:  clients,
		db:       db,
		cfg:      cfg,
		logger:   logger,
	}
}

// CreateAgent resolves (or creates) the client by email, persists a new
// criteria row, and creates a new active agent attached to both, scheduling
// its first check for now (checks run immediately on creation, matching an
// investor's expectation of not waiting a full interval for the first
// result).
func (m *Manager) CreateAgent(ctx context.Context, clientName, clientEmail string, criteria matchengine.Criteria, notify model.NotificationPrefs) (*model.Agent, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	client, err := m.clients.FindOrCreateByEmail(ctx, clientName, clientEmail)
	if err != nil {
		return nil, fmt.Errorf("resolve client: %w", err)
	}
	if err := m.criteria.Create(ctx, &criteria); err != nil {
		return nil, fmt.Errorf("create criteria: %w", err)
	}

	now := time.Now().UTC()
	agent := &model.Agent{
		ClientID:    client.ID,
		CriteriaID:  criteria.ID,
		Status:      model.AgentStatusActive,
		Health:      model.HealthHealthy,
		NextCheckAt: &now,
		Notify:      notify,
	}
	if err := m.agents.Create(ctx, agent); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	m.logger.Info("agent created",
		zap.String("agent_id", agent.ID),
		zap.String("client_id", client.ID),
		zap.String("criteria_id", criteria.ID),
	)
	return agent, nil
}

// Get retrieves an agent by ID.
func (m *Manager) Get(ctx context.Context, id string) (*model.Agent, error) {
	return m.agents.GetByID(ctx, id)
}

// List returns agents, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status model.AgentStatus) ([]*model.Agent, error) {
	return m.agents.List(ctx, status)
}

// UpdateNotifyPrefs replaces an agent's notification preferences without
// touching any other field.
func (m *Manager) UpdateNotifyPrefs(ctx context.Context, id string, prefs model.NotificationPrefs) error {
	return m.agents.UpdateNotifyPrefs(ctx, id, prefs)
}

// Pause moves an active agent to paused and clears its schedule. Pausing a
// non-active agent is an illegal transition (terminal states are reported
// separately so callers can distinguish "already done" from "bad request").
func (m *Manager) Pause(ctx context.Context, id string) error {
	agent, err := m.agents.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if agent.Terminal() {
		return &TerminalStateError{AgentID: id, Status: agent.Status}
	}
	if agent.Status != model.AgentStatusActive {
		return &IllegalTransitionError{AgentID: id, From: agent.Status, To: model.AgentStatusPaused}
	}
	if err := m.agents.UpdateStatus(ctx, id, model.AgentStatusPaused); err != nil {
		return err
	}
	return m.agents.SetNextCheckAt(ctx, id, nil)
}

// Resume moves a paused agent back to active and schedules its next check
// for now, with no backfill of checks missed while paused.
func (m *Manager) Resume(ctx context.Context, id string) error {
	agent, err := m.agents.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if agent.Terminal() {
		return &TerminalStateError{AgentID: id, Status: agent.Status}
	}
	if agent.Status != model.AgentStatusPaused {
		return &IllegalTransitionError{AgentID: id, From: agent.Status, To: model.AgentStatusActive}
	}
	if err := m.agents.UpdateStatus(ctx, id, model.AgentStatusActive); err != nil {
		return err
	}
	now := time.Now().UTC()
	return m.agents.SetNextCheckAt(ctx, id, &now)
}

// Cancel moves any non-terminal agent to cancelled. Cancelling an
// already-terminal agent is idempotent from the caller's perspective but
// reported as a TerminalStateError so handlers can choose how to surface it
// (e.g. 409 vs. 200).
func (m *Manager) Cancel(ctx context.Context, id string) error {
	agent, err := m.agents.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if agent.Terminal() {
		return &TerminalStateError{AgentID: id, Status: agent.Status}
	}
	return m.agents.UpdateStatus(ctx, id, model.AgentStatusCancelled)
}

// Complete moves an active or paused agent to completed. Completion only
// ever happens by explicit operator or client command, never inferred by
// the scheduler from any check outcome.
func (m *Manager) Complete(ctx context.Context, id string) error {
	agent, err := m.agents.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if agent.Terminal() {
		return &TerminalStateError{AgentID: id, Status: agent.Status}
	}
	return m.agents.UpdateStatus(ctx, id, model.AgentStatusCompleted)
}

// CheckResult summarizes the outcome of a single check procedure run.
type CheckResult struct {
	AgentID    string
	NewMatches int
	PriceDrops int
	Health     model.HealthStatus
}

// lockAgent acquires the per-agent check lock without blocking. The second
// return value is false if a check for this agent is already running.
func (m *Manager) lockAgent(agentID string) (unlock func(), ok bool) {
	v, _ := m.locks.LoadOrStore(agentID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}

// ForceCheck runs the check procedure for an agent immediately, regardless
// of its next_check_at. Returns a BusyError without blocking if a check for
// this agent is already in flight.
func (m *Manager) ForceCheck(ctx context.Context, agentID string) (*CheckResult, error) {
	unlock, ok := m.lockAgent(agentID)
	if !ok {
		return nil, &BusyError{AgentID: agentID}
	}
	defer unlock()
	return m.runCheck(ctx, agentID)
}

// RunScheduledCheck is the entry point the scheduler's worker pool calls for
// a due agent. Behaves like ForceCheck but callers are expected to treat a
// BusyError as "skip this tick" rather than surface it to an API caller.
func (m *Manager) RunScheduledCheck(ctx context.Context, agentID string) (*CheckResult, error) {
	return m.ForceCheck(ctx, agentID)
}

// runCheck performs the check procedure body. Must be called with the
// agent's check lock held.
func (m *Manager) runCheck(ctx context.Context, agentID string) (*CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	agent, err := m.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if agent.Terminal() {
		return nil, &TerminalStateError{AgentID: agentID, Status: agent.Status}
	}
	if agent.Status != model.AgentStatusActive {
		// Only a paused agent reaches here; the scheduler never selects one,
		// but a race with a concurrent Pause or a direct ForceCheck call is
		// possible.
		return nil, &IllegalTransitionError{AgentID: agentID, From: agent.Status, To: model.AgentStatusActive}
	}

	result, checkErr := m.evaluate(ctx, agent)
	if checkErr != nil {
		m.recordFailure(ctx, agent, checkErr)
		return nil, checkErr
	}
	return result, nil
}

// recordFailure advances next_check_at (to avoid a fast-loop retry storm)
// without touching last_check_at or match_count, and flips health to
// degraded once consecutive failures reach failThreshold. A subsequent
// success clears both the counter and the degraded flag.
func (m *Manager) recordFailure(ctx context.Context, agent *model.Agent, checkErr error) {
	next := time.Now().UTC().Add(m.cfg.CheckInterval)
	count, err := m.agents.ApplyCheckFailure(ctx, agent.ID, next)
	if err != nil {
		m.logger.Error("record check failure", zap.String("agent_id", agent.ID), zap.Error(err))
		return
	}
	m.logger.Warn("check failed",
		zap.String("agent_id", agent.ID),
		zap.Int("consecutive_failures", count),
		zap.Error(checkErr),
	)
	if count == failThreshold && agent.Health != model.HealthDegraded {
		if err := m.agents.SetHealth(ctx, agent.ID, model.HealthDegraded); err != nil {
			m.logger.Error("set health degraded", zap.String("agent_id", agent.ID), zap.Error(err))
			return
		}
		m.logger.Warn("agent degraded", zap.String("agent_id", agent.ID), zap.Int("consecutive_failures", count))
	}
}

// evaluate runs the core match procedure against the current corpus
// snapshot and persists its outputs: load criteria, load the existing
// match set for dedup, evaluate, then persist new matches, price drops, CRM
// outbox events, and the agent's scheduling counters together in a single
// transaction over the state store. A failure anywhere in that persistence
// step rolls back all of it, so readers never observe match_count
// incremented without the matches that produced it, or a match row with no
// corresponding outbox event.
func (m *Manager) evaluate(ctx context.Context, agent *model.Agent) (result *CheckResult, err error) {
	criteriaRec, err := m.criteria.GetByID(ctx, agent.CriteriaID)
	if err != nil {
		return nil, fmt.Errorf("load criteria: %w", err)
	}

	snapshot, err := m.corpus.Current()
	if err != nil {
		if errors.Is(err, corpus.ErrNoSnapshot) {
			return nil, fmt.Errorf("no corpus loaded: %w", err)
		}
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	existingPrices, err := m.matches.ExistingKeys(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("load existing matches: %w", err)
	}
	existing := make(map[string]matchengine.ExistingMatch, len(existingPrices))
	for key, price := range existingPrices {
		existing[key] = matchengine.ExistingMatch{PropertyKey: key, CapturedPrice: price}
	}

	outcome, err := matchengine.Evaluate(criteriaRec.Criteria, *snapshot, existing)
	if err != nil {
		return nil, fmt.Errorf("evaluate criteria: %w", err)
	}

	now := time.Now().UTC()
	next := now.Add(m.cfg.CheckInterval)
	if m.cfg.JitterMax > 0 {
		next = next.Add(time.Duration(rand.Int63n(int64(m.cfg.JitterMax))))
	}
	checkOutcome := repository.CheckOutcome{
		LastCheckAt:  now,
		NextCheckAt:  next,
		NewMatches:   len(outcome.NewMatches),
		Health:       model.HealthHealthy,
		FailureReset: agent.ConsecutiveFailures > 0,
	}

	agents, matches, outbox, finish, err := m.beginCheckTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin check tx: %w", err)
	}
	defer func() { finish(&err) }()

	for _, nm := range outcome.NewMatches {
		match := &model.Match{
			AgentID:     agent.ID,
			PropertyKey: nm.PropertyKey,
			MatchScore:  nm.Score,
			Reasons:     nm.Reasons,
			Property:    nm.Property,
		}
		if err = matches.Create(ctx, match); err != nil {
			return nil, fmt.Errorf("persist match: %w", err)
		}
		if err = m.enqueueEvent(ctx, outbox, agent.ID, match.ID, "new_match", crmsync.NewMatchEvent{Match: *match}); err != nil {
			return nil, err
		}
	}

	for _, pd := range outcome.PriceDrops {
		var existingMatch *model.Match
		existingMatch, err = matches.GetByAgentAndKey(ctx, agent.ID, pd.PropertyKey)
		if err != nil {
			return nil, fmt.Errorf("load match for price drop: %w", err)
		}
		if err = matches.UpdateCapturedPrice(ctx, agent.ID, pd.PropertyKey, pd.NewPrice); err != nil {
			return nil, fmt.Errorf("apply price drop: %w", err)
		}
		if err = m.enqueueEvent(ctx, outbox, agent.ID, existingMatch.ID, "price_drop", crmsync.PriceDropEvent{
			Match:    *existingMatch,
			OldPrice: pd.OldPrice,
			NewPrice: pd.NewPrice,
		}); err != nil {
			return nil, err
		}
	}

	if err = agents.ApplyCheckOutcome(ctx, agent.ID, checkOutcome); err != nil {
		return nil, fmt.Errorf("apply check outcome: %w", err)
	}

	return &CheckResult{
		AgentID:    agent.ID,
		NewMatches: len(outcome.NewMatches),
		PriceDrops: len(outcome.PriceDrops),
		Health:     checkOutcome.Health,
	}, nil
}

// beginCheckTx opens the transaction scope for the check procedure's
// persistence steps and returns repositories bound to it, along with a
// finish func that commits on a nil error or rolls back otherwise. Callers
// must defer finish(&err) with the same named error the rest of the
// function assigns to, so a panic-free early return still settles the
// transaction. When the manager has no txBeginner configured, it returns
// the manager's own repositories unchanged and a no-op finish, since the
// in-memory fakes used in tests have no database to roll back.
func (m *Manager) beginCheckTx(ctx context.Context) (agentRepo, matchRepo, outboxEnqueuer, func(*error), error) {
	if m.db == nil {
		return m.agents, m.matches, m.outbox, func(*error) {}, nil
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("begin tx: %w", err)
	}

	agents := m.agents
	if ta, ok := m.agents.(interface{ WithTx(pgx.Tx) *repository.AgentRepository }); ok {
		agents = ta.WithTx(tx)
	}
	matches := m.matches
	if tm, ok := m.matches.(interface{ WithTx(pgx.Tx) *repository.MatchRepository }); ok {
		matches = tm.WithTx(tx)
	}
	outbox := m.outbox
	if to, ok := m.outbox.(interface{ WithTx(pgx.Tx) *repository.OutboxRepository }); ok {
		outbox = to.WithTx(tx)
	}

	finish := func(errp *error) {
		if *errp != nil {
			if rerr := tx.Rollback(ctx); rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
				m.logger.Error("rollback check tx", zap.Error(rerr))
			}
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			*errp = fmt.Errorf("commit check tx: %w", cerr)
		}
	}
	return agents, matches, outbox, finish, nil
}

// enqueueEvent marshals and enqueues a CRM delivery event as part of the
// same transaction as the match write it accompanies: an outbox insert
// failure must roll back that match (and its counter update) too, rather
// than leave a match with no corresponding CRM delivery ever enqueued.
func (m *Manager) enqueueEvent(ctx context.Context, outbox outboxEnqueuer, agentID, matchID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal crm event: %w", err)
	}
	if _, err := outbox.Enqueue(ctx, agentID, matchID, eventType, json.RawMessage(data)); err != nil {
		return fmt.Errorf("enqueue crm event: %w", err)
	}
	return nil
}
