package agentsvc_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/propwatch/internal/agent/model"
	"github.com/jmerrifield20/propwatch/internal/agent/repository"
	"github.com/jmerrifield20/propwatch/internal/agentsvc"
	"github.com/jmerrifield20/propwatch/internal/matchengine"
	"github.com/jmerrifield20/propwatch/internal/propertymodel"
	"go.uber.org/zap"
)

// ── in-memory fakes ─────────────────────────────────────────────────────

type fakeAgentRepo struct {
	mu   sync.Mutex
	rows map[string]*model.Agent
	seq  int
}

func newFakeAgentRepo() *fakeAgentRepo {
	return &fakeAgentRepo{rows: make(map[string]*model.Agent)}
}

func (f *fakeAgentRepo) Create(_ context.Context, a *model.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if a.ID == "" {
		a.ID = "agent-" + time.Now().String()
	}
	cp := *a
	f.rows[a.ID] = &cp
	return nil
}

func (f *fakeAgentRepo) GetByID(_ context.Context, id string) (*model.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAgentRepo) List(_ context.Context, status model.AgentStatus) ([]*model.Agent, error) {
	return nil, nil
}

func (f *fakeAgentRepo) ListDue(_ context.Context, asOf time.Time) ([]*model.Agent, error) {
	return nil, nil
}

func (f *fakeAgentRepo) UpdateNotifyPrefs(_ context.Context, id string, prefs model.NotificationPrefs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Notify = prefs
	return nil
}

func (f *fakeAgentRepo) UpdateStatus(_ context.Context, id string, status model.AgentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Status = status
	if status == model.AgentStatusCancelled || status == model.AgentStatusCompleted {
		a.NextCheckAt = nil
	}
	return nil
}

func (f *fakeAgentRepo) SetNextCheckAt(_ context.Context, id string, nextCheckAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.NextCheckAt = nextCheckAt
	return nil
}

func (f *fakeAgentRepo) ApplyCheckOutcome(_ context.Context, id string, o repository.CheckOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	last := o.LastCheckAt
	next := o.NextCheckAt
	a.LastCheckAt = &last
	a.NextCheckAt = &next
	a.CheckCount++
	a.MatchCount += o.NewMatches
	a.Health = o.Health
	if o.FailureReset {
		a.ConsecutiveFailures = 0
	}
	return nil
}

func (f *fakeAgentRepo) ApplyCheckFailure(_ context.Context, id string, nextCheckAt time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	a.NextCheckAt = &nextCheckAt
	a.ConsecutiveFailures++
	return a.ConsecutiveFailures, nil
}

func (f *fakeAgentRepo) SetHealth(_ context.Context, id string, health model.HealthStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Health = health
	return nil
}

type fakeCriteriaRepo struct {
	rows map[string]*model.CriteriaRecord
}

func newFakeCriteriaRepo() *fakeCriteriaRepo {
	return &fakeCriteriaRepo{rows: make(map[string]*model.CriteriaRecord)}
}

func (f *fakeCriteriaRepo) Create(_ context.Context, c *matchengine.Criteria) error {
	if c.ID == "" {
		c.ID = "criteria-1"
	}
	f.rows[c.ID] = &model.CriteriaRecord{Criteria: *c, CreatedAt: time.Now()}
	return nil
}

func (f *fakeCriteriaRepo) GetByID(_ context.Context, id string) (*model.CriteriaRecord, error) {
	r, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r, nil
}

type fakeMatchRepo struct {
	mu      sync.Mutex
	rows    []*model.Match
	seq     int
	capture map[string]int64
}

func newFakeMatchRepo() *fakeMatchRepo {
	return &fakeMatchRepo{capture: make(map[string]int64)}
}

func (f *fakeMatchRepo) Create(_ context.Context, m *model.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if m.ID == "" {
		m.ID = "match-" + time.Now().String()
	}
	f.rows = append(f.rows, m)
	f.capture[m.PropertyKey] = m.Property.ListPrice
	return nil
}

func (f *fakeMatchRepo) ListByAgent(_ context.Context, agentID string) ([]*model.Match, error) {
	return f.rows, nil
}

func (f *fakeMatchRepo) ExistingKeys(_ context.Context, agentID string) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.capture))
	for k, v := range f.capture {
		out[k] = v
	}
	return out, nil
}

func (f *fakeMatchRepo) UpdateCapturedPrice(_ context.Context, agentID, propertyKey string, newPrice int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capture[propertyKey] = newPrice
	return nil
}

func (f *fakeMatchRepo) GetByAgentAndKey(_ context.Context, agentID, propertyKey string) (*model.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.rows {
		if m.AgentID == agentID && m.PropertyKey == propertyKey {
			cp := *m
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeOutbox) Enqueue(_ context.Context, agentID, matchID, eventType string, payload json.RawMessage) (*repository.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return &repository.OutboxEvent{ID: "evt", AgentID: agentID, MatchID: matchID, EventType: eventType}, nil
}

type fakeCorpus struct {
	snap    *propertymodel.Snapshot
	block   <-chan struct{} // if non-nil, Current() waits for this to close
	entered chan struct{}   // if non-nil, closed once Current() is entered
}

func (f *fakeCorpus) Current() (*propertymodel.Snapshot, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	return f.snap, nil
}

type fakeClientRepo struct {
	mu   sync.Mutex
	rows map[string]*model.Client
	seq  int
}

func newFakeClientRepo() *fakeClientRepo {
	return &fakeClientRepo{rows: make(map[string]*model.Client)}
}

func (f *fakeClientRepo) FindOrCreateByEmail(_ context.Context, name, email string) (*model.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.rows[email]; ok {
		return c, nil
	}
	f.seq++
	c := &model.Client{ID: "client-1", Name: name, Email: email}
	f.rows[email] = c
	return c, nil
}

// ── fixtures ─────────────────────────────────────────────────────────────

func testCriteria() matchengine.Criteria {
	bed := 3.0
	bath := 2.0
	min := int64(600000)
	max := int64(1200000)
	return matchengine.Criteria{
		Locations:     []string{"92128"},
		PriceMin:      &min,
		PriceMax:      &max,
		BedroomsMin:   &bed,
		BathroomsMin:  &bath,
		PropertyTypes: nil,
		MinScore:      70,
	}
}

func testSnapshot(listPrice int64) propertymodel.Snapshot {
	bed := 4.0
	bath := 2.5
	sqft := int64(2200)
	dom := int64(10)
	return propertymodel.Snapshot{
		Timestamp: time.Now(),
		Properties: []propertymodel.Property{{
			StreetAddress: "123 Main St",
			PostalCode:    "92128",
			ListPrice:     listPrice,
			Bedrooms:      &bed,
			Bathrooms:     &bath,
			SquareFeet:    &sqft,
			DaysOnMarket:  &dom,
			Status:        propertymodel.StatusActive,
		}},
	}
}

func newTestManager(t *testing.T, agents *fakeAgentRepo, criteria *fakeCriteriaRepo, matches *fakeMatchRepo, outbox *fakeOutbox, snap propertymodel.Snapshot) *agentsvc.Manager {
	t.Helper()
	logger := zap.NewNop()
	return agentsvc.New(agents, criteria, matches, outbox, &fakeCorpus{snap: &snap}, newFakeClientRepo(), nil, agentsvc.Config{
		CheckInterval: time.Minute,
		CheckTimeout:  5 * time.Second,
	}, logger)
}

func TestCreateAgentSchedulesImmediateCheck(t *testing.T) {
	agents := newFakeAgentRepo()
	criteria := newFakeCriteriaRepo()
	matches := newFakeMatchRepo()
	outbox := &fakeOutbox{}
	mgr := newTestManager(t, agents, criteria, matches, outbox, testSnapshot(900000))

	agent, err := mgr.CreateAgent(context.Background(), "Test Client", "client-1@example.com", testCriteria(), model.NotificationPrefs{Email: true})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if agent.Status != model.AgentStatusActive {
		t.Fatalf("status = %s, want active", agent.Status)
	}
	if agent.NextCheckAt == nil {
		t.Fatalf("NextCheckAt should be set on creation")
	}
}

func TestForceCheckPersistsNewMatchAndEnqueuesEvent(t *testing.T) {
	agents := newFakeAgentRepo()
	criteria := newFakeCriteriaRepo()
	matches := newFakeMatchRepo()
	outbox := &fakeOutbox{}
	mgr := newTestManager(t, agents, criteria, matches, outbox, testSnapshot(900000))

	agent, err := mgr.CreateAgent(context.Background(), "Test Client", "client-1@example.com", testCriteria(), model.NotificationPrefs{Email: true})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	result, err := mgr.ForceCheck(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("ForceCheck: %v", err)
	}
	if result.NewMatches != 1 {
		t.Fatalf("NewMatches = %d, want 1", result.NewMatches)
	}
	if len(matches.rows) != 1 {
		t.Fatalf("persisted matches = %d, want 1", len(matches.rows))
	}
	if len(outbox.events) != 1 || outbox.events[0] != "new_match" {
		t.Fatalf("outbox events = %v, want [new_match]", outbox.events)
	}

	got, err := agents.GetByID(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.MatchCount != 1 {
		t.Fatalf("MatchCount = %d, want 1", got.MatchCount)
	}
	if got.CheckCount != 1 {
		t.Fatalf("CheckCount = %d, want 1", got.CheckCount)
	}
}

func TestForceCheckSecondRunEmitsPriceDropNotDuplicateMatch(t *testing.T) {
	agents := newFakeAgentRepo()
	criteria := newFakeCriteriaRepo()
	matches := newFakeMatchRepo()
	outbox := &fakeOutbox{}
	mgr := newTestManager(t, agents, criteria, matches, outbox, testSnapshot(900000))

	agent, _ := mgr.CreateAgent(context.Background(), "Test Client", "client-1@example.com", testCriteria(), model.NotificationPrefs{Email: true})
	if _, err := mgr.ForceCheck(context.Background(), agent.ID); err != nil {
		t.Fatalf("first ForceCheck: %v", err)
	}

	mgr2 := newTestManager(t, agents, criteria, matches, outbox, testSnapshot(850000))
	result, err := mgr2.ForceCheck(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("second ForceCheck: %v", err)
	}
	if result.NewMatches != 0 {
		t.Fatalf("NewMatches = %d, want 0", result.NewMatches)
	}
	if result.PriceDrops != 1 {
		t.Fatalf("PriceDrops = %d, want 1", result.PriceDrops)
	}
	if len(outbox.events) != 2 || outbox.events[1] != "price_drop" {
		t.Fatalf("outbox events = %v, want second entry price_drop", outbox.events)
	}
}

func TestForceCheckReturnsBusyWhenAlreadyRunning(t *testing.T) {
	agents := newFakeAgentRepo()
	criteria := newFakeCriteriaRepo()
	matches := newFakeMatchRepo()
	outbox := &fakeOutbox{}

	block := make(chan struct{})
	entered := make(chan struct{})
	snap := testSnapshot(900000)
	corpus := &fakeCorpus{snap: &snap, block: block, entered: entered}
	mgr := agentsvc.New(agents, criteria, matches, outbox, corpus, newFakeClientRepo(), nil, agentsvc.Config{
		CheckInterval: time.Minute,
		CheckTimeout:  5 * time.Second,
	}, zap.NewNop())

	agent, _ := mgr.CreateAgent(context.Background(), "Test Client", "client-1@example.com", testCriteria(), model.NotificationPrefs{Email: true})

	done := make(chan error, 1)
	go func() {
		_, err := mgr.ForceCheck(context.Background(), agent.ID)
		done <- err
	}()

	<-entered // wait for the first check to be mid-flight inside corpus.Current()

	_, err := mgr.ForceCheck(context.Background(), agent.ID)
	if err == nil {
		t.Fatal("expected BusyError while first check is in flight")
	}
	if _, ok := err.(*agentsvc.BusyError); !ok {
		t.Fatalf("error = %v (%T), want *agentsvc.BusyError", err, err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first ForceCheck: %v", err)
	}
}

func TestPauseResumeCancelLifecycle(t *testing.T) {
	agents := newFakeAgentRepo()
	criteria := newFakeCriteriaRepo()
	matches := newFakeMatchRepo()
	outbox := &fakeOutbox{}
	mgr := newTestManager(t, agents, criteria, matches, outbox, testSnapshot(900000))

	agent, _ := mgr.CreateAgent(context.Background(), "Test Client", "client-1@example.com", testCriteria(), model.NotificationPrefs{Email: true})

	if err := mgr.Pause(context.Background(), agent.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	got, _ := agents.GetByID(context.Background(), agent.ID)
	if got.Status != model.AgentStatusPaused {
		t.Fatalf("status = %s, want paused", got.Status)
	}
	if got.NextCheckAt != nil {
		t.Fatalf("NextCheckAt should be cleared when paused")
	}

	if err := mgr.Resume(context.Background(), agent.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got, _ = agents.GetByID(context.Background(), agent.ID)
	if got.Status != model.AgentStatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
	if got.NextCheckAt == nil {
		t.Fatalf("NextCheckAt should be set on resume")
	}

	if err := mgr.Cancel(context.Background(), agent.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ = agents.GetByID(context.Background(), agent.ID)
	if got.Status != model.AgentStatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	if err := mgr.Pause(context.Background(), agent.ID); err == nil {
		t.Fatal("expected TerminalStateError pausing a cancelled agent")
	}
}

func TestForceCheckRejectsCancelledAgent(t *testing.T) {
	agents := newFakeAgentRepo()
	criteria := newFakeCriteriaRepo()
	matches := newFakeMatchRepo()
	outbox := &fakeOutbox{}
	mgr := newTestManager(t, agents, criteria, matches, outbox, testSnapshot(900000))

	agent, _ := mgr.CreateAgent(context.Background(), "Test Client", "client-1@example.com", testCriteria(), model.NotificationPrefs{Email: true})

	if err := mgr.Cancel(context.Background(), agent.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	_, err := mgr.ForceCheck(context.Background(), agent.ID)
	var terminal *agentsvc.TerminalStateError
	if !errors.As(err, &terminal) {
		t.Fatalf("ForceCheck after Cancel = %v, want *TerminalStateError", err)
	}
	if len(outbox.events) != 0 {
		t.Fatalf("cancelled agent's check must not touch the corpus or enqueue events")
	}
}

func TestForceCheckRejectsPausedAgent(t *testing.T) {
	agents := newFakeAgentRepo()
	criteria := newFakeCriteriaRepo()
	matches := newFakeMatchRepo()
	outbox := &fakeOutbox{}
	mgr := newTestManager(t, agents, criteria, matches, outbox, testSnapshot(900000))

	agent, _ := mgr.CreateAgent(context.Background(), "Test Client", "client-1@example.com", testCriteria(), model.NotificationPrefs{Email: true})

	if err := mgr.Pause(context.Background(), agent.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	_, err := mgr.ForceCheck(context.Background(), agent.ID)
	var illegal *agentsvc.IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("ForceCheck on a paused agent = %v, want *IllegalTransitionError", err)
	}
}

func TestResumeFromActiveIsIllegalTransition(t *testing.T) {
	agents := newFakeAgentRepo()
	criteria := newFakeCriteriaRepo()
	matches := newFakeMatchRepo()
	outbox := &fakeOutbox{}
	mgr := newTestManager(t, agents, criteria, matches, outbox, testSnapshot(900000))

	agent, _ := mgr.CreateAgent(context.Background(), "Test Client", "client-1@example.com", testCriteria(), model.NotificationPrefs{Email: true})

	err := mgr.Resume(context.Background(), agent.ID)
	if err == nil {
		t.Fatal("expected IllegalTransitionError resuming an already-active agent")
	}
}
