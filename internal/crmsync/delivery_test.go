package crmsync_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/propwatch/internal/agent/model"
	"github.com/jmerrifield20/propwatch/internal/agent/repository"
	"github.com/jmerrifield20/propwatch/internal/crmsync"
	"github.com/jmerrifield20/propwatch/internal/propertymodel"
	"go.uber.org/zap"
)

type fakeOutboxStore struct {
	mu        sync.Mutex
	pending   []*repository.OutboxEvent
	delivered []string
	retried   []string
	dead      []string
	attempts  map[string]int
}

func newFakeOutboxStore(events ...*repository.OutboxEvent) *fakeOutboxStore {
	return &fakeOutboxStore{pending: events, attempts: make(map[string]int)}
}

func (f *fakeOutboxStore) ClaimBatch(_ context.Context, _ time.Time, limit int) ([]*repository.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	n := limit
	if n > len(f.pending) {
		n = len(f.pending)
	}
	batch := f.pending[:n]
	f.pending = f.pending[n:]
	return batch, nil
}

func (f *fakeOutboxStore) MarkDelivered(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, id)
	return nil
}

func (f *fakeOutboxStore) MarkRetry(_ context.Context, id string, _ time.Time, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, id)
	f.attempts[id]++
	return nil
}

func (f *fakeOutboxStore) MarkDead(_ context.Context, id string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = append(f.dead, id)
	return nil
}

type fakeHealth struct {
	mu      sync.Mutex
	flagged []string
}

func (f *fakeHealth) SetHealth(_ context.Context, agentID string, _ model.HealthStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagged = append(f.flagged, agentID)
	return nil
}

func newMatchEvent(id, agentID string) *repository.OutboxEvent {
	sqft := int64(1800)
	match := model.Match{
		ID:          "match-" + id,
		AgentID:     agentID,
		PropertyKey: "123 main st|92128",
		MatchScore:  85,
		Reasons:     []string{"within price range"},
		Property: propertymodel.Property{
			StreetAddress: "123 Main St",
			PostalCode:    "92128",
			ListPrice:     900000,
			SquareFeet:    &sqft,
		},
	}
	payload, _ := json.Marshal(crmsync.NewMatchEvent{Match: match})
	return &repository.OutboxEvent{
		ID:        id,
		AgentID:   agentID,
		MatchID:   match.ID,
		EventType: "new_match",
		Payload:   payload,
	}
}

func testConfig(url string) crmsync.Config {
	cred, _ := crmsync.NewCredential("test-api-key")
	return crmsync.Config{
		BaseURL:        url,
		Pipeline:       crmsync.PipelineConfig{PipelineID: "pipe-1", StageID: "stage-new"},
		Mapping:        crmsync.FieldMapping{PropertyAddr: "propertyaddress", ListPrice: "list_price", DealScore: "dealscore"},
		Credential:     cred,
		PollInterval:   10 * time.Millisecond,
		BatchSize:      10,
		RequestTimeout: time.Second,
	}
}

func TestWorkerDeliversOnFirstSuccess(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := newFakeOutboxStore(newMatchEvent("evt-1", "agent-1"))
	worker := crmsync.New(store, nil, testConfig(srv.URL), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	worker.Run(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.delivered) != 1 || store.delivered[0] != "evt-1" {
		t.Fatalf("delivered = %v, want [evt-1]", store.delivered)
	}
	if gotAuth != "Bearer test-api-key" {
		t.Fatalf("Authorization header = %q", gotAuth)
	}
}

func TestWorkerRetriesOn500ThenSucceeds(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newFakeOutboxStore(newMatchEvent("evt-1", "agent-1"))
	worker := crmsync.New(store, nil, testConfig(srv.URL), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	worker.Run(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.delivered) != 1 {
		t.Fatalf("delivered = %v, want 1 event delivered after retry", store.delivered)
	}
}

func TestWorkerMarksDeadAfterExhaustingAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newFakeOutboxStore(newMatchEvent("evt-1", "agent-1"))
	worker := crmsync.New(store, nil, testConfig(srv.URL), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	worker.Run(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.dead) != 1 || store.dead[0] != "evt-1" {
		t.Fatalf("dead = %v, want [evt-1]", store.dead)
	}
	if len(store.delivered) != 0 {
		t.Fatalf("delivered = %v, want none", store.delivered)
	}
}

func TestWorkerFlagsHealthDegradedOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := newFakeOutboxStore(newMatchEvent("evt-1", "agent-1"))
	health := &fakeHealth{}
	worker := crmsync.New(store, health, testConfig(srv.URL), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	worker.Run(ctx)

	store.mu.Lock()
	deadCount := len(store.dead)
	store.mu.Unlock()
	if deadCount != 1 {
		t.Fatalf("dead = %d, want 1 (no retry on 401)", deadCount)
	}

	health.mu.Lock()
	defer health.mu.Unlock()
	if len(health.flagged) != 1 || health.flagged[0] != "agent-1" {
		t.Fatalf("flagged = %v, want [agent-1]", health.flagged)
	}
}

func TestWorkerNoRetryOn400(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	store := newFakeOutboxStore(newMatchEvent("evt-1", "agent-1"))
	worker := crmsync.New(store, nil, testConfig(srv.URL), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	worker.Run(ctx)

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 400)", calls)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.dead) != 1 {
		t.Fatalf("dead = %v, want 1 event marked dead", store.dead)
	}
}
