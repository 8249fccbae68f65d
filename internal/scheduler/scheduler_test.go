package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/propwatch/internal/agent/model"
	"github.com/jmerrifield20/propwatch/internal/agentsvc"
	"github.com/jmerrifield20/propwatch/internal/scheduler"
	"go.uber.org/zap"
)

type fakeLister struct {
	due []*model.Agent
}

func (f *fakeLister) ListDue(_ context.Context, _ time.Time) ([]*model.Agent, error) {
	return f.due, nil
}

type fakeChecker struct {
	mu      sync.Mutex
	checked []string
	busyFor map[string]bool
}

func (f *fakeChecker) RunScheduledCheck(_ context.Context, agentID string) (*agentsvc.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busyFor[agentID] {
		return nil, &agentsvc.BusyError{AgentID: agentID}
	}
	f.checked = append(f.checked, agentID)
	return &agentsvc.CheckResult{AgentID: agentID}, nil
}

func TestSchedulerChecksAllDueAgentsOnStartupPass(t *testing.T) {
	lister := &fakeLister{due: []*model.Agent{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}}}
	chk := &fakeChecker{busyFor: map[string]bool{}}
	sched := scheduler.New(lister, chk, scheduler.Config{TickInterval: time.Hour, Parallelism: 2}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	sched.Run(ctx)

	chk.mu.Lock()
	defer chk.mu.Unlock()
	if len(chk.checked) != 3 {
		t.Fatalf("checked = %v, want 3 agents checked", chk.checked)
	}
}

func TestSchedulerSkipsBusyAgentWithoutFailingTick(t *testing.T) {
	lister := &fakeLister{due: []*model.Agent{{ID: "a1"}, {ID: "a2"}}}
	chk := &fakeChecker{busyFor: map[string]bool{"a1": true}}
	sched := scheduler.New(lister, chk, scheduler.Config{TickInterval: time.Hour, Parallelism: 2}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	sched.Run(ctx)

	chk.mu.Lock()
	defer chk.mu.Unlock()
	if len(chk.checked) != 1 || chk.checked[0] != "a2" {
		t.Fatalf("checked = %v, want only a2", chk.checked)
	}
}

func TestSchedulerNoDueAgentsIsNoop(t *testing.T) {
	lister := &fakeLister{due: nil}
	chk := &fakeChecker{busyFor: map[string]bool{}}
	sched := scheduler.New(lister, chk, scheduler.Config{TickInterval: time.Hour, Parallelism: 2}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	sched.Run(ctx)

	chk.mu.Lock()
	defer chk.mu.Unlock()
	if len(chk.checked) != 0 {
		t.Fatalf("checked = %v, want none", chk.checked)
	}
}
