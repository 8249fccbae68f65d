// Package scheduler runs the periodic per-agent check loop: a ticker that
// polls for due agents and fans checks out across a bounded worker pool.
// Grounded on internal/health.HealthChecker's Start/CheckAll ticker +
// semaphore-bounded fan-out shape, adapted from probing external endpoints
// to invoking the agent manager's check procedure.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jmerrifield20/propwatch/internal/agent/model"
	"github.com/jmerrifield20/propwatch/internal/agentsvc"
	"github.com/jmerrifield20/propwatch/internal/metrics"
	"go.uber.org/zap"
)

// agentLister is the subset of agent persistence the scheduler needs to find
// due work. *repository.AgentRepository satisfies this.
type agentLister interface {
	ListDue(ctx context.Context, asOf time.Time) ([]*model.Agent, error)
}

// checker is the subset of agentsvc.Manager the scheduler invokes per tick.
type checker interface {
	RunScheduledCheck(ctx context.Context, agentID string) (*agentsvc.CheckResult, error)
}

// Config controls tick cadence and fan-out width.
type Config struct {
	TickInterval time.Duration
	Parallelism  int
}

// Scheduler polls for agents whose next_check_at has passed and runs their
// check procedure with bounded concurrency.
type Scheduler struct {
	lister  agentLister
	checker checker
	cfg     Config
	logger  *zap.Logger
}

// New creates a new Scheduler.
func New(lister agentLister, checker checker, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = 8
	}
	return &Scheduler{lister: lister, checker: checker, cfg: cfg, logger: logger}
}

// Run blocks, polling on a ticker until ctx is cancelled. On entry it runs
// one immediate pass so agents already overdue at process start (restart
// recovery) are checked exactly once, without backfilling every tick that
// was missed while the process was down.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick lists due agents and checks each with bounded concurrency. A
// BusyError (another check already running for that agent — e.g. a
// concurrent ForceCheck) is logged at debug level and skipped, not retried
// within this tick.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	agents, err := s.lister.ListDue(ctx, now)
	if err != nil {
		s.logger.Error("scheduler: list due agents", zap.Error(err))
		return
	}
	metrics.SetSchedulerQueueDepth(float64(len(agents)))
	if len(agents) == 0 {
		return
	}

	sem := make(chan struct{}, s.cfg.Parallelism)
	var wg sync.WaitGroup

	for _, a := range agents {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := s.checker.RunScheduledCheck(ctx, agentID)
			if err != nil {
				if _, busy := err.(*agentsvc.BusyError); busy {
					s.logger.Debug("scheduler: skip busy agent", zap.String("agent_id", agentID))
					return
				}
				metrics.RecordCheck("error")
				s.logger.Warn("scheduler: check failed", zap.String("agent_id", agentID), zap.Error(err))
				return
			}
			metrics.RecordCheck("ok")
			for i := 0; i < result.NewMatches; i++ {
				metrics.RecordMatch(agentID)
			}
			s.logger.Info("scheduler: check complete",
				zap.String("agent_id", agentID),
				zap.Int("new_matches", result.NewMatches),
				zap.Int("price_drops", result.PriceDrops),
			)
		}(a.ID)
	}

	wg.Wait()
}
