package crmsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmerrifield20/propwatch/internal/agent/model"
	"github.com/jmerrifield20/propwatch/internal/agent/repository"
	"github.com/jmerrifield20/propwatch/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// outboxStore is the persistence interface the delivery worker needs from
// the CRM outbox. *repository.OutboxRepository satisfies this.
type outboxStore interface {
	ClaimBatch(ctx context.Context, asOf time.Time, limit int) ([]*repository.OutboxEvent, error)
	MarkDelivered(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) error
	MarkDead(ctx context.Context, id string, lastErr string) error
}

// healthDegrader lets the delivery worker flag an agent unhealthy when its
// CRM credential is rejected outright, distinct from the check-procedure's
// own consecutive-failure degradation in agentsvc.
type healthDegrader interface {
	SetHealth(ctx context.Context, agentID string, health model.HealthStatus) error
}

// maxAttempts is the number of delivery attempts before an event is marked
// dead, matching the 1s/2s/4s exponential backoff schedule.
const maxAttempts = 3

// Config controls the delivery worker's polling and delivery behavior.
type Config struct {
	BaseURL          string
	Pipeline         PipelineConfig
	Mapping          FieldMapping
	Credential       *Credential
	PollInterval     time.Duration
	BatchSize        int
	DeliveryParallel int
	RequestTimeout   time.Duration
	DeliveryRPS      float64 // steady-state requests/sec across all agents, shared with the CRM; 0 uses the default
}

// Worker polls the CRM outbox and delivers queued events to the configured
// CRM's opportunity-creation endpoint, grounded on
// internal/webhooks/service.go's construct-request/check-2xx/record-outcome
// delivery loop, adapted from the teacher's fixed-delay retry schedule to
// cenkalti/backoff/v4's exponential policy and from an in-process fan-out to
// an agent_id-ordered durable outbox.
type Worker struct {
	outbox     outboxStore
	health     healthDegrader // optional; nil means no degraded-health signal is raised
	httpClient *http.Client
	limiter    *rate.Limiter // paces outgoing requests across all agents so a burst of matches doesn't hammer the CRM
	cfg        Config
	logger     *zap.Logger
}

// New creates a Worker with defaults applied for any unset Config field.
// health may be nil if credential-rejection should not flip agent health.
func New(outbox outboxStore, health healthDegrader, cfg Config, logger *zap.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.DeliveryParallel == 0 {
		cfg.DeliveryParallel = 4
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.DeliveryRPS == 0 {
		cfg.DeliveryRPS = 10
	}
	return &Worker{
		outbox:     outbox,
		health:     health,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.DeliveryRPS), int(cfg.DeliveryRPS)),
		cfg:        cfg,
		logger:     logger,
	}
}

// Run polls the outbox on cfg.PollInterval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

// pollOnce claims a batch of due events and delivers each agent's events in
// its own goroutine, preserving FIFO-per-agent ordering within a goroutine
// while letting independent agents deliver concurrently. Concurrency across
// agents is bounded by cfg.DeliveryParallel.
func (w *Worker) pollOnce(ctx context.Context) {
	events, err := w.outbox.ClaimBatch(ctx, time.Now().UTC(), w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("claim outbox batch", zap.Error(err))
		return
	}
	metrics.SetCRMOutboxDepth(float64(len(events)))
	if len(events) == 0 {
		return
	}

	byAgent := make(map[string][]*repository.OutboxEvent)
	var order []string
	for _, e := range events {
		if _, ok := byAgent[e.AgentID]; !ok {
			order = append(order, e.AgentID)
		}
		byAgent[e.AgentID] = append(byAgent[e.AgentID], e)
	}

	sem := make(chan struct{}, w.cfg.DeliveryParallel)
	done := make(chan struct{}, len(order))
	for _, agentID := range order {
		agentEvents := byAgent[agentID]
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; done <- struct{}{} }()
			for _, e := range agentEvents {
				w.deliverWithRetry(ctx, e)
			}
		}()
	}
	for range order {
		<-done
	}
}

// deliverWithRetry attempts delivery up to maxAttempts times with an
// exponential 1s/2s/4s backoff between attempts, except where the response
// itself dictates a different outcome (429 honors Retry-After; 401/403 fail
// permanently without retry).
func (w *Worker) deliverWithRetry(ctx context.Context, e *repository.OutboxEvent) {
	opp, err := w.transform(e)
	if err != nil {
		w.logger.Error("transform outbox event", zap.String("event_id", e.ID), zap.Error(err))
		if markErr := w.outbox.MarkDead(ctx, e.ID, err.Error()); markErr != nil {
			w.logger.Error("mark dead after transform failure", zap.String("event_id", e.ID), zap.Error(markErr))
		}
		return
	}
	body, err := json.Marshal(opp)
	if err != nil {
		w.logger.Error("marshal opportunity", zap.String("event_id", e.ID), zap.Error(err))
		return
	}

	delay := backoff.NewExponentialBackOff()
	delay.InitialInterval = time.Second
	delay.Multiplier = 2
	delay.RandomizationFactor = 0
	delay.MaxInterval = 4 * time.Second
	delay.MaxElapsedTime = 0 // we cap attempts ourselves, not by elapsed wall time
	delay.Reset()            // start from InitialInterval, not the constructor's default

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		outcome := w.attemptDelivery(ctx, body)

		if outcome.delivered {
			metrics.RecordCRMDelivery("delivered")
			if err := w.outbox.MarkDelivered(ctx, e.ID); err != nil {
				w.logger.Error("mark delivered", zap.String("event_id", e.ID), zap.Error(err))
			}
			return
		}

		if outcome.permanent {
			metrics.RecordCRMDelivery("dead")
			w.logger.Warn("crm delivery permanently failed",
				zap.String("event_id", e.ID),
				zap.String("agent_id", e.AgentID),
				zap.String("error", outcome.errMsg),
			)
			if err := w.outbox.MarkDead(ctx, e.ID, outcome.errMsg); err != nil {
				w.logger.Error("mark dead", zap.String("event_id", e.ID), zap.Error(err))
			}
			if outcome.credentialRejected && w.health != nil {
				if err := w.health.SetHealth(ctx, e.AgentID, model.HealthDegraded); err != nil {
					w.logger.Error("set health degraded after credential rejection", zap.String("agent_id", e.AgentID), zap.Error(err))
				}
			}
			return
		}

		if attempt == maxAttempts {
			metrics.RecordCRMDelivery("dead")
			if err := w.outbox.MarkDead(ctx, e.ID, outcome.errMsg); err != nil {
				w.logger.Error("mark dead after exhausting attempts", zap.String("event_id", e.ID), zap.Error(err))
			}
			return
		}
		metrics.RecordCRMDelivery("retry")

		wait := delay.NextBackOff()
		if outcome.retryAfter > 0 {
			wait = outcome.retryAfter
		}
		w.logger.Warn("crm delivery attempt failed, retrying",
			zap.String("event_id", e.ID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("error", outcome.errMsg),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// deliveryOutcome classifies a single HTTP attempt so deliverWithRetry can
// decide whether to retry, fail permanently, or record success.
type deliveryOutcome struct {
	delivered          bool
	permanent          bool // never retry: either credential rejected or a malformed request
	credentialRejected bool // 401/403 specifically, as opposed to a generic 4xx
	retryAfter         time.Duration
	errMsg             string
}

// attemptDelivery performs a single HTTP POST to the CRM's opportunity
// endpoint and classifies the result.
func (w *Worker) attemptDelivery(ctx context.Context, body []byte) deliveryOutcome {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return deliveryOutcome{errMsg: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.Credential.PlaintextForRequest())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return deliveryOutcome{errMsg: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return deliveryOutcome{delivered: true}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return deliveryOutcome{permanent: true, credentialRejected: true, errMsg: fmt.Sprintf("HTTP %d: credential rejected", resp.StatusCode)}

	case resp.StatusCode == http.StatusTooManyRequests:
		return deliveryOutcome{retryAfter: retryAfterOrDefault(resp.Header.Get("Retry-After"), 60*time.Second), errMsg: "HTTP 429"}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Other 4xx responses indicate a malformed request that retrying
		// unchanged will not fix.
		return deliveryOutcome{permanent: true, errMsg: fmt.Sprintf("HTTP %d", resp.StatusCode)}

	default:
		return deliveryOutcome{errMsg: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
}

// retryAfterOrDefault parses a Retry-After header (seconds form) and falls
// back to def when absent or unparseable.
func retryAfterOrDefault(header string, def time.Duration) time.Duration {
	if header == "" {
		return def
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// transform rehydrates an outbox event's payload into an Opportunity ready
// for delivery.
func (w *Worker) transform(e *repository.OutboxEvent) (Opportunity, error) {
	switch e.EventType {
	case "new_match":
		var evt NewMatchEvent
		if err := json.Unmarshal(e.Payload, &evt); err != nil {
			return Opportunity{}, fmt.Errorf("unmarshal new_match payload: %w", err)
		}
		return TransformNewMatch(evt.Match.Property, evt.Match.MatchScore, evt.Match.Reasons, w.cfg.Mapping, w.cfg.Pipeline), nil

	case "price_drop":
		var evt PriceDropEvent
		if err := json.Unmarshal(e.Payload, &evt); err != nil {
			return Opportunity{}, fmt.Errorf("unmarshal price_drop payload: %w", err)
		}
		return TransformPriceDrop(evt.Match.Property, evt.OldPrice, evt.NewPrice, w.cfg.Mapping, w.cfg.Pipeline), nil

	default:
		return Opportunity{}, fmt.Errorf("unknown event type %q", e.EventType)
	}
}
