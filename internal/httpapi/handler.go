// Package httpapi implements the external HTTP surface for agent lifecycle
// management, property scans, and match retrieval. Grounded on
// internal/registry/handler/agent.go's gin-handler shape (ShouldBindJSON,
// gin.H error envelopes, Register(*gin.RouterGroup) wiring), adapted from
// registry/agent-card semantics to property-agent lifecycle management.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/propwatch/internal/agent/model"
	"github.com/jmerrifield20/propwatch/internal/agent/repository"
	"github.com/jmerrifield20/propwatch/internal/agentsvc"
	"github.com/jmerrifield20/propwatch/internal/corpus"
	"github.com/jmerrifield20/propwatch/internal/enrichment"
	"github.com/jmerrifield20/propwatch/internal/matchengine"
	"github.com/jmerrifield20/propwatch/internal/propertymodel"
	"go.uber.org/zap"
)

// criteriaReader is the read-only criteria lookup the handler needs to
// render an agent's configured criteria alongside its lifecycle state.
type criteriaReader interface {
	GetByID(ctx context.Context, id string) (*model.CriteriaRecord, error)
}

// matchLister is the read-only match lookup the handler needs for
// GET /api/agents/{id}/matches.
type matchLister interface {
	ListByAgent(ctx context.Context, agentID string) ([]*model.Match, error)
}

// corpusReader mirrors agentsvc's corpus dependency, used by the health
// endpoint to surface the active snapshot's timestamp, and by the corpus
// reload endpoint to install a freshly merged snapshot. *corpus.Store
// satisfies this.
type corpusReader interface {
	Current() (*propertymodel.Snapshot, error)
	Swap(next *propertymodel.Snapshot) error
}

// Handler serves the agent lifecycle and property scan HTTP API.
type Handler struct {
	manager  *agentsvc.Manager
	criteria criteriaReader
	matches  matchLister
	corpus   corpusReader
	logger   *zap.Logger

	scanParallelism int
}

// New creates a Handler.
func New(manager *agentsvc.Manager, criteria criteriaReader, matches matchLister, corpusStore corpusReader, logger *zap.Logger) *Handler {
	return &Handler{manager: manager, criteria: criteria, matches: matches, corpus: corpusStore, logger: logger, scanParallelism: 8}
}

// Register wires every route onto rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	agents := rg.Group("/agents")
	{
		agents.POST("", h.CreateAgent)
		agents.GET("", h.ListAgents)
		agents.GET("/:id", h.GetAgent)
		agents.PATCH("/:id", h.PatchAgent)
		agents.DELETE("/:id", h.DeleteAgent)
		agents.POST("/:id/check", h.CheckAgent)
		agents.POST("/:id/pause", h.PauseAgent)
		agents.POST("/:id/resume", h.ResumeAgent)
		agents.GET("/:id/matches", h.ListMatches)
	}
	rg.POST("/properties/scan", h.ScanProperties)
	rg.POST("/corpus/reload", h.ReloadCorpus)
}

func (h *Handler) respondAgent(c *gin.Context, status int, agent *model.Agent) {
	rec, err := h.criteria.GetByID(c.Request.Context(), agent.CriteriaID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load criteria: " + err.Error()})
		return
	}
	c.JSON(status, toAgentResponse(agent, rec.Criteria))
}

// CreateAgent handles POST /api/agents.
func (h *Handler) CreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ClientName == "" || req.ClientEmail == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_name and client_email are required"})
		return
	}
	agent, err := h.manager.CreateAgent(c.Request.Context(), req.ClientName, req.ClientEmail, req.Criteria.toCriteria(), req.Notify.toPrefs())
	if err != nil {
		var invalid *matchengine.InvalidCriteriaError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error()})
			return
		}
		h.logger.Error("create agent", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create agent failed"})
		return
	}
	h.respondAgent(c, http.StatusCreated, agent)
}

// ListAgents handles GET /api/agents, optionally filtered by ?status=.
func (h *Handler) ListAgents(c *gin.Context) {
	status := model.AgentStatus(c.Query("status"))
	agents, err := h.manager.List(c.Request.Context(), status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list agents failed"})
		return
	}
	out := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		rec, err := h.criteria.GetByID(c.Request.Context(), a.CriteriaID)
		if err != nil {
			continue
		}
		out = append(out, toAgentResponse(a, rec.Criteria))
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

// GetAgent handles GET /api/agents/{id}.
func (h *Handler) GetAgent(c *gin.Context) {
	agent, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondAgentLookupError(c, err)
		return
	}
	h.respondAgent(c, http.StatusOK, agent)
}

// PatchAgent handles PATCH /api/agents/{id}, the only mutable field being
// notification preferences. Any other top-level field in the request body
// is rejected as a 400.
func (h *Handler) PatchAgent(c *gin.Context) {
	var req patchAgentRequest
	dec := jsonDecoder(c)
	if err := dec.Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Notify == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "notify is required"})
		return
	}
	if err := h.manager.UpdateNotifyPrefs(c.Request.Context(), c.Param("id"), req.Notify.toPrefs()); err != nil {
		h.respondAgentLookupError(c, err)
		return
	}
	agent, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondAgentLookupError(c, err)
		return
	}
	h.respondAgent(c, http.StatusOK, agent)
}

// DeleteAgent handles DELETE /api/agents/{id} as a soft delete: the agent
// moves to cancelled rather than being removed from storage.
func (h *Handler) DeleteAgent(c *gin.Context) {
	if err := h.manager.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		h.respondLifecycleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CheckAgent handles POST /api/agents/{id}/check, running the check
// procedure synchronously and returning its outcome. Returns 409 if a check
// for this agent is already in flight.
func (h *Handler) CheckAgent(c *gin.Context) {
	start := time.Now()
	result, err := h.manager.ForceCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		var busy *agentsvc.BusyError
		if errors.As(err, &busy) {
			c.JSON(http.StatusConflict, gin.H{"error": busy.Error()})
			return
		}
		var terminal *agentsvc.TerminalStateError
		var illegal *agentsvc.IllegalTransitionError
		if errors.As(err, &terminal) || errors.As(err, &illegal) {
			h.respondLifecycleError(c, err)
			return
		}
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		h.logger.Error("force check", zap.String("agent_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check failed"})
		return
	}
	c.JSON(http.StatusOK, checkResultResponse{
		AgentID:    result.AgentID,
		NewMatches: result.NewMatches,
		PriceDrops: result.PriceDrops,
		Health:     string(result.Health),
		TookMS:     time.Since(start).Milliseconds(),
	})
}

// PauseAgent handles POST /api/agents/{id}/pause.
func (h *Handler) PauseAgent(c *gin.Context) {
	if err := h.manager.Pause(c.Request.Context(), c.Param("id")); err != nil {
		h.respondLifecycleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResumeAgent handles POST /api/agents/{id}/resume.
func (h *Handler) ResumeAgent(c *gin.Context) {
	if err := h.manager.Resume(c.Request.Context(), c.Param("id")); err != nil {
		h.respondLifecycleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMatches handles GET /api/agents/{id}/matches.
func (h *Handler) ListMatches(c *gin.Context) {
	matches, err := h.matches.ListByAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list matches failed"})
		return
	}
	out := make([]matchResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, toMatchResponse(m))
	}
	c.JSON(http.StatusOK, gin.H{"matches": out})
}

// ScanProperties handles POST /api/properties/scan: forces an immediate
// check of every active agent, bounded by scanParallelism concurrent
// checks. Busy agents (already mid-check) are skipped, not treated as
// errors.
func (h *Handler) ScanProperties(c *gin.Context) {
	ctx := c.Request.Context()
	active, err := h.manager.List(ctx, model.AgentStatusActive)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list active agents failed"})
		return
	}

	sem := make(chan struct{}, h.scanParallelism)
	var wg sync.WaitGroup
	var mu sync.Mutex
	checked, skipped, failed := 0, 0, 0

	for _, a := range active {
		wg.Add(1)
		sem <- struct{}{}
		go func(agentID string) {
			defer wg.Done()
			defer func() { <-sem }()
			_, err := h.manager.ForceCheck(ctx, agentID)
			var busy *agentsvc.BusyError
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				checked++
			case errors.As(err, &busy):
				skipped++
			default:
				failed++
				h.logger.Warn("scan: check failed", zap.String("agent_id", agentID), zap.Error(err))
			}
		}(a.ID)
	}
	wg.Wait()

	c.JSON(http.StatusOK, gin.H{
		"agents_checked": checked,
		"agents_skipped": skipped,
		"agents_failed":  failed,
	})
}

// reloadCorpusRequest names the two operator-supplied files consumed by the
// enrichment pipeline: a fresh base listing snapshot and the auxiliary
// owner-intelligence feed. Both are file paths on the server's filesystem —
// the pipeline runs "out of band", so the files are expected to already
// have been dropped there before this endpoint is called.
type reloadCorpusRequest struct {
	SnapshotPath string `json:"snapshot_path"`
	FeedPath     string `json:"feed_path"`
}

// ReloadCorpus handles POST /api/corpus/reload: loads a new base snapshot,
// merges the auxiliary owner-intelligence feed into it (C2), and atomically
// swaps it in as the corpus store's current snapshot (C1).
func (h *Handler) ReloadCorpus(c *gin.Context) {
	var req reloadCorpusRequest
	if err := jsonDecoder(c).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SnapshotPath == "" || req.FeedPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "snapshot_path and feed_path are required"})
		return
	}

	base, err := corpus.LoadSnapshotFile(req.SnapshotPath)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "load snapshot file: " + err.Error()})
		return
	}
	feedData, err := os.ReadFile(req.FeedPath)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read feed file: " + err.Error()})
		return
	}

	result, err := enrichment.Merge(feedData, *base, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.corpus.Swap(&result.Snapshot); err != nil {
		h.logger.Error("reload corpus: swap", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "swap snapshot failed"})
		return
	}

	h.logger.Info("corpus reloaded",
		zap.Int("properties", len(result.Snapshot.Properties)),
		zap.Int("matched", result.MatchedCount),
		zap.Int("unmatched", result.UnmatchedRows),
		zap.Int("skipped_rows", len(result.SkippedRows)),
	)
	c.JSON(http.StatusOK, gin.H{
		"properties":    len(result.Snapshot.Properties),
		"matched":       result.MatchedCount,
		"unmatched":     result.UnmatchedRows,
		"skipped_rows":  len(result.SkippedRows),
		"snapshot_time": result.Snapshot.Timestamp,
	})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	all, err := h.manager.List(ctx, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list agents failed"})
		return
	}
	activeCount, degradedCount := 0, 0
	for _, a := range all {
		if a.Status == model.AgentStatusActive {
			activeCount++
		}
		if a.Health == model.HealthDegraded {
			degradedCount++
		}
	}

	status := "ok"
	var corpusTimestamp interface{}
	snap, err := h.corpus.Current()
	if err != nil {
		if errors.Is(err, corpus.ErrNoSnapshot) {
			status = "no_corpus"
		} else {
			status = "corpus_error"
		}
	} else {
		corpusTimestamp = snap.Timestamp
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           status,
		"corpus_timestamp": corpusTimestamp,
		"active_agents":    activeCount,
		"degraded_agents":  degradedCount,
	})
}

// jsonDecoder returns a json.Decoder over the request body configured to
// reject any field not present in the destination struct.
func jsonDecoder(c *gin.Context) *json.Decoder {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	return dec
}

func (h *Handler) respondAgentLookupError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	h.logger.Error("agent lookup", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (h *Handler) respondLifecycleError(c *gin.Context, err error) {
	var terminal *agentsvc.TerminalStateError
	var illegal *agentsvc.IllegalTransitionError
	switch {
	case errors.As(err, &terminal), errors.As(err, &illegal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
	default:
		h.logger.Error("lifecycle transition", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
