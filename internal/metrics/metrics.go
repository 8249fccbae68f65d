// Package metrics exposes the Prometheus collectors shared across
// propwatch's HTTP layer, scheduler, and CRM delivery worker. Kept as its
// own package (rather than living in internal/httpapi) so internal/scheduler
// and internal/crmsync can record against it without creating an import
// cycle back into internal/httpapi.
//
// Grounded on internal/registry/handler/metrics.go's promauto pattern,
// renamed and re-scoped to propwatch's domain.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propwatch_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "propwatch_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propwatch_checks_total",
		Help: "Total agent check-procedure runs by outcome.",
	}, []string{"outcome"})

	checksFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "propwatch_checks_failed_total",
		Help: "Total agent check-procedure runs that errored.",
	})

	matchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propwatch_matches_total",
		Help: "Total new matches recorded, by agent.",
	}, []string{"agent_id"})

	crmDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propwatch_crm_deliveries_total",
		Help: "Total CRM outbox delivery attempts by result.",
	}, []string{"result"})

	crmOutboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "propwatch_crm_outbox_depth",
		Help: "Number of CRM outbox events claimed for delivery in the most recent poll.",
	})

	schedulerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "propwatch_scheduler_queue_depth",
		Help: "Number of agents currently due for a scheduled check.",
	})
)

// GinMiddleware records per-request method/path/status metrics.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// Handler serves the Prometheus exposition format.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordCheck records a completed agent check-procedure run's outcome
// ("ok" or "error").
func RecordCheck(outcome string) {
	checksTotal.WithLabelValues(outcome).Inc()
	if outcome != "ok" {
		checksFailedTotal.Inc()
	}
}

// RecordMatch records a newly-created match for an agent.
func RecordMatch(agentID string) {
	matchesTotal.WithLabelValues(agentID).Inc()
}

// RecordCRMDelivery records a CRM outbox delivery attempt's result:
// "delivered", "retry", or "dead".
func RecordCRMDelivery(result string) {
	crmDeliveriesTotal.WithLabelValues(result).Inc()
}

// SetCRMOutboxDepth sets the gauge of CRM outbox events claimed in the most
// recent delivery poll.
func SetCRMOutboxDepth(depth float64) {
	crmOutboxDepth.Set(depth)
}

// SetSchedulerQueueDepth sets the current scheduler due-agent gauge.
func SetSchedulerQueueDepth(depth float64) {
	schedulerQueueDepth.Set(depth)
}
