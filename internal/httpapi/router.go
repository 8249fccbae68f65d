package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/propwatch/internal/metrics"
	"go.uber.org/zap"
)

// RouterConfig controls cross-cutting HTTP concerns applied to every route.
type RouterConfig struct {
	CORSOrigins   []string
	RateLimitRPS  int
	BodyLimitByte int64
}

// NewRouter builds the gin engine, mounts cross-cutting middleware, and
// registers h's routes under /api plus a bare /health. Grounded on
// cmd/registry/main.go's router assembly (CORS, security headers, body
// size limit, per-IP rate limiting, structured request logging).
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(cfg.CORSOrigins),
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	bodyLimit := cfg.BodyLimitByte
	if bodyLimit == 0 {
		bodyLimit = 1 << 20
	}
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bodyLimit)
		c.Next()
	})

	if cfg.RateLimitRPS > 0 {
		router.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	}

	router.Use(requestLogger(logger))
	router.Use(metrics.GinMiddleware())

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", metrics.Handler())

	api := router.Group("/api")
	h.Register(api)

	return router
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
