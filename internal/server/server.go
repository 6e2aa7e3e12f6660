// Package server exposes the prefetch engine over a JSON HTTP API.
package server

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/prefetch/internal/config"
	"github.com/sells-group/prefetch/internal/engine"
	"github.com/sells-group/prefetch/internal/model"
	"github.com/sells-group/prefetch/internal/monitoring"
)

// Server is the prefetch HTTP API server.
type Server struct {
	manager   *engine.Manager
	registry  model.Registry
	collector *monitoring.Collector
	cfg       config.ServerConfig
	router    chi.Router
	limiter   *clientLimiter
	version   string
	started   time.Time
}

// New creates a Server. registry supplies candidates when a predict request
// omits them.
func New(m *engine.Manager, registry model.Registry, cfg config.ServerConfig, version string) *Server {
	if registry == nil {
		registry = model.StaticRegistry(nil)
	}
	s := &Server{
		manager:   m,
		registry:  registry,
		collector: monitoring.NewCollector(m),
		cfg:       cfg,
		version:   version,
		started:   time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = newClientLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if s.limiter != nil {
		r.Use(s.limiter.middleware)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleSessionStats)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/interactions", s.handleRecordInteraction)
			r.Get("/patterns", s.handlePatterns)
			r.Get("/shape", s.handleShape)
			r.Post("/predict", s.handlePredict)
			r.Post("/outcomes", s.handleOutcome)
			r.Post("/usage", s.handleUsage)
			r.Get("/thresholds", s.handleThresholds)
			r.Post("/reset", s.handleReset)
			r.Post("/persist", s.handlePersist)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"uptime":        time.Since(s.started).Seconds(),
		"sessions":      s.manager.Len(),
		"store_circuit": s.manager.StoreCircuit().String(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Collect())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

const (
	limiterIdleTTL     = 10 * time.Minute
	limiterPruneEvery  = time.Minute
	maxTrackedLimiters = 10000
)

// clientLimiter keeps one token bucket per client IP. Buckets idle for
// limiterIdleTTL are dropped.
type clientLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	now       func() time.Time
	limiters  map[string]*clientBucket
	lastPrune time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		limit:    limit,
		burst:    burst,
		now:      time.Now,
		limiters: make(map[string]*clientBucket),
	}
}

func (c *clientLimiter) allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastPrune) >= limiterPruneEvery || len(c.limiters) >= maxTrackedLimiters {
		c.prune(now)
	}

	b, ok := c.limiters[key]
	if !ok {
		if len(c.limiters) >= maxTrackedLimiters {
			c.evictOldest()
		}
		b = &clientBucket{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.limiters[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// prune drops buckets idle for longer than limiterIdleTTL. Caller holds mu.
func (c *clientLimiter) prune(now time.Time) {
	c.lastPrune = now
	for key, b := range c.limiters {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(c.limiters, key)
		}
	}
}

// evictOldest drops the least recently seen bucket. Caller holds mu.
func (c *clientLimiter) evictOldest() {
	var oldest string
	var seen time.Time
	for key, b := range c.limiters {
		if oldest == "" || b.lastSeen.Before(seen) {
			oldest, seen = key, b.lastSeen
		}
	}
	delete(c.limiters, oldest)
}

func (c *clientLimiter) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.limiters)
}

func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !c.allow(host) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
