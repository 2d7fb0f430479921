// Package api provides the HTTP API of the cache service: raw disk cache
// access, memory cache introspection, health and metrics.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/thomasrockhu-codecov/cradle/internal/cache"
	"github.com/thomasrockhu-codecov/cradle/internal/metrics"
	"github.com/thomasrockhu-codecov/cradle/internal/service"
	"github.com/thomasrockhu-codecov/cradle/internal/storage/s3"
	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
	"github.com/thomasrockhu-codecov/cradle/pkg/health"
	"github.com/thomasrockhu-codecov/cradle/pkg/types"
	"github.com/thomasrockhu-codecov/cradle/pkg/utils"
)

// Version is reported by /info.
const Version = "0.1.0"

// RequestIDHeader carries the request id assigned by the server.
const RequestIDHeader = "X-Request-ID"

// Server serves the cache API
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	core       *service.Core
	collector  *metrics.Collector
	fetcher    types.BlobFetcher
	logger     *utils.StructuredLogger
	config     ServerConfig
	started    time.Time
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8080")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// MaxBodySize limits request bodies of /cache/insert
	MaxBodySize int64 `yaml:"max_body_size" json:"max_body_size"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`

	// EnableMetrics serves the Prometheus registry on /metrics
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:       "localhost:8080",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  60 * time.Second,
		IdleTimeout:   60 * time.Second,
		MaxBodySize:   64 << 20,
		EnableCORS:    true,
		EnableMetrics: true,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithCollector serves collector on /metrics.
func WithCollector(collector *metrics.Collector) Option {
	return func(s *Server) { s.collector = collector }
}

// WithFetcher enables /blob, which reads remote objects through the caches.
func WithFetcher(fetcher types.BlobFetcher) Option {
	return func(s *Server) { s.fetcher = fetcher }
}

// WithLogger sets the request logger.
func WithLogger(logger *utils.StructuredLogger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a new API server around core
func NewServer(config ServerConfig, core *service.Core, opts ...Option) *Server {
	s := &Server{
		core:    core,
		config:  config,
		logger:  core.Logger(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.MaxBodySize <= 0 {
		s.config.MaxBodySize = DefaultServerConfig().MaxBodySize
	}
	s.logger = s.logger.WithComponent("api")

	mux := http.NewServeMux()

	// Cache endpoints
	mux.HandleFunc("POST /cache/insert", s.handleInsert)
	mux.HandleFunc("GET /cache/query", s.handleQuery)
	mux.HandleFunc("GET /cache/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /cache/clear-unused", s.handleClearUnused)
	mux.HandleFunc("GET /cache/stats", s.handleStats)
	mux.HandleFunc("GET /blob", s.handleBlob)

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/components", s.handleHealthComponents)
	mux.HandleFunc("GET /health/live", s.handleLiveness)
	mux.HandleFunc("GET /health/ready", s.handleReadiness)

	if config.EnableMetrics && s.collector != nil {
		mux.Handle("GET /metrics", s.collector.Handler())
	}
	mux.HandleFunc("GET /info", s.handleInfo)

	handler := s.loggingMiddleware(mux)
	if config.EnableCORS {
		handler = corsMiddleware(handler)
	}
	s.handler = requestIDMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      s.handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("starting API server", map[string]interface{}{"address": s.config.Address})
	err := s.httpServer.ListenAndServe()
	if stderrors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

type insertRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type queryResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Size  int    `json:"size"`
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.respondError(w, r, errors.Wrap(errors.ErrCodeValidationFailed, "invalid insert request", err))
		return
	}

	if err := service.StoreBlob(r.Context(), s.core, req.Key, []byte(req.Value)); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"key":  req.Key,
		"size": len(req.Value),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.respondError(w, r, errors.NewError(errors.ErrCodeValidationFailed, "key parameter is required"))
		return
	}

	data, found, err := service.LoadBlob(r.Context(), s.core, key)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !found {
		s.respondError(w, r, errors.NewError(errors.ErrCodeEntryNotFound, "no disk cache entry for key").
			WithContext("key", key))
		return
	}
	s.respondJSON(w, http.StatusOK, queryResponse{Key: key, Value: string(data), Size: len(data)})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, cache.Snapshot(s.core.Memory()))
}

func (s *Server) handleClearUnused(w http.ResponseWriter, r *http.Request) {
	evicted := cache.ClearUnused(s.core.Memory())
	s.logger.Info("cleared unused memory cache entries", map[string]interface{}{"evicted": evicted})
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"evicted": evicted})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.core.Disk().Summary(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	response := map[string]interface{}{
		"core":         s.core.Stats(),
		"disk_summary": summary,
	}
	if source, ok := s.fetcher.(*s3.BlobSource); ok {
		response["s3"] = source.GetMetrics()
		response["s3_breaker"] = source.BreakerStats()
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	if s.fetcher == nil {
		s.respondError(w, r, errors.NewError(errors.ErrCodeNotInitialized, "no blob source configured"))
		return
	}
	bucket, key := r.URL.Query().Get("bucket"), r.URL.Query().Get("key")
	if bucket == "" || key == "" {
		s.respondError(w, r, errors.NewError(errors.ErrCodeValidationFailed, "bucket and key parameters are required"))
		return
	}

	data, err := s3.FetchBlob(r.Context(), s.core, s.fetcher, bucket, key)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("failed to write blob response", map[string]interface{}{"error": err})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tracker := s.core.Health()
	overall := tracker.GetOverallHealth()

	statusCode := http.StatusOK
	switch overall {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded, health.StateReadOnly:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"status":     overall.String(),
		"timestamp":  time.Now(),
		"components": tracker.Status(),
	})
}

func (s *Server) handleHealthComponents(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.core.Health().GetAllComponents())
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	overall := s.core.Health().GetOverallHealth()
	ready := overall != health.StateUnavailable

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"status":    overall.String(),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	endpoints := []string{
		"POST /cache/insert",
		"GET /cache/query",
		"GET /cache/snapshot",
		"POST /cache/clear-unused",
		"GET /cache/stats",
		"GET /blob",
		"GET /health",
		"GET /health/components",
		"GET /health/live",
		"GET /health/ready",
		"GET /info",
	}
	if s.config.EnableMetrics && s.collector != nil {
		endpoints = append(endpoints, "GET /metrics")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "cradle",
		"version":   Version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now(),
		"endpoints": endpoints,
	})
}

// statusRecorder captures the status code for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		s.logger.Debug("request completed", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"bytes":       rec.bytes,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  w.Header().Get(RequestIDHeader),
		})
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("error encoding JSON response", map[string]interface{}{"error": err})
	}
}

// respondError renders err with the status of its code. Errors that are
// not cradle errors are internal.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *errors.CradleError
	if !stderrors.As(err, &ce) {
		ce = errors.Wrap(errors.ErrCodeInternalError, "internal error", err)
	}
	requestID := w.Header().Get(RequestIDHeader)

	status := ce.HTTPStatus
	if status == 0 {
		status = errors.GetDefaultHTTPStatus(ce.Code)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"path":       r.URL.Path,
			"request_id": requestID,
			"error":      err,
		})
	}

	s.respondJSON(w, status, map[string]interface{}{
		"error":      err.Error(),
		"code":       ce.Code,
		"request_id": requestID,
		"timestamp":  time.Now(),
	})
}
