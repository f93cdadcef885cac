// Package gateway exposes the unified AI API over HTTP: single-call
// inference routes, asynchronous workflow management with SSE progress
// streams, and a websocket firehose of workflow events.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelmux/modelmux/core/infra/config"
	"github.com/modelmux/modelmux/core/infra/logging"
	"github.com/modelmux/modelmux/core/infra/metrics"
	"github.com/modelmux/modelmux/core/provider"
	"github.com/modelmux/modelmux/core/workflow"
)

// Options carries the collaborators a Server needs. Config, Registry,
// Executors, Catalog, Store and Executor are required; Metrics and Hub
// fall back to a noop recorder and a fresh hub.
type Options struct {
	Config    *config.Config
	Registry  *provider.Registry
	Executors *provider.Executors
	Catalog   *workflow.Catalog
	Store     workflow.StateStore
	Executor  *workflow.Executor
	Metrics   metrics.GatewayMetrics
	Hub       *EventHub
}

type Server struct {
	cfg       *config.Config
	registry  *provider.Registry
	executors *provider.Executors
	catalog   *workflow.Catalog
	store     workflow.StateStore
	executor  *workflow.Executor
	metrics   metrics.GatewayMetrics
	limiter   *tokenBucket
	hub       *EventHub
	started   time.Time
}

func NewServer(opts Options) *Server {
	m := opts.Metrics
	if m == nil {
		m = metrics.Noop{}
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewEventHub()
	}
	return &Server{
		cfg:       opts.Config,
		registry:  opts.Registry,
		executors: opts.Executors,
		catalog:   opts.Catalog,
		store:     opts.Store,
		executor:  opts.Executor,
		metrics:   m,
		limiter:   newTokenBucket(opts.Config.RateLimitRPS, opts.Config.RateLimitBurst),
		hub:       hub,
		started:   time.Now(),
	}
}

// Hub returns the websocket fan-out, for wiring the executor's event
// hook and any bus bridges.
func (s *Server) Hub() *EventHub { return s.hub }

// Handler assembles the full middleware chain around the route table.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(rateLimitMiddleware(s.limiter, authMiddleware(s.cfg.APIKey, s.routes())))
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.instrumented("/", s.handleRoot))
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /text", s.instrumented("/text", s.handleText))
	mux.HandleFunc("POST /chat", s.instrumented("/chat", s.handleText))
	mux.HandleFunc("POST /vision", s.instrumented("/vision", s.handleVision))
	mux.HandleFunc("POST /image", s.instrumented("/image", s.handleImage))
	mux.HandleFunc("POST /video", s.instrumented("/video", s.handleVideo))
	mux.HandleFunc("POST /audio", s.instrumented("/audio", s.handleAudio))
	mux.HandleFunc("POST /embeddings", s.instrumented("/embeddings", s.handleEmbeddings))

	mux.HandleFunc("GET /workflow", s.instrumented("/workflow", s.handleWorkflowList))
	mux.HandleFunc("GET /workflow/history", s.instrumented("/workflow/history", s.handleWorkflowHistory))
	mux.HandleFunc("POST /workflow/{name}", s.instrumented("/workflow/{name}", s.handleWorkflowSubmit))
	mux.HandleFunc("GET /workflow/{id}/status", s.instrumented("/workflow/{id}/status", s.handleWorkflowStatus))
	mux.HandleFunc("GET /workflow/{id}/stream", s.instrumented("/workflow/{id}/stream", s.handleWorkflowStream))
	mux.HandleFunc("DELETE /workflow/{id}", s.instrumented("/workflow/{id}", s.handleWorkflowDelete))

	mux.HandleFunc("GET /events", s.instrumented("/events", s.handleEvents))

	return mux
}

// Run serves the API until ctx is cancelled, then shuts down within the
// configured grace period. The metrics listener rides a side port so
// scrapes never contend with (or leak through) API auth.
func (s *Server) Run(ctx context.Context) error {
	var metricsSrv *http.Server
	if s.cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{
			Addr:         s.cfg.MetricsAddr,
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logging.Info("gateway", "metrics listening", "addr", s.cfg.MetricsAddr+"/metrics")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("gateway", "metrics server error", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: SSE and websocket responses are long-lived.
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("gateway", "http listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("gateway", "shutting down", "grace", s.cfg.ShutdownGrace.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("gateway", "http shutdown incomplete", "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	s.limiter.Close()
	s.hub.Close()
	return nil
}
