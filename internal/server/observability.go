// Observability middleware and HTTP server for metrics, health and profiling
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nainya/docvault/internal/logger"
	"github.com/nainya/docvault/internal/metrics"
)

// Options configures an ObservabilityServer
type Options struct {
	// Addr is the listen address, e.g. ":9090"
	Addr string

	// Gatherer serves /metrics; nil means prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer

	// Ready backs /ready. A nil func is always ready.
	Ready func(ctx context.Context) error

	// EnablePprof mounts /debug/pprof
	EnablePprof bool

	// UptimeInterval is how often the uptime gauge is refreshed; 0 means 15s
	UptimeInterval time.Duration

	Metrics *metrics.Metrics
	Log     *logger.Logger
}

// statusRecorder captures the response code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an HTTP handler with request metrics and logging.
// Responses with a 5xx status count as errors.
func Instrument(route string, m *metrics.Metrics, log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		var err error
		if rec.status >= http.StatusInternalServerError {
			err = fmt.Errorf("%s %s: status %d", r.Method, route, rec.status)
		}
		m.RecordOperation("http", route, duration, err)
		log.Debug().
			Str("route", route).
			Str("method", r.Method).
			Int("status", rec.status).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// ObservabilityServer provides HTTP endpoints for metrics and profiling
type ObservabilityServer struct {
	server  *http.Server
	log     *logger.Logger
	metrics *metrics.Metrics
	uptime  time.Duration
}

// NewObservabilityServer creates a new HTTP server for observability
func NewObservabilityServer(opts Options) *ObservabilityServer {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	log = log.Component("observability")

	o := &ObservabilityServer{
		log:     log,
		metrics: opts.Metrics,
		uptime:  opts.UptimeInterval,
	}
	if o.uptime <= 0 {
		o.uptime = 15 * time.Second
	}
	o.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      o.routes(opts),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return o
}

// Handler exposes the routes, mainly for tests
func (o *ObservabilityServer) Handler() http.Handler {
	return o.server.Handler
}

func (o *ObservabilityServer) routes(opts Options) http.Handler {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.Handle("/health", Instrument("/health", o.metrics, o.log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "docvault"})
	})))

	mux.Handle("/ready", Instrument("/ready", o.metrics, o.log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})))

	if opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Start serves until Shutdown is called or ctx is cancelled
func (o *ObservabilityServer) Start(ctx context.Context) error {
	o.log.Info().
		Str("addr", o.server.Addr).
		Str("metrics", fmt.Sprintf("http://%s/metrics", o.server.Addr)).
		Str("health", fmt.Sprintf("http://%s/health", o.server.Addr)).
		Msg("Starting observability server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go o.refreshUptime(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = o.server.Shutdown(shutdownCtx)
	}()

	if err := o.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("observability server failed: %w", err)
	}
	return nil
}

func (o *ObservabilityServer) refreshUptime(ctx context.Context) {
	t := time.NewTicker(o.uptime)
	defer t.Stop()
	o.metrics.UpdateUptime()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.metrics.UpdateUptime()
		}
	}
}

// Shutdown gracefully shuts down the observability server
func (o *ObservabilityServer) Shutdown(ctx context.Context) error {
	o.log.Info().Msg("Shutting down observability server")
	return o.server.Shutdown(ctx)
}
