package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-lifetime Prometheus collectors the admin server
// exposes at /metrics, alongside the plain health/readiness endpoints every
// deployment needs regardless of whether scraping is wired up.
type Metrics struct {
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	ChunksAccepted    prometheus.Counter
	BytesWritten      prometheus.Counter
	NotifyFailures    prometheus.Counter
}

// NewMetrics registers every collector against a fresh registry so repeated
// test construction doesn't panic on duplicate registration.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "uploadsrv_sessions_started_total",
			Help: "Upload sessions created via a start frame.",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "uploadsrv_sessions_completed_total",
			Help: "Upload sessions that reached offset == filesize.",
		}),
		ChunksAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "uploadsrv_chunks_accepted_total",
			Help: "Chunk frames successfully written to storage.",
		}),
		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "uploadsrv_bytes_written_total",
			Help: "Total payload bytes durably written across all chunks.",
		}),
		NotifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "uploadsrv_notify_failures_total",
			Help: "Completion notifications that exhausted retries without success.",
		}),
	}, reg
}

// SessionStarted implements session.MetricsRecorder.
func (m *Metrics) SessionStarted() {
	m.SessionsStarted.Inc()
}

// SessionCompleted implements session.MetricsRecorder.
func (m *Metrics) SessionCompleted() {
	m.SessionsCompleted.Inc()
}

// ChunkAccepted implements session.MetricsRecorder.
func (m *Metrics) ChunkAccepted(bytes int64) {
	m.ChunksAccepted.Inc()
	m.BytesWritten.Add(float64(bytes))
}

// NotifyFailure implements notifier.FailureRecorder.
func (m *Metrics) NotifyFailure() {
	m.NotifyFailures.Inc()
}

// ReadyFunc reports whether the server is ready to accept uploads — false
// during startup before the Session Manager has finished loading state.
type ReadyFunc func() bool

// AdminServer serves /healthz, /readyz, and /metrics on a side address,
// entirely separate from the upload protocol's TCP listener.
type AdminServer struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewAdminServer builds the admin server. addr may be empty, in which case
// the caller should not call Run — the admin surface is opt-in.
func NewAdminServer(addr string, reg *prometheus.Registry, ready ReadyFunc, shutdownTimeout time.Duration, logger *slog.Logger) *AdminServer {
	if logger == nil {
		logger = slog.Default()
	}

	return &AdminServer{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           newAdminMux(reg, ready),
			ReadHeaderTimeout: 5 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

// newAdminMux builds the admin route table, separate from the listener so
// tests can exercise the endpoints through httptest.
func newAdminMux(reg *prometheus.Registry, ready ReadyFunc) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *AdminServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("admin server listening", slog.String("addr", a.httpServer.Addr))
		errCh <- a.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		return a.httpServer.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck // best-effort encode of a static health payload
}
