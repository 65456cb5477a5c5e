// Package testutil provides a shared in-process server harness for the
// package-level and end-to-end tests: a full upload server (store, session
// manager, accept loop) bound to an ephemeral port, plus a capturing
// Notifier so tests can assert on completion hand-offs without a real
// metadata service.
package testutil

import (
	"context"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tonimelisma/uploadsrv/internal/server"
	"github.com/tonimelisma/uploadsrv/internal/session"
	"github.com/tonimelisma/uploadsrv/internal/store"
)

const defaultIdleTimeout = 5 * time.Second

// CompletedUpload is one captured NotifyCompletion call.
type CompletedUpload struct {
	Record   session.Record
	FilePath string
}

// CaptureNotifier implements session.Notifier by recording every call. It
// is safe for concurrent use; the Manager invokes it from a goroutine.
type CaptureNotifier struct {
	mu    sync.Mutex
	calls []CompletedUpload
	ch    chan CompletedUpload
}

// NewCaptureNotifier returns a notifier with room to buffer 16 completions.
func NewCaptureNotifier() *CaptureNotifier {
	return &CaptureNotifier{ch: make(chan CompletedUpload, 16)}
}

// NotifyCompletion implements session.Notifier.
func (n *CaptureNotifier) NotifyCompletion(rec *session.Record, filePath string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	call := CompletedUpload{Record: *rec, FilePath: filePath}
	n.calls = append(n.calls, call)
	n.ch <- call
}

// Calls returns a snapshot of every completion captured so far.
func (n *CaptureNotifier) Calls() []CompletedUpload {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]CompletedUpload(nil), n.calls...)
}

// Wait blocks until the next completion arrives or timeout elapses.
func (n *CaptureNotifier) Wait(timeout time.Duration) (CompletedUpload, bool) {
	select {
	case call := <-n.ch:
		return call, true
	case <-time.After(timeout):
		return CompletedUpload{}, false
	}
}

// ServerOptions tunes a test server. The zero value is a fresh server in a
// temp directory with default (permissive) session policies.
type ServerOptions struct {
	// DataDir overrides the state/storage root, letting a test restart a
	// server against state left behind by a previous one.
	DataDir     string
	Session     session.Config
	IdleTimeout time.Duration
}

// Env is a running in-process upload server.
type Env struct {
	Addr       string
	DataDir    string
	StorageDir string
	StatePath  string
	Manager    *session.Manager
	Notifier   *CaptureNotifier

	cancel context.CancelFunc
	done   chan struct{}
}

// StartServer launches a full upload server on an ephemeral port and
// registers shutdown with t.Cleanup. Tests connect to Env.Addr with real
// TCP connections.
func StartServer(t *testing.T, opts ServerOptions) *Env {
	t.Helper()

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = t.TempDir()
	}

	idleTimeout := opts.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = defaultIdleTimeout
	}

	logger := Logger(t)
	statePath := filepath.Join(dataDir, "uploads_state.json")
	storageDir := filepath.Join(dataDir, "uploads")

	backend := store.NewJSONFileStore(statePath, logger)
	notifier := NewCaptureNotifier()

	manager, err := session.NewManager(backend, notifier, nil, opts.Session, logger)
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening on ephemeral port: %v", err)
	}

	srv := server.New(ln.Addr().String(), storageDir, idleTimeout, manager, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		if serveErr := srv.Serve(ctx, ln); serveErr != nil {
			t.Errorf("server.Serve: %v", serveErr)
		}
	}()

	env := &Env{
		Addr:       ln.Addr().String(),
		DataDir:    dataDir,
		StorageDir: storageDir,
		StatePath:  statePath,
		Manager:    manager,
		Notifier:   notifier,
		cancel:     cancel,
		done:       done,
	}

	t.Cleanup(env.Shutdown)

	return env
}

// Shutdown stops the accept loop and waits for in-flight handlers to
// finish. Safe to call more than once; t.Cleanup calls it automatically.
func (e *Env) Shutdown() {
	e.cancel()
	<-e.done
}

// Logger returns a debug-level logger writing to the test log, so server
// activity appears in CI output.
func Logger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}
