package client

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ControlState is the desired transfer state a human or supervising process
// can request by writing to the control file.
type ControlState string

const (
	ControlRun   ControlState = "run"
	ControlPause ControlState = "pause"
	ControlStop  ControlState = "stop"
)

// FsWatcher abstracts filesystem event monitoring. Satisfied by
// *fsnotify.Watcher; tests inject a mock implementation.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

// ControlWatcher watches a single small text file (containing "run",
// "pause", or "stop") and exposes its last-read content through State.
// Writing to the file is how `uploadctl pause|resume|stop` signals a
// running push without a PID file or daemon — the push subcommand watches
// its own control file for the duration of one transfer.
type ControlWatcher struct {
	path    string
	logger  *slog.Logger
	watcher FsWatcher
	state   atomic.Value // ControlState
	done    chan struct{}
}

// NewControlWatcher starts watching path, which is created with content
// "run" if it doesn't already exist. Call Close when the transfer ends.
func NewControlWatcher(path string, logger *slog.Logger) (*ControlWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o700); mkErr != nil {
			return nil, mkErr
		}

		if writeErr := os.WriteFile(path, []byte(ControlRun), 0o600); writeErr != nil {
			return nil, writeErr
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	cw := &ControlWatcher{
		path:    path,
		logger:  logger,
		watcher: &fsnotifyWrapper{w: w},
		done:    make(chan struct{}),
	}
	cw.state.Store(cw.readState())

	go cw.run()

	return cw, nil
}

// State returns the most recently observed control state.
func (cw *ControlWatcher) State() ControlState {
	return cw.state.Load().(ControlState)
}

// Close stops watching. Safe to call once.
func (cw *ControlWatcher) Close() {
	close(cw.done)
	cw.watcher.Close()
}

func (cw *ControlWatcher) run() {
	for {
		select {
		case _, ok := <-cw.watcher.Events():
			if !ok {
				return
			}

			cw.state.Store(cw.readState())
		case err, ok := <-cw.watcher.Errors():
			if !ok {
				return
			}

			cw.logger.Warn("control file watch error", slog.String("path", cw.path), slog.String("error", err.Error()))
		case <-cw.done:
			return
		}
	}
}

func (cw *ControlWatcher) readState() ControlState {
	data, err := os.ReadFile(cw.path)
	if err != nil {
		return ControlRun
	}

	switch strings.TrimSpace(string(data)) {
	case string(ControlPause):
		return ControlPause
	case string(ControlStop):
		return ControlStop
	default:
		return ControlRun
	}
}

// WriteControlState writes state to the control file at path, used by the
// pause/resume/stop CLI subcommands to signal a running push.
func WriteControlState(path string, state ControlState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(state), 0o600)
}
