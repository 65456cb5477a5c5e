package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tonimelisma/uploadsrv/internal/session"
)

// ErrCorruptState names the condition of an on-disk document that exists
// but cannot be parsed as JSON. Load does not return it: it treats the
// condition as non-fatal, logs it and returns an empty map with a nil error
// rather than preventing the server from starting.
var ErrCorruptState = errors.New("store: state document is corrupt")

const (
	stateFilePerms = 0o600
	stateDirPerms  = 0o700
)

// JSONFileStore persists the session map as a single JSON document at a
// fixed path, replaced atomically via a sibling temp file and rename.
// Grounded in the same temp-file-then-rename pattern used for per-key
// session files elsewhere in this codebase's lineage, generalized here to
// a single document covering every upload_id.
type JSONFileStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewJSONFileStore returns a store backed by the JSON document at path.
func NewJSONFileStore(path string, logger *slog.Logger) *JSONFileStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &JSONFileStore{path: path, logger: logger}
}

// Load reads the document. A missing file yields an empty map. A corrupt
// file is logged and also yields an empty map — corrupt state must never
// block the server from accepting new uploads.
func (s *JSONFileStore) Load() (map[string]*session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]*session.Record{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("store: reading state file: %w", err)
	}

	if len(data) == 0 {
		return map[string]*session.Record{}, nil
	}

	var records map[string]*session.Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("state file is corrupt, starting with empty session registry",
			slog.String("path", s.path), slog.String("error", err.Error()))

		return map[string]*session.Record{}, nil
	}

	return records, nil
}

// Save atomically replaces the document with the given map.
func (s *JSONFileStore) Save(records map[string]*session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, stateDirPerms); err != nil {
		return fmt.Errorf("store: creating state directory: %w", err)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("store: marshaling state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, stateFilePerms); err != nil {
		return fmt.Errorf("store: writing temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("store: renaming temp state file: %w", err)
	}

	return nil
}

// Close is a no-op for the file backend; it exists to satisfy Backend
// alongside the SQLite backend, which owns a real handle to close.
func (s *JSONFileStore) Close() error {
	return nil
}
