package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ErrCorruptResumeState is returned when a resume file cannot be parsed as
// JSON. The corrupt file is deleted automatically.
var ErrCorruptResumeState = errors.New("corrupt resume state file")

const (
	resumeFilePerms = 0o600
	resumeDirPerms  = 0o700
)

// ResumeState is the on-disk record a Driver keeps so a restarted client can
// resume an interrupted upload at the last acknowledged offset instead of
// starting over.
type ResumeState struct {
	UploadID  string    `json:"upload_id"`
	LocalPath string    `json:"local_path"`
	Offset    int64     `json:"offset"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResumeStore manages one JSON file per upload_id under dir, written
// atomically via temp-file+rename so a crash mid-write never leaves a
// half-written resume file behind.
type ResumeStore struct {
	dir    string
	logger *slog.Logger
}

// NewResumeStore creates a ResumeStore rooted at dir.
func NewResumeStore(dir string, logger *slog.Logger) *ResumeStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &ResumeStore{dir: dir, logger: logger}
}

// Load reads the resume state for uploadID. Returns nil, nil if no resume
// file exists — that's the normal case for a fresh upload.
func (s *ResumeStore) Load(uploadID string) (*ResumeState, error) {
	path := s.filePath(uploadID)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading resume file: %w", err)
	}

	var st ResumeState
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("corrupt resume file, deleting",
			slog.String("path", path), slog.String("error", err.Error()))

		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove corrupt resume file", slog.String("path", path), slog.String("error", rmErr.Error()))
		}

		return nil, fmt.Errorf("%w: %w", ErrCorruptResumeState, err)
	}

	return &st, nil
}

// Save persists the resume state for uploadID, creating the directory on
// first use.
func (s *ResumeStore) Save(st ResumeState) error {
	if err := os.MkdirAll(s.dir, resumeDirPerms); err != nil {
		return fmt.Errorf("creating resume dir: %w", err)
	}

	st.UpdatedAt = time.Now()

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling resume state: %w", err)
	}

	path := s.filePath(st.UploadID)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, resumeFilePerms); err != nil {
		return fmt.Errorf("writing resume temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming resume temp file: %w", err)
	}

	return nil
}

// Delete removes the resume entry for uploadID once the upload completes.
// No error if the file doesn't exist.
func (s *ResumeStore) Delete(uploadID string) error {
	if err := os.Remove(s.filePath(uploadID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting resume file: %w", err)
	}

	return nil
}

func (s *ResumeStore) filePath(uploadID string) string {
	return filepath.Join(s.dir, uploadID+".json")
}
