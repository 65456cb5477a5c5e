package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Sentinel errors surfaced by Manager. The connection handler maps these
// directly onto wire protocol error reasons.
var (
	ErrUnknownUpload      = errors.New("session: unknown upload_id")
	ErrInvalidStartParams = errors.New("session: invalid start parameters")
	ErrSessionInUse       = errors.New("session: upload already claimed by another connection")
	ErrOffsetMismatch     = errors.New("session: chunk offset does not match stored offset")
)

// Backend is the contract every persistence implementation satisfies: a
// single document mapping upload_id to session record. Load returns an
// empty map (never nil) if no state exists yet. Save must be atomic with
// respect to reader crashes. Declared here (rather than in internal/store,
// which implements it) so that store can depend on session's Record type
// without creating an import cycle.
type Backend interface {
	Load() (map[string]*Record, error)
	Save(map[string]*Record) error
	Close() error
}

// Notifier is the dependency Manager invokes exactly once per completed
// upload, right after the record has been deleted and the deletion
// persisted. Manager calls NotifyCompletion on its own goroutine, so an
// implementation may block on the outbound HTTP call and its retries.
type Notifier interface {
	NotifyCompletion(rec *Record, filePath string)
}

// MetricsRecorder receives counts for the admin server's /metrics endpoint.
// Optional: a nil recorder simply means metrics aren't collected.
type MetricsRecorder interface {
	SessionStarted()
	SessionCompleted()
	ChunkAccepted(bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) SessionStarted()     {}
func (noopMetrics) SessionCompleted()   {}
func (noopMetrics) ChunkAccepted(int64) {}

// Manager is the in-memory, mutex-protected session registry described by
// the state machine: it is the only shared mutable structure in the
// server, and the single mutex here covers both the in-memory map and
// every persistence snapshot taken while holding it.
type Manager struct {
	mu       sync.Mutex
	records  map[string]*Record
	inUse    map[string]bool
	backend  Backend
	notifier Notifier
	metrics  MetricsRecorder
	logger   *slog.Logger

	strictOffset       bool
	strictSingleWriter bool
}

// Config controls the two hardening policies left as open questions by the
// protocol: whether chunk offsets must match the stored offset exactly, and
// whether a second concurrent `start` on a live upload is rejected.
type Config struct {
	StrictOffset       bool
	StrictSingleWriter bool
}

// NewManager loads the existing session map from backend and returns a
// ready Manager. A corrupt or missing backend document yields an empty
// registry rather than failing startup.
func NewManager(backend Backend, notifier Notifier, metrics MetricsRecorder, cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if metrics == nil {
		metrics = noopMetrics{}
	}

	records, err := backend.Load()
	if err != nil {
		return nil, fmt.Errorf("session: loading initial state: %w", err)
	}

	return &Manager{
		records:            records,
		inUse:              make(map[string]bool),
		backend:            backend,
		notifier:           notifier,
		metrics:            metrics,
		logger:             logger,
		strictOffset:       cfg.StrictOffset,
		strictSingleWriter: cfg.StrictSingleWriter,
	}, nil
}

// persist saves the current in-memory map. Must be called while holding mu.
func (m *Manager) persist() error {
	if err := m.backend.Save(m.records); err != nil {
		return fmt.Errorf("session: persisting state: %w", err)
	}

	return nil
}

// Start creates a session at offset 0 if absent, or refreshes peer/metadata
// and marks it resumed if one already exists. Returns the authoritative
// offset to report back to the client.
func (m *Manager) Start(uploadID, filename string, filesize, chunkSize int64, peer string, meta Metadata, requireDigest bool) (int64, error) {
	if uploadID == "" || filename == "" || filesize <= 0 || chunkSize <= 0 {
		return 0, ErrInvalidStartParams
	}

	// macOS clients send NFD filenames; normalize so the storage path and
	// the name reported to the metadata service agree across platforms.
	filename = norm.NFC.String(filename)

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[uploadID]
	now := time.Now()

	if !exists {
		if m.strictSingleWriter && m.inUse[uploadID] {
			return 0, ErrSessionInUse
		}

		rec = &Record{
			UploadID:      uploadID,
			Filename:      filename,
			FileSize:      filesize,
			Offset:        0,
			Status:        StatusStarted,
			Peer:          peer,
			Metadata:      meta,
			CreatedAt:     now,
			UpdatedAt:     now,
			RequireDigest: requireDigest,
		}
		m.records[uploadID] = rec
	} else {
		if m.strictSingleWriter && m.inUse[uploadID] {
			return 0, ErrSessionInUse
		}

		rec.Peer = peer
		rec.Metadata = meta
		rec.Status = StatusResumed
		rec.UpdatedAt = now
	}

	if err := m.persist(); err != nil {
		return 0, err
	}

	m.inUse[uploadID] = true
	if !exists {
		m.metrics.SessionStarted()
	}

	return rec.Offset, nil
}

// Release clears the advisory single-writer claim taken by Start. Called
// when a connection handler exits, regardless of how it exited.
func (m *Manager) Release(uploadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inUse, uploadID)
}

// ChunkResult reports the outcome of an accepted chunk write.
type ChunkResult struct {
	NewOffset int64
	Completed bool
	// AwaitingFinish is true when every declared byte has arrived but the
	// session was started with RequireDigest set, so completion (and the
	// Notifier) is deferred until a matching finish frame arrives.
	AwaitingFinish bool
}

// Chunk records that length bytes have been durably written at offset for
// uploadID. The caller (the connection handler) must have already invoked
// the chunk writer and confirmed the write succeeded before calling this —
// Chunk only ever advances bookkeeping for bytes already on disk.
//
// filePath is passed through to the Notifier on completion; Manager itself
// has no opinion on storage layout.
func (m *Manager) Chunk(uploadID string, offset, length int64, filePath string) (ChunkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[uploadID]
	if !exists {
		return ChunkResult{}, ErrUnknownUpload
	}

	if m.strictOffset && offset != rec.Offset {
		return ChunkResult{}, ErrOffsetMismatch
	}

	newOffset := offset + length
	rec.Offset = newOffset
	rec.Status = StatusUploading
	rec.UpdatedAt = time.Now()
	m.metrics.ChunkAccepted(length)

	if !rec.Complete() {
		if err := m.persist(); err != nil {
			return ChunkResult{}, err
		}

		return ChunkResult{NewOffset: newOffset, Completed: false}, nil
	}

	if rec.RequireDigest {
		if err := m.persist(); err != nil {
			return ChunkResult{}, err
		}

		return ChunkResult{NewOffset: newOffset, AwaitingFinish: true}, nil
	}

	if err := m.completeLocked(uploadID, rec, filePath); err != nil {
		return ChunkResult{}, err
	}

	return ChunkResult{NewOffset: newOffset, Completed: true}, nil
}

// ErrDigestPending is returned by Finish when the session hasn't received
// every declared byte yet.
var ErrDigestPending = errors.New("session: upload incomplete, cannot finish")

// Finish completes a session that was started with RequireDigest, after the
// caller (the connection handler) has independently verified the content
// digest. Manager itself never computes hashes — that stays with the
// handler, keeping this package free of file I/O. The verified digest is
// recorded so the snapshot handed to the Notifier carries it.
func (m *Manager) Finish(uploadID, filePath, digest string) (ChunkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[uploadID]
	if !exists {
		return ChunkResult{}, ErrUnknownUpload
	}

	if !rec.Complete() {
		return ChunkResult{}, ErrDigestPending
	}

	rec.ContentDigest = digest

	if err := m.completeLocked(uploadID, rec, filePath); err != nil {
		return ChunkResult{}, err
	}

	return ChunkResult{NewOffset: rec.Offset, Completed: true}, nil
}

// completeLocked performs the exactly-once completion sequence: snapshot,
// delete, persist, then fire the Notifier asynchronously. Must be called
// while holding mu.
func (m *Manager) completeLocked(uploadID string, rec *Record, filePath string) error {
	notified := *rec
	delete(m.records, uploadID)
	delete(m.inUse, uploadID)

	if err := m.persist(); err != nil {
		return err
	}

	m.metrics.SessionCompleted()

	// Fire-and-forget: NotifyCompletion may retry over several seconds.
	// Running it in its own goroutine keeps it off both the Manager's
	// mutex and the calling connection handler's read loop.
	go m.notifier.NotifyCompletion(&notified, filePath)

	return nil
}

// transition applies a status-only mutation (pause/resume/stop) and returns
// the current offset.
func (m *Manager) transition(uploadID string, status Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[uploadID]
	if !exists {
		return 0, ErrUnknownUpload
	}

	rec.Status = status
	rec.UpdatedAt = time.Now()

	if err := m.persist(); err != nil {
		return 0, err
	}

	return rec.Offset, nil
}

// Pause marks a session paused.
func (m *Manager) Pause(uploadID string) (int64, error) {
	return m.transition(uploadID, StatusPaused)
}

// Resume marks a session resumed.
func (m *Manager) Resume(uploadID string) (int64, error) {
	return m.transition(uploadID, StatusResumed)
}

// Stop marks a session stopped.
func (m *Manager) Stop(uploadID string) (int64, error) {
	return m.transition(uploadID, StatusStopped)
}

// QueryResume returns the current offset for uploadID, or 0 if unknown —
// querying an unknown id is not an error per the wire protocol.
func (m *Manager) QueryResume(uploadID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[uploadID]
	if !exists {
		return 0
	}

	return rec.Offset
}

// Get returns a copy of the record for uploadID, if any.
func (m *Manager) Get(uploadID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[uploadID]
	if !exists {
		return Record{}, false
	}

	return *rec, true
}

// Close releases the underlying persistence backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}
