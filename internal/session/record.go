// Package session implements the upload session registry: the in-memory,
// mutex-protected state machine backed by a durable persistence store.
package session

import "time"

// Status is the advisory lifecycle state of a session. It never gates
// chunk acceptance — clients may resume silently by sending chunks at the
// last known offset regardless of status.
type Status string

const (
	StatusStarted   Status = "started"
	StatusUploading Status = "uploading"
	StatusPaused    Status = "paused"
	StatusResumed   Status = "resumed"
	StatusStopped   Status = "stopped"
)

// Metadata is the opaque mapping carried from the client to the Notifier.
type Metadata struct {
	Token       string   `json:"token"`
	Filename    string   `json:"filename"`
	Description string   `json:"description,omitempty"`
	Visibility  string   `json:"visibility,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Record is one upload's durable state, keyed by UploadID in the
// persistence store.
type Record struct {
	UploadID      string    `json:"upload_id"`
	Filename      string    `json:"filename"`
	FileSize      int64     `json:"filesize"`
	Offset        int64     `json:"offset"`
	Status        Status    `json:"status"`
	Peer          string    `json:"peer"`
	Metadata      Metadata  `json:"metadata"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	ContentDigest string    `json:"content_digest,omitempty"`
	// RequireDigest, when set at start time, defers completion until a
	// matching finish frame arrives instead of firing as soon as every
	// declared byte has been written. See Manager.Finish.
	RequireDigest bool `json:"require_digest,omitempty"`
}

// Complete reports whether the record has received every declared byte.
func (r *Record) Complete() bool {
	return r.Offset >= r.FileSize
}
