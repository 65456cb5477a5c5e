// Package protocol defines the wire format shared by the upload server's
// connection handler and the client driver: newline-terminated JSON control
// frames multiplexed with raw binary chunk payloads on one TCP connection.
package protocol

import "github.com/tonimelisma/uploadsrv/internal/session"

// Action identifies the operation a control frame requests. The set is
// closed — the handler's dispatch switch is exhaustive over it and a test
// asserts every value here is handled.
type Action string

const (
	ActionStart       Action = "start"
	ActionChunk       Action = "chunk"
	ActionPause       Action = "pause"
	ActionResume      Action = "resume"
	ActionStop        Action = "stop"
	ActionQueryResume Action = "query_resume"
	ActionFinish      Action = "finish"
)

// Status is the reply-level outcome indicator.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Error reasons. Every error reply carries exactly one of these in Reason.
const (
	ReasonInvalidHeader     = "invalid_header"
	ReasonMissingUploadID   = "missing_upload_id"
	ReasonInvalidStartParam = "invalid_start_params"
	ReasonInvalidLength     = "invalid_length"
	ReasonUnknownUpload     = "unknown_upload"
	ReasonWriteFailed       = "write_failed"
	ReasonUnknownAction     = "unknown_action"
	ReasonInternalError     = "internal_server_error"
	ReasonOffsetMismatch    = "offset_mismatch"
	ReasonSessionInUse      = "session_in_use"
	ReasonDigestMismatch    = "digest_mismatch"
)

// Frame is the control message read off the connection before any
// action-specific fields are interpreted. UploadID is required on every
// action. Fields unused by a given action are simply ignored.
type Frame struct {
	Action    Action           `json:"action"`
	UploadID  string           `json:"upload_id"`
	Filename  string           `json:"filename,omitempty"`
	FileSize  int64            `json:"filesize,omitempty"`
	ChunkSize int64            `json:"chunk_size,omitempty"`
	Metadata  session.Metadata `json:"metadata,omitempty"`
	Offset    int64            `json:"offset,omitempty"`
	Length    int64            `json:"length,omitempty"`
	Digest    string           `json:"digest,omitempty"`
	// RequireDigest, set on a start frame, opts the session into the
	// optional finish-frame digest check. Ignored by every other action.
	RequireDigest bool `json:"require_digest,omitempty"`
}

// Reply is the single JSON object, newline-terminated, sent back for every
// frame the handler processes.
type Reply struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	// Offset is never omitted on success: a start at offset 0 and a
	// query_resume for an unknown id both legitimately answer 0.
	Offset    int64  `json:"offset"`
	UploadID  string `json:"upload_id,omitempty"`
	ChunkSize int64  `json:"chunk_size,omitempty"`
	State     string `json:"state,omitempty"`
}

// OK builds a success reply carrying just an offset, the common case for
// chunk/query_resume acks.
func OK(offset int64) Reply {
	return Reply{Status: StatusOK, Offset: offset}
}

// Err builds an error reply with the given reason.
func Err(reason string) Reply {
	return Reply{Status: StatusError, Reason: reason}
}
