// Package handler implements the per-connection control loop: it reads
// newline-terminated JSON frames off the wire, reads raw chunk payloads
// immediately following a chunk frame, dispatches each action against the
// Session Manager, and writes back a single JSON reply per frame.
package handler

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"time"

	"github.com/tonimelisma/uploadsrv/internal/chunkwriter"
	"github.com/tonimelisma/uploadsrv/internal/protocol"
	"github.com/tonimelisma/uploadsrv/internal/session"
)

// maxFrameLine bounds how much a single control frame may read before the
// handler gives up on it as malformed — guards against a peer streaming
// unbounded garbage with no newline. A frame that reaches this size without
// a newline is answered with invalid_header and the connection is closed.
const maxFrameLine = 64 * 1024

// Handler owns one accepted connection's lifetime: framing, action
// dispatch, and payload reads. It never touches the Persistence Store
// directly — every mutation goes through the Manager.
type Handler struct {
	conn        net.Conn
	manager     *session.Manager
	storageDir  string
	idleTimeout time.Duration
	logger      *slog.Logger

	peer   string
	reader *bufio.Reader

	digests map[string]*uploadDigest
	claimed map[string]bool
}

// New returns a Handler ready to Serve the accepted connection.
func New(conn net.Conn, manager *session.Manager, storageDir string, idleTimeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		conn:        conn,
		manager:     manager,
		storageDir:  storageDir,
		idleTimeout: idleTimeout,
		logger:      logger,
		peer:        conn.RemoteAddr().String(),
		reader:      bufio.NewReaderSize(conn, maxFrameLine),
	}
}

// Serve runs the read-dispatch-reply loop until the peer disconnects, an
// idle timeout fires, or an internal error forces the connection closed.
// It recovers from panics in frame handling, replying
// internal_server_error and closing rather than taking the whole process
// down.
func (h *Handler) Serve() {
	defer h.conn.Close()
	defer h.releaseClaims()

	for {
		if h.idleTimeout > 0 {
			h.conn.SetDeadline(time.Now().Add(h.idleTimeout))
		}

		if !h.serveOneFrame() {
			return
		}
	}
}

// serveOneFrame reads and processes exactly one control frame (and its
// payload, if any). It returns false when the loop should stop: clean EOF,
// idle timeout, reset, or an unrecoverable internal error.
func (h *Handler) serveOneFrame() (keepGoing bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic while handling frame",
				slog.String("peer", h.peer), slog.Any("panic", r))
			h.writeReply(protocol.Err(protocol.ReasonInternalError))
			keepGoing = false
		}
	}()

	raw, err := h.reader.ReadSlice('\n')
	line := string(raw)
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			// The rest of the over-long line is still unread, so the
			// stream can't be resynchronized: reject and close.
			h.writeReply(protocol.Err(protocol.ReasonInvalidHeader))
			return false
		}

		if errors.Is(err, io.EOF) && line == "" {
			return false
		}

		if isTimeout(err) {
			h.logger.Debug("connection idle timeout", slog.String("peer", h.peer))
			return false
		}

		h.logger.Debug("connection read error, closing", slog.String("peer", h.peer), slog.String("error", err.Error()))
		return false
	}

	var frame protocol.Frame
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		h.writeReply(protocol.Err(protocol.ReasonInvalidHeader))
		return true
	}

	if frame.UploadID == "" {
		h.writeReply(protocol.Err(protocol.ReasonMissingUploadID))
		return true
	}

	return h.dispatch(frame)
}

// dispatch runs the action named by frame and writes its reply. The switch
// is exhaustive over protocol.Action; see handler_test.go for a
// compile-time-adjacent check that every constant is represented.
func (h *Handler) dispatch(frame protocol.Frame) bool {
	switch frame.Action {
	case protocol.ActionStart:
		h.handleStart(frame)
	case protocol.ActionChunk:
		return h.handleChunk(frame)
	case protocol.ActionPause:
		h.handleTransition(frame, h.manager.Pause, "paused")
	case protocol.ActionResume:
		h.handleTransition(frame, h.manager.Resume, "resumed")
	case protocol.ActionStop:
		h.handleTransition(frame, h.manager.Stop, "stopped")
	case protocol.ActionQueryResume:
		h.handleQueryResume(frame)
	case protocol.ActionFinish:
		h.handleFinish(frame)
	default:
		h.writeReply(protocol.Err(protocol.ReasonUnknownAction))
	}

	return true
}

func (h *Handler) handleStart(frame protocol.Frame) {
	offset, err := h.manager.Start(frame.UploadID, frame.Filename, frame.FileSize, frame.ChunkSize, h.peer, frame.Metadata, frame.RequireDigest)
	if err != nil {
		h.writeReply(protocol.Err(startErrorReason(err)))
		return
	}

	if h.claimed == nil {
		h.claimed = make(map[string]bool)
	}

	h.claimed[frame.UploadID] = true

	// Reset (rather than create fresh) so a start on an existing session —
	// e.g. a reconnect-and-resume — begins a new incremental hash rather
	// than accumulating across connections, matching the per-connection
	// scope documented on uploadDigest.
	h.digest(frame.UploadID).Reset()

	h.writeReply(protocol.Reply{
		Status:    protocol.StatusOK,
		UploadID:  frame.UploadID,
		Offset:    offset,
		ChunkSize: frame.ChunkSize,
	})
}

func startErrorReason(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionInUse):
		return protocol.ReasonSessionInUse
	default:
		return protocol.ReasonInvalidStartParam
	}
}

// handleChunk reads exactly frame.Length payload bytes off the same stream
// before doing anything else — the wire format forbids returning to
// line-based framing until the declared payload has been consumed.
func (h *Handler) handleChunk(frame protocol.Frame) bool {
	if frame.Length <= 0 {
		h.writeReply(protocol.Err(protocol.ReasonInvalidLength))
		return true
	}

	data := make([]byte, frame.Length)
	if h.idleTimeout > 0 {
		h.conn.SetDeadline(time.Now().Add(h.idleTimeout))
	}

	if _, err := io.ReadFull(h.reader, data); err != nil {
		// A short read here means the peer disconnected mid-payload. The
		// session's offset must not advance — simply stop serving; the
		// client resumes later via query_resume.
		h.logger.Debug("short read during chunk payload, closing connection",
			slog.String("peer", h.peer), slog.String("upload_id", frame.UploadID), slog.String("error", err.Error()))

		return false
	}

	rec, ok := h.manager.Get(frame.UploadID)
	if !ok {
		h.writeReply(protocol.Err(protocol.ReasonUnknownUpload))
		return true
	}

	filePath := h.sessionFilePath(frame.UploadID, rec.Filename)

	syncErr, writeErr := chunkwriter.Write(filePath, data, frame.Offset)
	if writeErr != nil {
		h.logger.Warn("chunk write failed", slog.String("upload_id", frame.UploadID), slog.String("error", writeErr.Error()))
		h.writeReply(protocol.Err(protocol.ReasonWriteFailed))

		return true
	}

	if syncErr != nil {
		h.logger.Debug("chunk sync failed, write itself succeeded", slog.String("upload_id", frame.UploadID), slog.String("error", syncErr.Error()))
	}

	h.digest(frame.UploadID).Write(data)

	result, err := h.manager.Chunk(frame.UploadID, frame.Offset, frame.Length, filePath)
	if err != nil {
		h.writeReply(protocol.Err(chunkErrorReason(err)))
		return true
	}

	h.writeReply(protocol.OK(result.NewOffset))

	return true
}

func chunkErrorReason(err error) string {
	switch {
	case errors.Is(err, session.ErrUnknownUpload):
		return protocol.ReasonUnknownUpload
	case errors.Is(err, session.ErrOffsetMismatch):
		return protocol.ReasonOffsetMismatch
	default:
		return protocol.ReasonInternalError
	}
}

func (h *Handler) handleTransition(frame protocol.Frame, fn func(string) (int64, error), state string) {
	offset, err := fn(frame.UploadID)
	if err != nil {
		h.writeReply(protocol.Err(protocol.ReasonUnknownUpload))
		return
	}

	h.writeReply(protocol.Reply{
		Status:   protocol.StatusOK,
		UploadID: frame.UploadID,
		Offset:   offset,
		State:    state,
	})
}

func (h *Handler) handleQueryResume(frame protocol.Frame) {
	offset := h.manager.QueryResume(frame.UploadID)
	h.writeReply(protocol.OK(offset))
}

// handleFinish verifies the client-declared digest against the bytes this
// connection has streamed for uploadID and, on a match, completes the
// session. A mismatch leaves the record untouched; the client decides
// whether to re-upload.
func (h *Handler) handleFinish(frame protocol.Frame) {
	got := fmt.Sprintf("sha256:%x", h.digest(frame.UploadID).Sum())

	if frame.Digest != got {
		h.writeReply(protocol.Err(protocol.ReasonDigestMismatch))
		return
	}

	rec, ok := h.manager.Get(frame.UploadID)
	if !ok {
		h.writeReply(protocol.Err(protocol.ReasonUnknownUpload))
		return
	}

	filePath := h.sessionFilePath(frame.UploadID, rec.Filename)

	result, err := h.manager.Finish(frame.UploadID, filePath, got)
	if err != nil {
		if errors.Is(err, session.ErrUnknownUpload) {
			h.writeReply(protocol.Err(protocol.ReasonUnknownUpload))
		} else {
			h.writeReply(protocol.Err(protocol.ReasonDigestMismatch))
		}

		return
	}

	h.writeReply(protocol.OK(result.NewOffset))
}

func (h *Handler) sessionFilePath(uploadID, filename string) string {
	return filepath.Join(h.storageDir, uploadID, filename)
}

func (h *Handler) writeReply(reply protocol.Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		h.logger.Error("failed to marshal reply", slog.String("error", err.Error()))
		return
	}

	data = append(data, '\n')

	if h.idleTimeout > 0 {
		h.conn.SetWriteDeadline(time.Now().Add(h.idleTimeout))
	}

	if _, err := h.conn.Write(data); err != nil {
		h.logger.Debug("failed to write reply", slog.String("peer", h.peer), slog.String("error", err.Error()))
	}
}

func (h *Handler) releaseClaims() {
	for uploadID := range h.claimed {
		h.manager.Release(uploadID)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
