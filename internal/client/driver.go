// Package client implements the Client Driver: the upload-side counterpart
// to internal/handler, speaking the same newline-terminated JSON control
// frame protocol over one TCP connection per transfer attempt.
package client

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/tonimelisma/uploadsrv/internal/protocol"
	"github.com/tonimelisma/uploadsrv/internal/session"
)

// Config controls one Driver's behavior.
type Config struct {
	ServerAddr  string
	UploadID    string
	LocalPath   string
	ChunkSize   int64
	Metadata    session.Metadata
	DialTimeout time.Duration
	IOTimeout   time.Duration
	// RequireDigest opts this upload into the end-to-end digest check: the
	// driver sends a finish frame with the sha256 of everything it streamed
	// on this connection once the declared length is reached.
	RequireDigest bool
	// ControlPath, if set, is watched for pause/stop requests between chunk
	// iterations. Empty disables control-file watching.
	ControlPath string
}

// Driver drives one upload of a local file to the server, honoring resume
// state and pause/stop signaling. One Driver handles one upload_id at a
// time; callers retry by constructing a new Driver after a failure — the
// local resume state makes that safe.
type Driver struct {
	cfg    Config
	resume *ResumeStore
	logger *slog.Logger
}

// New returns a Driver. resume stores local offset bookkeeping so a retried
// Push after a dropped connection starts at the last acknowledged offset
// instead of byte zero.
func New(cfg Config, resume *ResumeStore, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{cfg: cfg, resume: resume, logger: logger}
}

// Push runs the full upload sequence: connect, start-or-resume, chunk
// loop honoring pause/stop control signals, and completion cleanup. Returns nil only on full completion; any other
// outcome (including a deliberate stop) returns an error describing why,
// after persisting the offset reached so far.
func (d *Driver) Push(ctx context.Context) error {
	f, err := os.Open(d.cfg.LocalPath)
	if err != nil {
		return fmt.Errorf("client: opening local file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("client: stat local file: %w", err)
	}

	var watcher *ControlWatcher
	if d.cfg.ControlPath != "" {
		watcher, err = NewControlWatcher(d.cfg.ControlPath, d.logger)
		if err != nil {
			return fmt.Errorf("client: starting control watcher: %w", err)
		}
		defer watcher.Close()
	}

	conn, err := net.DialTimeout("tcp", d.cfg.ServerAddr, d.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("client: dialing %s: %w", d.cfg.ServerAddr, err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	offset, err := d.start(conn, reader, info.Size())
	if err != nil {
		return err
	}

	digest := sha256.New()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("client: seeking local file to offset %d: %w", offset, err)
	}

	if offset > 0 && d.cfg.RequireDigest {
		// A resumed upload with digest verification enabled can only
		// validate bytes streamed on *this* connection (see
		// internal/handler/digest.go). The local hash starts at the resume
		// offset just as the server's does, so the finish frame sent at the
		// end covers only this leg's bytes, not the whole file.
		d.logger.Warn("resuming mid-file with require_digest set; finish digest will cover only the bytes sent on this connection",
			slog.String("upload_id", d.cfg.UploadID))
	}

	buf := make([]byte, d.cfg.ChunkSize)

	for offset < info.Size() {
		if err := ctx.Err(); err != nil {
			d.persistOffset(offset)
			return fmt.Errorf("client: upload cancelled: %w", err)
		}

		if watcher != nil {
			switch watcher.State() {
			case ControlPause:
				if err := d.sendTransition(conn, reader, protocol.ActionPause); err != nil {
					return err
				}

				for watcher.State() == ControlPause {
					time.Sleep(200 * time.Millisecond)
				}

				if watcher.State() == ControlStop {
					return d.handleStop(conn, reader, offset)
				}

				if err := d.sendTransition(conn, reader, protocol.ActionResume); err != nil {
					return err
				}
			case ControlStop:
				return d.handleStop(conn, reader, offset)
			case ControlRun:
			}
		}

		n, readErr := io.ReadFull(f, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			d.persistOffset(offset)
			return fmt.Errorf("client: reading local file: %w", readErr)
		}

		chunk := buf[:n]

		newOffset, err := d.sendChunk(conn, reader, offset, chunk)
		if err != nil {
			d.persistOffset(offset)
			return err
		}

		digest.Write(chunk)
		offset = newOffset
		d.persistOffset(offset)
	}

	if d.cfg.RequireDigest && offset == info.Size() {
		if err := d.sendFinish(conn, reader, digest); err != nil {
			return err
		}
	}

	if err := d.resume.Delete(d.cfg.UploadID); err != nil {
		d.logger.Warn("failed to remove resume state after completion",
			slog.String("upload_id", d.cfg.UploadID), slog.String("error", err.Error()))
	}

	return nil
}

func (d *Driver) handleStop(conn net.Conn, reader *bufio.Reader, offset int64) error {
	if err := d.sendTransition(conn, reader, protocol.ActionStop); err != nil {
		d.persistOffset(offset)
		return err
	}

	d.persistOffset(offset)

	return fmt.Errorf("client: upload stopped at offset %d", offset)
}

// start sends start (or resume, if local resume state has a known offset)
// and returns the server's authoritative offset — which may be ahead of, or
// equal to, any locally persisted offset.
func (d *Driver) start(conn net.Conn, reader *bufio.Reader, fileSize int64) (int64, error) {
	local, err := d.resume.Load(d.cfg.UploadID)
	if err != nil {
		d.logger.Warn("ignoring corrupt resume state, starting from zero", slog.String("error", err.Error()))
	}

	action := protocol.ActionStart
	if local != nil && local.Offset > 0 {
		action = protocol.ActionResume
	}

	frame := protocol.Frame{
		Action:        action,
		UploadID:      d.cfg.UploadID,
		Filename:      d.cfg.Metadata.Filename,
		FileSize:      fileSize,
		ChunkSize:     d.cfg.ChunkSize,
		Metadata:      d.cfg.Metadata,
		RequireDigest: d.cfg.RequireDigest,
	}

	reply, err := d.roundTrip(conn, reader, frame)
	if err != nil {
		return 0, err
	}

	if reply.Status != protocol.StatusOK {
		return 0, fmt.Errorf("client: %s rejected: %s", action, reply.Reason)
	}

	return reply.Offset, nil
}

func (d *Driver) sendChunk(conn net.Conn, reader *bufio.Reader, offset int64, chunk []byte) (int64, error) {
	frame := protocol.Frame{
		Action:   protocol.ActionChunk,
		UploadID: d.cfg.UploadID,
		Offset:   offset,
		Length:   int64(len(chunk)),
	}

	header, err := json.Marshal(frame)
	if err != nil {
		return 0, fmt.Errorf("client: marshaling chunk header: %w", err)
	}

	header = append(header, '\n')

	if d.cfg.IOTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(d.cfg.IOTimeout))
	}

	if _, err := conn.Write(header); err != nil {
		return 0, fmt.Errorf("client: writing chunk header: %w", err)
	}

	if _, err := conn.Write(chunk); err != nil {
		return 0, fmt.Errorf("client: writing chunk payload: %w", err)
	}

	reply, err := d.readReply(reader)
	if err != nil {
		return 0, err
	}

	if reply.Status != protocol.StatusOK {
		return 0, fmt.Errorf("client: chunk rejected: %s", reply.Reason)
	}

	return reply.Offset, nil
}

func (d *Driver) sendTransition(conn net.Conn, reader *bufio.Reader, action protocol.Action) error {
	reply, err := d.roundTrip(conn, reader, protocol.Frame{Action: action, UploadID: d.cfg.UploadID})
	if err != nil {
		return err
	}

	if reply.Status != protocol.StatusOK {
		return fmt.Errorf("client: %s rejected: %s", action, reply.Reason)
	}

	return nil
}

func (d *Driver) sendFinish(conn net.Conn, reader *bufio.Reader, digest hash.Hash) error {
	frame := protocol.Frame{
		Action:   protocol.ActionFinish,
		UploadID: d.cfg.UploadID,
		Digest:   fmt.Sprintf("sha256:%x", digest.Sum(nil)),
	}

	reply, err := d.roundTrip(conn, reader, frame)
	if err != nil {
		return err
	}

	if reply.Status != protocol.StatusOK {
		return fmt.Errorf("client: finish rejected: %s", reply.Reason)
	}

	return nil
}

func (d *Driver) roundTrip(conn net.Conn, reader *bufio.Reader, frame protocol.Frame) (protocol.Reply, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("client: marshaling %s frame: %w", frame.Action, err)
	}

	data = append(data, '\n')

	if d.cfg.IOTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(d.cfg.IOTimeout))
	}

	if _, err := conn.Write(data); err != nil {
		return protocol.Reply{}, fmt.Errorf("client: writing %s frame: %w", frame.Action, err)
	}

	return d.readReply(reader)
}

func (d *Driver) readReply(reader *bufio.Reader) (protocol.Reply, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("client: reading reply: %w", err)
	}

	var reply protocol.Reply
	if err := json.Unmarshal([]byte(line), &reply); err != nil {
		return protocol.Reply{}, fmt.Errorf("client: parsing reply: %w", err)
	}

	return reply, nil
}

func (d *Driver) persistOffset(offset int64) {
	err := d.resume.Save(ResumeState{
		UploadID:  d.cfg.UploadID,
		LocalPath: d.cfg.LocalPath,
		Offset:    offset,
	})
	if err != nil {
		d.logger.Warn("failed to persist resume offset",
			slog.String("upload_id", d.cfg.UploadID), slog.String("error", err.Error()))
	}
}
