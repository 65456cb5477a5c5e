package handler_test

import (
	"bufio"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/uploadsrv/internal/protocol"
	"github.com/tonimelisma/uploadsrv/internal/session"
	"github.com/tonimelisma/uploadsrv/testutil"
)

// testConn wraps one client connection to a test server, with helpers for
// the newline-terminated JSON framing.
type testConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *testConn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)

	t.Cleanup(func() { conn.Close() })

	return &testConn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testConn) send(frame protocol.Frame) {
	c.t.Helper()

	data, err := json.Marshal(frame)
	require.NoError(c.t, err)

	_, err = c.conn.Write(append(data, '\n'))
	require.NoError(c.t, err)
}

func (c *testConn) sendRaw(line string) {
	c.t.Helper()

	_, err := c.conn.Write([]byte(line))
	require.NoError(c.t, err)
}

func (c *testConn) sendPayload(data []byte) {
	c.t.Helper()

	_, err := c.conn.Write(data)
	require.NoError(c.t, err)
}

func (c *testConn) reply() protocol.Reply {
	c.t.Helper()

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test conn

	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)

	var reply protocol.Reply
	require.NoError(c.t, json.Unmarshal([]byte(line), &reply))

	return reply
}

func startFrame(uploadID, filename string, filesize, chunkSize int64) protocol.Frame {
	return protocol.Frame{
		Action:    protocol.ActionStart,
		UploadID:  uploadID,
		Filename:  filename,
		FileSize:  filesize,
		ChunkSize: chunkSize,
		Metadata:  session.Metadata{Token: "T", Filename: filename},
	}
}

func TestHandler_FreshUploadOneChunk(t *testing.T) {
	t.Parallel()

	env := testutil.StartServer(t, testutil.ServerOptions{})
	c := dial(t, env.Addr)

	c.send(startFrame("u1", "a.bin", 4, 4))

	reply := c.reply()
	assert.Equal(t, protocol.StatusOK, reply.Status)
	assert.Equal(t, "u1", reply.UploadID)
	assert.Equal(t, int64(0), reply.Offset)
	assert.Equal(t, int64(4), reply.ChunkSize)

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	c.send(protocol.Frame{Action: protocol.ActionChunk, UploadID: "u1", Offset: 0, Length: 4})
	c.sendPayload(payload)

	reply = c.reply()
	assert.Equal(t, protocol.StatusOK, reply.Status)
	assert.Equal(t, int64(4), reply.Offset)

	call, ok := env.Notifier.Wait(2 * time.Second)
	require.True(t, ok, "notifier not invoked")
	assert.Equal(t, "u1", call.Record.UploadID)
	assert.Equal(t, filepath.Join(env.StorageDir, "u1", "a.bin"), call.FilePath)

	_, exists := env.Manager.Get("u1")
	assert.False(t, exists, "record must be deleted after completion")

	data, err := os.ReadFile(filepath.Join(env.StorageDir, "u1", "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestHandler_MalformedHeaderThenValidFrame(t *testing.T) {
	t.Parallel()

	env := testutil.StartServer(t, testutil.ServerOptions{})
	c := dial(t, env.Addr)

	c.sendRaw("not-json\n")

	reply := c.reply()
	assert.Equal(t, protocol.StatusError, reply.Status)
	assert.Equal(t, protocol.ReasonInvalidHeader, reply.Reason)

	// The connection stays usable.
	c.send(startFrame("u1", "a.bin", 100, 10))

	reply = c.reply()
	assert.Equal(t, protocol.StatusOK, reply.Status)
}

func TestHandler_ChunkForUnknownUpload(t *testing.T) {
	t.Parallel()

	env := testutil.StartServer(t, testutil.ServerOptions{})
	c := dial(t, env.Addr)

	c.send(protocol.Frame{Action: protocol.ActionChunk, UploadID: "does-not-exist", Offset: 0, Length: 4})
	c.sendPayload([]byte("xxxx"))

	reply := c.reply()
	assert.Equal(t, protocol.StatusError, reply.Status)
	assert.Equal(t, protocol.ReasonUnknownUpload, reply.Reason)

	// No file is created for a rejected chunk.
	_, err := os.Stat(filepath.Join(env.StorageDir, "does-not-exist"))
	assert.True(t, os.IsNotExist(err))
}

func TestHandler_MissingUploadID(t *testing.T) {
	t.Parallel()

	env := testutil.StartServer(t, testutil.ServerOptions{})
	c := dial(t, env.Addr)

	c.send(protocol.Frame{Action: protocol.ActionStart, Filename: "a.bin", FileSize: 10, ChunkSize: 4})

	reply := c.reply()
	assert.Equal(t, protocol.StatusError, reply.Status)
	assert.Equal(t, protocol.ReasonMissingUploadID, reply.Reason)
}

func TestHandler_UnknownAction(t *testing.T) {
	t.Parallel()

	env := testutil.StartServer(t, testutil.ServerOptions{})
	c := dial(t, env.Addr)

	c.send(protocol.Frame{Action: "frobnicate", UploadID: "u1"})

	reply := c.reply()
	assert.Equal(t, protocol.StatusError, reply.Status)
	assert.Equal(t, protocol.ReasonUnknownAction, reply.Reason)
}

func TestHandler_InvalidStartParams(t *testing.T) {
	t.Parallel()

	env := testutil.StartServer(t, testutil.ServerOptions{})
	c := dial(t, env.Addr)

	c.send(protocol.Frame{Action: protocol.ActionStart, UploadID: "u1", Filename: "a.bin", FileSize: 0, ChunkSize: 4})

	reply := c.reply()
	assert.Equal(t, protocol.StatusError, reply.Status)
	assert.Equal(t, protocol.ReasonInvalidStartParam, reply.Reason)
}

func TestHandler_InvalidChunkLength(t *testing.T) {
	t.Parallel()

	env := testutil.StartServer(t, testutil.ServerOptions{})
	c := dial(t, env.Addr)

	c.send(protocol.Frame{Action: protocol.ActionChunk, UploadID: "u1", Offset: 0, Length: 0})

	reply := c.reply()
	assert.Equal(t, protocol.StatusError, reply.Status)
	assert.Equal(t, protocol.ReasonInvalidLength, reply.Reason)
}

func TestHandler_PauseResumeStopRoundTrip(t *testing.T) {
	t.Parallel()

	env := testutil.StartServer(t, testutil.ServerOptions{})
	c := dial(t, env.Addr)

	c.send(startFrame("u1", "a.bin", 100, 10))
	require.Equal(t, protocol.StatusOK, c.reply().Status)

	c.send(protocol.Frame{Action: protocol.ActionPause, UploadID: "u1"})
	reply := c.reply()
	assert.Equal(t, protocol.StatusOK, reply.Status)
	assert.Equal(t, "paused", reply.State)

	c.send(protocol.Frame{Action: protocol.ActionResume, UploadID: "u1"})
	reply = c.reply()
	assert.Equal(t, protocol.StatusOK, reply.Status)
	assert.Equal(t, "resumed", reply.State)

	c.send(protocol.Frame{Action: protocol.ActionStop, UploadID: "u1"})
	reply = c.reply()
	assert.Equal(t, protocol.StatusOK, reply.Status)
	assert.Equal(t, "stopped", reply.State)
}

func TestHandler_QueryResume(t *testing.T) {
	t.Parallel()

	env := testutil.StartServer(t, testutil.ServerOptions{})
	c := dial(t, env.Addr)

	c.send(protocol.Frame{Action: protocol.ActionQueryResume, UploadID: "ghost"})

	reply := c.reply()
	assert.Equal(t, protocol.StatusOK, reply.Status)
	assert.Equal(t, int64(0), reply.Offset)

	c.send(startFrame("u1", "a.bin", 100, 10))
	require.Equal(t, protocol.StatusOK, c.reply().Status)

	c.send(protocol.Frame{Action: protocol.ActionChunk, UploadID: "u1", Offset: 0, Length: 2})
	c.sendPayload([]byte("hi"))
	require.Equal(t, protocol.StatusOK, c.reply().Status)

	c.send(protocol.Frame{Action: protocol.ActionQueryResume, UploadID: "u1"})

	reply = c.reply()
	assert.Equal(t, protocol.StatusOK, reply.Status)
	assert.Equal(t, int64(2), reply.Offset)
}

func TestHandler_WriteFailureDoesNotAdvanceOffset(t *testing.T) {
	t.Parallel()

	if os.Getuid() == 0 {
		t.Skip("root bypasses permission checks")
	}

	env := testutil.StartServer(t, testutil.ServerOptions{})
	c := dial(t, env.Addr)

	c.send(startFrame("u1", "a.bin", 4, 4))
	require.Equal(t, protocol.StatusOK, c.reply().Status)

	// Make the storage root read-only so the chunk write fails.
	require.NoError(t, os.MkdirAll(env.StorageDir, 0o755))
	require.NoError(t, os.Chmod(env.StorageDir, 0o500))

	t.Cleanup(func() { os.Chmod(env.StorageDir, 0o755) }) //nolint:errcheck // restore for TempDir cleanup

	c.send(protocol.Frame{Action: protocol.ActionChunk, UploadID: "u1", Offset: 0, Length: 4})
	c.sendPayload([]byte("1234"))

	reply := c.reply()
	assert.Equal(t, protocol.StatusError, reply.Status)
	assert.Equal(t, protocol.ReasonWriteFailed, reply.Reason)
	assert.Equal(t, int64(0), env.Manager.QueryResume("u1"))

	// After remediation, retrying the same chunk succeeds.
	require.NoError(t, os.Chmod(env.StorageDir, 0o755))

	c.send(protocol.Frame{Action: protocol.ActionChunk, UploadID: "u1", Offset: 0, Length: 4})
	c.sendPayload([]byte("1234"))

	reply = c.reply()
	assert.Equal(t, protocol.StatusOK, reply.Status)
	assert.Equal(t, int64(4), reply.Offset)
}

func TestHandler_StrictOffsetRejectsMismatchedChunk(t *testing.T) {
	t.Parallel()

	env := testutil.StartServer(t, testutil.ServerOptions{
		Session: session.Config{StrictOffset: true},
	})
	c := dial(t, env.Addr)

	c.send(startFrame("u1", "a.bin", 100, 10))
	require.Equal(t, protocol.StatusOK, c.reply().Status)

	c.send(protocol.Frame{Action: protocol.ActionChunk, UploadID: "u1", Offset: 50, Length: 4})
	c.sendPayload([]byte("1234"))

	reply := c.reply()
	assert.Equal(t, protocol.StatusError, reply.Status)
	assert.Equal(t, protocol.ReasonOffsetMismatch, reply.Reason)
	assert.Equal(t, int64(0), env.Manager.QueryResume("u1"))
}

func TestHandler_FinishWithMatchingDigestCompletes(t *testing.T) {
	t.Parallel()

	env := testutil.StartServer(t, testutil.ServerOptions{})
	c := dial(t, env.Addr)

	payload := []byte("digest-checked payload")

	frame := startFrame("u1", "a.bin", int64(len(payload)), 64)
	frame.RequireDigest = true
	c.send(frame)
	require.Equal(t, protocol.StatusOK, c.reply().Status)

	c.send(protocol.Frame{Action: protocol.ActionChunk, UploadID: "u1", Offset: 0, Length: int64(len(payload))})
	c.sendPayload(payload)
	require.Equal(t, protocol.StatusOK, c.reply().Status)

	// Every byte has arrived, but completion waits for the finish frame.
	assert.Empty(t, env.Notifier.Calls())

	c.send(protocol.Frame{
		Action:   protocol.ActionFinish,
		UploadID: "u1",
		Digest:   fmt.Sprintf("sha256:%x", sha256.Sum256(payload)),
	})

	reply := c.reply()
	assert.Equal(t, protocol.StatusOK, reply.Status)

	_, ok := env.Notifier.Wait(2 * time.Second)
	require.True(t, ok, "notifier not invoked after finish")

	_, exists := env.Manager.Get("u1")
	assert.False(t, exists)
}

func TestHandler_FinishWithWrongDigestLeavesRecord(t *testing.T) {
	t.Parallel()

	env := testutil.StartServer(t, testutil.ServerOptions{})
	c := dial(t, env.Addr)

	payload := []byte("payload")

	frame := startFrame("u1", "a.bin", int64(len(payload)), 64)
	frame.RequireDigest = true
	c.send(frame)
	require.Equal(t, protocol.StatusOK, c.reply().Status)

	c.send(protocol.Frame{Action: protocol.ActionChunk, UploadID: "u1", Offset: 0, Length: int64(len(payload))})
	c.sendPayload(payload)
	require.Equal(t, protocol.StatusOK, c.reply().Status)

	c.send(protocol.Frame{Action: protocol.ActionFinish, UploadID: "u1", Digest: "sha256:deadbeef"})

	reply := c.reply()
	assert.Equal(t, protocol.StatusError, reply.Status)
	assert.Equal(t, protocol.ReasonDigestMismatch, reply.Reason)

	// The record survives so the client can decide whether to re-upload.
	_, exists := env.Manager.Get("u1")
	assert.True(t, exists)
	assert.Empty(t, env.Notifier.Calls())
}

func TestHandler_ShortPayloadReadLeavesOffsetIntact(t *testing.T) {
	t.Parallel()

	env := testutil.StartServer(t, testutil.ServerOptions{IdleTimeout: 500 * time.Millisecond})
	c := dial(t, env.Addr)

	c.send(startFrame("u1", "a.bin", 100, 10))
	require.Equal(t, protocol.StatusOK, c.reply().Status)

	// Declare 10 bytes but send only 3, then close: a short read.
	c.send(protocol.Frame{Action: protocol.ActionChunk, UploadID: "u1", Offset: 0, Length: 10})
	c.sendPayload([]byte("abc"))
	c.conn.Close()

	// The offset never advances; the session record survives for resume.
	require.Eventually(t, func() bool {
		_, exists := env.Manager.Get("u1")
		return exists && env.Manager.QueryResume("u1") == 0
	}, 2*time.Second, 20*time.Millisecond)

	c2 := dial(t, env.Addr)
	c2.send(protocol.Frame{Action: protocol.ActionQueryResume, UploadID: "u1"})
	assert.Equal(t, int64(0), c2.reply().Offset)
}

func TestHandler_IdleTimeoutClosesConnection(t *testing.T) {
	t.Parallel()

	env := testutil.StartServer(t, testutil.ServerOptions{IdleTimeout: 200 * time.Millisecond})
	c := dial(t, env.Addr)

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test conn

	_, err := c.r.ReadByte()
	assert.ErrorIs(t, err, io.EOF, "server should close an idle connection")
}

// Every declared action must be dispatched — none may fall through to
// unknown_action. Guards the handler switch against a new protocol.Action
// constant being added without a case.
func TestHandler_DispatchCoversEveryAction(t *testing.T) {
	t.Parallel()

	actions := []protocol.Action{
		protocol.ActionStart,
		protocol.ActionChunk,
		protocol.ActionPause,
		protocol.ActionResume,
		protocol.ActionStop,
		protocol.ActionQueryResume,
		protocol.ActionFinish,
	}

	env := testutil.StartServer(t, testutil.ServerOptions{})

	for _, action := range actions {
		t.Run(string(action), func(t *testing.T) {
			c := dial(t, env.Addr)

			frame := protocol.Frame{Action: action, UploadID: "dispatch-probe"}
			if action == protocol.ActionChunk {
				// Zero length is rejected before any payload read, keeping
				// this probe self-contained.
				frame.Length = 0
			}

			c.send(frame)

			reply := c.reply()
			assert.NotEqual(t, protocol.ReasonUnknownAction, reply.Reason,
				"action %q fell through the dispatch switch", action)
		})
	}
}
