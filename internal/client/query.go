package client

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/tonimelisma/uploadsrv/internal/protocol"
)

// QueryOffset asks the server for its authoritative offset for uploadID
// over a short-lived connection. An unknown upload_id reports offset 0, per
// the wire protocol.
func QueryOffset(serverAddr, uploadID string, timeout time.Duration) (int64, error) {
	conn, err := net.DialTimeout("tcp", serverAddr, timeout)
	if err != nil {
		return 0, fmt.Errorf("client: dialing %s: %w", serverAddr, err)
	}
	defer conn.Close()

	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}

	d := &Driver{cfg: Config{UploadID: uploadID, IOTimeout: timeout}}

	reply, err := d.roundTrip(conn, bufio.NewReader(conn), protocol.Frame{
		Action:   protocol.ActionQueryResume,
		UploadID: uploadID,
	})
	if err != nil {
		return 0, err
	}

	if reply.Status != protocol.StatusOK {
		return 0, fmt.Errorf("client: query_resume rejected: %s", reply.Reason)
	}

	return reply.Offset, nil
}
