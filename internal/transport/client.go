package transport

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"devit/internal/envelope"
)

// SocketClient is a thin synchronous client for the framed Unix
// domain socket transport, used by the devit CLI.
type SocketClient struct {
	conn net.Conn
	r    *bufio.Reader
}

// DialSocket connects to a devitd socket endpoint.
func DialSocket(path string, timeout time.Duration) (*SocketClient, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return &SocketClient{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Call sends req and blocks for the matching response frame. The
// framed transport is strictly request/response per connection, so no
// message-id matching is needed beyond what the caller does with the
// returned envelope.
func (c *SocketClient) Call(req *envelope.Envelope) (*envelope.Envelope, error) {
	if err := writeFrame(c.conn, req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	resp, err := readFrame(c.r)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// Close releases the underlying connection.
func (c *SocketClient) Close() error {
	return c.conn.Close()
}
