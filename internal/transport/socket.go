package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"devit/internal/envelope"
)

// maxFrameBytes bounds a single envelope frame to guard against a
// misbehaving client exhausting memory with a bogus length prefix.
const maxFrameBytes = 16 * 1024 * 1024

// SocketServer accepts connections on a Unix domain socket (or a
// platform-equivalent named pipe address understood by net.Listen)
// and frames each envelope with a 4-byte big-endian length prefix.
type SocketServer struct {
	log        *zap.Logger
	dispatcher *Dispatcher
	listener   net.Listener

	wg sync.WaitGroup
}

// NewSocketServer binds path, removing a stale socket file left by a
// prior unclean shutdown.
func NewSocketServer(log *zap.Logger, dispatcher *Dispatcher, path string) (*SocketServer, error) {
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return &SocketServer{log: log, dispatcher: dispatcher, listener: l}, nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed.
func (s *SocketServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *SocketServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	sessionID := uuid.NewString()
	r := bufio.NewReader(conn)

	for {
		env, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				s.log.Debug("socket session closed with error", zap.String("session", sessionID), zap.Error(err))
			}
			return
		}

		resp := s.dispatcher.Dispatch(ctx, sessionID, env)
		if err := writeFrame(conn, resp); err != nil {
			s.log.Warn("failed to write response frame", zap.Error(err))
			return
		}
	}
}

func readFrame(r *bufio.Reader) (*envelope.Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("frame of %d bytes exceeds maximum %d", n, maxFrameBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	var env envelope.Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, fmt.Errorf("decode envelope frame: %w", err)
	}
	return &env, nil
}

func writeFrame(w io.Writer, env *envelope.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Close stops accepting new connections.
func (s *SocketServer) Close() error {
	return s.listener.Close()
}
