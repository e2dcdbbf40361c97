package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"devit/internal/envelope"
)

const sseHeartbeatInterval = 15 * time.Second

// HTTPServer exposes the daemon's envelope dispatch over HTTP:
// "/message" for one-shot request/response, "/sse" for a
// server-pushed event stream per session.
type HTTPServer struct {
	log        *zap.Logger
	dispatcher *Dispatcher
	srv        *http.Server

	mu       sync.Mutex
	sessions map[string]chan *envelope.Envelope
}

// NewHTTPServer builds an HTTPServer; call Handler to obtain the
// http.Handler to serve.
func NewHTTPServer(log *zap.Logger, dispatcher *Dispatcher) *HTTPServer {
	return &HTTPServer{log: log, dispatcher: dispatcher, sessions: make(map[string]chan *envelope.Envelope)}
}

// ListenAndServe binds addr and blocks serving this server's Handler
// until Close is called, at which point it returns nil.
func (s *HTTPServer) ListenAndServe(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.Handler()}
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close gracefully shuts the HTTP server down, if it was started.
func (s *HTTPServer) Close() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// Handler returns the composed mux for this server's endpoints.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/message", s.handleMessage)
	mux.HandleFunc("/sse", s.handleSSE)
	return mux
}

func (s *HTTPServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	var env envelope.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	sessionID := r.Header.Get("X-Devit-Session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	resp := s.dispatcher.Dispatch(r.Context(), sessionID, &env)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Push delivers env to sessionID's SSE stream, if connected.
func (s *HTTPServer) Push(sessionID string, env *envelope.Envelope) bool {
	s.mu.Lock()
	ch, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- env:
		return true
	default:
		return false
	}
}

func (s *HTTPServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Content-Encoding", "identity")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := make(chan *envelope.Envelope, 16)
	s.mu.Lock()
	s.sessions[sessionID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
	}()

	fmt.Fprintf(w, "event: ready\ndata: {\"session\":%q}\n\n", sessionID)
	flusher.Flush()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case env := <-ch:
			data, err := json.Marshal(env)
			if err != nil {
				s.log.Warn("failed to marshal SSE envelope", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
