// Package transport implements the daemon's two local endpoint kinds:
// a framed stream socket (Unix domain socket or Windows named pipe)
// and an optional HTTP transport exposing "/message" for
// request/response and "/sse" for server-pushed events. Both carry
// the same authenticated envelope and dispatch through a shared
// Dispatcher.
package transport

import (
	"context"
	"encoding/json"
	"sync"

	"devit/internal/direrr"
	"devit/internal/envelope"
)

// ErrorBody is the wire shape of a failed response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Response is the uniform envelope payload every method returns.
type Response struct {
	OK                bool            `json:"ok"`
	Error             *ErrorBody      `json:"error,omitempty"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
}

// RequestPayload is the REQ envelope's inner payload shape: a method
// name discriminating the params schema.
type RequestPayload struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Handler processes one method call for a session and returns the
// value to marshal into structuredContent, or an error.
type Handler func(ctx context.Context, sessionID string, params json.RawMessage) (any, error)

// Dispatcher authenticates inbound envelopes, routes REQ payloads by
// method name, and signs outbound RESP/ERR envelopes.
type Dispatcher struct {
	auth *envelope.Authenticator

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher builds a Dispatcher with no methods registered.
func NewDispatcher(auth *envelope.Authenticator) *Dispatcher {
	return &Dispatcher{auth: auth, handlers: make(map[string]Handler)}
}

// Register binds method to h, overwriting any prior binding.
func (d *Dispatcher) Register(method string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = h
}

// Dispatch verifies env, routes its payload by method name, and returns
// the signed RESP or ERR envelope to send back. The envelope's Type is
// not inspected; the socket and HTTP servers pass every inbound
// envelope here.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, env *envelope.Envelope) *envelope.Envelope {
	if err := d.auth.Verify(env); err != nil {
		return d.errorEnvelope(env.MessageID, err)
	}

	var req RequestPayload
	if err := env.Decode(&req); err != nil {
		return d.errorEnvelope(env.MessageID, err)
	}

	d.mu.RLock()
	h, ok := d.handlers[req.Method]
	d.mu.RUnlock()
	if !ok {
		return d.errorEnvelope(env.MessageID, direrr.New(direrr.Validation, direrr.CodeWorkerUnknown, "unknown method "+req.Method))
	}

	result, err := h(ctx, sessionID, req.Params)
	if err != nil {
		return d.errorEnvelope(env.MessageID, err)
	}

	content, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return d.errorEnvelope(env.MessageID, marshalErr)
	}
	resp := Response{OK: true, StructuredContent: content}
	out, issueErr := d.auth.Issue(envelope.TypeResp, env.MessageID, resp)
	if issueErr != nil {
		return d.errorEnvelope(env.MessageID, issueErr)
	}
	return out
}

func (d *Dispatcher) errorEnvelope(messageID string, err error) *envelope.Envelope {
	body := toErrorBody(err)
	resp := Response{OK: false, Error: &body}
	out, issueErr := d.auth.Issue(envelope.TypeErr, messageID, resp)
	if issueErr != nil {
		// Issuing the error envelope itself failed; there is nothing
		// further to report to the caller over this channel.
		return &envelope.Envelope{Type: envelope.TypeErr, MessageID: messageID}
	}
	return out
}

func toErrorBody(err error) ErrorBody {
	if de, ok := err.(*direrr.Error); ok {
		return ErrorBody{Code: string(de.Code), Message: de.Message, Hint: de.Hint}
	}
	return ErrorBody{Code: string(direrr.CodeInternal), Message: err.Error()}
}
