// Package direrr defines the failure taxonomy shared by every DevIt
// subsystem and its mapping onto stable wire error codes.
package direrr

import "fmt"

// Class is the broad failure category a subsystem assigns to an error.
type Class string

const (
	Validation Class = "validation"
	Security   Class = "security"
	State      Class = "state"
	Version    Class = "version"
	Operation  Class = "operation"
	Resource   Class = "resource"
	System     Class = "system"
)

// Code is a stable wire error code, part of the external contract.
type Code string

const (
	CodeVersionMismatch  Code = "version_mismatch"
	CodePolicyDenied     Code = "policy_denied"
	CodeApprovalDenied   Code = "approval_denied"
	CodeEscapeRoot       Code = "escape_root"
	CodeInvalidDiff      Code = "invalid_diff"
	CodeContextMismatch  Code = "context_mismatch"
	CodeRateLimited      Code = "rate_limited"
	CodeWorkerUnknown    Code = "worker_unknown"
	CodeModelNotAllowed  Code = "model_not_allowed"
	CodeTimeout          Code = "timeout"
	CodeCancelled        Code = "cancelled"
	CodeReplay           Code = "replay"
	CodeAuthFailed       Code = "auth_failed"
	CodeNotFound         Code = "not_found"
	CodeBusy             Code = "busy"
	CodeOversize         Code = "oversize"
	CodeInternal         Code = "internal"
)

// Error is the typed error every subsystem returns. The transport layer
// maps it onto {code, message, hint} on the wire; it never discloses
// secret state for Security-class errors.
type Error struct {
	Class   Class
	Code    Code
	Message string
	Hint    string
	// CorrelationToken matches a journal record for operator lookup,
	// set for System-class errors.
	CorrelationToken string
	cause            error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(class Class, code Code, message string) *Error {
	return &Error{Class: class, Code: code, Message: message}
}

func Wrap(class Class, code Code, message string, cause error) *Error {
	return &Error{Class: class, Code: code, Message: message, cause: cause}
}

func (e *Error) WithHint(hint string) *Error {
	c := *e
	c.Hint = hint
	return &c
}

func (e *Error) WithToken(token string) *Error {
	c := *e
	c.CorrelationToken = token
	return &c
}

// Retryable reports whether local recovery may retry the operation.
// Validation and security failures are never retried; state failures
// may be retried after re-reading state; version failures terminate
// the connection.
func (e *Error) Retryable() bool {
	switch e.Class {
	case State:
		return true
	default:
		return false
	}
}
