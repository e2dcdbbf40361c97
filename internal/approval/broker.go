// Package approval implements the broker that turns a policy engine's
// NeedApproval verdict into an out-of-band request and resumes or
// aborts the original operation based on the verdict it receives.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"devit/internal/direrr"
)

// Verdict is the human/approver decision on a pending approval.
type Verdict string

const (
	Approved Verdict = "approved"
	Denied   Verdict = "denied"
)

// Decision is what the broker delivers to the suspended caller.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// Request describes one pending approval, enough for the notification
// sent to the approver target.
type Request struct {
	ID        string
	OperationClass string
	TargetPaths    []string
	RequestedAt    time.Time
	ApproverTarget string
}

// Notifier delivers a pending Request to its approver target. The
// transport layer implements this by routing to a session or worker.
type Notifier interface {
	NotifyApprovalRequested(req Request) error
}

// Broker stores pending operations keyed by approval id and awaits
// their verdicts via single-shot channels: the originating handler
// suspends on a channel keyed by approval id, and the verdict handler
// delivers into that same channel to resume it.
type Broker struct {
	mu       sync.Mutex
	pending  map[string]chan Decision
	notifier Notifier
	timeout  time.Duration
}

// New builds a Broker. timeout is the default per-operation approval
// timeout; missing verdicts convert to denial.
func New(notifier Notifier, timeout time.Duration) *Broker {
	return &Broker{
		pending:  make(map[string]chan Decision),
		notifier: notifier,
		timeout:  timeout,
	}
}

// Request registers a pending approval, notifies the approver target,
// and blocks until a verdict arrives, ctx is cancelled, or the
// operation's timeout elapses (converting to denial).
func (b *Broker) Request(ctx context.Context, class string, targetPaths []string, approverTarget string) (Decision, string, error) {
	id := uuid.NewString()
	ch := make(chan Decision, 1)

	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	req := Request{
		ID:             id,
		OperationClass: class,
		TargetPaths:    targetPaths,
		RequestedAt:    time.Now(),
		ApproverTarget: approverTarget,
	}
	if err := b.notifier.NotifyApprovalRequested(req); err != nil {
		b.cleanup(id)
		return Decision{}, id, err
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case decision := <-ch:
		return decision, id, nil
	case <-timer.C:
		b.cleanup(id)
		return Decision{Verdict: Denied, Reason: "approval timed out"}, id, nil
	case <-ctx.Done():
		b.cleanup(id)
		return Decision{}, id, direrr.New(direrr.Resource, direrr.CodeTimeout, "approval request cancelled")
	}
}

// Resolve delivers a verdict to the suspended caller identified by id.
// It is the verdict handler half of the message-passing pattern.
func (b *Broker) Resolve(id string, verdict Verdict, reason string) error {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		return direrr.New(direrr.State, direrr.CodeNotFound, "unknown or already-resolved approval id")
	}
	ch <- Decision{Verdict: verdict, Reason: reason}
	return nil
}

func (b *Broker) cleanup(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// Pending reports the number of outstanding approvals, for metrics/tests.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
