// Package task implements the delegated-work registry: the state
// machine a unit of delegated work moves through from creation to
// terminal state, lease expiry, and the model-selection precedence
// rules applied when a worker call is dispatched.
package task

import (
	"fmt"
	"sync"
	"time"

	"devit/internal/direrr"
)

// State is a point in the task lifecycle.
type State string

const (
	StatePending      State = "pending"
	StateNeedApproval State = "need_approval"
	StateRunning      State = "running"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
	StateTimedOut     State = "timed_out"
)

// terminal reports whether no further transition is possible.
func (s State) terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled, StateTimedOut:
		return true
	default:
		return false
	}
}

// allowed enumerates the legal next states from s.
var allowed = map[State][]State{
	StatePending:      {StateNeedApproval, StateRunning, StateCancelled},
	StateNeedApproval: {StateRunning, StateCancelled, StateFailed},
	StateRunning:      {StateSucceeded, StateFailed, StateCancelled, StateTimedOut},
}

func canTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Task is one unit of delegated work.
type Task struct {
	ID             string
	SessionID      string
	WorkerID       string
	Prompt         string
	RequestedModel string
	ResolvedModel  string
	WatchPatterns  []string
	State          State
	ApprovalID     string
	CreatedAt      time.Time
	LeaseExpiresAt time.Time
	Result         string
	Err            string
}

// SelectModel applies the precedence order: an explicit per-request
// model is used if allowedModels is empty or contains it, and is
// rejected with model_not_allowed otherwise; with no request, the
// worker's configured default, then the first allowed model, is used.
func SelectModel(requested string, allowedModels []string, defaultModel string) (string, error) {
	inList := func(m string) bool {
		for _, a := range allowedModels {
			if a == m {
				return true
			}
		}
		return false
	}
	if requested != "" {
		if len(allowedModels) == 0 || inList(requested) {
			return requested, nil
		}
		return "", direrr.New(direrr.Validation, direrr.CodeModelNotAllowed,
			fmt.Sprintf("model %q is not in the worker's allowed list", requested))
	}
	if defaultModel != "" {
		return defaultModel, nil
	}
	if len(allowedModels) > 0 {
		return allowedModels[0], nil
	}
	return "", nil
}

// Persister receives a copy of a task every time its state changes, so
// a durable store can be kept in sync without the registry knowing
// anything about SQL or files.
type Persister interface {
	Save(Task) error
}

// Registry tracks all tasks known to this daemon instance.
type Registry struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	persister Persister
}

// NewRegistry builds an empty Registry with no persistence.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// SetPersister attaches a Persister invoked after every state change.
// Save errors are returned to the caller of Create, Transition,
// Complete and SetApproval; ExpireLeases ignores them.
func (r *Registry) SetPersister(p Persister) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persister = p
}

// Seed loads previously-persisted tasks into the registry, for use at
// daemon startup before any new delegate calls arrive.
func (r *Registry) Seed(tasks []Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range tasks {
		t := tasks[i]
		r.tasks[t.ID] = &t
	}
}

func (r *Registry) persist(t Task) error {
	if r.persister == nil {
		return nil
	}
	return r.persister.Save(t)
}

// Create registers t in StatePending and returns it.
func (r *Registry) Create(t *Task) error {
	t.State = StatePending
	r.mu.Lock()
	r.tasks[t.ID] = t
	snapshot := *t
	r.mu.Unlock()
	return r.persist(snapshot)
}

// Get returns a copy of the task for id, or false if unknown.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Transition moves the task identified by id to next, rejecting
// illegal transitions and transitions out of a terminal state.
func (r *Registry) Transition(id string, next State) error {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return direrr.New(direrr.State, direrr.CodeNotFound, "unknown task id")
	}
	if t.State.terminal() {
		r.mu.Unlock()
		return direrr.New(direrr.State, direrr.CodeInternal,
			fmt.Sprintf("task %s is already terminal (%s)", id, t.State))
	}
	if !canTransition(t.State, next) {
		r.mu.Unlock()
		return direrr.New(direrr.State, direrr.CodeInternal,
			fmt.Sprintf("illegal transition %s -> %s", t.State, next))
	}
	t.State = next
	snapshot := *t
	r.mu.Unlock()
	return r.persist(snapshot)
}

// Complete sets a terminal state along with its result or error text.
func (r *Registry) Complete(id string, next State, result, errText string) error {
	if err := r.Transition(id, next); err != nil {
		return err
	}
	r.mu.Lock()
	t := r.tasks[id]
	t.Result = result
	t.Err = errText
	snapshot := *t
	r.mu.Unlock()
	return r.persist(snapshot)
}

// SetApproval records the id of a pending approval and moves the task
// into StateNeedApproval.
func (r *Registry) SetApproval(id, approvalID string) error {
	if err := r.Transition(id, StateNeedApproval); err != nil {
		return err
	}
	r.mu.Lock()
	r.tasks[id].ApprovalID = approvalID
	snapshot := *r.tasks[id]
	r.mu.Unlock()
	return r.persist(snapshot)
}

// ExpireLeases transitions every running task whose lease has passed
// now into StateTimedOut, returning the ids affected.
func (r *Registry) ExpireLeases(now time.Time) []string {
	r.mu.Lock()
	var expired []Task
	for id, t := range r.tasks {
		if t.State == StateRunning && !t.LeaseExpiresAt.IsZero() && now.After(t.LeaseExpiresAt) {
			t.State = StateTimedOut
			t.Err = "lease expired"
			expired = append(expired, *t)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, t := range expired {
		ids = append(ids, t.ID)
		if err := r.persist(t); err != nil {
			continue
		}
	}
	return ids
}

// BySession lists every task belonging to sessionID, for poll_tasks.
func (r *Registry) BySession(sessionID string) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Task
	for _, t := range r.tasks {
		if t.SessionID == sessionID {
			out = append(out, *t)
		}
	}
	return out
}

// CountActive returns the number of tasks not yet in a terminal state.
func (r *Registry) CountActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tasks {
		if !t.State.terminal() {
			n++
		}
	}
	return n
}
