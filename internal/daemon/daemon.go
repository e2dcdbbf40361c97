// Package daemon wires every subsystem package into the running
// devitd process: authentication, the journal, the policy engine, the
// sandbox, the patch engine, the approval broker, the task registry
// and its worker drivers, the transport dispatcher, and the
// notification hook. It owns session bookkeeping and per-method
// dispatch.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"devit/internal/approval"
	"devit/internal/config"
	"devit/internal/direrr"
	"devit/internal/envelope"
	"devit/internal/journal"
	"devit/internal/logging"
	"devit/internal/notify"
	"devit/internal/patch"
	"devit/internal/policy"
	"devit/internal/sandbox"
	"devit/internal/screenshot"
	"devit/internal/task"
	"devit/internal/taskstore"
	"devit/internal/transport"
	"devit/internal/watch"
	"devit/internal/worker"
)

// Session is the daemon's view of one connected client.
type Session struct {
	ID            string
	ClientVersion string
	Capabilities  []string
	DefaultLevel  policy.Level
	RegisteredAt  time.Time
	LastActivity  time.Time
}

// Daemon holds every wired subsystem and the session registry.
type Daemon struct {
	cfg     *config.Config
	log     *zap.Logger
	auth    *envelope.Authenticator
	journal *journal.Journal
	sandbox *sandbox.Sandbox
	patch   *patch.Engine
	broker  *approval.Broker
	tasks   *task.Registry
	store   *taskstore.Store
	hook    *notify.Hook
	shots   *screenshot.Capturer
	watcher *watch.Watcher
	drivers map[string]worker.Driver

	mu       sync.Mutex
	sessions map[string]*Session
}

// New constructs a Daemon from cfg. secret is the resolved shared
// secret; callers obtain it via cfg.SharedSecret().
func New(cfg *config.Config, secret []byte, log *zap.Logger) (*Daemon, error) {
	sb, err := sandbox.New(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("build sandbox: %w", err)
	}

	j, err := journal.Open(cfg.JournalDir, secret, cfg.JournalStrict, journal.SystemClock{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	auth := envelope.NewAuthenticator(secret, cfg.ReplayWindow, cfg.ReplayMargin, envelope.SystemClock{}, envelope.CryptoRand{})

	store, err := taskstore.Open(filepath.Join(cfg.JournalDir, "tasks.db"))
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	tasks := task.NewRegistry()
	tasks.SetPersister(store)
	if seed, err := store.LoadAll(); err != nil {
		log.Warn("task store recovery failed, starting with an empty registry", zap.Error(err))
	} else if len(seed) > 0 {
		tasks.Seed(seed)
		log.Info("recovered tasks from disk", zap.Int("count", len(seed)))
	}

	d := &Daemon{
		cfg:      cfg,
		log:      log,
		auth:     auth,
		journal:  j,
		sandbox:  sb,
		patch:    patch.NewEngine(patch.OSFS{}, sb),
		tasks:    tasks,
		store:    store,
		shots:    screenshot.New(cfg.ScreenshotDir, cfg.ScreenshotEnabled),
		drivers:  make(map[string]worker.Driver),
		sessions: make(map[string]*Session),
	}
	d.hook = notify.New(logging.Named(log, logging.Notify), cfg.NotificationHook, cfg.JournalDir+"/.acks", cfg.NotificationAckTimeout)
	d.broker = approval.New(d, cfg.ApprovalTimeout)

	watcher, err := watch.New(logging.Named(log, logging.Watch))
	if err != nil {
		return nil, fmt.Errorf("build watcher: %w", err)
	}
	d.watcher = watcher
	go d.watcher.Run()

	for id, def := range cfg.Workers {
		drv, err := worker.NewDriver(def)
		if err != nil {
			return nil, fmt.Errorf("worker %s: %w", id, err)
		}
		d.drivers[id] = drv
	}

	return d, nil
}

// NotifyApprovalRequested implements approval.Notifier by delivering
// the request through the notification hook.
func (d *Daemon) NotifyApprovalRequested(req approval.Request) error {
	return d.hook.Fire(context.Background(), notify.Event{
		TaskID:  req.ID,
		Status:  notify.StatusPending,
		Summary: fmt.Sprintf("approval requested: %s on %v", req.OperationClass, req.TargetPaths),
	})
}

// Authenticator exposes the envelope authenticator so the transport
// layer can be constructed after the daemon without duplicating its
// secret and clock/rand wiring.
func (d *Daemon) Authenticator() *envelope.Authenticator {
	return d.auth
}

// IdleTasks reports whether no task is currently pending, awaiting
// approval, or running, for use by an idle-shutdown timer.
func (d *Daemon) IdleTasks() bool {
	return d.broker.Pending() == 0 && d.tasks.CountActive() == 0
}

// RegisterDispatcher binds every devit method onto dispatcher.
func (d *Daemon) RegisterDispatcher(dispatcher *transport.Dispatcher) {
	dispatcher.Register("register", d.handleRegister)
	dispatcher.Register("delegate", d.handleDelegate)
	dispatcher.Register("notify", d.handleNotify)
	dispatcher.Register("status", d.handleStatus)
	dispatcher.Register("task", d.handleTask)
	dispatcher.Register("patch_apply", d.handlePatchApply)
	dispatcher.Register("capabilities_get", d.handleCapabilitiesGet)
	dispatcher.Register("poll_tasks", d.handlePollTasks)
	dispatcher.Register("screenshot", d.handleScreenshot)
}

type registerParams struct {
	Capabilities []string `json:"capabilities"`
	PID          int      `json:"pid"`
	Version      string   `json:"version"`
}

type registerResult struct {
	DaemonVersion       string `json:"daemon_version"`
	ExpectedPeerVersion string `json:"expected_worker_version,omitempty"`
}

func (d *Daemon) handleRegister(ctx context.Context, sessionID string, params json.RawMessage) (any, error) {
	var p registerParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, direrr.Wrap(direrr.Validation, direrr.CodeInvalidDiff, "malformed register params", err)
	}
	if d.cfg.ExpectedPeerVersion != "" && p.Version != "" && p.Version != d.cfg.ExpectedPeerVersion {
		return nil, direrr.New(direrr.Version, direrr.CodeVersionMismatch,
			fmt.Sprintf("peer version %q does not match expected %q", p.Version, d.cfg.ExpectedPeerVersion))
	}

	d.mu.Lock()
	d.sessions[sessionID] = &Session{
		ID:           sessionID,
		ClientVersion: p.Version,
		Capabilities:  p.Capabilities,
		DefaultLevel:  policy.Ask,
		RegisteredAt:  time.Now(),
		LastActivity:  time.Now(),
	}
	d.mu.Unlock()

	d.journalEvent(sessionID, "session_registered", p)
	return registerResult{DaemonVersion: "1.0.0", ExpectedPeerVersion: d.cfg.ExpectedPeerVersion}, nil
}

func (d *Daemon) journalEvent(actor, kind string, payload any) {
	if _, err := d.journal.Append(actor, kind, payload); err != nil {
		d.log.Error("journal append failed", zap.String("kind", kind), zap.Error(err))
	}
}

// Close releases every subsystem's resources.
func (d *Daemon) Close() error {
	if d.shots != nil {
		_ = d.shots.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	return d.journal.Close()
}
