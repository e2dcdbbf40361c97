package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"devit/internal/approval"
	"devit/internal/direrr"
	"devit/internal/notify"
	"devit/internal/policy"
	"devit/internal/task"
	"devit/internal/watch"
	"devit/internal/worker"
)

type delegateParams struct {
	Goal          string         `json:"goal"`
	DelegatedTo   string         `json:"delegated_to"`
	Timeout       *int           `json:"timeout,omitempty"`
	WatchPatterns []string       `json:"watch_patterns,omitempty"`
	Model         string         `json:"model,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	WorkingDir    string         `json:"working_dir,omitempty"`
	Format        string         `json:"format,omitempty"`
}

type delegateResult struct {
	TaskID string `json:"task_id"`
}

func (d *Daemon) handleDelegate(ctx context.Context, sessionID string, params json.RawMessage) (any, error) {
	var p delegateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, direrr.Wrap(direrr.Validation, direrr.CodeInvalidDiff, "malformed delegate params", err)
	}

	def, ok := d.cfg.Workers[p.DelegatedTo]
	if !ok {
		return nil, direrr.New(direrr.Validation, direrr.CodeWorkerUnknown, fmt.Sprintf("unknown worker %q", p.DelegatedTo))
	}
	drv, ok := d.drivers[p.DelegatedTo]
	if !ok {
		return nil, direrr.New(direrr.Validation, direrr.CodeWorkerUnknown, fmt.Sprintf("no driver wired for worker %q", p.DelegatedTo))
	}

	if p.WorkingDir != "" {
		if _, err := d.sandbox.Resolve(p.WorkingDir, true); err != nil {
			return nil, direrr.Wrap(direrr.Security, direrr.CodeEscapeRoot, "delegate working_dir escapes sandbox", err)
		}
	}

	model, err := task.SelectModel(p.Model, def.AllowedModels, def.DefaultModel)
	if err != nil {
		return nil, err
	}

	level := d.sessionLevel(sessionID)
	outcome := policy.Decide(policy.Descriptor{Kind: policy.KindExecProcess, TargetPaths: []string{p.WorkingDir}}, level)
	if !outcome.Allow && !outcome.NeedApproval {
		return nil, direrr.New(direrr.Security, direrr.CodePolicyDenied, outcome.Reason)
	}

	taskID := uuid.NewString()
	leaseTimeout := def.Timeout
	if p.Timeout != nil && *p.Timeout > 0 {
		leaseTimeout = time.Duration(*p.Timeout) * time.Second
	}
	if leaseTimeout <= 0 {
		leaseTimeout = 5 * time.Minute
	}

	t := &task.Task{
		ID:             taskID,
		SessionID:      sessionID,
		WorkerID:       p.DelegatedTo,
		Prompt:         p.Goal,
		RequestedModel: p.Model,
		ResolvedModel:  model,
		WatchPatterns:  p.WatchPatterns,
		CreatedAt:      time.Now(),
		LeaseExpiresAt: time.Now().Add(leaseTimeout),
	}
	if err := d.tasks.Create(t); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}
	d.journalEvent(sessionID, "task_created", t)

	if outcome.NeedApproval {
		approverTarget := d.cfg.ApproverFor("delegate")
		if err := d.tasks.SetApproval(taskID, ""); err != nil {
			return nil, err
		}
		decision, approvalID, err := d.broker.Request(ctx, "delegate:"+p.DelegatedTo, []string{p.WorkingDir}, approverTarget)
		if err != nil {
			_ = d.tasks.Complete(taskID, task.StateFailed, "", err.Error())
			return nil, err
		}
		if decision.Verdict != approval.Approved {
			_ = d.tasks.Complete(taskID, task.StateFailed, "", "denied: "+decision.Reason)
			d.journalEvent(sessionID, "task_approval_denied", map[string]string{"task_id": taskID, "approval_id": approvalID})
			return nil, direrr.New(direrr.Security, direrr.CodeApprovalDenied, decision.Reason)
		}
	}

	if err := d.tasks.Transition(taskID, task.StateRunning); err != nil {
		return nil, err
	}
	go d.runDelegatedTask(taskID, drv, t.Prompt, t.ResolvedModel, t.WatchPatterns, sessionID)

	return delegateResult{TaskID: taskID}, nil
}

func (d *Daemon) runDelegatedTask(taskID string, drv worker.Driver, prompt, model string, watchPatterns []string, sessionID string) {
	ctx := context.Background()

	if len(watchPatterns) > 0 {
		_ = d.watcher.Add(taskID, &watch.Match{
			Patterns: watchPatterns,
			Root:     d.sandbox.Root(),
			OnFire: func(path string) {
				_ = d.hook.Fire(ctx, notify.Event{
					TaskID:  taskID,
					Status:  notify.StatusProgress,
					Summary: fmt.Sprintf("watched file changed: %s", path),
				})
			},
		})
		defer d.watcher.Remove(taskID)
	}

	result, err := drv.Run(ctx, prompt, model)

	if err != nil {
		_ = d.tasks.Complete(taskID, task.StateFailed, "", err.Error())
		d.journalEvent(sessionID, "task_failed", map[string]string{"task_id": taskID, "error": err.Error()})
		_ = d.hook.Fire(ctx, notify.Event{TaskID: taskID, Status: notify.StatusFailed, Summary: err.Error()})
		return
	}

	_ = d.tasks.Complete(taskID, task.StateSucceeded, result.Output, "")
	d.journalEvent(sessionID, "task_completed", map[string]any{"task_id": taskID, "duration_ms": result.DurationMS})
	_ = d.hook.Fire(ctx, notify.Event{TaskID: taskID, Status: notify.StatusCompleted, Summary: "task completed"})
}

type notifyParams struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Summary  string `json:"summary"`
	Details  any    `json:"details,omitempty"`
	Evidence any    `json:"evidence,omitempty"`
}

func (d *Daemon) handleNotify(ctx context.Context, sessionID string, params json.RawMessage) (any, error) {
	var p notifyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, direrr.Wrap(direrr.Validation, direrr.CodeInvalidDiff, "malformed notify params", err)
	}
	if p.Status == "ack" {
		return map[string]bool{"ok": true}, nil
	}

	d.journalEvent(sessionID, "task_notification", p)
	if err := d.hook.Fire(ctx, notify.Event{
		TaskID:   p.TaskID,
		Status:   notify.Status(p.Status),
		Summary:  p.Summary,
		Details:  p.Details,
		Evidence: p.Evidence,
	}); err != nil {
		d.log.Warn("notification hook failed", zap.Error(err))
	}
	return map[string]bool{"ok": true}, nil
}

type statusParams struct {
	Filter string `json:"filter"`
}

func (d *Daemon) handleStatus(ctx context.Context, sessionID string, params json.RawMessage) (any, error) {
	var p statusParams
	_ = json.Unmarshal(params, &p)
	all := p.Filter == "" || p.Filter == "all"
	active, completed := []task.Task{}, []task.Task{}
	for _, t := range d.tasks.BySession(sessionID) {
		isActive := t.State == task.StatePending || t.State == task.StateNeedApproval || t.State == task.StateRunning
		switch {
		case isActive && (all || p.Filter == "active"):
			active = append(active, t)
		case !isActive && (all || p.Filter == "completed" || (p.Filter == "failed" && t.State == task.StateFailed)):
			completed = append(completed, t)
		}
	}
	return map[string]any{
		"active_tasks":    active,
		"completed_tasks": completed,
		"summary_counts":  map[string]int{"total": len(active) + len(completed)},
	}, nil
}

type taskParams struct {
	TaskID string `json:"task_id"`
}

func (d *Daemon) handleTask(ctx context.Context, sessionID string, params json.RawMessage) (any, error) {
	var p taskParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, direrr.Wrap(direrr.Validation, direrr.CodeInvalidDiff, "malformed task params", err)
	}
	t, ok := d.tasks.Get(p.TaskID)
	if !ok {
		return nil, direrr.New(direrr.State, direrr.CodeNotFound, "unknown task id")
	}
	return t, nil
}

type patchApplyParams struct {
	Diff   string `json:"diff"`
	DryRun bool   `json:"dry_run,omitempty"`
}

func (d *Daemon) handlePatchApply(ctx context.Context, sessionID string, params json.RawMessage) (any, error) {
	var p patchApplyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, direrr.Wrap(direrr.Validation, direrr.CodeInvalidDiff, "malformed patch_apply params", err)
	}

	level := d.sessionLevel(sessionID)
	outcome := policy.Decide(policy.Descriptor{Kind: policy.KindWrite, PayloadSize: len(p.Diff)}, level)
	if !outcome.Allow {
		if !outcome.NeedApproval {
			return nil, direrr.New(direrr.Security, direrr.CodePolicyDenied, outcome.Reason)
		}
		approverTarget := d.cfg.ApproverFor("patch_apply")
		decision, approvalID, err := d.broker.Request(ctx, "patch_apply", []string{}, approverTarget)
		if err != nil {
			return nil, err
		}
		if decision.Verdict != approval.Approved {
			d.journalEvent(sessionID, "patch_approval_denied", map[string]string{"approval_id": approvalID})
			return nil, direrr.New(direrr.Security, direrr.CodeApprovalDenied, decision.Reason)
		}
	}

	summary, rollback, err := d.patch.Apply(p.Diff, p.DryRun)
	if err != nil {
		return nil, err
	}
	if !p.DryRun {
		d.journalEvent(sessionID, "patch_applied", map[string]any{"summary": summary, "rollback": rollback})
	}
	return summary, nil
}

func (d *Daemon) handleCapabilitiesGet(ctx context.Context, sessionID string, params json.RawMessage) (any, error) {
	ids := make([]string, 0, len(d.cfg.Workers))
	for id := range d.cfg.Workers {
		ids = append(ids, id)
	}
	return map[string]any{
		"sandbox_root":       d.sandbox.Root(),
		"screenshot_enabled": d.cfg.ScreenshotEnabled,
		"workers":            ids,
	}, nil
}

func (d *Daemon) handlePollTasks(ctx context.Context, sessionID string, params json.RawMessage) (any, error) {
	tasks := d.tasks.BySession(sessionID)
	if len(tasks) == 0 {
		return map[string]string{"status": "idle"}, nil
	}
	return map[string]any{"status": "assigned", "task": tasks[0]}, nil
}

type screenshotParams struct {
	URL      string `json:"url,omitempty"`
	FullPage bool   `json:"full_page,omitempty"`
}

func (d *Daemon) handleScreenshot(ctx context.Context, sessionID string, params json.RawMessage) (any, error) {
	var p screenshotParams
	_ = json.Unmarshal(params, &p)

	level := d.sessionLevel(sessionID)
	outcome := policy.Decide(policy.Descriptor{Kind: policy.KindRead}, level)
	if !outcome.Allow {
		if !outcome.NeedApproval {
			return nil, direrr.New(direrr.Security, direrr.CodePolicyDenied, outcome.Reason)
		}
		approverTarget := d.cfg.ApproverFor("screenshot")
		decision, approvalID, err := d.broker.Request(ctx, "screenshot", []string{p.URL}, approverTarget)
		if err != nil {
			return nil, err
		}
		if decision.Verdict != approval.Approved {
			d.journalEvent(sessionID, "screenshot_approval_denied", map[string]string{"approval_id": approvalID})
			return nil, direrr.New(direrr.Security, direrr.CodeApprovalDenied, decision.Reason)
		}
	}

	path, err := d.shots.Capture(ctx, p.URL, p.FullPage)
	if err != nil {
		return nil, err
	}
	return map[string]string{"path": path}, nil
}

func (d *Daemon) sessionLevel(sessionID string) policy.Level {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[sessionID]; ok {
		return s.DefaultLevel
	}
	return policy.Untrusted
}
