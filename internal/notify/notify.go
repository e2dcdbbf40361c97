// Package notify invokes the operator's configured notification hook
// on every task status change and waits for it to acknowledge over
// whichever of two channels answers first: a per-notification
// Unix-domain-socket byte-stream (preferred) or a filesystem marker
// file (fallback).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"devit/internal/direrr"
)

// Status is a task lifecycle status carried to the hook.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusProgress    Status = "progress"
)

// Event is one task state-change notification.
type Event struct {
	TaskID   string
	Status   Status
	Worker   string
	ReturnTo string
	Summary  string
	Details  any
	Evidence any
	Payload  any
	Workdir  string
}

// Hook invokes the configured external command and awaits
// acknowledgement.
type Hook struct {
	log       *zap.Logger
	command   string
	ackDir    string
	ackTimeout time.Duration
}

// New builds a Hook. command is the shell command string from
// configuration; an empty command makes every notification a no-op
// success (no hook configured).
func New(log *zap.Logger, command, ackDir string, ackTimeout time.Duration) *Hook {
	return &Hook{log: log, command: command, ackDir: ackDir, ackTimeout: ackTimeout}
}

// Fire invokes the hook for ev and blocks until acknowledgement or
// ackTimeout elapses. A notify call with Status "ack" never reaches
// Fire: the daemon's notify handler answers it directly.
func (h *Hook) Fire(ctx context.Context, ev Event) error {
	if h.command == "" {
		return nil
	}
	if err := os.MkdirAll(h.ackDir, 0o755); err != nil {
		return direrr.Wrap(direrr.System, direrr.CodeInternal, "create ack directory", err)
	}

	notificationID := uuid.NewString()
	markerPath := filepath.Join(h.ackDir, notificationID+".ack")
	socketPath := filepath.Join(h.ackDir, notificationID+".sock")

	listener, sockErr := net.Listen("unix", socketPath)
	if sockErr == nil {
		defer listener.Close()
		defer os.Remove(socketPath)
	} else {
		h.log.Warn("ack socket unavailable, falling back to marker file only", zap.Error(sockErr))
	}

	detailsJSON, _ := json.Marshal(ev.Details)
	evidenceJSON, _ := json.Marshal(ev.Evidence)
	payloadJSON, _ := json.Marshal(ev.Payload)

	env := append(os.Environ(),
		"task_id="+ev.TaskID,
		"status="+string(ev.Status),
		"worker="+ev.Worker,
		"return_to="+ev.ReturnTo,
		"summary="+ev.Summary,
		"timestamp="+time.Now().UTC().Format(time.RFC3339),
		"workdir="+ev.Workdir,
		"details="+string(detailsJSON),
		"evidence="+string(evidenceJSON),
		"payload="+string(payloadJSON),
		"ack_marker="+markerPath,
	)
	if sockErr == nil {
		env = append(env, "ack_pipe_or_socket="+socketPath)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", h.command)
	cmd.Env = env
	if err := cmd.Start(); err != nil {
		return direrr.Wrap(direrr.Operation, direrr.CodeInternal, "start notification hook", err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			h.log.Debug("notification hook exited", zap.Error(err))
		}
	}()

	return h.awaitAck(ctx, listener, markerPath)
}

func (h *Hook) awaitAck(ctx context.Context, listener net.Listener, markerPath string) error {
	ackCtx, cancel := context.WithTimeout(ctx, h.ackTimeout)
	defer cancel()

	ackCh := make(chan struct{}, 1)

	if listener != nil {
		go func() {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			buf := make([]byte, 1)
			if _, err := conn.Read(buf); err == nil {
				select {
				case ackCh <- struct{}{}:
				default:
				}
			}
		}()
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ackCh:
			return nil
		case <-ticker.C:
			if _, err := os.Stat(markerPath); err == nil {
				os.Remove(markerPath)
				return nil
			}
		case <-ackCtx.Done():
			return direrr.New(direrr.Resource, direrr.CodeTimeout, fmt.Sprintf("notification hook did not acknowledge within %s", h.ackTimeout))
		}
	}
}
