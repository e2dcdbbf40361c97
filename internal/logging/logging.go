// Package logging wires up structured logging for the daemon and CLI
// on top of zap, with one named sub-logger per subsystem.
package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Subsystem names used as zap logger names throughout devit.
const (
	Boot       = "boot"
	Transport  = "transport"
	Session    = "session"
	Journal    = "journal"
	Policy     = "policy"
	Sandbox    = "sandbox"
	Patch      = "patch"
	Task       = "task"
	Worker     = "worker"
	Approval   = "approval"
	Notify     = "notify"
	Screenshot = "screenshot"
	Watch      = "watch"
)

// New builds the root logger. verbose selects development mode
// (console encoding, debug level); otherwise a production JSON config
// is used.
func New(verbose bool) (*zap.Logger, error) {
	if verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	return cfg.Build()
}

// Named returns a sub-logger tagged with subsystem, following the
// teacher's one-category-per-component convention.
func Named(base *zap.Logger, subsystem string) *zap.Logger {
	return base.Named(subsystem)
}

// Timer measures and logs the duration of an operation on Stop.
type Timer struct {
	log   *zap.Logger
	label string
	start time.Time
}

// StartTimer begins timing label, logged at Debug on the parent logger.
func StartTimer(log *zap.Logger, label string) *Timer {
	return &Timer{log: log, label: label, start: time.Now()}
}

// Stop logs the elapsed duration at Debug level.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	t.log.Debug("timer", zap.String("label", t.label), zap.Duration("elapsed", d))
	return d
}

// StopWithThreshold logs at Warn instead of Debug if elapsed exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	d := time.Since(t.start)
	if d > threshold {
		t.log.Warn("slow operation", zap.String("label", t.label), zap.Duration("elapsed", d), zap.Duration("threshold", threshold))
	} else {
		t.log.Debug("timer", zap.String("label", t.label), zap.Duration("elapsed", d))
	}
	return d
}
