// Package worker implements the two delegation strategies a configured
// worker definition can use: a one-shot subprocess invocation
// ("subprocess-cli") and a long-lived child process speaking a
// JSON-RPC-style request/response protocol over stdio
// ("child-protocol").
package worker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"text/template"
	"time"

	"devit/internal/config"
	"devit/internal/direrr"
)

// Result is the outcome of one delegated invocation.
type Result struct {
	Output     string
	DurationMS int64
}

// Driver dispatches a single delegation request to a worker.
type Driver interface {
	Run(ctx context.Context, prompt, model string) (Result, error)
}

// NewDriver builds the Driver for def's configured kind.
func NewDriver(def config.WorkerDefinition) (Driver, error) {
	switch def.Kind {
	case config.WorkerSubprocessCLI:
		return &SubprocessDriver{def: def}, nil
	case config.WorkerChildProtocol:
		return NewChildProtocolDriver(def), nil
	default:
		return nil, direrr.New(direrr.Validation, direrr.CodeWorkerUnknown, fmt.Sprintf("unknown worker kind %q", def.Kind))
	}
}

// SubprocessDriver runs def.Executable once per call, substituting
// {{.Prompt}} and {{.Model}} into the configured argument template and
// capturing combined stdout/stderr, bounded by MaxResponseBytes.
type SubprocessDriver struct {
	def config.WorkerDefinition
}

type templateVars struct {
	Prompt string
	Model  string
}

func (d *SubprocessDriver) Run(ctx context.Context, prompt, model string) (Result, error) {
	args := make([]string, 0, len(d.def.ArgTemplate))
	for _, raw := range d.def.ArgTemplate {
		rendered, err := renderArg(raw, templateVars{Prompt: prompt, Model: model})
		if err != nil {
			return Result{}, direrr.Wrap(direrr.Operation, direrr.CodeInternal, "render worker argument template", err)
		}
		args = append(args, rendered)
	}

	timeout := d.def.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, d.def.Executable, args...)
	if d.def.WorkingDirectory != "" {
		cmd.Dir = d.def.WorkingDirectory
	}

	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return Result{}, direrr.New(direrr.Resource, direrr.CodeTimeout, fmt.Sprintf("worker %s timed out after %s", d.def.ID, timeout))
	}
	if err != nil {
		return Result{}, direrr.Wrap(direrr.Operation, direrr.CodeInternal, fmt.Sprintf("worker %s exited with error", d.def.ID), err)
	}

	text := string(output)
	if limit := d.def.MaxResponseBytes; limit > 0 && len(text) > limit {
		text = text[:limit]
	}
	return Result{Output: strings.TrimSpace(text), DurationMS: elapsed.Milliseconds()}, nil
}

func renderArg(raw string, vars templateVars) (string, error) {
	if !strings.Contains(raw, "{{") {
		return raw, nil
	}
	tmpl, err := template.New("arg").Parse(raw)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}
