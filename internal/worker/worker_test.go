package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"devit/internal/config"
)

func TestSubprocessDriverRunsAndRendersTemplate(t *testing.T) {
	def := config.WorkerDefinition{
		ID:          "echo",
		Kind:        config.WorkerSubprocessCLI,
		Executable:  "/bin/echo",
		ArgTemplate: []string{"hello-{{.Prompt}}"},
		Timeout:     5 * time.Second,
	}
	d, err := NewDriver(def)
	require.NoError(t, err)

	result, err := d.Run(context.Background(), "world", "")
	require.NoError(t, err)
	require.Equal(t, "hello-world", result.Output)
}

func TestSubprocessDriverTruncatesOversizeOutput(t *testing.T) {
	def := config.WorkerDefinition{
		ID:               "echo",
		Kind:             config.WorkerSubprocessCLI,
		Executable:       "/bin/echo",
		ArgTemplate:      []string{"0123456789"},
		Timeout:          5 * time.Second,
		MaxResponseBytes: 4,
	}
	d, err := NewDriver(def)
	require.NoError(t, err)

	result, err := d.Run(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, result.Output, 4)
}

func TestNewDriverRejectsUnknownKind(t *testing.T) {
	_, err := NewDriver(config.WorkerDefinition{Kind: "bogus"})
	require.Error(t, err)
}
