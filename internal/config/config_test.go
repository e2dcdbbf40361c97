package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Endpoint, cfg.Endpoint)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devit.yaml")
	cfg := DefaultConfig()
	cfg.WorkspaceRoot = "/srv/ws"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/srv/ws", loaded.WorkspaceRoot)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DEVIT_WORKSPACE", "/from/env")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/from/env", cfg.WorkspaceRoot)
}

func TestValidateRejectsUnknownWorkerKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers["bad"] = WorkerDefinition{ID: "bad", Kind: "carrier-pigeon", Executable: "/bin/true"}
	require.Error(t, cfg.Validate())
}

func TestApproverForFallsBackToDefault(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "client:approver", cfg.ApproverFor("patch_apply"))
	cfg.Approvers["patch_apply"] = "session:abc"
	require.Equal(t, "session:abc", cfg.ApproverFor("patch_apply"))
}
