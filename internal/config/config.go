// Package config loads and validates the daemon's configuration: the
// workspace root, wire-protocol secrets and timing parameters, worker
// definitions, protected paths, and the journal/screenshot settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkerKind is the dispatch strategy for a configured worker.
type WorkerKind string

const (
	WorkerSubprocessCLI WorkerKind = "subprocess-cli"
	WorkerChildProtocol WorkerKind = "child-protocol"
)

// ParseMode controls how a subprocess worker's stdout is interpreted.
type ParseMode string

const (
	ParseStructured ParseMode = "structured"
	ParseRaw        ParseMode = "raw"
)

// WorkerDefinition is immutable configuration for one delegation target.
type WorkerDefinition struct {
	ID               string         `yaml:"id"`
	Kind             WorkerKind     `yaml:"kind"`
	Executable       string         `yaml:"executable"`
	ArgTemplate      []string       `yaml:"arg_template"`
	Timeout          time.Duration  `yaml:"timeout"`
	ParseMode        ParseMode      `yaml:"parse_mode"`
	WorkingDirectory string         `yaml:"working_directory,omitempty"`
	MaxResponseBytes int            `yaml:"max_response_bytes,omitempty"`
	DefaultModel     string         `yaml:"default_model,omitempty"`
	AllowedModels    []string       `yaml:"allowed_models,omitempty"`
	ToolName         string         `yaml:"tool_name,omitempty"`
	ExtraArgs        map[string]any `yaml:"extra_args,omitempty"`
}

// RateLimit bounds requests per session per method.
type RateLimit struct {
	Window time.Duration `yaml:"window"`
	Burst  int           `yaml:"burst"`
}

// Config is the full daemon configuration.
type Config struct {
	WorkspaceRoot          string                      `yaml:"workspace_root"`
	SharedSecretSource     string                      `yaml:"shared_secret_source"`
	Endpoint               string                      `yaml:"endpoint"`
	HTTPAddr               string                      `yaml:"http_addr,omitempty"`
	IdleShutdown           time.Duration               `yaml:"idle_shutdown"`
	ExpectedPeerVersion    string                      `yaml:"expected_peer_version"`
	ReplayWindow           time.Duration               `yaml:"replay_window"`
	ReplayMargin           time.Duration               `yaml:"replay_margin"`
	SecretDetection        bool                        `yaml:"secret_detection"`
	RedactionPlaceholder   string                      `yaml:"redaction_placeholder"`
	ChildOutputDumpDir     string                      `yaml:"child_output_dump_dir"`
	Approvers              map[string]string           `yaml:"approvers,omitempty"`
	DefaultApproverTarget  string                      `yaml:"default_approver_target"`
	ApprovalTimeout        time.Duration               `yaml:"approval_timeout"`
	Workers                map[string]WorkerDefinition `yaml:"workers,omitempty"`
	ProtectedPaths         []string                    `yaml:"protected_paths,omitempty"`
	JournalDir             string                      `yaml:"journal_dir"`
	JournalStrict          bool                        `yaml:"journal_strict"`
	RateLimit              RateLimit                   `yaml:"rate_limit"`
	ScreenshotDir          string                      `yaml:"screenshot_dir,omitempty"`
	ScreenshotEnabled      bool                        `yaml:"screenshot_enabled"`
	NotificationHook       string                      `yaml:"notification_hook,omitempty"`
	NotificationAckTimeout time.Duration               `yaml:"notification_ack_timeout"`
}

// DefaultConfig returns sane defaults for a single-operator deployment.
func DefaultConfig() *Config {
	return &Config{
		WorkspaceRoot:          ".",
		SharedSecretSource:     "DEVIT_SHARED_SECRET",
		Endpoint:               "/tmp/devitd.sock",
		IdleShutdown:           0,
		ExpectedPeerVersion:    "",
		ReplayWindow:           30 * time.Second,
		ReplayMargin:           5 * time.Second,
		SecretDetection:        true,
		RedactionPlaceholder:   "[REDACTED]",
		ChildOutputDumpDir:     "",
		Approvers:              map[string]string{},
		DefaultApproverTarget:  "client:approver",
		ApprovalTimeout:        2 * time.Minute,
		Workers:                map[string]WorkerDefinition{},
		ProtectedPaths:         []string{".git/**", ".env", ".env.*", "**/*.pem", "**/*.key"},
		JournalDir:             ".devit/journal",
		JournalStrict:          true,
		RateLimit:              RateLimit{Window: time.Second, Burst: 20},
		ScreenshotDir:          ".devit/screenshots",
		ScreenshotEnabled:      false,
		NotificationAckTimeout: 10 * time.Second,
	}
}

// Load reads path as YAML, falling back to DefaultConfig when the file
// does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes cfg as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DEVIT_WORKSPACE"); v != "" {
		c.WorkspaceRoot = v
	}
	if v := os.Getenv("DEVIT_SHARED_SECRET"); v != "" {
		// The variable holds the secret itself, so the source names the
		// variable rather than taking its value.
		c.SharedSecretSource = "DEVIT_SHARED_SECRET"
	}
	if v := os.Getenv("DEVIT_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv("DEVIT_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("DEVIT_IDLE_SHUTDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.IdleShutdown = d
		}
	}
	if v := os.Getenv("DEVIT_EXPECTED_PEER_VERSION"); v != "" {
		c.ExpectedPeerVersion = v
	}
	if v := os.Getenv("DEVIT_JOURNAL_DIR"); v != "" {
		c.JournalDir = v
	}
	if v := os.Getenv("DEVIT_JOURNAL_STRICT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.JournalStrict = b
		}
	}
	if v := os.Getenv("DEVIT_SCREENSHOT_DIR"); v != "" {
		c.ScreenshotDir = v
		c.ScreenshotEnabled = true
	}
}

// SharedSecret resolves the configured secret source: if it names an
// existing environment variable, that variable's value is used;
// otherwise the source is treated as a file path.
func (c *Config) SharedSecret() (string, error) {
	if v, ok := os.LookupEnv(c.SharedSecretSource); ok && v != "" {
		return v, nil
	}
	data, err := os.ReadFile(c.SharedSecretSource)
	if err != nil {
		return "", fmt.Errorf("resolve shared secret from %q: %w", c.SharedSecretSource, err)
	}
	return string(data), nil
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace_root must be set")
	}
	if c.Endpoint == "" && c.HTTPAddr == "" {
		return fmt.Errorf("at least one of endpoint or http_addr must be set")
	}
	if c.ReplayWindow <= 0 {
		return fmt.Errorf("replay_window must be positive")
	}
	for id, w := range c.Workers {
		if w.Kind != WorkerSubprocessCLI && w.Kind != WorkerChildProtocol {
			return fmt.Errorf("worker %s: unknown kind %q", id, w.Kind)
		}
		if w.Executable == "" {
			return fmt.Errorf("worker %s: executable must be set", id)
		}
	}
	return nil
}

// ApproverFor returns the configured approver target for an operation
// class, falling back to DefaultApproverTarget only as a last resort.
func (c *Config) ApproverFor(class string) string {
	if target, ok := c.Approvers[class]; ok && target != "" {
		return target
	}
	return c.DefaultApproverTarget
}
