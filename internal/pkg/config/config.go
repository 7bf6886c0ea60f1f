// Package config loads the gateway process configuration from an optional
// YAML file and LIGHTSPEED_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
)

// EnvPrefix namespaces the gateway's environment variables. Nested keys are
// separated by a double underscore: LIGHTSPEED_SERVER__PORT.
const EnvPrefix = "LIGHTSPEED_"

// DefaultFile is read when no path is given and it exists.
const DefaultFile = "config.yaml"

type Config struct {
	Server   ServerConfig  `koanf:"server" json:"server"`
	Storage  StorageConfig `koanf:"storage" json:"storage"`
	Features FeatureConfig `koanf:"features" json:"features"`
	Chatbot  ChatbotConfig `koanf:"chatbot" json:"chatbot"`
	Logging  LoggingConfig `koanf:"logging" json:"logging"`
	Tracing  TracingConfig `koanf:"tracing" json:"tracing"`
	// ModelMeshConfig is the JSON or YAML pipeline blob. It falls back to
	// ANSIBLE_AI_MODEL_MESH_CONFIG.
	ModelMeshConfig string `koanf:"model_mesh_config" json:"model_mesh_config,omitempty"`
}

type ServerConfig struct {
	Port int `koanf:"port" json:"port"`
	// RequestTimeout bounds non-streaming requests, e.g. "60s". Zero disables it.
	RequestTimeout time.Duration `koanf:"request_timeout" json:"request_timeout" jsonschema:"type=string"`
	ShutdownGrace  time.Duration `koanf:"shutdown_grace" json:"shutdown_grace" jsonschema:"type=string"`
}

type StorageConfig struct {
	Type   string       `koanf:"type" json:"type" jsonschema:"enum=memory,enum=sqlite"`
	SQLite SQLiteConfig `koanf:"sqlite" json:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path" json:"path"`
}

type FeatureConfig struct {
	ReturnToolCall          bool   `koanf:"return_tool_call" json:"return_tool_call"`
	EnableAnsibleLint       bool   `koanf:"enable_ansible_lint" json:"enable_ansible_lint"`
	AnsibleLintPath         string `koanf:"ansible_lint_path" json:"ansible_lint_path"`
	EnableAdditionalContext bool   `koanf:"enable_additional_context" json:"enable_additional_context"`
	MultiTaskMaxRequests    int    `koanf:"multi_task_max_requests" json:"multi_task_max_requests"`
	EnableAnonymization     bool   `koanf:"enable_anonymization" json:"enable_anonymization"`
	TelemetryEnabled        bool   `koanf:"telemetry_enabled" json:"telemetry_enabled"`
}

type ChatbotConfig struct {
	DefaultProvider string `koanf:"default_provider" json:"default_provider"`
	DefaultModel    string `koanf:"default_model" json:"default_model"`
	SystemPrompt    string `koanf:"system_prompt" json:"system_prompt"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `koanf:"format" json:"format" jsonschema:"enum=json,enum=text"`
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled" json:"enabled"`
	ServiceName string `koanf:"service_name" json:"service_name"`
}

var defaults = map[string]any{
	"server.port":                      8000,
	"server.request_timeout":           "60s",
	"server.shutdown_grace":            "15s",
	"storage.type":                     "memory",
	"storage.sqlite.path":              "gateway.db",
	"features.ansible_lint_path":       "ansible-lint",
	"features.multi_task_max_requests": 10,
	"features.enable_anonymization":    true,
	"features.telemetry_enabled":       true,
	"logging.level":                    "info",
	"logging.format":                   "json",
	"tracing.service_name":             "ai-connect-gateway",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (or DefaultFile when path is empty and the file exists),
// then the environment. Environment values win.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if cfg.ModelMeshConfig == "" {
		cfg.ModelMeshConfig = os.Getenv(meshconfig.EnvConfigVar)
	}
	cfg.ModelMeshConfig = substituteEnvVars(cfg.ModelMeshConfig)
	cfg.Storage.SQLite.Path = substituteEnvVars(cfg.Storage.SQLite.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.Type {
	case "memory":
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, errors.New("storage.sqlite.path is required for sqlite storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.type %q", c.Storage.Type))
	}
	if c.Features.MultiTaskMaxRequests < 1 {
		errs = append(errs, errors.New("features.multi_task_max_requests must be at least 1"))
	}
	return errors.Join(errs...)
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}
