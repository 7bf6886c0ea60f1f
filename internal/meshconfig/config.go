// Package meshconfig loads the model-pipeline configuration: a map from
// capability to the provider that serves it and that provider's settings.
//
// The configuration arrives as one blob (JSON or YAML) in
// ANSIBLE_AI_MODEL_MESH_CONFIG. Deployments that predate the blob set a
// family of flat ANSIBLE_AI_MODEL_MESH_* variables instead; FromLegacyEnv
// turns those into the same shape.
package meshconfig

import (
	"errors"
	"fmt"
	"time"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
)

// BaseConfig holds the settings every provider understands.
type BaseConfig struct {
	InferenceURL string `json:"inference_url" koanf:"inference_url"`
	ModelID      string `json:"model_id" koanf:"model_id"`
	// Timeout is in seconds; zero disables the per-request deadline.
	Timeout           int  `json:"timeout" koanf:"timeout"`
	EnableHealthCheck bool `json:"enable_health_check" koanf:"enable_health_check"`
}

// Base returns the shared settings of any provider config that embeds BaseConfig.
func (b *BaseConfig) Base() *BaseConfig { return b }

// RequestTimeout scales the configured timeout by the number of tasks requested.
func (b *BaseConfig) RequestTimeout(taskCount int) time.Duration {
	if b.Timeout <= 0 {
		return 0
	}
	if taskCount < 1 {
		taskCount = 1
	}
	return time.Duration(b.Timeout*taskCount) * time.Second
}

func (b *BaseConfig) requireURL() error {
	if b.InferenceURL == "" {
		return errors.New("inference_url is required")
	}
	return nil
}

// BaseProvider is implemented by every provider config.
type BaseProvider interface {
	Base() *BaseConfig
}

// Validator is implemented by configs with cross-field rules.
type Validator interface {
	Validate() error
}

// NopConfig configures the nop provider.
type NopConfig struct {
	BaseConfig `koanf:",squash"`
}

// DummyConfig configures the dummy provider.
type DummyConfig struct {
	BaseConfig       `koanf:",squash"`
	LatencyMaxMsec   int    `json:"latency_max_msec" koanf:"latency_max_msec"`
	LatencyUseJitter bool   `json:"latency_use_jitter" koanf:"latency_use_jitter"`
	Body             string `json:"body" koanf:"body"`
}

// DefaultDummyBody is the completion returned by the dummy provider.
const DefaultDummyBody = `{"predictions":["ansible.builtin.apt:\n  name: nginx\n  update_cache: true\n  state: present\n"]}`

func NewDummyConfig() *DummyConfig {
	return &DummyConfig{Body: DefaultDummyBody}
}

// WCASaaSConfig configures the IBM watsonx Code Assistant cloud provider.
type WCASaaSConfig struct {
	BaseConfig             `koanf:",squash"`
	APIKey                 string `json:"api_key" koanf:"api_key"`
	VerifySSL              bool   `json:"verify_ssl" koanf:"verify_ssl"`
	RetryCount             int    `json:"retry_count" koanf:"retry_count"`
	EnableAnonymization    bool   `json:"enable_anonymization" koanf:"enable_anonymization"`
	HealthCheckAPIKey      string `json:"health_check_api_key" koanf:"health_check_api_key"`
	HealthCheckModelID     string `json:"health_check_model_id" koanf:"health_check_model_id"`
	IdpURL                 string `json:"idp_url" koanf:"idp_url"`
	IdpLogin               string `json:"idp_login" koanf:"idp_login"`
	IdpPassword            string `json:"idp_password" koanf:"idp_password"`
	OneClickDefaultAPIKey  string `json:"one_click_default_api_key" koanf:"one_click_default_api_key"`
	OneClickDefaultModelID string `json:"one_click_default_model_id" koanf:"one_click_default_model_id"`
}

// DefaultIdpURL is the IBM Cloud IAM token endpoint.
const DefaultIdpURL = "https://iam.cloud.ibm.com/identity/token"

func NewWCASaaSConfig() *WCASaaSConfig {
	return &WCASaaSConfig{
		VerifySSL:           true,
		RetryCount:          4,
		EnableAnonymization: true,
		IdpURL:              DefaultIdpURL,
	}
}

func (c *WCASaaSConfig) Validate() error {
	if err := c.requireURL(); err != nil {
		return err
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative, got %d", c.RetryCount)
	}
	if (c.IdpLogin == "") != (c.IdpPassword == "") {
		return errors.New("idp_login and idp_password must be set together")
	}
	return nil
}

// WCAOnPremConfig configures a self-hosted WCA deployment.
type WCAOnPremConfig struct {
	BaseConfig          `koanf:",squash"`
	APIKey              string `json:"api_key" koanf:"api_key"`
	Username            string `json:"username" koanf:"username"`
	VerifySSL           bool   `json:"verify_ssl" koanf:"verify_ssl"`
	RetryCount          int    `json:"retry_count" koanf:"retry_count"`
	EnableAnonymization bool   `json:"enable_anonymization" koanf:"enable_anonymization"`
	HealthCheckAPIKey   string `json:"health_check_api_key" koanf:"health_check_api_key"`
	HealthCheckModelID  string `json:"health_check_model_id" koanf:"health_check_model_id"`
}

func NewWCAOnPremConfig() *WCAOnPremConfig {
	return &WCAOnPremConfig{VerifySSL: true, RetryCount: 4, EnableAnonymization: true}
}

func (c *WCAOnPremConfig) Validate() error {
	if err := c.requireURL(); err != nil {
		return err
	}
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	return nil
}

// WCADummyConfig configures the offline WCA stand-in.
type WCADummyConfig struct {
	BaseConfig `koanf:",squash"`
}

// MCPServer is an MCP endpoint the chat service exposes tools from.
type MCPServer struct {
	Name string `json:"name" koanf:"name"`
	URL  string `json:"url" koanf:"url"`
}

// HTTPConfig configures the generic HTTP provider used for chat.
type HTTPConfig struct {
	BaseConfig `koanf:",squash"`
	VerifySSL  bool        `json:"verify_ssl" koanf:"verify_ssl"`
	Stream     bool        `json:"stream" koanf:"stream"`
	CACertFile string      `json:"ca_cert_file" koanf:"ca_cert_file"`
	MCPServers []MCPServer `json:"mcp_servers" koanf:"mcp_servers"`
}

func NewHTTPConfig() *HTTPConfig {
	return &HTTPConfig{VerifySSL: true}
}

func (c *HTTPConfig) Validate() error {
	if err := c.requireURL(); err != nil {
		return err
	}
	for i, s := range c.MCPServers {
		if s.Name == "" || s.URL == "" {
			return fmt.Errorf("mcp_servers[%d]: name and url are required", i)
		}
	}
	return nil
}

// OpenAICompatConfig configures llama.cpp and ollama servers.
type OpenAICompatConfig struct {
	BaseConfig `koanf:",squash"`
	APIKey     string `json:"api_key" koanf:"api_key"`
	VerifySSL  bool   `json:"verify_ssl" koanf:"verify_ssl"`
}

func NewOpenAICompatConfig() *OpenAICompatConfig {
	return &OpenAICompatConfig{VerifySSL: true}
}

func (c *OpenAICompatConfig) Validate() error {
	if err := c.requireURL(); err != nil {
		return err
	}
	if c.ModelID == "" {
		return errors.New("model_id is required")
	}
	return nil
}

// LlamaStackConfig configures a llama-stack server.
type LlamaStackConfig struct {
	BaseConfig `koanf:",squash"`
	APIKey     string `json:"api_key" koanf:"api_key"`
	VerifySSL  bool   `json:"verify_ssl" koanf:"verify_ssl"`
	CACertFile string `json:"ca_cert_file" koanf:"ca_cert_file"`
}

func NewLlamaStackConfig() *LlamaStackConfig {
	return &LlamaStackConfig{VerifySSL: true}
}

func (c *LlamaStackConfig) Validate() error {
	return c.requireURL()
}

// BAMConfig configures IBM BAM.
type BAMConfig struct {
	BaseConfig `koanf:",squash"`
	APIKey     string `json:"api_key" koanf:"api_key"`
	VerifySSL  bool   `json:"verify_ssl" koanf:"verify_ssl"`
}

func NewBAMConfig() *BAMConfig {
	return &BAMConfig{VerifySSL: true}
}

func (c *BAMConfig) Validate() error {
	if err := c.requireURL(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	return nil
}

// PipelineConfiguration binds one capability to a provider.
type PipelineConfiguration struct {
	Provider domain.ProviderTag `json:"provider"`
	Config   any                `json:"config"`
}

// Configuration is the complete capability map. Every capability has an entry.
type Configuration struct {
	Pipelines map[domain.Capability]PipelineConfiguration
}

// For returns the entry for capability c.
func (c *Configuration) For(capability domain.Capability) PipelineConfiguration {
	return c.Pipelines[capability]
}
