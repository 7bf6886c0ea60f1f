package meshconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/v2"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
)

// EnvConfigVar holds the structured configuration blob.
const EnvConfigVar = "ANSIBLE_AI_MODEL_MESH_CONFIG"

// SchemaSource returns a fresh, default-populated config value for a provider.
type SchemaSource interface {
	NewConfig(tag domain.ProviderTag) (any, bool)
}

// Schemas is a SchemaSource backed by a map.
type Schemas map[domain.ProviderTag]func() any

func (s Schemas) NewConfig(tag domain.ProviderTag) (any, bool) {
	f, ok := s[tag]
	if !ok {
		return nil, false
	}
	return f(), true
}

// ParseError reports a blob that is neither JSON nor YAML.
type ParseError struct {
	JSON error
	YAML error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("model mesh configuration is not valid JSON (%v) nor valid YAML (%v)", e.JSON, e.YAML)
}

func (e *ParseError) Unwrap() []error {
	return []error{e.JSON, e.YAML}
}

// mapProvider feeds an already parsed document to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("mapProvider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}

// Load parses text as JSON, falling back to YAML, and builds a Configuration
// with an entry for every capability. Capabilities absent from the blob get
// the nop provider; unknown keys are ignored.
func Load(text string, schemas SchemaSource) (*Configuration, error) {
	doc, err := parseBlob(text)
	if err != nil {
		return nil, err
	}
	return fromDocument(doc, schemas)
}

func parseBlob(text string) (map[string]any, error) {
	if strings.TrimSpace(text) == "" {
		return map[string]any{}, nil
	}

	var doc map[string]any
	jsonErr := json.Unmarshal([]byte(text), &doc)
	if jsonErr == nil {
		return doc, nil
	}

	doc, yamlErr := yaml.Parser().Unmarshal([]byte(text))
	if yamlErr == nil {
		return doc, nil
	}
	return nil, &ParseError{JSON: jsonErr, YAML: yamlErr}
}

func fromDocument(doc map[string]any, schemas SchemaSource) (*Configuration, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(doc), nil); err != nil {
		return nil, fmt.Errorf("failed to load model mesh configuration: %w", err)
	}

	cfg := &Configuration{Pipelines: make(map[domain.Capability]PipelineConfiguration)}
	for _, capability := range domain.Capabilities() {
		entry, err := decodeEntry(k, capability, schemas)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", capability, err)
		}
		cfg.Pipelines[capability] = entry
	}
	return cfg, nil
}

func decodeEntry(k *koanf.Koanf, capability domain.Capability, schemas SchemaSource) (PipelineConfiguration, error) {
	key := string(capability)
	tag := domain.ProviderNop
	if k.Exists(key) {
		name := k.String(key + ".provider")
		if name == "" {
			return PipelineConfiguration{}, errors.New("provider is required")
		}
		parsed, err := domain.ParseProviderTag(name)
		if err != nil {
			return PipelineConfiguration{}, err
		}
		tag = parsed
	}

	cfg, ok := schemas.NewConfig(tag)
	if !ok {
		return PipelineConfiguration{}, fmt.Errorf("no configuration schema registered for provider %q", tag)
	}
	if k.Exists(key + ".config") {
		if err := k.UnmarshalWithConf(key+".config", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
			return PipelineConfiguration{}, fmt.Errorf("invalid %s configuration: %w", tag, err)
		}
	}
	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			return PipelineConfiguration{}, fmt.Errorf("invalid %s configuration: %w", tag, err)
		}
	}
	return PipelineConfiguration{Provider: tag, Config: cfg}, nil
}

// Dump renders cfg so that Load(Dump(cfg)) reproduces it.
func Dump(cfg *Configuration) (string, error) {
	out := make(map[string]PipelineConfiguration, len(cfg.Pipelines))
	for capability, entry := range cfg.Pipelines {
		out[string(capability)] = entry
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode model mesh configuration: %w", err)
	}
	return string(b), nil
}
