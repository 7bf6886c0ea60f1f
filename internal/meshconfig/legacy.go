package meshconfig

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
)

// legacyModelVars maps flat model-mesh variables to provider config keys.
var legacyModelVars = map[string]string{
	"ANSIBLE_AI_MODEL_MESH_API_URL":           "inference_url",
	"ANSIBLE_AI_MODEL_MESH_API_KEY":           "api_key",
	"ANSIBLE_AI_MODEL_MESH_MODEL_ID":          "model_id",
	"ANSIBLE_AI_MODEL_MESH_API_TIMEOUT":       "timeout",
	"ANSIBLE_AI_MODEL_MESH_API_VERIFY_SSL":    "verify_ssl",
	"ENABLE_HEALTHCHECK_MODEL_MESH":           "enable_health_check",
	"ANSIBLE_WCA_RETRY_COUNT":                 "retry_count",
	"ANSIBLE_WCA_HEALTHCHECK_API_KEY":         "health_check_api_key",
	"ANSIBLE_WCA_HEALTHCHECK_MODEL_ID":        "health_check_model_id",
	"ANSIBLE_WCA_IDP_URL":                     "idp_url",
	"ANSIBLE_WCA_IDP_LOGIN":                   "idp_login",
	"ANSIBLE_WCA_IDP_PASSWORD":                "idp_password",
	"ANSIBLE_WCA_USERNAME":                    "username",
	"ANSIBLE_WCA_ONE_CLICK_DEFAULT_API_KEY":   "one_click_default_api_key",
	"ANSIBLE_WCA_ONE_CLICK_DEFAULT_MODEL_ID":  "one_click_default_model_id",
	"DUMMY_MODEL_RESPONSE_BODY":               "body",
	"DUMMY_MODEL_RESPONSE_MAX_LATENCY_MSEC":   "latency_max_msec",
	"DUMMY_MODEL_RESPONSE_LATENCY_USE_JITTER": "latency_use_jitter",
}

const legacyAPITypeVar = "ANSIBLE_AI_MODEL_MESH_API_TYPE"

// legacyChatVars configure the chat capabilities through the http provider.
var legacyChatVars = map[string]string{
	"CHATBOT_URL":           "inference_url",
	"CHATBOT_DEFAULT_MODEL": "model_id",
}

// FromLegacyEnv reads the flat variables from the process environment and
// returns a configuration document plus the names of the variables it saw.
// The document is empty when none are set.
func FromLegacyEnv() (map[string]any, []string, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string {
		if s == legacyAPITypeVar {
			return s
		}
		if _, ok := legacyModelVars[s]; ok {
			return s
		}
		if _, ok := legacyChatVars[s]; ok {
			return s
		}
		return ""
	}), nil); err != nil {
		return nil, nil, fmt.Errorf("failed to read legacy environment: %w", err)
	}

	var observed []string
	modelCfg := map[string]any{}
	chatCfg := map[string]any{}
	for _, name := range k.Keys() {
		value := k.String(name)
		if value == "" {
			continue
		}
		observed = append(observed, name)
		if key, ok := legacyModelVars[name]; ok {
			modelCfg[key] = value
		}
		if key, ok := legacyChatVars[name]; ok {
			chatCfg[key] = value
		}
	}
	sort.Strings(observed)

	doc := map[string]any{}
	apiType := k.String(legacyAPITypeVar)
	if len(modelCfg) > 0 || apiType != "" {
		if apiType == "" {
			apiType = string(domain.ProviderHTTP)
		}
		for _, capability := range domain.Capabilities() {
			doc[string(capability)] = map[string]any{
				"provider": apiType,
				"config":   copyMap(modelCfg),
			}
		}
	}
	if len(chatCfg) > 0 {
		for _, capability := range []domain.Capability{domain.CapabilityChatBot, domain.CapabilityStreamingChatBot} {
			doc[string(capability)] = map[string]any{
				"provider": string(domain.ProviderHTTP),
				"config":   copyMap(chatCfg),
			}
		}
	}
	return doc, observed, nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Resolve picks the structured blob when present and the legacy variables
// otherwise. Every flat variable that is set produces a deprecation warning.
func Resolve(blob string, schemas SchemaSource, logger *slog.Logger) (*Configuration, error) {
	legacy, observed, err := FromLegacyEnv()
	if err != nil {
		return nil, err
	}

	structured := blob != ""
	for _, name := range observed {
		attrs := []any{slog.String("variable", name)}
		if structured {
			attrs = append(attrs, slog.String("ignored_in_favor_of", EnvConfigVar))
		}
		logger.Warn("deprecated model mesh environment variable", attrs...)
	}

	if structured {
		return Load(blob, schemas)
	}
	return fromDocument(legacy, schemas)
}
