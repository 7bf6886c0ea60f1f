// Package domain holds the gateway's core types: capabilities, provider tags,
// per-capability parameters and responses, and the error taxonomy shared by
// providers, the completion pipeline and the HTTP handlers.
package domain

import (
	"fmt"
	"time"
)

// Capability identifies one model-pipeline capability. The string values are
// the keys used in the pipeline configuration blob.
type Capability string

const (
	CapabilityCompletions         Capability = "ModelPipelineCompletions"
	CapabilityContentMatch        Capability = "ModelPipelineContentMatch"
	CapabilityPlaybookGeneration  Capability = "ModelPipelinePlaybookGeneration"
	CapabilityRoleGeneration      Capability = "ModelPipelineRoleGeneration"
	CapabilityPlaybookExplanation Capability = "ModelPipelinePlaybookExplanation"
	CapabilityRoleExplanation     Capability = "ModelPipelineRoleExplanation"
	CapabilityChatBot             Capability = "ModelPipelineChatBot"
	CapabilityStreamingChatBot    Capability = "ModelPipelineStreamingChatBot"
)

var capabilities = []Capability{
	CapabilityCompletions,
	CapabilityContentMatch,
	CapabilityPlaybookGeneration,
	CapabilityRoleGeneration,
	CapabilityPlaybookExplanation,
	CapabilityRoleExplanation,
	CapabilityChatBot,
	CapabilityStreamingChatBot,
}

// Capabilities returns every capability in a stable order.
func Capabilities() []Capability {
	out := make([]Capability, len(capabilities))
	copy(out, capabilities)
	return out
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	for _, known := range capabilities {
		if c == known {
			return true
		}
	}
	return false
}

// ProviderTag names a backend implementation.
type ProviderTag string

const (
	ProviderWCA        ProviderTag = "wca"
	ProviderWCAOnPrem  ProviderTag = "wca-onprem"
	ProviderWCADummy   ProviderTag = "wca-dummy"
	ProviderHTTP       ProviderTag = "http"
	ProviderLlamaCpp   ProviderTag = "llamacpp"
	ProviderOllama     ProviderTag = "ollama"
	ProviderBAM        ProviderTag = "bam"
	ProviderLlamaStack ProviderTag = "llama-stack"
	ProviderDummy      ProviderTag = "dummy"
	ProviderNop        ProviderTag = "nop"
)

var providerTags = []ProviderTag{
	ProviderWCA,
	ProviderWCAOnPrem,
	ProviderWCADummy,
	ProviderHTTP,
	ProviderLlamaCpp,
	ProviderOllama,
	ProviderBAM,
	ProviderLlamaStack,
	ProviderDummy,
	ProviderNop,
}

// ProviderTags returns every provider tag in a stable order.
func ProviderTags() []ProviderTag {
	out := make([]ProviderTag, len(providerTags))
	copy(out, providerTags)
	return out
}

// ParseProviderTag validates s against the closed set of provider tags.
func ParseProviderTag(s string) (ProviderTag, error) {
	for _, tag := range providerTags {
		if string(tag) == s {
			return tag, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// User is the authenticated caller as asserted by the upstream proxy.
type User struct {
	UUID           string
	Username       string
	OrgID          string
	RHUserHasSeat  bool
	IsOrgAdmin     bool
	HasActiveTrial bool
}

// HasOrg reports whether the user belongs to an organization.
func (u *User) HasOrg() bool {
	return u != nil && u.OrgID != ""
}

// SecretSuffix names a per-organization secret slot.
type SecretSuffix string

const (
	SecretAPIKey  SecretSuffix = "API_KEY"
	SecretModelID SecretSuffix = "MODEL_ID"
)

// Secret is a stored per-organization secret.
type Secret struct {
	SecretString string
	CreatedDate  time.Time
}

// IAMToken is a bearer token obtained from the identity provider.
type IAMToken struct {
	AccessToken string
	Expiration  time.Time
}

// ValidAt reports whether the token can still be used at t.
func (t *IAMToken) ValidAt(now time.Time) bool {
	return t != nil && t.AccessToken != "" && t.Expiration.After(now)
}
