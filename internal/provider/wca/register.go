package wca

import (
	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/provider/registry"
)

var wcaCapabilities = []domain.Capability{
	domain.CapabilityCompletions,
	domain.CapabilityContentMatch,
	domain.CapabilityPlaybookGeneration,
	domain.CapabilityRoleGeneration,
	domain.CapabilityPlaybookExplanation,
	domain.CapabilityRoleExplanation,
}

// Register declares the wca, wca-onprem and wca-dummy providers.
func Register(b *registry.Builder) {
	b.RegisterProvider(registry.ProviderSpec{
		Tag:         domain.ProviderWCA,
		Description: "IBM watsonx Code Assistant (cloud)",
		NewConfig:   func() any { return meshconfig.NewWCASaaSConfig() },
	})
	b.RegisterProvider(registry.ProviderSpec{
		Tag:         domain.ProviderWCAOnPrem,
		Description: "IBM watsonx Code Assistant (on-premise)",
		NewConfig:   func() any { return meshconfig.NewWCAOnPremConfig() },
	})
	b.RegisterProvider(registry.ProviderSpec{
		Tag:         domain.ProviderWCADummy,
		Description: "Offline IBM watsonx Code Assistant stand-in",
		NewConfig:   func() any { return &meshconfig.WCADummyConfig{} },
	})
	for _, c := range wcaCapabilities {
		b.Register(domain.ProviderWCA, c, NewSaaS)
		b.Register(domain.ProviderWCAOnPrem, c, NewOnPrem)
		b.Register(domain.ProviderWCADummy, c, NewDummy)
	}
}
