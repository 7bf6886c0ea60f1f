// Package gateway is the public API for embedding the inference gateway.
package gateway

import (
	"github.com/ansible/ai-connect-gateway/internal/runtime"
)

// Gateway is the assembled service. See internal/runtime.Gateway.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a Gateway. Example:
//
//	gw, err := gateway.New(
//	    gateway.WithConfigFile("config.yaml"),
//	    gateway.WithVersion(version),
//	)
var New = runtime.New

var (
	WithConfig         = runtime.WithConfig
	WithConfigFile     = runtime.WithConfigFile
	WithLogger         = runtime.WithLogger
	WithStorage        = runtime.WithStorage
	WithHTTPClient     = runtime.WithHTTPClient
	WithTelemetrySinks = runtime.WithTelemetrySinks
	WithVersion        = runtime.WithVersion
)
