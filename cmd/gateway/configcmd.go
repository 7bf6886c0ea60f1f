package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/pkg/config"
	"github.com/ansible/ai-connect-gateway/internal/registration"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the gateway configuration",
	}
	cmd.AddCommand(newConfigCheckCmd(opts), newConfigSchemaCmd())
	return cmd
}

func newConfigCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration, then list the model pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Logging)
			mesh, err := meshconfig.Resolve(cfg.ModelMeshConfig, registration.RegisterAll(logger), logger)
			if err != nil {
				return fmt.Errorf("model mesh config: %w", err)
			}
			return printPipelines(cmd.OutOrStdout(), mesh)
		},
	}
}

func printPipelines(w io.Writer, mesh *meshconfig.Configuration) error {
	for _, capability := range domain.Capabilities() {
		entry := mesh.For(capability)
		tag := entry.Provider
		if tag == "" {
			tag = domain.ProviderNop
		}
		if _, err := fmt.Fprintf(w, "%-34s %s\n", capability, tag); err != nil {
			return err
		}
	}
	return nil
}

func newConfigSchemaCmd() *cobra.Command {
	var mesh bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration",
		Long: `Prints the JSON schema of the process configuration. With --mesh it prints
the schema of every provider's model_mesh_config entry instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var v any = jsonschema.Reflect(&config.Config{})
			if mesh {
				v = providerSchemas()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}
	cmd.Flags().BoolVar(&mesh, "mesh", false, "print provider config schemas")
	return cmd
}

// providerSchemas reflects the config type registered for every provider tag.
func providerSchemas() map[domain.ProviderTag]*jsonschema.Schema {
	table := registration.RegisterAll(slog.New(slog.DiscardHandler))
	r := &jsonschema.Reflector{ExpandedStruct: true}
	out := make(map[domain.ProviderTag]*jsonschema.Schema)
	for _, tag := range table.Tags() {
		cfg, ok := table.NewConfig(tag)
		if !ok || cfg == nil {
			continue
		}
		out[tag] = r.Reflect(cfg)
	}
	return out
}
