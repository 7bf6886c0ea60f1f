package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ansible/ai-connect-gateway/internal/pkg/config"
)

// Build-time variables, injected via ldflags:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "dev"
	Commit  = "none"
)

type rootOptions struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Ansible AI inference gateway",
		Long: `gateway serves code completion, playbook and role generation and
explanation, and chat on top of a configurable model pipeline per capability.

Configuration is read from an optional YAML file and LIGHTSPEED_ environment
variables. The model pipelines come from model_mesh_config or
ANSIBLE_AI_MODEL_MESH_CONFIG.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is fine.
			if err := godotenv.Load(opts.envFile); err != nil && cmd.Flags().Changed("env-file") {
				return fmt.Errorf("load %s: %w", opts.envFile, err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path (default: "+config.DefaultFile+" when present)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before configuration")

	cmd.AddCommand(newServeCmd(opts), newConfigCmd(opts), newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gateway %s (%s)\n", Version, Commit)
		},
	}
}

// newLogger builds the process logger from the logging section.
func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts))
}
