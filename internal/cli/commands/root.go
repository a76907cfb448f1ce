// Package commands implements the learnhub command line.
package commands

import (
	"context"
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/learnhub/learnhub/internal/app"
	"github.com/learnhub/learnhub/internal/cli/config"
	"github.com/learnhub/learnhub/internal/cli/ui"
	"github.com/learnhub/learnhub/internal/logging"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalOptions holds the persistent flags shared by every subcommand
type globalOptions struct {
	configFile string
	noColor    bool
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "learnhub",
		Short: "LearnHub API server and operations tooling",
		Long: color.CyanString(`LearnHub - learning platform API

Serves the LearnHub HTTP API with per-category rate limiting and a shared
cache, and inspects both from the command line.

Configuration is read from learnhub.yml (or --config) and LEARNHUB_*
environment variables, for example LEARNHUB_REDIS_URL.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Path to the config file (default: ./learnhub.yml)")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newPoliciesCommand(opts))
	rootCmd.AddCommand(newCacheCommand(opts))
	rootCmd.AddCommand(newTokenCommand(opts))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			kv := ui.NewKeyValueTable(cmd.OutOrStdout(), color.NoColor)
			kv.AddRow("LearnHub version", Version)
			kv.AddRow("Git commit", GitCommit)
			kv.AddRow("Build date", BuildDate)
			kv.AddRow("Go version", runtime.Version())
			kv.Render()
		},
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}

// loadConfig reads the configuration, printing a formatted error on failure
func (o *globalOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), ui.ConfigError(err.Error(), color.NoColor))
		return nil, err
	}
	return cfg, nil
}

// openApp wires the application for a one-shot command. Only errors are
// logged so degraded-mode warnings do not clutter command output.
func (o *globalOptions) openApp(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logConfig := cfg.Log
	logConfig.Level = zap.ErrorLevel.String()
	logger, err := logging.New(logConfig)
	if err != nil {
		return nil, err
	}

	return app.New(ctx, cfg, logger)
}
