package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/learnhub/learnhub/internal/app"
	"github.com/learnhub/learnhub/internal/logging"
	"github.com/learnhub/learnhub/internal/web/server"
)

type serveOptions struct {
	port int
	host string
}

func newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the LearnHub HTTP API server.

Without redis.url the server still starts: rate limiting fails open and
every response carries X-RateLimit-Degraded. The server stops gracefully on
SIGINT or SIGTERM.

Examples:
  learnhub serve
  learnhub serve --port 8080
  LEARNHUB_REDIS_URL=redis://localhost:6379/0 learnhub serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, global, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Port to listen on (overrides server.port)")
	cmd.Flags().StringVar(&opts.host, "host", "", "Host to bind (overrides server.host)")

	return cmd
}

func runServe(cmd *cobra.Command, global *globalOptions, opts *serveOptions) error {
	cfg, err := global.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = opts.port
	}
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	serverConfig := server.DefaultConfig(application.Router())
	serverConfig.Address = cfg.Server.Address()
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.Logger = logger

	srv, err := server.New(serverConfig)
	if err != nil {
		application.Close()
		return err
	}
	if err := srv.Listen(); err != nil {
		application.Close()
		return err
	}

	shutdownConfig := server.DefaultShutdownConfig()
	shutdownConfig.Timeout = cfg.Server.ShutdownTimeout
	shutdownConfig.Logger = logger
	gs := server.NewGracefulShutdown(srv, shutdownConfig)
	application.RegisterShutdown(gs)

	color.New(color.FgGreen, color.Bold).Fprintf(cmd.OutOrStdout(), "LearnHub listening on http://%s\n", srv.Addr())
	logger.Info("starting server",
		zap.String("addr", srv.Addr()),
		zap.Bool("ratelimit_remote", application.Guard.RemoteConfigured()),
		zap.String("cache_backend", application.Cache.Backend()))

	return gs.Run(ctx)
}
