package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ConduitPlatform/Conduit-sub006/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the Conduit gateway.

The server will:
  - Load configuration from conduit.yaml (or --config) with CONDUIT_* overrides
  - Re-register routes persisted in the database
  - Register the routes of services listed in the config
  - Serve REST, the OpenAPI document and, when enabled, MCP tools
  - Accept route registrations from services over gRPC when enabled

The config file is watched for changes; SIGHUP also reloads it.

Environment variables:
  CONDUIT_SERVER_PORT          - HTTP port (default: 3000)
  CONDUIT_GRPC_ENABLED         - Accept gRPC registrations
  CONDUIT_DATABASE_DSN         - Route store path (empty disables persistence)
  CONDUIT_CACHE_DRIVER         - none, memory or redis
  CONDUIT_AUTH_JWT_SECRET      - Enables authMiddleware
  LOG_LEVEL                    - debug, info, warn, error

Examples:
  conduit serve
  conduit serve --config /etc/conduit/conduit.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(bootstrap.Options{
		ConfigPath: configPath(cmd),
		Version:    version,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}
