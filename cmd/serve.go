// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/observability"
	"github.com/xkilldash9x/autoapply/internal/statusapi"
)

// newServeCmd runs the engine behind the status API until interrupted.
func newServeCmd() *cobra.Command {
	var addr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Accepts application tasks over HTTP and exposes their progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			serverCfg := cfg.Server()
			if addr != "" {
				serverCfg.Addr = addr
			}

			components, err := componentFactory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			queueSize := cfg.Engine().QueueSize
			if queueSize <= 0 {
				queueSize = 100
			}
			queue := make(chan schemas.ApplicationTask, queueSize)
			// Runs before Shutdown so idle workers drain and exit even when the server fails.
			defer close(queue)
			components.Engine.Start(ctx, queue)

			var sites statusapi.SiteStatsReader
			if components.Memory != nil {
				sites = components.Memory
			}
			handlers := statusapi.NewHandlers(logger, components.Registry, statusapi.ChannelSubmitter(queue), components.History, sites)
			server := statusapi.NewServer(serverCfg, handlers, components.MetricsHandler(), logger)

			logger.Info("Serving status API", zap.String("address", serverCfg.Addr), zap.Int("queue_size", queueSize))
			if err := server.Run(ctx); err != nil {
				return fmt.Errorf("status API failed: %w", err)
			}
			return nil
		},
	}

	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address. (Overrides config/env)")
	return serveCmd
}
