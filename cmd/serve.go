package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/weblogin-harvester/internal/config"
	"github.com/xkilldash9x/weblogin-harvester/internal/observability"
	"github.com/xkilldash9x/weblogin-harvester/internal/server"
	"github.com/xkilldash9x/weblogin-harvester/internal/service"
)

// newServeCmd creates the `serve` command.
func newServeCmd() *cobra.Command {
	var warm bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, observability.GetLogger(), warm)
		},
	}

	cmd.Flags().Int("port", 0, "port to listen on (overrides server.port)")
	bindFlag(cmd, "port", "server.port")
	cmd.Flags().Int("concurrency", 0, "login runs allowed at once (overrides queue.concurrency)")
	bindFlag(cmd, "concurrency", "queue.concurrency")
	cmd.Flags().BoolVar(&warm, "warm", false, "launch the browser at startup instead of on the first request")
	return cmd
}

// runServe serves until ctx ends. The HTTP server is drained before the
// browser is closed, so in-flight logins can finish.
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger, warm bool) error {
	// The browser must outlive the signal that stops the listener.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	components := service.NewComponents(baseCtx, cfg, logger)
	defer components.Shutdown()

	srv := server.New(cfg, components.Harvester, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if warm {
		g.Go(func() error {
			if _, err := components.Browser.Acquire(gctx); err != nil && gctx.Err() == nil {
				// The next request retries the launch.
				logger.Warn("Browser warm-up failed.", zap.Error(err))
			}
			return nil
		})
	}

	logger.Info("Harvester serving.", zap.Int("port", cfg.Server.Port), zap.String("environment", cfg.Environment))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Harvester stopped.")
	return nil
}
