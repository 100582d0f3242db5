// File: cmd/serve.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tabrelay/internal/api"
	"github.com/xkilldash9x/tabrelay/internal/browser"
	"github.com/xkilldash9x/tabrelay/internal/config"
	"github.com/xkilldash9x/tabrelay/internal/observability"
	"github.com/xkilldash9x/tabrelay/internal/session"
	"github.com/xkilldash9x/tabrelay/internal/strategy"
)

// newEngine launches the browser. Tests replace it.
var newEngine = func(ctx context.Context, logger *zap.Logger, cfg config.Interface) (browser.Engine, error) {
	return browser.NewManager(ctx, logger, cfg)
}

func newServeCmd() *cobra.Command {
	var (
		listen           string
		headless         bool
		strictNavigation bool
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Launch the browser and serve the session API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.SetServerListenAddr(listen)
			}
			if flags.Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}
			if flags.Changed("strict-navigation") {
				cfg.SetSessionStrictNavigation(strictNavigation)
			}

			return runServe(ctx, cfg, observability.GetLogger())
		},
	}

	serveCmd.Flags().StringVarP(&listen, "listen", "l", "", "address to listen on (overrides server.listen_addr)")
	serveCmd.Flags().BoolVar(&headless, "headless", true, "run the browser without a window (overrides browser.headless)")
	serveCmd.Flags().BoolVar(&strictNavigation, "strict-navigation", false, "fail session creation when the initial navigation fails")
	return serveCmd
}

// runServe builds the application graph and blocks until ctx is cancelled.
func runServe(ctx context.Context, cfg config.Interface, logger *zap.Logger) error {
	engine, err := newEngine(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to start browser engine: %w", err)
	}
	logger.Info("Browser engine started.", zap.Bool("headless", cfg.Browser().Headless))

	registry := session.NewRegistry(engine, cfg, logger)
	selector := strategy.NewSelector(cfg.Strategies(), cfg.Network(), logger)
	server := api.NewServer(cfg, logger, api.NewDispatcher(registry, selector, logger))

	return server.Start(ctx)
}
