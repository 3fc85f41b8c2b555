package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"smartplanning/internal/gateway/app"
	"smartplanning/internal/gateway/config"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := cmd.Flags().GetString("port")
			cfg, err := c.loadCfg()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if port != "" {
				cfg.Port = port
			}
			log, err := config.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return serve(cmd.Context(), cfg, log, c.overrides)
		},
	}
	cmd.Flags().String("port", "", "Listen address, overrides PORT")
	return cmd
}

// serve runs the gateway until SIGINT or SIGTERM.
func serve(ctx context.Context, cfg *config.Config, log *zap.Logger, o app.Overrides) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, o)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- a.Start() }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}
	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(err, a.Shutdown(shutdownCtx))
}
