package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xff16/relay"
	"github.com/xff16/relay/internal/app"
	"github.com/xff16/relay/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := relay.LoadConfig(resolveConfigPath())
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Debug, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck // stderr sync errors are not actionable

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := app.NewServer(cfg, log)
	if err != nil {
		return err
	}

	if err = server.Run(ctx); err != nil {
		log.Error("server stopped with error", zap.Error(err))

		return err
	}

	log.Info("server stopped")

	return nil
}
