package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raakeshmj/nfcverify/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&portOverride, "port", "", "port to listen on (overrides PORT)")
}

var portOverride string

func runServe(cmd *cobra.Command, args []string) error {
	if portOverride != "" {
		cfg.ServerPort = portOverride
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Warn("closing resources", zap.Error(err))
		}
	}()

	return srv.Start(ctx)
}
