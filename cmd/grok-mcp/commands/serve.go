package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xai-tools/grok-mcp/internal/config"
	"github.com/xai-tools/grok-mcp/internal/logging"
	"github.com/xai-tools/grok-mcp/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	Long: `Start grok-mcp as an MCP server speaking the stdio transport.

stdout carries the protocol stream, so logs go to the configured log file.
Use --print-logs to tee them to stderr while debugging.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := logging.InitFile(cfg.LogFile, logging.ParseLevel(cfg.LogLevel), printLogs); err != nil {
		return fmt.Errorf("failed to open log file %s: %w", cfg.LogFile, err)
	}

	ctx := context.Background()
	srv, err := server.New(ctx, cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logging.Info().Str("signal", sig.String()).Msg("shutting down")
		return srv.Close(ctx)
	}
}
