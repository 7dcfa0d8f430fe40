// Package commands provides the CLI commands for grok-mcp.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xai-tools/grok-mcp/internal/server"
)

// Version information set at build time
var (
	Version   = server.Version
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
)

var rootCmd = &cobra.Command{
	Use:   "grok-mcp",
	Short: "grok-mcp - MCP server exposing Grok tools",
	Long: `grok-mcp bridges MCP clients to xAI's Grok models: single questions,
paginated multi-turn discussions with file context, and durable sessions
that survive restarts.

Run 'grok-mcp serve' to start the stdio server.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&workDir, "directory", "", "Working directory")

	rootCmd.SetVersionTemplate(fmt.Sprintf("grok-mcp %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(repairCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// getWorkDir returns the working directory from flag or current directory.
func getWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}
