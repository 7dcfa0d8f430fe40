// Package main provides the entry point for the grok-mcp server.
package main

import (
	"fmt"
	"os"

	"github.com/xai-tools/grok-mcp/cmd/grok-mcp/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
