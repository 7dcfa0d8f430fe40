package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xai-tools/grok-mcp/internal/config"
	"github.com/xai-tools/grok-mcp/internal/logging"
	"github.com/xai-tools/grok-mcp/internal/session"
	"github.com/xai-tools/grok-mcp/internal/storage"
)

var (
	sessionsStatus string
	sessionsLimit  int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored discussion sessions",
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsStatus, "status", "", "Filter by status (active|paused|completed|failed)")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to show")
}

func runSessions(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: logging.ErrorLevel})

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		return err
	}

	records, err := store.List(context.Background(), sessionsStatus, sessionsLimit)
	if err != nil {
		return err
	}

	var summaries []session.Summary
	for _, rec := range records {
		var s session.Session
		if err := json.Unmarshal(rec.Data, &s); err != nil {
			continue
		}
		summaries = append(summaries, s.Summarize())
	}

	if len(summaries) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	for _, sum := range summaries {
		fmt.Printf("ID: %s\n", sum.ID)
		fmt.Printf("Topic: %s\n", sum.Topic)
		fmt.Printf("Status: %s\n", sum.Status)
		fmt.Printf("Messages: %d\n", sum.MessageCount)
		fmt.Printf("Updated: %s\n", sum.UpdatedAt.Format(time.RFC3339))
		fmt.Println(strings.Repeat("-", 40))
	}
	return nil
}
