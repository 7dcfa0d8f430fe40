package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xai-tools/grok-mcp/internal/config"
	"github.com/xai-tools/grok-mcp/internal/logging"
	"github.com/xai-tools/grok-mcp/internal/session"
	"github.com/xai-tools/grok-mcp/internal/storage"
)

var (
	repairModel        string
	repairContextLines int
)

var repairCmd = &cobra.Command{
	Use:   "repair <session-id>",
	Short: "Fill missing settings on a legacy session record",
	Long: `Repair upgrades a session record written by an older version: missing
pagination, model, and context-limit fields are filled with defaults so page
retrieval works again. A .json.backup copy of the original file is written
first.`,
	Args: cobra.ExactArgs(1),
	RunE: runRepair,
}

func init() {
	repairCmd.Flags().StringVar(&repairModel, "model", "", "Model to set when the record has none")
	repairCmd.Flags().IntVar(&repairContextLines, "max-total-context-lines", 0, "Context line limit to set when the record has none")
}

func runRepair(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	dir, err := getWorkDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: logging.ErrorLevel})

	// Older deployments scattered sessions over several directories.
	candidates := []string{
		cfg.StoragePath,
		filepath.Join(dir, "sessions"),
		filepath.Join(dir, "grok_discussions"),
	}

	var store *storage.Store
	ctx := context.Background()
	for _, candidate := range candidates {
		if _, err := os.Stat(filepath.Join(candidate, sessionID+".json")); err == nil {
			store, err = storage.New(candidate)
			if err != nil {
				return err
			}
			fmt.Printf("Found session at: %s\n", filepath.Join(candidate, sessionID+".json"))
			break
		}
	}
	if store == nil {
		fmt.Printf("Session %s not found. Searched:\n", sessionID)
		for _, candidate := range candidates {
			fmt.Printf("  - %s\n", candidate)
		}
		return fmt.Errorf("session not found")
	}

	var s session.Session
	if err := store.Load(ctx, sessionID, &s); err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	// Back up the original record before touching it.
	original := filepath.Join(store.Path(), sessionID+".json")
	data, err := os.ReadFile(original)
	if err != nil {
		return err
	}
	if err := os.WriteFile(original+".backup", data, 0644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	fmt.Printf("Created backup: %s.backup\n", original)

	policy := session.DefaultRepairPolicy()
	if repairModel != "" {
		policy.DefaultModel = repairModel
		policy.LargeContextModel = repairModel
	}
	if repairContextLines > 0 {
		policy.DefaultContextLines = repairContextLines
		policy.LargeContextLines = repairContextLines
	}

	if !policy.Repair(&s) {
		fmt.Println("Session already has all required settings")
		return nil
	}

	if err := store.Save(ctx, sessionID, &s); err != nil {
		return fmt.Errorf("failed to save repaired session: %w", err)
	}

	pg := s.Pagination
	fmt.Println("Session repaired:")
	fmt.Printf("  Model: %s\n", pg.Model)
	fmt.Printf("  Max total context lines: %d\n", pg.MaxTotalContextLines)
	fmt.Printf("  Turns per page: %d, max turns: %d\n", pg.TurnsPerPage, pg.MaxTurns)
	fmt.Printf("\nPage retrieval should now work: grok_discuss with session_id='%s'\n", sessionID)
	return nil
}
