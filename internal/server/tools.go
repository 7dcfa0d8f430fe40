package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/xai-tools/grok-mcp/internal/filectx"
	"github.com/xai-tools/grok-mcp/internal/logging"
	"github.com/xai-tools/grok-mcp/internal/provider"
	"github.com/xai-tools/grok-mcp/internal/session"
)

// fileSpecItems is the schema for one context_files entry: a bare path
// string, or an object with a path plus range/directory/glob options.
func fileSpecItems() map[string]any {
	return map[string]any{
		"oneOf": []any{
			map[string]any{
				"type":        "string",
				"description": "File path, directory path, or glob pattern",
			},
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":       map[string]any{"type": "string", "description": "File path, directory path, or glob pattern"},
					"from":       map[string]any{"type": "integer", "description": "Start line number (1-based) for files", "minimum": 1},
					"to":         map[string]any{"type": "integer", "description": "End line number (1-based) for files", "minimum": 1},
					"recursive":  map[string]any{"type": "boolean", "description": "Recursive directory traversal", "default": true},
					"extensions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "File extensions to include (e.g., ['.py', '.js'])"},
					"exclude":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Patterns to exclude (e.g., ['test_*', '*.pyc'])"},
					"pattern":    map[string]any{"type": "string", "description": "Glob pattern for file matching"},
				},
				"required": []any{"path"},
			},
		},
	}
}

func askTool() mcp.Tool {
	return mcp.NewTool("grok_ask",
		mcp.WithDescription("Ask Grok a question"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to ask"),
		),
		mcp.WithString("model",
			mcp.Description("Model to use"),
		),
		mcp.WithNumber("temperature",
			mcp.Description("Temperature for response"),
		),
	)
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	question := argString(args, "question")
	if question == "" {
		return mcp.NewToolResultError("question argument is required"), nil
	}

	opts := provider.Options{Model: argString(args, "model")}
	if t, ok := argFloat(args, "temperature"); ok {
		opts.Temperature = &t
	}

	resp, err := s.client.Ask(ctx, question, opts)
	if err != nil {
		logging.Error().Err(err).Msg("grok_ask failed")
		return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
	}
	return mcp.NewToolResultText(resp.Content), nil
}

func discussTool() mcp.Tool {
	return mcp.NewTool("grok_discuss",
		mcp.WithDescription("Start an extended discussion with Grok"),
		mcp.WithString("topic",
			mcp.Description("Discussion topic"),
		),
		mcp.WithString("context",
			mcp.Description("Optional context for the discussion"),
		),
		mcp.WithArray("context_files",
			mcp.Description("List of files, directories, or patterns. Supports: file paths, directories (with recursive/extension options), glob patterns ('**/*.py'), and line ranges"),
			mcp.Items(fileSpecItems()),
		),
		mcp.WithString("context_type",
			mcp.Description("Type of context"),
			mcp.Enum("code", "docs", "general"),
		),
		mcp.WithNumber("max_context_lines",
			mcp.Description("Maximum lines per file"),
		),
		mcp.WithNumber("max_total_context_lines",
			mcp.Description("Maximum total lines across all files"),
		),
		mcp.WithNumber("max_turns",
			mcp.Description("Maximum conversation turns"),
		),
		mcp.WithBoolean("expert_mode",
			mcp.Description("Include expert perspectives"),
		),
		mcp.WithNumber("page",
			mcp.Description("Page number for paginated results (1-based)"),
		),
		mcp.WithNumber("turns_per_page",
			mcp.Description("Number of turns to include per page"),
		),
		mcp.WithBoolean("paginate",
			mcp.Description("Enable pagination (default: true)"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session ID to continue an existing discussion"),
		),
	)
}

func (s *Server) handleDiscuss(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	req := session.DiscussRequest{
		SessionID:    argString(args, "session_id"),
		Topic:        argString(args, "topic"),
		Context:      argString(args, "context"),
		ContextType:  argString(args, "context_type"),
		ExpertMode:   argBool(args, "expert_mode", false),
		Page:         argInt(args, "page", 1),
		TurnsPerPage: argInt(args, "turns_per_page", 0),
		MaxTurns:     argInt(args, "max_turns", 0),
	}
	if req.ContextType == "" {
		req.ContextType = "general"
	}
	if v, ok := args["paginate"].(bool); ok {
		req.Paginate = &v
	}

	// Resolve file context before touching the session so a bad spec never
	// creates a half-initialized record.
	var specs []filectx.FileSpec
	var stats filectx.Stats
	if raw, ok := args["context_files"].([]any); ok && len(raw) > 0 {
		parsed, errs := filectx.ParseSpecs(raw)
		if len(errs) > 0 {
			return mcp.NewToolResultError("invalid context_files: " + strings.Join(errs, "; ")), nil
		}
		specs = parsed

		loader := filectx.Loader{
			MaxLinesPerFile: argInt(args, "max_context_lines", 100),
			MaxTotalLines:   argInt(args, "max_total_context_lines", 2000000),
			ContextType:     req.ContextType,
		}
		req.FileContext, stats = loader.Resolve(specs)
	}

	result, err := s.engine.Discuss(ctx, req)
	if err != nil {
		var pageErr *session.PageOutOfRangeError
		if errors.As(err, &pageErr) {
			return mcp.NewToolResultError(fmt.Sprintf("Error: Page %d exceeds total pages (%d)", pageErr.Page, pageErr.TotalPages)), nil
		}
		if errors.Is(err, session.ErrSessionNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("Error: Session %s not found", req.SessionID)), nil
		}
		logging.Error().Err(err).Msg("grok_discuss failed")
		return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
	}

	return mcp.NewToolResultText(renderDiscussion(result, specs, stats)), nil
}

// renderDiscussion formats a page of discussion for the MCP client.
func renderDiscussion(r *session.DiscussResult, specs []filectx.FileSpec, stats filectx.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Discussion on: %s\n", r.Topic)
	fmt.Fprintf(&b, "Session ID: %s\n", r.SessionID)

	if len(specs) > 0 {
		descs := make([]string, 0, len(specs))
		for _, spec := range specs {
			descs = append(descs, spec.Describe())
		}
		fmt.Fprintf(&b, "Context: %s\n", strings.Join(descs, ", "))
		if stats.FilesProcessed > 0 {
			fmt.Fprintf(&b, "Files loaded: %d, Total lines: %d\n", stats.FilesProcessed, stats.TotalLines)
		}
	}

	if r.Paginated {
		fmt.Fprintf(&b, "Page %d of %d (Turns %d-%d of %d)\n",
			r.Window.Page, r.Window.TotalPages, r.Window.Start+1, r.Window.End, r.TotalTurns)
	} else {
		fmt.Fprintf(&b, "Max turns: %d\n", r.TotalTurns)
	}
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	for _, turn := range r.Turns {
		fmt.Fprintf(&b, "Turn %d:\n%s\n\n", turn.Index+1, turn.Content)
		if turn.FollowUp != "" {
			fmt.Fprintf(&b, "Follow-up: %s\n\n", turn.FollowUp)
		}
	}

	if r.Paginated {
		b.WriteString("\n" + strings.Repeat("=", 50) + "\n")
		fmt.Fprintf(&b, "Page %d of %d\n", r.Window.Page, r.Window.TotalPages)
	}

	if r.NextPage > 0 {
		fmt.Fprintf(&b, "\nTo continue, use: grok_discuss with session_id='%s' and page=%d", r.SessionID, r.NextPage)
	} else {
		fmt.Fprintf(&b, "\nDiscussion completed. Session ID: %s", r.SessionID)
	}
	return b.String()
}

func continueTool() mcp.Tool {
	return mcp.NewTool("grok_continue_session",
		mcp.WithDescription("Continue a previous conversation"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session ID to continue"),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Your message to continue the conversation"),
		),
		mcp.WithArray("context_files",
			mcp.Description("Optional files, directories, or patterns. Supports: file paths, directories (with recursive/extension options), glob patterns ('**/*.py'), and line ranges"),
			mcp.Items(fileSpecItems()),
		),
		mcp.WithNumber("max_context_lines",
			mcp.Description("Maximum lines per file to include"),
		),
		mcp.WithNumber("max_total_context_lines",
			mcp.Description("Maximum total lines across all files"),
		),
	)
}

func (s *Server) handleContinue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	sessionID := argString(args, "session_id")
	message := argString(args, "message")
	if sessionID == "" || message == "" {
		return mcp.NewToolResultError("session_id and message arguments are required"), nil
	}

	fullMessage := message
	if raw, ok := args["context_files"].([]any); ok && len(raw) > 0 {
		specs, errs := filectx.ParseSpecs(raw)
		if len(errs) > 0 {
			return mcp.NewToolResultError("invalid context_files: " + strings.Join(errs, "; ")), nil
		}

		loader := filectx.Loader{
			MaxLinesPerFile: argInt(args, "max_context_lines", 500),
			MaxTotalLines:   argInt(args, "max_total_context_lines", 10000),
			ContextType:     "general",
		}
		content, stats := loader.Resolve(specs)
		if content != "" {
			fullMessage = fmt.Sprintf("%s\n\nContext from files:\n%s", message, content)
			if stats.FilesProcessed > 0 {
				fullMessage += fmt.Sprintf("\n\n[Loaded %d files, %d lines]", stats.FilesProcessed, stats.TotalLines)
			}
		}
	}

	resp, err := s.engine.Continue(ctx, sessionID, fullMessage)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("Session %s not found", sessionID)), nil
		}
		logging.Error().Str("session_id", sessionID).Err(err).Msg("grok_continue_session failed")
		return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
	}
	return mcp.NewToolResultText(resp.Content), nil
}

func listSessionsTool() mcp.Tool {
	return mcp.NewTool("grok_list_sessions",
		mcp.WithDescription("List conversation sessions"),
		mcp.WithString("status",
			mcp.Description("Filter by status"),
			mcp.Enum("active", "completed", "failed", "paused"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum sessions to return"),
		),
	)
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	summaries, err := s.engine.List(ctx, session.Status(argString(args, "status")), argInt(args, "limit", 10))
	if err != nil {
		logging.Error().Err(err).Msg("grok_list_sessions failed")
		return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
	}

	if len(summaries) == 0 {
		return mcp.NewToolResultText("No sessions found."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d session(s):\n\n", len(summaries))
	for _, sum := range summaries {
		fmt.Fprintf(&b, "ID: %s\n", sum.ID)
		fmt.Fprintf(&b, "Topic: %s\n", sum.Topic)
		fmt.Fprintf(&b, "Status: %s\n", sum.Status)
		fmt.Fprintf(&b, "Messages: %d\n", sum.MessageCount)
		fmt.Fprintf(&b, "Updated: %s\n", sum.UpdatedAt.Format(time.RFC3339))
		b.WriteString(strings.Repeat("-", 40) + "\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func healthTool() mcp.Tool {
	return mcp.NewTool("grok_health",
		mcp.WithDescription("Check server and API health status"),
		mcp.WithBoolean("verbose",
			mcp.Description("Include detailed diagnostics"),
		),
	)
}

func (s *Server) handleHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	verbose := argBool(request.GetArguments(), "verbose", false)
	uptime := int(time.Since(s.started).Seconds())

	apiStatus := "connected"
	latencyMS := -1
	start := time.Now()
	if _, err := s.client.Ask(ctx, "ping", provider.Options{MaxTokens: 1}); err != nil {
		apiStatus = "disconnected"
		logging.Error().Err(err).Msg("API health check failed")
	} else {
		latencyMS = int(time.Since(start).Milliseconds())
	}

	var b strings.Builder
	b.WriteString("Health Status:\n")
	b.WriteString("  Server: healthy\n")
	fmt.Fprintf(&b, "  API: %s\n", apiStatus)
	fmt.Fprintf(&b, "  Latency: %dms\n", latencyMS)
	fmt.Fprintf(&b, "  Uptime: %ds\n", uptime)

	if verbose {
		b.WriteString("\nDiagnostics:\n")
		fmt.Fprintf(&b, "  Version: %s\n", Version)
		b.WriteString("  Features: sessions, pagination, checkpoints, context\n")
		fmt.Fprintf(&b, "  Storage: %s\n", s.cfg.StoragePath)
		fmt.Fprintf(&b, "  Resident sessions: %d\n", s.engine.Resident())
		fmt.Fprintf(&b, "  Model: %s\n", s.cfg.Model)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// Argument extraction helpers. MCP arguments arrive as decoded JSON, so
// numbers are float64.

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func argFloat(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func argBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
