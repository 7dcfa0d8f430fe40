// Package server assembles the MCP server: tool registration, the session
// engine behind the tools, and the background retention janitor.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/robfig/cron/v3"

	"github.com/xai-tools/grok-mcp/internal/config"
	"github.com/xai-tools/grok-mcp/internal/event"
	"github.com/xai-tools/grok-mcp/internal/logging"
	"github.com/xai-tools/grok-mcp/internal/provider"
	"github.com/xai-tools/grok-mcp/internal/session"
	"github.com/xai-tools/grok-mcp/internal/storage"
)

// Version is reported by the health tool.
const Version = "0.8.0"

// Server owns every long-lived component. There is no package-level state;
// tests build as many Servers as they like.
type Server struct {
	cfg     *config.Config
	client  provider.Client
	engine  *session.Engine
	bus     *event.Bus
	mcp     *server.MCPServer
	cron    *cron.Cron
	started time.Time
}

// New builds a fully wired server from configuration.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := provider.NewGrok(ctx, provider.GrokConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider client: %w", err)
	}

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		return nil, err
	}

	return build(cfg, client, store), nil
}

// build wires a server from already constructed collaborators. Split from
// New so tests can inject a fake client.
func build(cfg *config.Config, client provider.Client, store *storage.Store) *Server {
	bus := event.NewBus()
	engine := session.NewEngine(session.EngineConfig{
		Store:              store,
		Client:             client,
		Bus:                bus,
		Repair:             repairPolicy(cfg.Repair),
		MaxResident:        cfg.MaxResidentSessions,
		CheckpointInterval: cfg.CheckpointInterval,
		DefaultModel:       cfg.Model,
	})

	s := &Server{
		cfg:     cfg,
		client:  client,
		engine:  engine,
		bus:     bus,
		started: time.Now(),
	}
	s.mcp = s.buildMCP()

	bus.SubscribeAll(func(ev event.Event) {
		logging.Debug().Str("event", string(ev.Type)).Str("session_id", ev.SessionID).Msg("session event")
	})

	return s
}

func repairPolicy(rc config.RepairConfig) session.RepairPolicy {
	p := session.DefaultRepairPolicy()
	if rc.DefaultModel != "" {
		p.DefaultModel = rc.DefaultModel
	}
	if rc.DefaultContextLines > 0 {
		p.DefaultContextLines = rc.DefaultContextLines
	}
	if rc.LargeContextModel != "" {
		p.LargeContextModel = rc.LargeContextModel
	}
	if rc.LargeContextLines > 0 {
		p.LargeContextLines = rc.LargeContextLines
	}
	if len(rc.LargeContextMarkers) > 0 {
		p.LargeContextMarkers = rc.LargeContextMarkers
	}
	return p
}

// buildMCP registers every tool on a fresh MCP server.
func (s *Server) buildMCP() *server.MCPServer {
	m := server.NewMCPServer(
		"grok-mcp",
		Version,
		server.WithToolCapabilities(true),
	)

	m.AddTool(askTool(), s.handleAsk)
	m.AddTool(discussTool(), s.handleDiscuss)
	m.AddTool(continueTool(), s.handleContinue)
	m.AddTool(listSessionsTool(), s.handleListSessions)
	m.AddTool(healthTool(), s.handleHealth)

	return m
}

// Engine exposes the session engine for the CLI subcommands.
func (s *Server) Engine() *session.Engine {
	return s.engine
}

// Serve runs the MCP server over stdio until the client disconnects, with
// the retention janitor running alongside.
func (s *Server) Serve(ctx context.Context) error {
	s.startJanitor()
	defer s.Close(ctx)

	logging.Info().Str("version", Version).Str("storage", s.cfg.StoragePath).Msg("serving MCP over stdio")
	return server.ServeStdio(s.mcp)
}

// startJanitor schedules retention cleanup: stored sessions past their
// retention age are deleted, idle residents are flushed out of memory.
func (s *Server) startJanitor() {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.CleanupSchedule, func() {
		ctx := context.Background()

		removed, err := s.engine.RemoveExpired(ctx, s.cfg.RetentionMaxAge)
		if err != nil {
			logging.Error().Err(err).Msg("retention cleanup failed")
		} else if removed > 0 {
			logging.Info().Int("removed", removed).Msg("deleted expired sessions")
		}

		evicted := s.engine.EvictIdle(ctx, time.Now().Add(-s.cfg.InactivityTimeout))
		if evicted > 0 {
			logging.Info().Int("evicted", evicted).Msg("evicted idle sessions")
		}
	})
	if err != nil {
		logging.Error().Str("schedule", s.cfg.CleanupSchedule).Err(err).Msg("invalid cleanup schedule, janitor disabled")
		return
	}
	s.cron.Start()
}

// Close flushes resident sessions and stops background work.
func (s *Server) Close(ctx context.Context) error {
	if s.cron != nil {
		s.cron.Stop()
	}
	err := s.engine.Close(ctx)
	s.bus.Close()
	return err
}
