package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/xai-tools/grok-mcp/internal/event"
	"github.com/xai-tools/grok-mcp/internal/logging"
	"github.com/xai-tools/grok-mcp/internal/provider"
	"github.com/xai-tools/grok-mcp/internal/storage"
)

// EngineConfig wires an Engine. Store and Client are required; everything
// else falls back to sensible defaults.
type EngineConfig struct {
	Store  *storage.Store
	Client provider.Client
	Bus    *event.Bus
	Repair RepairPolicy

	// MaxResident bounds the in-memory session cache.
	MaxResident int
	// CheckpointInterval is the period between progress snapshots of an
	// active session.
	CheckpointInterval time.Duration

	// DefaultModel is used for sessions that do not pin a model.
	DefaultModel string

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine is the façade over the session subsystem: storage, the resident
// cache, checkpointing, repair, and turn generation all sit behind it.
// Callers outside this package hold only an *Engine.
type Engine struct {
	store  *storage.Store
	cache  *cache
	sched  *scheduler
	client provider.Client
	bus    *event.Bus
	repair RepairPolicy

	defaultModel string
	now          func() time.Time
}

// NewEngine builds the engine and its background machinery. Call Close when
// done.
func NewEngine(cfg EngineConfig) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		store:        cfg.Store,
		client:       cfg.Client,
		bus:          cfg.Bus,
		repair:       cfg.Repair,
		defaultModel: cfg.DefaultModel,
		now:          now,
	}
	e.sched = newScheduler(cfg.CheckpointInterval, e.checkpointTick)
	e.cache = newCache(cfg.MaxResident, cfg.Store, now, func(id string) {
		e.sched.Cancel(id)
		e.publish(event.SessionEvicted, id, nil)
	})
	return e
}

func (e *Engine) publish(t event.Type, id string, data any) {
	if e.bus != nil {
		e.bus.Publish(event.Event{Type: t, SessionID: id, Data: data})
	}
}

// Create builds an empty active session with the given topic and pagination
// configuration, persists it, and makes it resident with checkpointing
// running.
func (e *Engine) Create(ctx context.Context, topic string, pg PaginationConfig) (*Session, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	now := e.now()
	s := &Session{
		ID:            NewID("discuss"),
		Topic:         topic,
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
		MaxIterations: pg.MaxTurns,
		Pagination:    &pg,
	}
	s.Append("user", "Let's discuss: "+topic, now)
	if err := e.store.Save(ctx, s.ID, s); err != nil {
		return nil, fmt.Errorf("failed to persist new session: %w", err)
	}

	e.cache.insert(ctx, s)
	e.sched.Start(s.ID)
	e.publish(event.SessionCreated, s.ID, topic)
	return s.Clone(), nil
}

// Get returns a deep copy of the session, loading, repairing, and recovering
// it if it is not resident.
func (e *Engine) Get(ctx context.Context, id string) (*Session, error) {
	ent, err := e.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	ent.genMu.Lock()
	defer ent.genMu.Unlock()
	return ent.session.Clone(), nil
}

// acquire returns the resident entry for id, faulting it in from the store
// on a miss. Loaded records pass through repair and crash recovery before
// becoming resident.
func (e *Engine) acquire(ctx context.Context, id string) (*entry, error) {
	if ent := e.cache.lookup(id); ent != nil {
		return ent, nil
	}

	var s Session
	if err := e.store.Load(ctx, id, &s); err != nil {
		if err == storage.ErrNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	repaired := e.repair.Repair(&s)
	recovered := e.recover(&s)
	if repaired || recovered {
		s.UpdatedAt = e.now()
		if err := e.store.Save(ctx, id, &s); err != nil {
			logging.Warn().Str("session_id", id).Err(err).Msg("failed to persist repaired session")
		}
	}
	if repaired {
		logging.Info().Str("session_id", id).Msg("repaired legacy session record")
		e.publish(event.SessionRepaired, id, nil)
	}

	ent := e.cache.insert(ctx, &s)
	if ent.session.Status == StatusActive {
		e.sched.Start(id)
	}
	return ent, nil
}

// recover restores a session that was active when the process died: it rolls
// the progress counters back to the last checkpoint, clamped to what the
// transcript actually holds, and marks the record so operators can see the
// restart happened.
func (e *Engine) recover(s *Session) bool {
	if s.Status != StatusActive || len(s.Checkpoints) == 0 {
		return false
	}

	cp := s.Checkpoints[len(s.Checkpoints)-1]
	responses := len(s.AssistantMessages())
	iter := cp.Iteration
	if iter > responses {
		iter = responses
	}
	if iter == s.IterationsCompleted && s.Metadata["recovered"] == true {
		return false
	}

	s.IterationsCompleted = iter
	if cp.TokensUsed > 0 {
		s.TotalTokens = cp.TokensUsed
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	s.Metadata["recovered"] = true
	s.Metadata["recovery_time"] = e.now().Format(time.RFC3339)

	logging.Info().Str("session_id", s.ID).Int("iteration", iter).
		Msg("recovered session from last checkpoint")
	return true
}

// checkpointTick snapshots one session's progress. Sessions mid-generation
// are skipped rather than waited on; the generation path persists on its
// own.
func (e *Engine) checkpointTick(ctx context.Context, id string) bool {
	ent := e.cache.peek(id)
	if ent == nil {
		return false
	}
	if !ent.genMu.TryLock() {
		return true
	}
	defer ent.genMu.Unlock()

	s := ent.session
	if s.Status != StatusActive {
		return false
	}

	now := e.now()
	s.Checkpoints = append(s.Checkpoints, Checkpoint{
		Timestamp:      now,
		Iteration:      s.IterationsCompleted,
		Status:         s.Status,
		TokensUsed:     s.TotalTokens,
		ResponsesCount: len(s.AssistantMessages()),
	})
	s.LastCheckpoint = &now

	if err := e.store.Save(ctx, id, s); err != nil {
		logging.Error().Str("session_id", id).Err(err).Msg("failed to persist checkpoint")
		return true
	}

	logging.Debug().Str("session_id", id).Int("iteration", s.IterationsCompleted).Msg("checkpoint saved")
	e.publish(event.SessionCheckpoint, id, s.IterationsCompleted)
	return true
}

// DiscussRequest drives one page of a paginated discussion. An empty
// SessionID creates a new session, which requires Topic. File context is
// resolved by the caller; only the assembled text crosses this boundary.
type DiscussRequest struct {
	SessionID string
	Topic     string

	// Context is freeform extra context appended to the opening prompt.
	Context string
	// FileContext is the assembled file context text, empty when none.
	FileContext string
	ContextType string

	ExpertMode bool

	Page         int
	TurnsPerPage int
	MaxTurns     int
	Paginate     *bool

	Model       string
	Temperature *float64
}

// Turn is one assistant reply within a page, with the follow-up that drove
// the next turn.
type Turn struct {
	Index    int
	Content  string
	FollowUp string
	Replayed bool
}

// DiscussResult is everything the transport needs to render a page.
type DiscussResult struct {
	SessionID  string
	Topic      string
	Created    bool
	Paginated  bool
	Window     Window
	Turns      []Turn
	Completed  bool
	NextPage   int
	TotalTurns int
}

// Discuss runs or replays the requested page of a discussion. Already
// generated turns are replayed verbatim from the transcript; only missing
// turns hit the model. Reaching past the last turn completes the session.
func (e *Engine) Discuss(ctx context.Context, req DiscussRequest) (*DiscussResult, error) {
	var (
		ent     *entry
		created bool
		err     error
	)

	if req.SessionID == "" {
		if req.Topic == "" {
			return nil, fmt.Errorf("topic is required when creating a new discussion")
		}
		ent, err = e.createDiscussion(ctx, req)
		created = true
	} else {
		ent, err = e.acquire(ctx, req.SessionID)
	}
	if err != nil {
		return nil, err
	}

	ent.genMu.Lock()
	defer ent.genMu.Unlock()

	s := ent.session
	pg := s.Pagination
	if pg == nil {
		pg = &PaginationConfig{}
		s.Pagination = pg
	}

	// Explicit request values override what the session stored.
	turnsPerPage := pg.TurnsPerPage
	if req.TurnsPerPage > 0 {
		turnsPerPage = req.TurnsPerPage
	}
	if turnsPerPage <= 0 {
		turnsPerPage = 2
	}
	maxTurns := pg.MaxTurns
	if req.MaxTurns > 0 {
		maxTurns = req.MaxTurns
	}
	if maxTurns <= 0 {
		maxTurns = 3
	}
	paginate := pg.Paginated()
	if req.Paginate != nil {
		paginate = *req.Paginate
	}

	// A raised turn limit becomes the session's limit, so the iteration
	// counter never runs past max_iterations. Finished sessions are replay
	// only and keep their record as is.
	if maxTurns > s.MaxIterations && s.Status != StatusCompleted && s.Status != StatusFailed {
		s.MaxIterations = maxTurns
		if pg.MaxTurns < maxTurns {
			pg.MaxTurns = maxTurns
		}
		s.UpdatedAt = e.now()
		if err := e.store.Save(ctx, s.ID, s); err != nil {
			logging.Warn().Str("session_id", s.ID).Err(err).Msg("failed to persist raised turn limit")
		}
	}

	window, err := ComputeWindow(req.Page, turnsPerPage, maxTurns, paginate)
	if err != nil {
		return nil, err
	}

	if s.Status == StatusCompleted || s.Status == StatusFailed {
		// Replays of finished discussions are fine; generating is not.
		if window.End > len(s.AssistantMessages()) {
			return nil, &InvalidTransitionError{Op: "continue", From: s.Status}
		}
	}

	result := &DiscussResult{
		SessionID:  s.ID,
		Topic:      s.Topic,
		Created:    created,
		Paginated:  paginate,
		Window:     window,
		TotalTurns: maxTurns,
	}

	opts := provider.Options{Model: e.modelFor(pg, req.Model), Temperature: req.Temperature}

	for turn := window.Start; turn < window.End; turn++ {
		assistants := s.AssistantMessages()
		if turn < len(assistants) {
			result.Turns = append(result.Turns, e.replayTurn(s, turn, assistants))
			continue
		}

		out, err := e.generateTurn(ctx, s, turn, maxTurns, opts)
		if err != nil {
			e.publish(event.SessionFailed, s.ID, err.Error())
			return nil, fmt.Errorf("turn %d: %w", turn+1, err)
		}
		result.Turns = append(result.Turns, out)
	}

	if window.Last() && s.Status == StatusActive {
		e.completeLocked(ctx, s)
		result.Completed = true
	} else if !window.Last() {
		result.NextPage = window.Page + 1
	}
	result.Completed = result.Completed || s.Status == StatusCompleted

	e.publish(event.SessionUpdated, s.ID, nil)
	return result, nil
}

// createDiscussion builds the session record, its opening prompt, and makes
// it resident with checkpointing running.
func (e *Engine) createDiscussion(ctx context.Context, req DiscussRequest) (*entry, error) {
	now := e.now()
	paginate := true
	if req.Paginate != nil {
		paginate = *req.Paginate
	}

	turnsPerPage := req.TurnsPerPage
	if turnsPerPage <= 0 {
		turnsPerPage = 2
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 3
	}

	s := &Session{
		ID:            NewID("discuss"),
		Topic:         req.Topic,
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
		MaxIterations: maxTurns,
		Pagination: &PaginationConfig{
			TurnsPerPage:   turnsPerPage,
			MaxTurns:       maxTurns,
			Paginate:       &paginate,
			Model:          e.modelFor(nil, req.Model),
			ContextType:    req.ContextType,
			ExpertMode:     req.ExpertMode,
			HasFileContext: req.FileContext != "",
		},
	}

	prompt := "Let's discuss: " + req.Topic
	if req.FileContext != "" {
		prompt = ContextualPrompt(prompt, req.FileContext, req.ContextType)
	}
	if req.Context != "" {
		prompt += "\n\nAdditional context: " + req.Context
	}
	if req.ExpertMode {
		prompt += "\n\nPlease provide expert-level insights with multiple perspectives."
	}
	s.Append("user", prompt, now)

	if err := e.store.Save(ctx, s.ID, s); err != nil {
		return nil, fmt.Errorf("failed to persist new session: %w", err)
	}

	ent := e.cache.insert(ctx, s)
	e.sched.Start(s.ID)
	e.publish(event.SessionCreated, s.ID, req.Topic)
	logging.Info().Str("session_id", s.ID).Str("topic", req.Topic).Msg("discussion session created")
	return ent, nil
}

// replayTurn reads an already generated turn out of the transcript.
func (e *Engine) replayTurn(s *Session, turn int, assistants []Message) Turn {
	out := Turn{Index: turn, Content: assistants[turn].Content, Replayed: true}
	users := s.UserMessages()
	// users[0] is the opening prompt; the follow-up after turn i is users[i+1].
	if turn+1 < len(users) {
		out.FollowUp = users[turn+1].Content
	}
	return out
}

// generateTurn produces one new assistant turn, appends the follow-up that
// seeds the next turn unless this was the session's final turn, and persists
// the transcript.
func (e *Engine) generateTurn(ctx context.Context, s *Session, turn, maxTurns int, opts provider.Options) (Turn, error) {
	resp, err := e.client.AskWithHistory(ctx, providerMessages(s), opts)
	if err != nil {
		return Turn{}, err
	}

	now := e.now()
	s.Append("assistant", resp.Content, now)
	s.IterationsCompleted++
	s.TotalTokens += resp.TokensUsed
	s.QualityScores = append(s.QualityScores, QualityScore(resp.Content))

	out := Turn{Index: turn, Content: resp.Content}
	if turn < maxTurns-1 {
		pg := s.Pagination
		out.FollowUp = FollowUp(pg.ExpertMode, pg.HasFileContext)
		s.Append("user", out.FollowUp, now)
	}

	if err := e.store.Save(ctx, s.ID, s); err != nil {
		logging.Error().Str("session_id", s.ID).Err(err).Msg("failed to persist turn")
	}
	return out, nil
}

// completeLocked finishes a session; the caller holds its generation lock.
func (e *Engine) completeLocked(ctx context.Context, s *Session) {
	s.Status = StatusCompleted
	s.UpdatedAt = e.now()
	if err := e.store.Save(ctx, s.ID, s); err != nil {
		logging.Error().Str("session_id", s.ID).Err(err).Msg("failed to persist completed session")
	}
	e.sched.Cancel(s.ID)
	e.publish(event.SessionCompleted, s.ID, s.IterationsCompleted)
	logging.Info().Str("session_id", s.ID).Int("turns", s.IterationsCompleted).Msg("discussion completed")
}

// Continue appends a user message to an existing session and returns the
// model's reply. Completed and failed sessions cannot be continued.
func (e *Engine) Continue(ctx context.Context, id, message string) (*provider.Response, error) {
	ent, err := e.acquire(ctx, id)
	if err != nil {
		return nil, err
	}

	ent.genMu.Lock()
	defer ent.genMu.Unlock()

	s := ent.session
	if s.Status == StatusCompleted || s.Status == StatusFailed {
		return nil, &InvalidTransitionError{Op: "continue", From: s.Status}
	}

	s.Append("user", message, e.now())
	resp, err := e.client.AskWithHistory(ctx, providerMessages(s), provider.Options{Model: e.modelFor(s.Pagination, "")})
	if err != nil {
		// Leave the user message in place so a retry resends it.
		if saveErr := e.store.Save(ctx, id, s); saveErr != nil {
			logging.Error().Str("session_id", id).Err(saveErr).Msg("failed to persist session")
		}
		e.publish(event.SessionFailed, id, err.Error())
		return nil, err
	}

	s.Append("assistant", resp.Content, e.now())
	s.TotalTokens += resp.TokensUsed
	if err := e.store.Save(ctx, id, s); err != nil {
		logging.Error().Str("session_id", id).Err(err).Msg("failed to persist session")
	}
	e.publish(event.SessionUpdated, id, nil)
	return resp, nil
}

// Pause suspends an active session. Its checkpoint task stops until Resume.
func (e *Engine) Pause(ctx context.Context, id string) error {
	if err := e.transition(ctx, id, "pause", StatusActive, StatusPaused); err != nil {
		return err
	}
	e.sched.Cancel(id)
	return nil
}

// Resume reactivates a paused session and restarts checkpointing.
func (e *Engine) Resume(ctx context.Context, id string) error {
	if err := e.transition(ctx, id, "resume", StatusPaused, StatusActive); err != nil {
		return err
	}
	e.sched.Start(id)
	return nil
}

func (e *Engine) transition(ctx context.Context, id, op string, from, to Status) error {
	ent, err := e.acquire(ctx, id)
	if err != nil {
		return err
	}

	ent.genMu.Lock()
	defer ent.genMu.Unlock()

	s := ent.session
	if s.Status != from {
		return &InvalidTransitionError{Op: op, From: s.Status}
	}
	s.Status = to
	s.UpdatedAt = e.now()
	if err := e.store.Save(ctx, id, s); err != nil {
		s.Status = from
		return fmt.Errorf("failed to persist %s: %w", op, err)
	}
	e.publish(event.SessionUpdated, id, string(to))
	return nil
}

// List returns session summaries newest first, optionally filtered by
// status. Resident sessions take precedence over their stored copies.
func (e *Engine) List(ctx context.Context, status Status, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 10
	}

	records, err := e.store.List(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Summary, len(records))
	for _, rec := range records {
		var s Session
		if err := json.Unmarshal(rec.Data, &s); err != nil {
			logging.Warn().Str("session_id", rec.ID).Err(err).Msg("skipping unreadable session record")
			continue
		}
		byID[s.ID] = s.Summarize()
	}

	for _, id := range e.cache.residents() {
		ent := e.cache.peek(id)
		if ent == nil {
			continue
		}
		// Summarize only under the generation lock; a session mid-generation
		// is represented by its stored copy instead.
		if !ent.genMu.TryLock() {
			continue
		}
		byID[id] = ent.session.Summarize()
		ent.genMu.Unlock()
	}

	summaries := make([]Summary, 0, len(byID))
	for _, sum := range byID {
		if status != "" && sum.Status != status {
			continue
		}
		summaries = append(summaries, sum)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// EvictIdle flushes and drops residents not touched since the cutoff,
// returning how many were evicted. Active sessions stay resident.
func (e *Engine) EvictIdle(ctx context.Context, cutoff time.Time) int {
	evicted := 0
	for _, id := range e.cache.idleEntries(cutoff) {
		ent := e.cache.peek(id)
		if ent == nil {
			continue
		}
		if !ent.genMu.TryLock() {
			continue
		}
		if err := e.store.Save(ctx, id, ent.session); err != nil {
			logging.Error().Str("session_id", id).Err(err).Msg("failed to flush idle session")
			ent.genMu.Unlock()
			continue
		}
		e.cache.remove(id)
		ent.genMu.Unlock()
		e.sched.Cancel(id)
		e.publish(event.SessionEvicted, id, "idle")
		evicted++
	}
	return evicted
}

// RemoveExpired deletes stored sessions older than maxAge, returning the
// count removed.
func (e *Engine) RemoveExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	return e.store.DeleteOlderThan(ctx, e.now().Add(-maxAge))
}

// Resident returns how many sessions are currently in memory.
func (e *Engine) Resident() int {
	return e.cache.len()
}

// Close stops checkpointing and flushes every resident session.
func (e *Engine) Close(ctx context.Context) error {
	e.sched.Close()

	var firstErr error
	for _, id := range e.cache.residents() {
		ent := e.cache.peek(id)
		if ent == nil {
			continue
		}
		ent.genMu.Lock()
		if err := e.store.Save(ctx, id, ent.session); err != nil && firstErr == nil {
			firstErr = err
		}
		ent.genMu.Unlock()
		e.cache.remove(id)
	}
	return firstErr
}

// modelFor resolves the model to use: an explicit override, then the
// session's pinned model, then the engine default.
func (e *Engine) modelFor(pg *PaginationConfig, override string) string {
	if override != "" {
		return override
	}
	if pg != nil && pg.Model != "" {
		return pg.Model
	}
	return e.defaultModel
}

// providerMessages projects the transcript into the wire shape.
func providerMessages(s *Session) []provider.Message {
	out := make([]provider.Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, provider.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
