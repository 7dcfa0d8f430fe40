// Package session implements the conversation session engine: durable
// multi-turn discussions with a bounded resident cache, periodic
// checkpointing, legacy-record repair, and turn-window pagination.
package session

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Message is one entry in a session's transcript. The transcript is
// append-only.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Checkpoint is a periodic snapshot of session progress used for crash
// recovery. Checkpoints are append-only and non-decreasing by timestamp.
type Checkpoint struct {
	Timestamp      time.Time `json:"timestamp"`
	Iteration      int       `json:"iteration"`
	Status         Status    `json:"status"`
	TokensUsed     int       `json:"tokens_used"`
	ResponsesCount int       `json:"responses_count"`
}

// PaginationConfig is the discussion configuration a session was created
// with. Once stored it is reused on every later page fetch without the
// caller re-supplying it. Absent fields on legacy records are filled by
// Repair.
type PaginationConfig struct {
	TurnsPerPage int   `json:"turns_per_page,omitempty"`
	MaxTurns     int   `json:"max_turns,omitempty"`
	Paginate     *bool `json:"paginate,omitempty"`

	Model                string `json:"model,omitempty"`
	MaxContextLines      int    `json:"max_context_lines,omitempty"`
	MaxTotalContextLines int    `json:"max_total_context_lines,omitempty"`
	ContextType          string `json:"context_type,omitempty"`

	// ExpertMode and HasFileContext pin the follow-up synthesis so replayed
	// pages are byte-identical to the originals.
	ExpertMode     bool `json:"expert_mode,omitempty"`
	HasFileContext bool `json:"has_file_context,omitempty"`
}

// Paginated reports whether pagination is enabled; absent means enabled.
func (p *PaginationConfig) Paginated() bool {
	return p == nil || p.Paginate == nil || *p.Paginate
}

// Session is the central entity: one multi-turn discussion.
type Session struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages            []Message `json:"messages"`
	IterationsCompleted int       `json:"iterations_completed"`
	MaxIterations       int       `json:"max_iterations"`

	Pagination *PaginationConfig `json:"pagination,omitempty"`

	Checkpoints    []Checkpoint `json:"checkpoints,omitempty"`
	LastCheckpoint *time.Time   `json:"last_checkpoint,omitempty"`

	TotalTokens   int            `json:"total_tokens"`
	QualityScores []float64      `json:"quality_scores,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Summary is the listing view of a stored session.
type Summary struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Iterations   int       `json:"iterations"`
	MessageCount int       `json:"message_count"`
}

// NewID generates a session id with a type prefix, e.g. "discuss_01J...".
func NewID(prefix string) string {
	if prefix == "" {
		prefix = "session"
	}
	return prefix + "_" + ulid.Make().String()
}

// Append adds a message to the transcript and advances updated_at.
func (s *Session) Append(role, content string, now time.Time) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: now})
	s.UpdatedAt = now
}

// AssistantMessages returns the transcript's assistant messages in order.
func (s *Session) AssistantMessages() []Message {
	var out []Message
	for _, m := range s.Messages {
		if m.Role == "assistant" {
			out = append(out, m)
		}
	}
	return out
}

// UserMessages returns the transcript's user messages in order.
func (s *Session) UserMessages() []Message {
	var out []Message
	for _, m := range s.Messages {
		if m.Role == "user" {
			out = append(out, m)
		}
	}
	return out
}

// Clone returns a deep copy safe to hand outside the engine.
func (s *Session) Clone() *Session {
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	out.Checkpoints = append([]Checkpoint(nil), s.Checkpoints...)
	out.QualityScores = append([]float64(nil), s.QualityScores...)
	if s.Pagination != nil {
		pg := *s.Pagination
		if s.Pagination.Paginate != nil {
			b := *s.Pagination.Paginate
			pg.Paginate = &b
		}
		out.Pagination = &pg
	}
	if s.LastCheckpoint != nil {
		t := *s.LastCheckpoint
		out.LastCheckpoint = &t
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Summarize returns the listing view of the session.
func (s *Session) Summarize() Summary {
	return Summary{
		ID:           s.ID,
		Topic:        s.Topic,
		Status:       s.Status,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		Iterations:   s.IterationsCompleted,
		MessageCount: len(s.Messages),
	}
}

// qualityTerms are markers of actionable technical content.
var qualityTerms = []string{
	"implement", "function", "class", "method", "algorithm",
	"optimize", "architecture", "performance", "security",
}

// QualityScore rates a response between 0 and 1 from surface heuristics:
// length, code fences, headings, lists, and technical vocabulary. Used for
// reporting only.
func QualityScore(response string) float64 {
	score := 0.0
	factors := 0

	if len(response) > 100 {
		score += 0.2
		factors++
	}
	if strings.Contains(response, "```") {
		score += 0.3
		factors++
	}
	if strings.Contains(response, "#") {
		score += 0.2
		factors++
	}
	if strings.Contains(response, "- ") || strings.Contains(response, "* ") || strings.Contains(response, "1. ") {
		score += 0.15
		factors++
	}
	lower := strings.ToLower(response)
	for _, term := range qualityTerms {
		if strings.Contains(lower, term) {
			score += 0.15
			factors++
			break
		}
	}

	if factors == 0 {
		return 0.3
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}
