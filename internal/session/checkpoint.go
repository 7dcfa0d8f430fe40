package session

import (
	"context"
	"sync"
	"time"

	"github.com/xai-tools/grok-mcp/internal/logging"
)

// TickFunc snapshots one session. It reports whether the session still
// warrants periodic checkpoints; returning false ends the task.
type TickFunc func(ctx context.Context, id string) (keepGoing bool)

// scheduler runs at most one background checkpoint task per session id.
// Starting an id that already has a task is a no-op, so concurrent resumes
// never double up.
type scheduler struct {
	mu       sync.Mutex
	interval time.Duration
	tick     TickFunc
	tasks    map[string]context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

func newScheduler(interval time.Duration, tick TickFunc) *scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &scheduler{
		interval: interval,
		tick:     tick,
		tasks:    make(map[string]context.CancelFunc),
	}
}

// Start launches the periodic task for id, reporting whether a new task was
// created.
func (s *scheduler) Start(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.tasks[id]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.tasks[id] = cancel
	s.wg.Add(1)
	go s.run(ctx, id)

	logging.Debug().Str("session_id", id).Dur("interval", s.interval).Msg("checkpoint task started")
	return true
}

// Cancel stops the task for id if one is running.
func (s *scheduler) Cancel(id string) {
	s.mu.Lock()
	cancel, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if ok {
		cancel()
	}
}

// Running reports whether a task exists for id.
func (s *scheduler) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// Close cancels every task and waits for them to drain.
func (s *scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	cancels := make([]context.CancelFunc, 0, len(s.tasks))
	for id, cancel := range s.tasks {
		cancels = append(cancels, cancel)
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.wg.Wait()
}

func (s *scheduler) run(ctx context.Context, id string) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.tick(ctx, id) {
				s.mu.Lock()
				if cancel, ok := s.tasks[id]; ok {
					delete(s.tasks, id)
					defer cancel()
				}
				s.mu.Unlock()
				logging.Debug().Str("session_id", id).Msg("checkpoint task stopped")
				return
			}
		}
	}
}
