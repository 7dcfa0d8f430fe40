// Package storage provides durable file-backed persistence for session
// records: one JSON file per session, overwritten whole on every save.
//
// Writes go through a temp file and rename so a reader never observes a
// half-written record, and are serialized per file with an flock.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("not found")

// Store persists session records under a single directory.
type Store struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*FileLock
}

// New creates a Store rooted at basePath, creating the directory if needed.
func New(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Store{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}, nil
}

// Path returns the storage directory.
func (s *Store) Path() string {
	return s.basePath
}

func (s *Store) fileFor(id string) string {
	return filepath.Join(s.basePath, id+".json")
}

// Save overwrites the record for id with v. The write is atomic from the
// caller's point of view.
func (s *Store) Save(ctx context.Context, id string, v any) error {
	filePath := s.fileFor(id)

	lock := s.lockFor(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Load reads the record for id into v. A missing file is ErrNotFound.
func (s *Store) Load(ctx context.Context, id string, v any) error {
	data, err := os.ReadFile(s.fileFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read file: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}

	return nil
}

// Exists reports whether a record exists for id.
func (s *Store) Exists(ctx context.Context, id string) bool {
	_, err := os.Stat(s.fileFor(id))
	return err == nil
}

// Delete removes the record for id. Deleting a missing record is not an
// error.
func (s *Store) Delete(ctx context.Context, id string) error {
	filePath := s.fileFor(id)

	lock := s.lockFor(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// Scan iterates over every stored record, passing the raw JSON to fn.
// Files that cannot be read are skipped.
func (s *Store) Scan(ctx context.Context, fn func(id string, data json.RawMessage) error) error {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.basePath, name))
		if err != nil {
			continue
		}

		id := strings.TrimSuffix(name, ".json")
		if err := fn(id, json.RawMessage(data)); err != nil {
			return err
		}
	}

	return nil
}

// Record is one stored file: the record id plus its raw JSON.
type Record struct {
	ID   string
	Data json.RawMessage
}

// List returns stored records newest first by updated_at, optionally
// filtered by status. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, status string, limit int) ([]Record, error) {
	type candidate struct {
		rec       Record
		updatedAt time.Time
	}

	var all []candidate
	err := s.Scan(ctx, func(id string, data json.RawMessage) error {
		var ts stamped
		if err := json.Unmarshal(data, &ts); err != nil {
			return nil
		}
		if status != "" && ts.Status != status {
			return nil
		}
		all = append(all, candidate{rec: Record{ID: id, Data: data}, updatedAt: ts.UpdatedAt})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].updatedAt.After(all[j].updatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	out := make([]Record, 0, len(all))
	for _, c := range all {
		out = append(out, c.rec)
	}
	return out, nil
}

// stamped is the slice of a record needed to judge its age and status.
type stamped struct {
	UpdatedAt time.Time `json:"updated_at"`
	Status    string    `json:"status"`
}

// DeleteOlderThan removes every record whose updated_at timestamp is before
// the cutoff, returning the number deleted. Records whose timestamp cannot
// be parsed fall back to the file modification time.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		filePath := filepath.Join(s.basePath, entry.Name())
		var ts stamped
		age := time.Time{}
		if data, err := os.ReadFile(filePath); err == nil {
			if json.Unmarshal(data, &ts) == nil && !ts.UpdatedAt.IsZero() {
				age = ts.UpdatedAt
			}
		}
		if age.IsZero() {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			age = info.ModTime()
		}

		if age.Before(cutoff) {
			id := strings.TrimSuffix(entry.Name(), ".json")
			if err := s.Delete(ctx, id); err == nil {
				removed++
			}
		}
	}

	return removed, nil
}

// lockFor returns the lock guarding a file path.
func (s *Store) lockFor(filePath string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[filePath]
	if !ok {
		lock = NewFileLock(filePath)
		s.locks[filePath] = lock
	}

	return lock
}
