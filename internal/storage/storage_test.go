package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type testRecord struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func TestStore_SaveAndLoad(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	record := testRecord{ID: "abc", Topic: "caching", UpdatedAt: time.Now().UTC()}
	if err := s.Save(ctx, "abc", record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(s.Path(), "abc.json")); err != nil {
		t.Fatal("file was not created")
	}

	var got testRecord
	if err := s.Load(ctx, "abc", &got); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.ID != record.ID || got.Topic != record.Topic {
		t.Errorf("data mismatch: got %+v, want %+v", got, record)
	}
}

func TestStore_LoadNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var got testRecord
	if err := s.Load(context.Background(), "missing", &got); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestStore_SaveLeavesNoTempFile(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, "a", testRecord{ID: "a"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(ctx, "a", testRecord{ID: "a", Topic: "second write"}); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	entries, err := os.ReadDir(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestStore_Delete(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, "a", testRecord{ID: "a"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if s.Exists(ctx, "a") {
		t.Error("record still exists after Delete")
	}

	// Deleting a missing record is not an error.
	if err := s.Delete(ctx, "a"); err != nil {
		t.Errorf("Delete of missing record failed: %v", err)
	}
}

func TestStore_Scan(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Save(ctx, id, testRecord{ID: id}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	seen := map[string]bool{}
	err = s.Scan(ctx, func(id string, data json.RawMessage) error {
		var r testRecord
		if err := json.Unmarshal(data, &r); err != nil {
			t.Errorf("bad record %s: %v", id, err)
		}
		seen[id] = true
		return nil
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 records, saw %d", len(seen))
	}
}

func TestStore_List(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC()

	saves := []testRecord{
		{ID: "a", Status: "active", UpdatedAt: now.Add(-2 * time.Hour)},
		{ID: "b", Status: "completed", UpdatedAt: now.Add(-time.Hour)},
		{ID: "c", Status: "active", UpdatedAt: now},
	}
	for _, r := range saves {
		if err := s.Save(ctx, r.ID, r); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	all, err := s.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	for i, want := range []string{"c", "b", "a"} {
		if all[i].ID != want {
			t.Errorf("position %d: got %s, want %s (newest first)", i, all[i].ID, want)
		}
	}

	active, err := s.List(ctx, "active", 0)
	if err != nil {
		t.Fatalf("List with status failed: %v", err)
	}
	if len(active) != 2 || active[0].ID != "c" || active[1].ID != "a" {
		t.Errorf("unexpected active records: %+v", active)
	}

	limited, err := s.List(ctx, "", 2)
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "c" {
		t.Errorf("unexpected limited records: %+v", limited)
	}
}

func TestStore_DeleteOlderThan(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Save(ctx, "old", testRecord{ID: "old", UpdatedAt: now.Add(-48 * time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "fresh", testRecord{ID: "fresh", UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}

	removed, err := s.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if s.Exists(ctx, "old") {
		t.Error("old record should have been deleted")
	}
	if !s.Exists(ctx, "fresh") {
		t.Error("fresh record should survive")
	}
}

func TestStore_ConcurrentSaves(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := s.Save(ctx, "shared", testRecord{ID: "shared", UpdatedAt: time.Now()}); err != nil {
				t.Errorf("Save failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	var got testRecord
	if err := s.Load(ctx, "shared", &got); err != nil {
		t.Fatalf("Load after concurrent saves failed: %v", err)
	}
	if got.ID != "shared" {
		t.Errorf("unexpected record: %+v", got)
	}
}
