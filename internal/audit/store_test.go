package audit

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Timestamp: base, RequestID: "r1", Transcript: "open calculator", Kind: "function_call",
			ToolsOffered: []string{"open-calculator"}, Result: "Executed open-calculator: ok", Elapsed: 1500 * time.Millisecond},
		{Timestamp: base.Add(time.Minute), RequestID: "r2", Transcript: "what time is it", Kind: "text", Result: "Noon."},
		{Timestamp: base.Add(2 * time.Minute), RequestID: "r3", Transcript: "boom", Kind: "error", Error: "quota exceeded"},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].RequestID != "r3" || got[1].RequestID != "r2" {
		t.Errorf("order = %s, %s; want newest first", got[0].RequestID, got[1].RequestID)
	}
	if got[0].Error != "quota exceeded" || got[0].ID == "" {
		t.Errorf("entry = %+v", got[0])
	}

	all, _ := s.Recent(ctx, 10)
	first := all[len(all)-1]
	if len(first.ToolsOffered) != 1 || first.ToolsOffered[0] != "open-calculator" {
		t.Errorf("ToolsOffered = %v", first.ToolsOffered)
	}
	if first.Elapsed != 1500*time.Millisecond {
		t.Errorf("Elapsed = %v", first.Elapsed)
	}
	if !first.Timestamp.Equal(base) {
		t.Errorf("Timestamp = %v, want %v", first.Timestamp, base)
	}
}

func TestCountByKind(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	for _, k := range []string{"plan", "plan", "text", "empty"} {
		if err := s.Record(ctx, Entry{RequestID: "r", Transcript: "t", Kind: k}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.CountByKind(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got["plan"] != 2 || got["text"] != 1 || got["empty"] != 1 {
		t.Errorf("counts = %v", got)
	}
}

func TestRecord_Concurrent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Record(ctx, Entry{RequestID: "r", Transcript: "t", Kind: "text"}); err != nil {
				t.Errorf("Record: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.Recent(ctx, 100)
	if len(got) != 20 {
		t.Errorf("entries = %d, want 20", len(got))
	}
}

func TestOpen_File(t *testing.T) {
	path := t.TempDir() + "/audit.db"
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Record(context.Background(), Entry{RequestID: "r", Transcript: "t", Kind: "text"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
}
