package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const waitTimeout = 5 * time.Second

func waitChange(t *testing.T, ch <-chan Change, key string) Change {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				t.Fatalf("change feed closed while waiting for %q", key)
			}
			if c.Key == key {
				return c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for change on %q", key)
		}
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if err := WaitReady(ctx, s); err != nil {
		t.Fatalf("WaitReady error: %v", err)
	}
	if s.State() != StateReady {
		t.Fatalf("expected ready state, got %s", s.State())
	}

	value, err := s.Get(ctx, "missing")
	if err != nil || value != nil {
		t.Fatalf("expected absent key, got %q (%v)", value, err)
	}

	changes, cancel := s.Subscribe()
	defer cancel()

	if err := s.Set(ctx, "doc", []byte(`{"state":{"pages":[]}}`)); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if c := waitChange(t, changes, "doc"); c.Area != AreaLocal {
		t.Fatalf("expected local area, got %q", c.Area)
	}

	value, err = s.Get(ctx, "doc")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(value) != `{"state":{"pages":[]}}` {
		t.Fatalf("unexpected value %s", value)
	}

	if err := s.Remove(ctx, "doc"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	waitChange(t, changes, "doc")
	if value, _ := s.Get(ctx, "doc"); value != nil {
		t.Fatalf("expected removed key, got %s", value)
	}
	if err := s.Remove(ctx, "doc"); err != nil {
		t.Fatalf("second Remove error: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory(AreaLocal)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"), Options{})
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestFileStore(t *testing.T) {
	s, err := OpenFile(filepath.Join(t.TempDir(), "state.json"), Options{})
	if err != nil {
		t.Fatalf("OpenFile error: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestLoadingStoreBlocksReads(t *testing.T) {
	s := NewLoadingMemory(AreaLocal)
	defer s.Close()

	if s.State() != StateLoading {
		t.Fatalf("expected loading state, got %s", s.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Get(ctx, "doc"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected read to wait for readiness, got %v", err)
	}

	s.MarkReady(nil)
	if _, err := s.Get(context.Background(), "doc"); err != nil {
		t.Fatalf("Get after ready error: %v", err)
	}
}

func TestFailedHydrationReportsError(t *testing.T) {
	s := NewLoadingMemory(AreaLocal)
	defer s.Close()

	boom := errors.New("boom")
	s.MarkReady(boom)

	if err := WaitReady(context.Background(), s); err != nil {
		t.Fatalf("expected lifecycle to finish, got %v", err)
	}
	if _, err := s.Get(context.Background(), "doc"); !errors.Is(err, boom) {
		t.Fatalf("expected hydration error, got %v", err)
	}
}

func TestSQLiteDetectsExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	daemon, err := OpenSQLite(path, Options{PollInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	defer daemon.Close()
	if err := WaitReady(context.Background(), daemon); err != nil {
		t.Fatalf("WaitReady error: %v", err)
	}

	changes, cancel := daemon.Subscribe()
	defer cancel()

	editor, err := OpenSQLite(path, Options{})
	if err != nil {
		t.Fatalf("OpenSQLite editor error: %v", err)
	}
	defer editor.Close()

	if err := editor.Set(context.Background(), "doc", []byte(`{}`)); err != nil {
		t.Fatalf("editor Set error: %v", err)
	}
	waitChange(t, changes, "doc")
}

func TestSQLiteIgnoresOtherArea(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	local, err := OpenSQLite(path, Options{Area: AreaLocal})
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	defer local.Close()
	synced, err := OpenSQLite(path, Options{Area: AreaSync})
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	defer synced.Close()

	ctx := context.Background()
	if err := synced.Set(ctx, "doc", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	value, err := local.Get(ctx, "doc")
	if err != nil || value != nil {
		t.Fatalf("expected areas to be isolated, got %s (%v)", value, err)
	}
}

func TestFileDetectsExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := OpenFile(path, Options{})
	if err != nil {
		t.Fatalf("OpenFile error: %v", err)
	}
	defer s.Close()
	if err := WaitReady(context.Background(), s); err != nil {
		t.Fatalf("WaitReady error: %v", err)
	}

	changes, cancel := s.Subscribe()
	defer cancel()

	if err := os.WriteFile(path, []byte(`{"doc":{"state":{"pages":[]}}}`), 0o600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	waitChange(t, changes, "doc")
}

func TestFileStoreKeepsDocumentBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := OpenFile(path, Options{})
	if err != nil {
		t.Fatalf("OpenFile error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	docs := map[string]string{
		"doc":   "{\n  \"state\": { \"pages\": [ {\"matchHost\": \"a<b>.com\"} ] }\n}",
		"other": `{"state":{"pages":[]}}`,
	}
	for key, value := range docs {
		if err := s.Set(ctx, key, []byte(value)); err != nil {
			t.Fatalf("Set %s error: %v", key, err)
		}
	}
	for key, want := range docs {
		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get %s error: %v", key, err)
		}
		if string(got) != want {
			t.Fatalf("Get %s = %q, want %q", key, got, want)
		}
	}

	reopened, err := OpenFile(path, Options{})
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(ctx, "doc")
	if err != nil {
		t.Fatalf("Get after reopen error: %v", err)
	}
	if string(got) != docs["doc"] {
		t.Fatalf("Get after reopen = %q, want %q", got, docs["doc"])
	}
}

func TestFileRejectsNonJSON(t *testing.T) {
	s, err := OpenFile(filepath.Join(t.TempDir(), "state.json"), Options{})
	if err != nil {
		t.Fatalf("OpenFile error: %v", err)
	}
	defer s.Close()

	if err := s.Set(context.Background(), "doc", []byte("not json")); err == nil {
		t.Fatal("expected error for non-JSON value")
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	s := NewMemory(AreaLocal)
	_ = s.Close()

	ch, cancel := s.Subscribe()
	defer cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed feed")
	}
	if err := s.Set(context.Background(), "doc", []byte(`{}`)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
