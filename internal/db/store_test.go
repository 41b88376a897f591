package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// createTestStore opens a fresh database in a temp dir.
func createTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "memo.sqlite")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func insert(t *testing.T, store *Store, path string, startedAt time.Time, d time.Duration) Segment {
	t.Helper()
	seg, err := store.Insert(context.Background(), Segment{FilePath: path, StartedAt: startedAt, Duration: d})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return seg
}

func TestInsertAndGet(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()
	start := time.UnixMilli(1_760_000_000_123)

	seg := insert(t, store, "/rec/REC_1.wav", start, 30*time.Second)
	if seg.ID == 0 {
		t.Fatal("expected assigned id")
	}

	got, err := store.Get(ctx, seg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.FilePath != "/rec/REC_1.wav" {
		t.Errorf("FilePath = %q", got.FilePath)
	}
	if !got.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, start)
	}
	if got.DurationMillis() != 30000 {
		t.Errorf("DurationMillis = %d, want 30000", got.DurationMillis())
	}
	if got.Synced {
		t.Error("new segment should not be synced")
	}
	if got.Transcript != nil {
		t.Errorf("Transcript = %q, want nil", *got.Transcript)
	}
}

func TestGetNotFound(t *testing.T) {
	store, _ := createTestStore(t)

	_, err := store.Get(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAllOrdersNewestFirst(t *testing.T) {
	store, _ := createTestStore(t)
	base := time.UnixMilli(1_760_000_000_000)

	// Inserted out of order, as the pipelined persister may do.
	insert(t, store, "b", base.Add(30*time.Second), 30*time.Second)
	insert(t, store, "a", base, 30*time.Second)
	insert(t, store, "c", base.Add(60*time.Second), 15*time.Second)

	segs, err := store.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	for i, want := range []string{"c", "b", "a"} {
		if segs[i].FilePath != want {
			t.Errorf("segs[%d] = %q, want %q", i, segs[i].FilePath, want)
		}
	}
}

func TestAllEmpty(t *testing.T) {
	store, _ := createTestStore(t)

	segs, err := store.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(segs) != 0 {
		t.Errorf("got %d segments, want 0", len(segs))
	}
}

func TestUnsyncedAndMarkSynced(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_760_000_000_000)

	late := insert(t, store, "late", base.Add(time.Minute), time.Second)
	early := insert(t, store, "early", base, time.Second)

	segs, err := store.Unsynced(ctx)
	if err != nil {
		t.Fatalf("Unsynced: %v", err)
	}
	if len(segs) != 2 || segs[0].ID != early.ID || segs[1].ID != late.ID {
		t.Fatalf("Unsynced = %+v, want early then late", segs)
	}

	text := "hello world"
	if err := store.MarkSynced(ctx, early.ID, &text); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	segs, err = store.Unsynced(ctx)
	if err != nil {
		t.Fatalf("Unsynced: %v", err)
	}
	if len(segs) != 1 || segs[0].ID != late.ID {
		t.Errorf("Unsynced after mark = %+v", segs)
	}

	got, err := store.Get(ctx, early.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Synced || got.Transcript == nil || *got.Transcript != text {
		t.Errorf("got %+v, want synced with transcript", got)
	}

	// A nil transcript keeps the stored one.
	if err := store.MarkSynced(ctx, early.ID, nil); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	got, _ = store.Get(ctx, early.ID)
	if got.Transcript == nil || *got.Transcript != text {
		t.Error("transcript should survive a nil MarkSynced")
	}

	if err := store.MarkSynced(ctx, 999, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkSynced missing = %v, want ErrNotFound", err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	seg := insert(t, store, "x", time.UnixMilli(1000), time.Second)
	seg.Synced = true
	if err := store.Update(ctx, seg); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := store.Get(ctx, seg.ID)
	if !got.Synced {
		t.Error("Update did not persist Synced")
	}

	if err := store.Delete(ctx, seg.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, seg.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
	if err := store.Update(ctx, seg); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update deleted = %v, want ErrNotFound", err)
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	changes, cancel := store.Subscribe()
	defer cancel()

	seg := insert(t, store, "x", time.UnixMilli(1000), time.Second)
	if err := store.MarkSynced(ctx, seg.ID, nil); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, seg.ID); err != nil {
		t.Fatal(err)
	}

	want := []Change{{OpInsert, seg.ID}, {OpUpdate, seg.ID}, {OpDelete, seg.ID}}
	for i, w := range want {
		select {
		case got := <-changes:
			if got != w {
				t.Errorf("change[%d] = %+v, want %+v", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for change %d", i)
		}
	}

	cancel()
	if _, ok := <-changes; ok {
		t.Error("channel should be closed after cancel")
	}
}

func TestSettings(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.Setting(ctx, "mic"); err != nil || ok {
		t.Fatalf("Setting missing = %v, %v", ok, err)
	}
	if err := store.SetSetting(ctx, "mic", "granted"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := store.SetSetting(ctx, "mic", "granted-again"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	v, ok, err := store.Setting(ctx, "mic")
	if err != nil || !ok || v != "granted-again" {
		t.Errorf("Setting = %q, %v, %v", v, ok, err)
	}
}

func TestOpenReadOnlySeesWrites(t *testing.T) {
	store, path := createTestStore(t)
	insert(t, store, "shared", time.UnixMilli(1000), time.Second)

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer ro.Close()

	segs, err := ro.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(segs) != 1 || segs[0].FilePath != "shared" {
		t.Errorf("read-only All = %+v", segs)
	}

	if _, err := ro.Insert(context.Background(), Segment{FilePath: "nope"}); err == nil {
		t.Error("expected insert through read-only store to fail")
	}
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	_, err := OpenReadOnly(filepath.Join(t.TempDir(), "missing.sqlite"))
	if err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestOpenPathWithURISeparators(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "take?2#draft")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "memo.sqlite")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	insert(t, store, "/rec/REC_1.wav", time.UnixMilli(1), time.Second)

	var mode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database not created at the escaped path: %v", err)
	}

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer ro.Close()
	all, err := ro.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("read-only view has %d segments, want 1", len(all))
	}
}
