package index

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/starford/pagesync/internal/apperr"
	"github.com/starford/pagesync/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"artifacts", "runs", "run_errors"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestUpsertAndGetArtifact(t *testing.T) {
	db := testDB(t)
	row := ArtifactRow{
		Path:      "posts/hello.md",
		Title:     "Hello World",
		Identity:  "page-1",
		Checksum:  "abc123",
		Tags:      []string{"go", "hugo"},
		UpdatedAt: time.Now(),
	}
	if err := db.UpsertArtifact(row); err != nil {
		t.Fatalf("UpsertArtifact: %v", err)
	}
	got, err := db.GetArtifact("posts/hello.md")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got.Checksum != "abc123" || got.Identity != "page-1" || got.Title != "Hello World" {
		t.Errorf("got %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "hugo" {
		t.Errorf("tags = %v", got.Tags)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.UpsertArtifact(ArtifactRow{Path: "up.md", Title: "Old", Checksum: "1", UpdatedAt: now})
	_ = db.UpsertArtifact(ArtifactRow{Path: "up.md", Title: "New", Checksum: "2", Tags: []string{"new"}, UpdatedAt: now})

	got, err := db.GetArtifact("up.md")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got.Checksum != "2" || got.Title != "New" {
		t.Errorf("got %+v", got)
	}
}

func TestDeleteArtifact(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertArtifact(ArtifactRow{Path: "del.md", Checksum: "x", UpdatedAt: time.Now()})

	if err := db.DeleteArtifact("del.md"); err != nil {
		t.Fatalf("DeleteArtifact: %v", err)
	}
	if _, err := db.GetArtifact("del.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := db.DeleteArtifact("missing.md"); err != nil {
		t.Errorf("deleting unknown path: %v", err)
	}
}

func TestListArtifacts_TagFilterAndPaging(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.UpsertArtifact(ArtifactRow{Path: "a.md", Tags: []string{"go"}, UpdatedAt: now})
	_ = db.UpsertArtifact(ArtifactRow{Path: "b.md", Tags: []string{"rust"}, UpdatedAt: now})
	_ = db.UpsertArtifact(ArtifactRow{Path: "c.md", Tags: []string{"go", "rust"}, UpdatedAt: now})

	rows, total, err := db.ListArtifacts(10, 0, "go")
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if total != 2 || len(rows) != 2 || rows[0].Path != "a.md" || rows[1].Path != "c.md" {
		t.Errorf("tag filter: total=%d rows=%+v", total, rows)
	}

	rows, total, err = db.ListArtifacts(1, 1, "")
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if total != 3 || len(rows) != 1 || rows[0].Path != "b.md" {
		t.Errorf("paging: total=%d rows=%+v", total, rows)
	}
}

func TestRecordAndGetRun(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	run := RunRow{
		ID: "run-1", Mode: "incremental", Trigger: "cli",
		StartedAt: start, FinishedAt: start.Add(2 * time.Second),
		Created: 2, Errored: 1, Truncated: 3,
		Errors: []RunError{{ItemID: "p1", Stage: "write", Message: "disk full"}},
	}
	if err := db.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	got, err := db.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Created != 2 || got.Errored != 1 || got.Truncated != 3 || got.Trigger != "cli" {
		t.Errorf("got %+v", got)
	}
	if !got.StartedAt.Equal(start) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, start)
	}
	if len(got.Errors) != 1 || got.Errors[0].Message != "disk full" {
		t.Errorf("errors = %+v", got.Errors)
	}

	if _, err := db.GetRun(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := db.RecordRun(ctx, run); err == nil {
		t.Error("duplicate run id should fail")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if _, err := db.LastRun(ctx); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("LastRun on empty index: %v", err)
	}

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		at := base.Add(time.Duration(i) * time.Hour)
		if err := db.RecordRun(ctx, RunRow{ID: id, Mode: "full", StartedAt: at, FinishedAt: at}); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	runs, total, err := db.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 3 || len(runs) != 2 || runs[0].ID != "r3" || runs[1].ID != "r2" {
		t.Errorf("total=%d runs=%+v", total, runs)
	}

	last, err := db.LastRun(ctx)
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if last.ID != "r3" {
		t.Errorf("last = %s, want r3", last.ID)
	}
}

func TestSync_CataloguesContentDir(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	db := testDB(t)

	_ = store.Write("posts/a.md", []byte("---\ntitle: A\nnotion_id: page-a\ntags: [go]\n---\n\nbody\n"))
	_ = store.Write("pages/about.md", []byte("# About\n"))
	_ = db.UpsertArtifact(ArtifactRow{Path: "gone.md", Checksum: "x", UpdatedAt: time.Now()})

	if _, err := Sync(db, store, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	a, err := db.GetArtifact("posts/a.md")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if a.Identity != "page-a" || a.Title != "A" {
		t.Errorf("got %+v", a)
	}
	about, err := db.GetArtifact("pages/about.md")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if about.Identity != "" {
		t.Errorf("hand-written file should have no identity, got %q", about.Identity)
	}
	if _, err := db.GetArtifact("gone.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stale entry should be removed, got %v", err)
	}
}

func TestSync_ReportsUnmanagedAndDuplicates(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	db := testDB(t)

	_ = store.Write("posts/a.md", []byte("---\ntitle: A\nnotion_id: page-a\n---\n\nbody\n"))
	_ = store.Write("posts/a-copy.md", []byte("---\ntitle: A copy\nnotion_id: page-a\n---\n\nbody\n"))
	_ = store.Write("posts/b.md", []byte("---\ntitle: B\nnotion_id: page-b\n---\n\nbody\n"))
	_ = store.Write("pages/about.md", []byte("# About\n"))
	_ = store.Write("_index.md", []byte("---\ntitle: Home\n---\n"))
	_ = db.UpsertArtifact(ArtifactRow{Path: "gone.md", Checksum: "x", UpdatedAt: time.Now()})

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))
	rep, err := Sync(db, store, logger)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if rep.Catalogued != 5 || rep.Removed != 1 {
		t.Errorf("catalogued=%d removed=%d, want 5/1", rep.Catalogued, rep.Removed)
	}
	if want := []string{"_index.md", "pages/about.md"}; !slices.Equal(rep.Unmanaged, want) {
		t.Errorf("unmanaged = %v, want %v", rep.Unmanaged, want)
	}
	if len(rep.Duplicates) != 1 || !slices.Equal(rep.Duplicates["page-a"], []string{"posts/a-copy.md", "posts/a.md"}) {
		t.Errorf("duplicates = %v", rep.Duplicates)
	}
	if !strings.Contains(logs.String(), `"msg":"index: unmanaged files","count":2`) {
		t.Errorf("unmanaged files not logged: %s", logs.String())
	}
	if !strings.Contains(logs.String(), `"notion_id":"page-a"`) {
		t.Errorf("duplicate identity not logged: %s", logs.String())
	}

	// A second refresh with nothing changed still reports what it finds.
	rep, err = Sync(db, store, quietLogger())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if rep.Catalogued != 0 || len(rep.Unmanaged) != 2 {
		t.Errorf("second report = %+v", rep)
	}
}
