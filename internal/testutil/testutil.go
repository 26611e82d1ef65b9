// Package testutil provides shared test helpers for content directories,
// the SQLite index and fixture Notion pages.
package testutil

import (
	"context"
	"iter"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/pagesync/internal/index"
	"github.com/starford/pagesync/internal/models"
	"github.com/starford/pagesync/internal/storage"
)

// TestDB creates a temporary SQLite index that is automatically closed.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestContent creates a temporary content directory with a storage.Provider.
func TestContent(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Page returns a published page titled title with fixed timestamps.
func Page(id, title string) models.RemoteItem {
	return models.RemoteItem{
		ID: id,
		Properties: map[string]models.PropertyValue{
			"Name":      models.Text(title),
			"Published": models.Checkbox(true),
		},
		CreatedAt:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		LastEditedAt: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

// Source is an in-memory page source. Each page body is one paragraph
// reading "Body of <id>". Err, when set, is yielded instead of any page.
type Source struct {
	Items []models.RemoteItem
	Err   error
}

// FetchAll yields every item regardless of the database id.
func (s *Source) FetchAll(_ context.Context, _ string) iter.Seq2[models.RemoteItem, error] {
	return func(yield func(models.RemoteItem, error) bool) {
		if s.Err != nil {
			yield(models.RemoteItem{}, s.Err)
			return
		}
		for _, it := range s.Items {
			if !yield(it, nil) {
				return
			}
		}
	}
}

// FetchContent returns a single paragraph block.
func (s *Source) FetchContent(_ context.Context, id string) ([]models.Block, error) {
	return []models.Block{{ID: id + "-p", Type: "paragraph", RichText: []models.Span{{PlainText: "Body of " + id}}}}, nil
}
