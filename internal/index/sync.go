package index

import (
	"log/slog"
	"time"

	"github.com/starford/pagesync/internal/checksum"
	"github.com/starford/pagesync/internal/parser"
	"github.com/starford/pagesync/internal/storage"
)

// Report summarises one catalogue refresh.
type Report struct {
	Catalogued int
	Removed    int
	// Unmanaged lists catalogued files without a notion_id. The sync pass
	// never writes, moves or deletes them.
	Unmanaged []string
	// Duplicates maps a notion_id to every file claiming it when more than
	// one does, which usually means an artifact was copied by hand.
	Duplicates map[string][]string
}

// Sync walks the content directory and brings the artifact catalogue up
// to date:
//   - new/changed files are parsed and upserted
//   - files removed from disk are deleted from the catalogue
//
// It then reports files the sync pass does not own and notion ids claimed
// by more than one file.
func Sync(db *DB, store storage.Provider, logger *slog.Logger) (*Report, error) {
	metas, err := store.List("")
	if err != nil {
		return nil, err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return nil, err
	}

	rep := &Report{}
	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("index: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := catalogFile(db, m.Path, data); err != nil {
			logger.Warn("index: catalog failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			rep.Catalogued++
			logger.Debug("index: catalogued", slog.String("path", m.Path))
		}
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteArtifact(p); err != nil {
				logger.Warn("index: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				rep.Removed++
				logger.Debug("index: removed stale", slog.String("path", p))
			}
		}
	}

	if rep.Unmanaged, err = db.UnmanagedPaths(); err != nil {
		return nil, err
	}
	if len(rep.Unmanaged) > 0 {
		logger.Info("index: unmanaged files",
			slog.Int("count", len(rep.Unmanaged)),
			slog.Any("paths", rep.Unmanaged))
	}
	if rep.Duplicates, err = db.DuplicateIdentities(); err != nil {
		return nil, err
	}
	for id, paths := range rep.Duplicates {
		logger.Warn("index: notion_id claimed by several files",
			slog.String("notion_id", id),
			slog.Any("paths", paths))
	}
	return rep, nil
}

// catalogFile parses data and upserts it into the DB.
func catalogFile(db *DB, path string, data []byte) error {
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	return db.UpsertArtifact(ArtifactRow{
		Path:      path,
		Title:     res.Title,
		Identity:  res.Identity,
		Checksum:  checksum.Sum(data),
		Tags:      res.Tags,
		UpdatedAt: time.Now(),
	})
}
