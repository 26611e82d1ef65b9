package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/pagesync/internal/storage"
)

// EventCallback is called after a watcher-driven catalogue change.
// kind is one of "created", "updated", "deleted"; path is slash separated
// and relative to the content root.
type EventCallback func(kind string, path string)

const rescanDelay = 200 * time.Millisecond

// watcher holds the state of one Watch call.
type watcher struct {
	db     *DB
	store  storage.Provider
	root   string
	logger *slog.Logger
	cb     EventCallback
	fsw    *fsnotify.Watcher
}

// Watch starts an fsnotify watcher on the content root and keeps the
// artifact catalogue current until ctx is cancelled. It calls cb (if
// non-nil) after each successful catalogue mutation.
//
// Directories created at runtime are added to the watch list. Rename
// events schedule a debounced rescan that drops entries whose files are
// gone and catalogues files that appeared under a new name.
func Watch(ctx context.Context, db *DB, store storage.Provider, root string, logger *slog.Logger, cb EventCallback) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := addDirsRecursive(fsw, root); err != nil {
		return err
	}
	w := &watcher{db: db, store: store, root: root, logger: logger, cb: cb, fsw: fsw}
	logger.Info("watcher: started", slog.String("root", root))

	var rescan *time.Timer
	var rescanCh <-chan time.Time
	schedule := func() {
		if rescan == nil {
			rescan = time.NewTimer(rescanDelay)
			rescanCh = rescan.C
		} else {
			rescan.Reset(rescanDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if rescan != nil {
				rescan.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-rescanCh:
			w.rescan()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(ev) {
				schedule()
			}

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// handle applies one event and reports whether a rescan is needed.
func (w *watcher) handle(ev fsnotify.Event) bool {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addDirsRecursive(w.fsw, ev.Name); err != nil {
				w.logger.Warn("watcher: add new dir failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
			w.catalogDir(ev.Name)
			return false
		}
	}

	// Atomic-write temp files never carry the .md suffix.
	if !strings.HasSuffix(ev.Name, ".md") {
		return false
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		kind := "updated"
		if ev.Op&fsnotify.Create != 0 {
			kind = "created"
		}
		w.catalog(rel, kind)
	case ev.Op&fsnotify.Remove != 0:
		w.drop(rel)
	case ev.Op&fsnotify.Rename != 0:
		// fsnotify reports Rename on the old path only; the new name
		// arrives as a Create when it stays under a watched directory.
		w.drop(rel)
		return true
	}
	return false
}

func (w *watcher) catalog(rel, kind string) {
	data, err := w.store.Read(rel)
	if err != nil {
		w.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if err := catalogFile(w.db, rel, data); err != nil {
		w.logger.Warn("watcher: catalog failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	w.logger.Debug("watcher: catalogued", slog.String("path", rel), slog.String("op", kind))
	w.notify(kind, rel)
}

func (w *watcher) drop(rel string) {
	if err := w.db.DeleteArtifact(rel); err != nil {
		w.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	w.logger.Debug("watcher: deleted", slog.String("path", rel))
	w.notify("deleted", rel)
}

func (w *watcher) notify(kind, rel string) {
	if w.cb != nil {
		w.cb(kind, rel)
	}
}

// rescan compares the catalogue with the disk in one batch.
func (w *watcher) rescan() {
	checksums, err := w.db.AllChecksums()
	if err != nil {
		w.logger.Warn("watcher: rescan checksums failed", slog.String("error", err.Error()))
		return
	}
	metas, err := w.store.List("")
	if err != nil {
		w.logger.Warn("watcher: rescan list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			w.drop(p)
		}
	}
	for p, cs := range disk {
		if old, known := checksums[p]; !known {
			w.catalog(p, "created")
		} else if old != cs {
			w.catalog(p, "updated")
		}
	}
}

// catalogDir catalogues any .md files already present in a new directory.
func (w *watcher) catalogDir(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, p)
		if relErr != nil {
			return nil
		}
		w.catalog(filepath.ToSlash(rel), "created")
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
