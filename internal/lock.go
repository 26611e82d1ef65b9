package internal

import (
	"context"

	"github.com/starford/pagesync/internal/detector"
	"github.com/starford/pagesync/internal/reconciler"
	"github.com/starford/pagesync/internal/state"
	"github.com/starford/pagesync/internal/syncservice"
)

// lockedRunner holds the cross-process run lock for the duration of each
// pass so that a CLI sync and a running server never write concurrently.
// File-backed state locks a file next to it; backends implementing
// state.Locker lock themselves.
type lockedRunner struct {
	inner syncservice.Runner
	path  string
}

func withRunLock(inner syncservice.Runner, dsn string) syncservice.Runner {
	return &lockedRunner{inner: inner, path: state.LockPath(dsn)}
}

func (r *lockedRunner) Run(ctx context.Context, backend state.Backend, mode detector.Mode) (*reconciler.Summary, error) {
	release, err := r.acquire(ctx, backend)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.inner.Run(ctx, backend, mode)
}

func (r *lockedRunner) acquire(ctx context.Context, backend state.Backend) (func(), error) {
	if r.path != "" {
		return acquireLock(r.path)
	}
	if l, ok := backend.(state.Locker); ok {
		return l.TryLock(ctx)
	}
	return func() {}, nil
}
