// Package reconciler runs a full synchronisation pass: it enumerates the
// configured databases, decides what needs processing, renders artifacts,
// applies the resulting plan to the content directory, sweeps orphans and
// persists state once at the end.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/pagesync/internal/apperr"
	"github.com/starford/pagesync/internal/checksum"
	"github.com/starford/pagesync/internal/detector"
	"github.com/starford/pagesync/internal/mapper"
	"github.com/starford/pagesync/internal/materializer"
	"github.com/starford/pagesync/internal/models"
	"github.com/starford/pagesync/internal/planner"
	"github.com/starford/pagesync/internal/render"
	"github.com/starford/pagesync/internal/state"
)

// Source is the remote side of a pass.
type Source interface {
	FetchAll(ctx context.Context, sourceID string) iter.Seq2[models.RemoteItem, error]
	FetchContent(ctx context.Context, itemID string) ([]models.Block, error)
}

// Target binds one remote database to an output bucket.
type Target struct {
	DatabaseID string
	Bucket     string
	DatePrefix bool
}

// EventKind names a per-record outcome reported to the event callback.
type EventKind string

// Event kinds.
const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
	EventErrored EventKind = "errored"
)

// Event is emitted once per record that was written, deleted or failed.
type Event struct {
	Kind   EventKind `json:"kind"`
	ItemID string    `json:"itemId"`
	Path   string    `json:"path,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Options configures a Reconciler. Source, Mapper, Renderer and
// Materializer are required.
type Options struct {
	Targets           []Target
	Source            Source
	Mapper            *mapper.Mapper
	Renderer          render.Renderer
	Materializer      *materializer.Materializer
	TrustTimestamps   bool
	Concurrency       int
	MaxReportedErrors int
	OnEvent           func(Event)
	Logger            *slog.Logger
	Now               func() time.Time
}

// Reconciler executes passes. A Reconciler may be reused across passes but
// must not run two passes at once over the same state.
type Reconciler struct {
	opts Options
	log  *slog.Logger
}

// New validates opts and returns a Reconciler.
func New(opts Options) (*Reconciler, error) {
	switch {
	case opts.Source == nil:
		return nil, errors.New("reconciler: source is required")
	case opts.Mapper == nil:
		return nil, errors.New("reconciler: mapper is required")
	case opts.Renderer == nil:
		return nil, errors.New("reconciler: renderer is required")
	case opts.Materializer == nil:
		return nil, errors.New("reconciler: materializer is required")
	case len(opts.Targets) == 0:
		return nil, errors.New("reconciler: at least one target is required")
	}
	seen := make(map[string]struct{}, len(opts.Targets))
	for _, t := range opts.Targets {
		if t.DatabaseID == "" {
			return nil, errors.New("reconciler: target without database id")
		}
		if _, dup := seen[t.DatabaseID]; dup {
			return nil, fmt.Errorf("reconciler: database %s configured twice", t.DatabaseID)
		}
		seen[t.DatabaseID] = struct{}{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{opts: opts, log: log}, nil
}

type entry struct {
	item   models.RemoteItem
	target Target
}

// pending is an item that needs its content fetched and rendered.
type pending struct {
	idx  int
	meta models.Metadata
	path string
}

// Run executes one pass against backend in the given mode.
//
// A FatalSourceError or a cancelled ctx returns before any state is
// persisted. A failed final commit returns the summary together with a
// StatePersistError. Per-record failures are reported in the summary only.
func (r *Reconciler) Run(ctx context.Context, backend state.Backend, mode detector.Mode) (*Summary, error) {
	sum := &Summary{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: r.opts.Now().UTC(),
	}
	log := r.log.With(slog.String("run_id", sum.RunID), slog.String("mode", string(mode)))

	store, err := state.Load(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("reconciler: %w", err)
	}

	entries, err := r.enumerate(ctx)
	if err != nil {
		log.Error("reconciler: enumeration failed", slog.String("error", err.Error()))
		return nil, err
	}
	log.Info("reconciler: enumerated", slog.Int("items", len(entries)), slog.Int("records", store.Len()))

	det := detector.New(mode, r.opts.TrustTimestamps, r.opts.Mapper.SkipRequested)
	cands := make([]planner.Candidate, len(entries))
	var work []pending
	for i, e := range entries {
		c := planner.Candidate{ID: e.item.ID, LastEditedAt: e.item.LastEditedAt}
		if e.item.DecodeErr != nil {
			c.Err = &apperr.ItemError{ItemID: e.item.ID, Stage: "decode", Err: e.item.DecodeErr}
			cands[i] = c
			continue
		}
		rec, has := store.Get(e.item.ID)
		var disk detector.Disk
		if det.NeedsDisk(rec, has) {
			// An unreadable file only costs the trusted skip.
			disk, _ = r.opts.Materializer.Inspect(rec.TargetPath)
		}
		if det.Decide(e.item, rec, has, disk) == detector.SkipItem {
			c.Skip = true
			cands[i] = c
			continue
		}

		res := r.opts.Mapper.Map(e.item)
		switch res.Outcome {
		case mapper.Skip:
			c.Skip = true
		case mapper.Invalid:
			c.Err = &apperr.ItemError{ItemID: e.item.ID, Stage: "map", Err: errors.New(res.Reason)}
		case mapper.Proceed:
			p, err := materializer.Path(e.target.Bucket, e.target.DatePrefix, e.item.ID, res.Metadata)
			if err != nil {
				c.Err = &apperr.ItemError{ItemID: e.item.ID, Stage: "path", Err: err}
				break
			}
			work = append(work, pending{idx: i, meta: res.Metadata, path: p})
		}
		cands[i] = c
	}

	blocks, fetchErrs := r.fetchContent(ctx, entries, work)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for j, w := range work {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := &cands[w.idx]
		if fetchErrs[j] != nil {
			c.Err = &apperr.ItemError{ItemID: c.ID, Stage: "fetch", Err: fetchErrs[j]}
			continue
		}
		body, err := r.opts.Renderer.Render(blocks[j])
		if err != nil {
			c.Err = &apperr.ItemError{ItemID: c.ID, Stage: "render", Err: err}
			continue
		}
		content, err := materializer.Compose(w.meta, body)
		if err != nil {
			c.Err = &apperr.ItemError{ItemID: c.ID, Stage: "compose", Err: err}
			continue
		}
		c.Path = w.path
		c.Content = content
		c.Hash = checksum.Sum(content)
	}

	plan, err := planner.Build(cands, store.Records(), r.opts.Materializer)
	if err != nil {
		return nil, fmt.Errorf("reconciler: %w", err)
	}
	if err := r.apply(ctx, plan, store, sum); err != nil {
		return nil, err
	}

	if err := store.Commit(ctx); err != nil {
		sum.FinishedAt = r.opts.Now().UTC()
		log.Error("reconciler: persist state failed", slog.String("error", err.Error()))
		return sum, &apperr.StatePersistError{Err: err}
	}
	sum.FinishedAt = r.opts.Now().UTC()

	log.Info("reconciler: pass complete",
		slog.Int("created", sum.Created),
		slog.Int("updated", sum.Updated),
		slog.Int("unchanged", sum.Unchanged),
		slog.Int("skipped", sum.Skipped),
		slog.Int("deleted", sum.Deleted),
		slog.Int("errored", sum.Errored),
		slog.Duration("duration", sum.Duration()),
	)
	return sum, nil
}

// enumerate drains every target. Orphan detection relies on a complete id
// set, so any enumeration error is fatal for the pass. Items that carry a
// DecodeErr are kept; they fail individually later.
func (r *Reconciler) enumerate(ctx context.Context) ([]entry, error) {
	var out []entry
	for _, t := range r.opts.Targets {
		for item, err := range r.opts.Source.FetchAll(ctx, t.DatabaseID) {
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				if !errors.Is(err, apperr.ErrFatalSource) {
					err = &apperr.FatalSourceError{Source: t.DatabaseID, Err: err}
				}
				return nil, err
			}
			out = append(out, entry{item: item, target: t})
		}
	}
	return out, nil
}

// fetchContent loads block trees for work with bounded concurrency.
// Results are indexed like work.
func (r *Reconciler) fetchContent(ctx context.Context, entries []entry, work []pending) ([][]models.Block, []error) {
	blocks := make([][]models.Block, len(work))
	errs := make([]error, len(work))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for j, w := range work {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[j] = err
				return nil
			}
			blocks[j], errs[j] = r.opts.Source.FetchContent(gctx, entries[w.idx].item.ID)
			return nil
		})
	}
	_ = g.Wait()
	return blocks, errs
}

func (r *Reconciler) apply(ctx context.Context, plan *planner.Plan, store *state.Store, sum *Summary) error {
	mat := r.opts.Materializer
	for _, op := range plan.Ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch op.Kind {
		case planner.OpSkip:
			sum.Skipped++

		case planner.OpFail:
			r.failed(store, sum, op, op.Err)

		case planner.OpWrite, planner.OpUnchanged:
			if op.RemovePath != "" {
				if err := mat.Remove(op.RemovePath); err != nil {
					r.failed(store, sum, op, &apperr.ItemError{ItemID: op.ID, Stage: "remove", Err: err})
					continue
				}
			}
			if op.Kind == planner.OpWrite {
				if err := mat.Write(op.Path, op.Content); err != nil {
					r.failed(store, sum, op, &apperr.ItemError{ItemID: op.ID, Stage: "write", Err: err})
					continue
				}
			}
			store.Put(models.SyncRecord{
				ItemID:         op.ID,
				ContentHash:    op.Hash,
				LastEditedSeen: op.LastEditedAt,
				Status:         models.StatusSuccess,
				TargetPath:     op.Path,
			})
			switch {
			case op.Kind == planner.OpUnchanged:
				sum.Unchanged++
			case op.Change == detector.Create:
				sum.Created++
				r.emit(Event{Kind: EventCreated, ItemID: op.ID, Path: op.Path})
			default:
				sum.Updated++
				r.emit(Event{Kind: EventUpdated, ItemID: op.ID, Path: op.Path})
			}

		case planner.OpDelete:
			if op.Path != "" {
				if err := mat.Remove(op.Path); err != nil {
					// The record stays so the next pass retries the delete.
					err = &apperr.ItemError{ItemID: op.ID, Stage: "delete", Err: err}
					sum.fail(op.ID, err, r.opts.MaxReportedErrors)
					r.emit(Event{Kind: EventErrored, ItemID: op.ID, Path: op.Path, Error: err.Error()})
					continue
				}
			}
			store.Delete(op.ID)
			sum.Deleted++
			r.emit(Event{Kind: EventDeleted, ItemID: op.ID, Path: op.Path})
		}
	}
	return nil
}

// failed records a per-item error. The previous hash and path are kept so
// the next pass retries; a duplicate enumeration leaves state alone since
// the first occurrence owns the record.
func (r *Reconciler) failed(store *state.Store, sum *Summary, op planner.Op, err error) {
	sum.fail(op.ID, err, r.opts.MaxReportedErrors)
	r.emit(Event{Kind: EventErrored, ItemID: op.ID, Path: op.Path, Error: err.Error()})
	r.log.Warn("reconciler: item failed", slog.String("item_id", op.ID), slog.String("error", err.Error()))
	if errors.Is(err, planner.ErrDuplicateID) {
		return
	}

	rec, has := store.Get(op.ID)
	if !has {
		rec = models.SyncRecord{ItemID: op.ID, LastEditedSeen: op.LastEditedAt}
	}
	rec.Status = models.StatusError
	rec.LastError = err.Error()
	store.Put(rec)
}

func (r *Reconciler) emit(ev Event) {
	if r.opts.OnEvent != nil {
		r.opts.OnEvent(ev)
	}
}
