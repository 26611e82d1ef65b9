// Package syncservice coordinates sync passes for the long-running surfaces
// (HTTP API, MCP server, scheduler, content watcher).
package syncservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/pagesync/internal/apperr"
	"github.com/starford/pagesync/internal/checksum"
	"github.com/starford/pagesync/internal/detector"
	"github.com/starford/pagesync/internal/index"
	"github.com/starford/pagesync/internal/models"
	"github.com/starford/pagesync/internal/parser"
	"github.com/starford/pagesync/internal/reconciler"
	"github.com/starford/pagesync/internal/sse"
	"github.com/starford/pagesync/internal/state"
	"github.com/starford/pagesync/internal/storage"
)

// Runner executes one reconciliation pass.
type Runner interface {
	Run(ctx context.Context, backend state.Backend, mode detector.Mode) (*reconciler.Summary, error)
}

// Publisher receives service events.
type Publisher interface {
	Publish(event sse.Event)
	PublishRecordEvent(kind string, data sse.RecordData)
}

// Builder builds the site after a pass that changed content.
type Builder interface {
	Build(ctx context.Context) error
}

// Deployer deploys the built site.
type Deployer interface {
	Deploy(ctx context.Context) error
}

// Triggers recorded with each run.
const (
	TriggerCLI      = "cli"
	TriggerAPI      = "api"
	TriggerMCP      = "mcp"
	TriggerSchedule = "schedule"
	TriggerDrift    = "drift"
)

// Options wires a Service. Runner, Backend and Content are required; the
// rest are optional.
type Options struct {
	Runner   Runner
	Backend  state.Backend
	Content  storage.Provider
	DB       *index.DB
	Events   Publisher
	Builder  Builder
	Deployer Deployer
	Logger   *slog.Logger
}

// Service serialises passes and answers record and run queries.
type Service struct {
	opts    Options
	log     *slog.Logger
	mu      sync.Mutex
	running atomic.Bool
	drift   chan struct{}
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Runner == nil || opts.Backend == nil || opts.Content == nil {
		return nil, errors.New("syncservice: runner, backend and content are required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{opts: opts, log: log, drift: make(chan struct{}, 1)}, nil
}

// RecordEvents adapts pub to the reconciler's per-record callback.
func RecordEvents(pub Publisher) func(reconciler.Event) {
	return func(ev reconciler.Event) {
		if pub == nil {
			return
		}
		pub.PublishRecordEvent(string(ev.Kind), sse.RecordData{ItemID: ev.ItemID, Path: ev.Path, Error: ev.Error})
	}
}

// Running reports whether a pass is in progress.
func (s *Service) Running() bool { return s.running.Load() }

// Sync runs one pass unless another is already running, in which case it
// returns apperr.ErrBusy. Every pass that gets past the lock is recorded in
// the run index. When the pass changed content, the site is built and
// deployed if a Builder or Deployer is configured.
func (s *Service) Sync(ctx context.Context, mode detector.Mode, trigger string) (*reconciler.Summary, error) {
	if !s.mu.TryLock() {
		return nil, apperr.ErrBusy
	}
	defer s.mu.Unlock()
	s.running.Store(true)
	defer s.running.Store(false)

	s.publish(sse.TypeSyncStarted, map[string]string{"mode": string(mode), "trigger": trigger})
	started := time.Now().UTC()
	sum, err := s.opts.Runner.Run(ctx, s.opts.Backend, mode)
	if errors.Is(err, apperr.ErrBusy) {
		// Another process holds the run lock.
		s.publish(sse.TypeSyncFailed, map[string]any{"mode": string(mode), "trigger": trigger, "error": err.Error()})
		return nil, err
	}
	s.record(ctx, mode, trigger, started, sum, err)

	if err != nil {
		s.log.Error("syncservice: pass failed", slog.String("trigger", trigger), slog.String("error", err.Error()))
		data := map[string]any{"mode": string(mode), "trigger": trigger, "error": err.Error()}
		if sum != nil {
			data["runId"] = sum.RunID
		}
		s.publish(sse.TypeSyncFailed, data)
		return sum, err
	}
	s.publish(sse.TypeSyncCompleted, sum)

	if s.opts.DB != nil {
		if _, err := index.Sync(s.opts.DB, s.opts.Content, s.log); err != nil {
			s.log.Warn("syncservice: catalogue refresh failed", slog.String("error", err.Error()))
		}
	}
	if sum.Changed() {
		if err := s.publishSite(ctx); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (s *Service) publishSite(ctx context.Context) error {
	if s.opts.Builder != nil {
		if err := s.opts.Builder.Build(ctx); err != nil {
			return fmt.Errorf("syncservice: build site: %w", err)
		}
	}
	if s.opts.Deployer != nil {
		if err := s.opts.Deployer.Deploy(ctx); err != nil {
			return fmt.Errorf("syncservice: deploy site: %w", err)
		}
	}
	return nil
}

// record stores the outcome of a pass. A pass that aborted before producing
// a summary still gets a row carrying the fatal error.
func (s *Service) record(ctx context.Context, mode detector.Mode, trigger string, started time.Time, sum *reconciler.Summary, runErr error) {
	if s.opts.DB == nil {
		return
	}
	row := index.RunRow{ID: uuid.NewString(), Mode: string(mode), Trigger: trigger, StartedAt: started, FinishedAt: time.Now().UTC()}
	if sum != nil {
		row = runRow(sum, trigger)
	}
	if runErr != nil {
		row.FatalError = runErr.Error()
	}
	// The caller's context may already be cancelled; history is still written.
	if err := s.opts.DB.RecordRun(context.WithoutCancel(ctx), row); err != nil {
		s.log.Warn("syncservice: record run failed", slog.String("error", err.Error()))
	}
}

func runRow(sum *reconciler.Summary, trigger string) index.RunRow {
	row := index.RunRow{
		ID:         sum.RunID,
		Mode:       string(sum.Mode),
		Trigger:    trigger,
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		Created:    sum.Created,
		Updated:    sum.Updated,
		Unchanged:  sum.Unchanged,
		Skipped:    sum.Skipped,
		Deleted:    sum.Deleted,
		Errored:    sum.Errored,
		Truncated:  sum.Truncated,
	}
	if row.FinishedAt.IsZero() {
		row.FinishedAt = time.Now().UTC()
	}
	for _, e := range sum.Errors {
		row.Errors = append(row.Errors, index.RunError{ItemID: e.ItemID, Stage: e.Stage, Message: e.Message})
	}
	return row
}

func (s *Service) publish(typ string, data any) {
	if s.opts.Events != nil {
		s.opts.Events.Publish(sse.Event{Type: typ, Data: data})
	}
}

// OnContentEvent is the content watcher callback. A managed artifact that
// was deleted or whose bytes no longer match its record schedules a drift
// pass. Events seen while a pass is running are the pass's own writes.
func (s *Service) OnContentEvent(kind, path string) {
	if s.running.Load() {
		return
	}
	records, err := s.opts.Backend.Load(context.Background())
	if err != nil {
		s.log.Warn("syncservice: drift check failed", slog.String("error", err.Error()))
		return
	}
	var rec models.SyncRecord
	found := false
	for id, r := range records {
		if r.TargetPath == path {
			rec, found = r, true
			rec.ItemID = id
			break
		}
	}
	if !found {
		return
	}
	if kind != "deleted" {
		data, err := s.opts.Content.Read(path)
		if err == nil && checksum.Matches(data, rec.ContentHash) {
			return
		}
	}
	s.log.Info("syncservice: content drift", slog.String("path", path), slog.String("item_id", rec.ItemID), slog.String("op", kind))
	s.publish(sse.TypeContentDrift, sse.RecordData{ItemID: rec.ItemID, Path: path})
	select {
	case s.drift <- struct{}{}:
	default:
	}
}

// Loop runs scheduled passes every interval (disabled when zero) and a
// debounced incremental pass after content drift, until ctx is cancelled.
func (s *Service) Loop(ctx context.Context, interval, debounce time.Duration, mode detector.Mode) error {
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	var settle *time.Timer
	var settleCh <-chan time.Time

	run := func(m detector.Mode, trigger string) {
		if _, err := s.Sync(ctx, m, trigger); err != nil && !errors.Is(err, apperr.ErrBusy) && ctx.Err() == nil {
			s.log.Warn("syncservice: background pass failed", slog.String("trigger", trigger), slog.String("error", err.Error()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			if settle != nil {
				settle.Stop()
			}
			return nil
		case <-tick:
			run(mode, TriggerSchedule)
		case <-s.drift:
			if settle == nil {
				settle = time.NewTimer(debounce)
				settleCh = settle.C
			} else {
				settle.Reset(debounce)
			}
		case <-settleCh:
			run(detector.ModeIncremental, TriggerDrift)
		}
	}
}

// RecordView is the API shape of a SyncRecord.
type RecordView struct {
	ItemID         string    `json:"itemId"`
	Status         string    `json:"status"`
	TargetPath     string    `json:"targetPath"`
	ContentHash    string    `json:"contentHash"`
	LastEditedSeen time.Time `json:"lastEditedSeen"`
	LastError      string    `json:"lastError,omitempty"`
}

// RecordDetail adds the artifact currently on disk.
type RecordDetail struct {
	RecordView
	Title       string         `json:"title,omitempty"`
	Tags        []string       `json:"tags"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Content     string         `json:"content,omitempty"`
	// InSync is false when the file is missing or differs from the record.
	InSync bool `json:"inSync"`
}

func view(id string, r models.SyncRecord) RecordView {
	return RecordView{
		ItemID:         id,
		Status:         string(r.Status),
		TargetPath:     r.TargetPath,
		ContentHash:    r.ContentHash,
		LastEditedSeen: r.LastEditedSeen,
		LastError:      r.LastError,
	}
}

// ListRecords returns records sorted by id, optionally filtered by status.
func (s *Service) ListRecords(ctx context.Context, status string) ([]RecordView, error) {
	records, err := s.opts.Backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncservice: load state: %w", err)
	}
	out := make([]RecordView, 0, len(records))
	for id, r := range records {
		if status != "" && string(r.Status) != status {
			continue
		}
		out = append(out, view(id, r))
	}
	slices.SortFunc(out, func(a, b RecordView) int {
		switch {
		case a.ItemID < b.ItemID:
			return -1
		case a.ItemID > b.ItemID:
			return 1
		}
		return 0
	})
	return out, nil
}

// GetRecord returns one record with its artifact, or apperr.ErrNotFound.
func (s *Service) GetRecord(ctx context.Context, id string) (*RecordDetail, error) {
	records, err := s.opts.Backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncservice: load state: %w", err)
	}
	r, ok := records[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	d := &RecordDetail{RecordView: view(id, r), Tags: []string{}}
	if r.TargetPath == "" {
		return d, nil
	}
	data, err := s.opts.Content.Read(r.TargetPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return d, nil
		}
		return nil, err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	d.Title = res.Title
	d.Frontmatter = res.Frontmatter
	d.Content = string(data)
	d.InSync = checksum.Matches(data, r.ContentHash)
	if res.Tags != nil {
		d.Tags = res.Tags
	}
	return d, nil
}

// RunView is the API shape of a recorded run.
type RunView struct {
	ID         string         `json:"id"`
	Mode       string         `json:"mode"`
	Trigger    string         `json:"trigger"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Created    int            `json:"created"`
	Updated    int            `json:"updated"`
	Unchanged  int            `json:"unchanged"`
	Skipped    int            `json:"skipped"`
	Deleted    int            `json:"deleted"`
	Errored    int            `json:"errored"`
	Truncated  int            `json:"truncatedErrors,omitempty"`
	FatalError string         `json:"fatalError,omitempty"`
	Errors     []RunErrorView `json:"errors,omitempty"`
}

// RunErrorView is one reported per-record failure.
type RunErrorView struct {
	ItemID  string `json:"itemId"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

func runView(r index.RunRow) RunView {
	v := RunView{
		ID: r.ID, Mode: r.Mode, Trigger: r.Trigger,
		StartedAt: r.StartedAt, FinishedAt: r.FinishedAt,
		Created: r.Created, Updated: r.Updated, Unchanged: r.Unchanged,
		Skipped: r.Skipped, Deleted: r.Deleted, Errored: r.Errored,
		Truncated: r.Truncated, FatalError: r.FatalError,
	}
	for _, e := range r.Errors {
		v.Errors = append(v.Errors, RunErrorView(e))
	}
	return v
}

var errNoHistory = fmt.Errorf("syncservice: run history disabled: %w", apperr.ErrNotFound)

// ListRuns returns recorded runs newest first.
func (s *Service) ListRuns(ctx context.Context, limit, offset int) ([]RunView, int, error) {
	if s.opts.DB == nil {
		return []RunView{}, 0, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, total, err := s.opts.DB.ListRuns(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]RunView, len(rows))
	for i, r := range rows {
		out[i] = runView(r)
	}
	return out, total, nil
}

// GetRun returns one run with its errors.
func (s *Service) GetRun(ctx context.Context, id string) (*RunView, error) {
	if s.opts.DB == nil {
		return nil, errNoHistory
	}
	r, err := s.opts.DB.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	v := runView(*r)
	return &v, nil
}

// ArtifactView is one catalogued file of the content directory.
type ArtifactView struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	ItemID    string    `json:"itemId,omitempty"`
	Checksum  string    `json:"checksum"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListArtifacts pages through the content catalogue, optionally filtered
// by tag. Hand-authored files are listed with an empty ItemID.
func (s *Service) ListArtifacts(_ context.Context, limit, offset int, tag string) ([]ArtifactView, int, error) {
	if s.opts.DB == nil {
		return []ArtifactView{}, 0, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, total, err := s.opts.DB.ListArtifacts(limit, offset, tag)
	if err != nil {
		return nil, 0, err
	}
	out := make([]ArtifactView, len(rows))
	for i, r := range rows {
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		out[i] = ArtifactView{Path: r.Path, Title: r.Title, ItemID: r.Identity, Checksum: r.Checksum, Tags: tags, UpdatedAt: r.UpdatedAt}
	}
	return out, total, nil
}

// Status summarises the current state.
type Status struct {
	Running bool     `json:"running"`
	Records int      `json:"records"`
	Errored int      `json:"errored"`
	LastRun *RunView `json:"lastRun,omitempty"`
}

// Status reports whether a pass is running, record counts, and the last run.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	records, err := s.opts.Backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncservice: load state: %w", err)
	}
	st := &Status{Running: s.Running(), Records: len(records)}
	for _, r := range records {
		if r.Status == models.StatusError {
			st.Errored++
		}
	}
	if s.opts.DB != nil {
		last, err := s.opts.DB.LastRun(ctx)
		switch {
		case err == nil:
			v := runView(*last)
			st.LastRun = &v
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
	}
	return st, nil
}
