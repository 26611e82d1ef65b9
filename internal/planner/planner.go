// Package planner turns the rendered candidates of one pass into an
// ordered list of filesystem and state operations. Building the plan does
// not touch the content directory beyond reading it; applying it is the
// reconciler's job.
package planner

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/starford/pagesync/internal/apperr"
	"github.com/starford/pagesync/internal/detector"
	"github.com/starford/pagesync/internal/models"
)

// Candidate is one enumerated record after detection, mapping and
// rendering. Exactly one of Skip, Err or a rendered Path is meaningful.
type Candidate struct {
	ID           string
	LastEditedAt time.Time
	Skip         bool
	Err          error
	Path         string
	Content      []byte
	Hash         string
}

// Rendered reports whether the candidate carries artifact bytes.
func (c Candidate) Rendered() bool {
	return !c.Skip && c.Err == nil && c.Path != ""
}

// Inspector reports what is on disk at a path.
type Inspector interface {
	Inspect(path string) (detector.Disk, error)
}

// OpKind enumerates plan operations.
type OpKind int

// Operation kinds.
const (
	OpWrite OpKind = iota
	OpUnchanged
	OpSkip
	OpFail
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpWrite:
		return "write"
	case OpUnchanged:
		return "unchanged"
	case OpSkip:
		return "skip"
	case OpFail:
		return "fail"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// Op is one planned step.
//
// For OpWrite and OpUnchanged, RemovePath is the stale artifact the record
// owned before this pass; it is removed before Path is written. For
// OpDelete, Path is the orphan's artifact, or empty when an active record
// now owns that path.
type Op struct {
	Kind         OpKind
	ID           string
	Change       detector.Change
	Path         string
	RemovePath   string
	Content      []byte
	Hash         string
	LastEditedAt time.Time
	Err          error
}

// Plan is the ordered output of Build. Item operations come first in
// encounter order, then orphan deletions sorted by id.
type Plan struct {
	Ops []Op
}

// Count returns how many operations of kind k the plan holds.
func (p *Plan) Count(k OpKind) int {
	n := 0
	for _, op := range p.Ops {
		if op.Kind == k {
			n++
		}
	}
	return n
}

// Orphans returns the ids scheduled for deletion.
func (p *Plan) Orphans() []string {
	var out []string
	for _, op := range p.Ops {
		if op.Kind == OpDelete {
			out = append(out, op.ID)
		}
	}
	return out
}

// ErrDuplicateID is reported when two sources yield the same record id.
var ErrDuplicateID = errors.New("record id enumerated more than once")

// Build computes the plan. records is the state snapshot at pass start.
//
// Path ownership is first-wins: paths held by active records that keep
// them this pass are reserved up front, then rendered candidates claim
// paths in encounter order. A later claimant, or a file on disk that no
// record owns and whose notion_id differs, yields a PathCollisionError for
// that candidate only.
func Build(cands []Candidate, records map[string]models.SyncRecord, disk Inspector) (*Plan, error) {
	if disk == nil {
		return nil, fmt.Errorf("planner: nil inspector")
	}

	byID := make(map[string]Candidate, len(cands))
	for _, c := range cands {
		if _, dup := byID[c.ID]; !dup {
			byID[c.ID] = c
		}
	}

	ownerOf := make(map[string]string, len(records))
	for _, id := range slices.Sorted(maps.Keys(records)) {
		if p := records[id].TargetPath; p != "" {
			if _, taken := ownerOf[p]; !taken {
				ownerOf[p] = id
			}
		}
	}

	claims := make(map[string]string, len(records)+len(cands))
	for _, id := range slices.Sorted(maps.Keys(records)) {
		rec := records[id]
		c, active := byID[id]
		if !active || rec.TargetPath == "" {
			continue
		}
		if !c.Rendered() || c.Path == rec.TargetPath {
			if _, taken := claims[rec.TargetPath]; !taken {
				claims[rec.TargetPath] = id
			}
		}
	}

	plan := &Plan{Ops: make([]Op, 0, len(cands))}
	done := make(map[string]struct{}, len(cands))
	for _, c := range cands {
		if _, dup := done[c.ID]; dup {
			plan.Ops = append(plan.Ops, Op{Kind: OpFail, ID: c.ID,
				Err: &apperr.ItemError{ItemID: c.ID, Stage: "enumerate", Err: ErrDuplicateID}})
			continue
		}
		done[c.ID] = struct{}{}

		switch {
		case c.Skip:
			plan.Ops = append(plan.Ops, Op{Kind: OpSkip, ID: c.ID})
			continue
		case c.Err != nil:
			plan.Ops = append(plan.Ops, Op{Kind: OpFail, ID: c.ID, LastEditedAt: c.LastEditedAt, Err: c.Err})
			continue
		case c.Path == "":
			plan.Ops = append(plan.Ops, Op{Kind: OpFail, ID: c.ID, LastEditedAt: c.LastEditedAt,
				Err: &apperr.ItemError{ItemID: c.ID, Stage: "plan", Err: errors.New("no target path")}})
			continue
		}

		if owner, claimed := claims[c.Path]; claimed && owner != c.ID {
			plan.Ops = append(plan.Ops, collision(c, owner))
			continue
		}
		d, err := disk.Inspect(c.Path)
		if err != nil {
			plan.Ops = append(plan.Ops, Op{Kind: OpFail, ID: c.ID, LastEditedAt: c.LastEditedAt,
				Err: &apperr.ItemError{ItemID: c.ID, Stage: "inspect", Err: err}})
			continue
		}
		if d.Exists && d.Identity != c.ID && ownerOf[c.Path] == "" {
			plan.Ops = append(plan.Ops, collision(c, ""))
			continue
		}
		claims[c.Path] = c.ID

		rec, has := records[c.ID]
		op := Op{
			ID:           c.ID,
			Path:         c.Path,
			Content:      c.Content,
			Hash:         c.Hash,
			LastEditedAt: c.LastEditedAt,
			Change:       detector.Classify(rec, has, c.Hash, c.Path, d),
		}
		if op.Change == detector.Unchanged {
			op.Kind = OpUnchanged
		} else {
			op.Kind = OpWrite
		}
		if has && rec.TargetPath != "" && rec.TargetPath != c.Path {
			op.RemovePath = rec.TargetPath
		}
		plan.Ops = append(plan.Ops, op)
	}

	// A stale path another record claimed this pass is no longer stale.
	for i := range plan.Ops {
		op := &plan.Ops[i]
		if op.RemovePath == "" {
			continue
		}
		if owner, ok := claims[op.RemovePath]; ok && owner != op.ID {
			op.RemovePath = ""
		}
	}

	for _, id := range slices.Sorted(maps.Keys(records)) {
		if _, seen := byID[id]; seen {
			continue
		}
		p := records[id].TargetPath
		if _, claimed := claims[p]; claimed {
			p = ""
		}
		plan.Ops = append(plan.Ops, Op{Kind: OpDelete, ID: id, Path: p})
	}
	return plan, nil
}

func collision(c Candidate, owner string) Op {
	return Op{
		Kind:         OpFail,
		ID:           c.ID,
		LastEditedAt: c.LastEditedAt,
		Err: &apperr.ItemError{ItemID: c.ID, Stage: "collision",
			Err: &apperr.PathCollisionError{ItemID: c.ID, Path: c.Path, Owner: owner}},
	}
}
