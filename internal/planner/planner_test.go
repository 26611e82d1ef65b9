package planner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/pagesync/internal/apperr"
	"github.com/starford/pagesync/internal/detector"
	"github.com/starford/pagesync/internal/models"
)

type fakeDisk map[string]detector.Disk

func (f fakeDisk) Inspect(p string) (detector.Disk, error) {
	if d, ok := f[p]; ok {
		return d, nil
	}
	return detector.Disk{}, nil
}

func rendered(id, path, hash string) Candidate {
	return Candidate{ID: id, Path: path, Hash: hash, Content: []byte(hash)}
}

func rec(id, path, hash string) models.SyncRecord {
	return models.SyncRecord{ItemID: id, TargetPath: path, ContentHash: hash, Status: models.StatusSuccess}
}

func kinds(p *Plan) []OpKind {
	out := make([]OpKind, len(p.Ops))
	for i, op := range p.Ops {
		out[i] = op.Kind
	}
	return out
}

func TestBuild_CreateUpdateUnchanged(t *testing.T) {
	records := map[string]models.SyncRecord{
		"a": rec("a", "posts/a.md", "h-a"),
		"b": rec("b", "posts/b.md", "h-b"),
	}
	disk := fakeDisk{
		"posts/a.md": {Exists: true, Hash: "h-a", Identity: "a"},
		"posts/b.md": {Exists: true, Hash: "h-b", Identity: "b"},
	}
	plan, err := Build([]Candidate{
		rendered("a", "posts/a.md", "h-a"),
		rendered("b", "posts/b.md", "h-b2"),
		rendered("c", "posts/c.md", "h-c"),
	}, records, disk)
	require.NoError(t, err)

	assert.Equal(t, []OpKind{OpUnchanged, OpWrite, OpWrite}, kinds(plan))
	assert.Equal(t, detector.Update, plan.Ops[1].Change)
	assert.Equal(t, detector.Create, plan.Ops[2].Change)
	assert.Empty(t, plan.Orphans())
}

func TestBuild_Orphans(t *testing.T) {
	records := map[string]models.SyncRecord{
		"A": rec("A", "posts/a.md", "h-a"),
		"B": rec("B", "posts/b.md", "h-b"),
		"C": rec("C", "posts/c.md", "h-c"),
	}
	disk := fakeDisk{
		"posts/a.md": {Exists: true, Hash: "h-a", Identity: "A"},
		"posts/c.md": {Exists: true, Hash: "h-c", Identity: "C"},
	}
	plan, err := Build([]Candidate{
		rendered("A", "posts/a.md", "h-a"),
		rendered("C", "posts/c.md", "h-c"),
	}, records, disk)
	require.NoError(t, err)

	assert.Equal(t, []OpKind{OpUnchanged, OpUnchanged, OpDelete}, kinds(plan))
	assert.Equal(t, []string{"B"}, plan.Orphans())
	assert.Equal(t, "posts/b.md", plan.Ops[2].Path)
}

func TestBuild_SkippedAndFailedAreNotOrphans(t *testing.T) {
	records := map[string]models.SyncRecord{
		"s": rec("s", "posts/s.md", "h-s"),
		"f": rec("f", "posts/f.md", "h-f"),
	}
	plan, err := Build([]Candidate{
		{ID: "s", Skip: true},
		{ID: "f", Err: errors.New("render failed")},
	}, records, fakeDisk{})
	require.NoError(t, err)
	assert.Equal(t, []OpKind{OpSkip, OpFail}, kinds(plan))
	assert.Empty(t, plan.Orphans())
}

func TestBuild_Rename(t *testing.T) {
	records := map[string]models.SyncRecord{"a": rec("a", "posts/old.md", "h-old")}
	plan, err := Build([]Candidate{rendered("a", "posts/new.md", "h-new")}, records,
		fakeDisk{"posts/old.md": {Exists: true, Hash: "h-old", Identity: "a"}})
	require.NoError(t, err)
	require.Len(t, plan.Ops, 1)
	assert.Equal(t, OpWrite, plan.Ops[0].Kind)
	assert.Equal(t, "posts/old.md", plan.Ops[0].RemovePath)
}

func TestBuild_CollisionFirstWins(t *testing.T) {
	plan, err := Build([]Candidate{
		rendered("x", "posts/same.md", "h-x"),
		rendered("y", "posts/same.md", "h-y"),
	}, nil, fakeDisk{})
	require.NoError(t, err)
	assert.Equal(t, []OpKind{OpWrite, OpFail}, kinds(plan))

	var pc *apperr.PathCollisionError
	require.ErrorAs(t, plan.Ops[1].Err, &pc)
	assert.Equal(t, "x", pc.Owner)
	assert.ErrorIs(t, plan.Ops[1].Err, apperr.ErrPathCollision)
}

func TestBuild_ExistingOwnerKeepsPath(t *testing.T) {
	// "old" already owns the path; "new" is encountered first but loses.
	records := map[string]models.SyncRecord{"old": rec("old", "posts/p.md", "h-old")}
	disk := fakeDisk{"posts/p.md": {Exists: true, Hash: "h-old", Identity: "old"}}
	plan, err := Build([]Candidate{
		rendered("new", "posts/p.md", "h-new"),
		rendered("old", "posts/p.md", "h-old"),
	}, records, disk)
	require.NoError(t, err)
	assert.Equal(t, []OpKind{OpFail, OpUnchanged}, kinds(plan))
}

func TestBuild_ForeignFileIsCollision(t *testing.T) {
	disk := fakeDisk{"pages/about.md": {Exists: true, Hash: "hand", Identity: ""}}
	plan, err := Build([]Candidate{rendered("n", "pages/about.md", "h-n")}, nil, disk)
	require.NoError(t, err)
	require.Equal(t, []OpKind{OpFail}, kinds(plan))
	var pc *apperr.PathCollisionError
	require.ErrorAs(t, plan.Ops[0].Err, &pc)
	assert.Empty(t, pc.Owner)
}

func TestBuild_AdoptsIdenticalFile(t *testing.T) {
	disk := fakeDisk{"posts/a.md": {Exists: true, Hash: "h-a", Identity: "a"}}
	plan, err := Build([]Candidate{rendered("a", "posts/a.md", "h-a")}, nil, disk)
	require.NoError(t, err)
	assert.Equal(t, []OpKind{OpUnchanged}, kinds(plan))
}

func TestBuild_OrphanPathReusedIsKept(t *testing.T) {
	records := map[string]models.SyncRecord{"gone": rec("gone", "posts/p.md", "h-gone")}
	disk := fakeDisk{"posts/p.md": {Exists: true, Hash: "h-gone", Identity: "gone"}}
	plan, err := Build([]Candidate{rendered("new", "posts/p.md", "h-new")}, records, disk)
	require.NoError(t, err)
	assert.Equal(t, []OpKind{OpWrite, OpDelete}, kinds(plan))
	assert.Empty(t, plan.Ops[1].Path, "file now belongs to an active record")
}

func TestBuild_SwappedPaths(t *testing.T) {
	records := map[string]models.SyncRecord{
		"a": rec("a", "posts/one.md", "h-a"),
		"b": rec("b", "posts/two.md", "h-b"),
	}
	disk := fakeDisk{
		"posts/one.md": {Exists: true, Hash: "h-a", Identity: "a"},
		"posts/two.md": {Exists: true, Hash: "h-b", Identity: "b"},
	}
	plan, err := Build([]Candidate{
		rendered("a", "posts/two.md", "h-a2"),
		rendered("b", "posts/one.md", "h-b2"),
	}, records, disk)
	require.NoError(t, err)
	assert.Equal(t, []OpKind{OpWrite, OpWrite}, kinds(plan))
	assert.Empty(t, plan.Ops[0].RemovePath)
	assert.Empty(t, plan.Ops[1].RemovePath)
}

func TestBuild_DuplicateID(t *testing.T) {
	plan, err := Build([]Candidate{
		rendered("a", "posts/a.md", "h"),
		rendered("a", "pages/a.md", "h"),
	}, nil, fakeDisk{})
	require.NoError(t, err)
	assert.Equal(t, []OpKind{OpWrite, OpFail}, kinds(plan))
	assert.ErrorIs(t, plan.Ops[1].Err, ErrDuplicateID)
}
