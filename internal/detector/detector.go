// Package detector decides which records need processing and classifies
// the change a freshly rendered artifact represents.
package detector

import (
	"fmt"

	"github.com/starford/pagesync/internal/models"
)

// Mode selects how much of the source is reprocessed.
type Mode string

// Sync modes.
const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// ParseMode validates s as a Mode. Empty selects incremental.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeIncremental:
		return ModeIncremental, nil
	case ModeFull:
		return ModeFull, nil
	default:
		return "", fmt.Errorf("detector: unknown mode %q", s)
	}
}

// Decision is the pre-fetch verdict for one record.
type Decision int

// Decisions.
const (
	Process Decision = iota
	SkipItem
)

func (d Decision) String() string {
	if d == SkipItem {
		return "skip"
	}
	return "process"
}

// Change is the post-render verdict for one record.
type Change int

// Changes.
const (
	Create Change = iota
	Update
	Unchanged
)

func (c Change) String() string {
	switch c {
	case Create:
		return "create"
	case Update:
		return "update"
	default:
		return "unchanged"
	}
}

// Disk describes the file currently at a target path.
type Disk struct {
	Exists   bool
	Hash     string
	Identity string
}

// SkipMarker reports whether a record carries the explicit skip property.
type SkipMarker func(models.RemoteItem) bool

// Detector holds the per-pass policy.
type Detector struct {
	mode            Mode
	trustTimestamps bool
	skip            SkipMarker
}

// New returns a Detector. skip may be nil when no skip property is mapped.
func New(mode Mode, trustTimestamps bool, skip SkipMarker) *Detector {
	if skip == nil {
		skip = func(models.RemoteItem) bool { return false }
	}
	return &Detector{mode: mode, trustTimestamps: trustTimestamps, skip: skip}
}

// Mode returns the configured mode.
func (d *Detector) Mode() Mode { return d.mode }

// NeedsDisk reports whether Decide will look at the file behind rec.
func (d *Detector) NeedsDisk(rec models.SyncRecord, hasRecord bool) bool {
	return d.mode == ModeIncremental && d.trustTimestamps && hasRecord && rec.TargetPath != ""
}

// Decide runs before content is fetched. Full mode processes everything.
// Incremental mode honours the skip marker on known records first and,
// when timestamps are trusted, skips successful records whose remote edit
// time has not moved. disk is the file at the record's target path; a
// trusted skip also requires that file to still hold the recorded hash.
func (d *Detector) Decide(item models.RemoteItem, rec models.SyncRecord, hasRecord bool, disk Disk) Decision {
	if d.mode == ModeFull || !hasRecord {
		return Process
	}
	if d.skip(item) {
		return SkipItem
	}
	if d.trustTimestamps && rec.Status == models.StatusSuccess && rec.ContentHash != "" &&
		!item.LastEditedAt.IsZero() && rec.LastEditedSeen.Equal(item.LastEditedAt) &&
		disk.Exists && disk.Hash == rec.ContentHash {
		return SkipItem
	}
	return Process
}

// Classify compares the rendered hash and path with the stored record and
// the file on disk. The content hash is the only change signal.
func Classify(rec models.SyncRecord, hasRecord bool, newHash, newPath string, disk Disk) Change {
	if !hasRecord || rec.ContentHash == "" {
		if disk.Exists && disk.Hash == newHash {
			return Unchanged
		}
		return Create
	}
	if rec.ContentHash == newHash && rec.TargetPath == newPath && disk.Exists && disk.Hash == newHash {
		return Unchanged
	}
	return Update
}
