package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrBusy           = errors.New("sync already running")
	ErrFatalSource    = errors.New("fatal source error")
	ErrTransient      = errors.New("transient network error")
	ErrItemProcessing = errors.New("item processing error")
	ErrPathCollision  = errors.New("path collision")
	ErrStatePersist   = errors.New("state persist error")
)

// FatalSourceError aborts a whole pass: the source is unreachable for
// reasons retrying cannot fix (auth, missing database).
type FatalSourceError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *FatalSourceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("source %s: status %d: %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *FatalSourceError) Unwrap() error        { return e.Err }
func (e *FatalSourceError) Is(target error) bool { return target == ErrFatalSource }

// TransientError is a failure that may succeed when retried.
type TransientError struct {
	Err   error
	After time.Duration
}

func (e *TransientError) Error() string        { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error        { return e.Err }
func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// RetryAfter returns the server supplied delay hint, or zero.
func (e *TransientError) RetryAfter() time.Duration { return e.After }

// ItemError is a failure confined to one record. Stage names the step
// that failed (map, fetch, render, write, collision).
type ItemError struct {
	ItemID string
	Stage  string
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %s: %s: %v", e.ItemID, e.Stage, e.Err)
}

func (e *ItemError) Unwrap() error        { return e.Err }
func (e *ItemError) Is(target error) bool { return target == ErrItemProcessing }

// PathCollisionError reports a record whose target path is already
// claimed by another record or by a file this tool does not own.
type PathCollisionError struct {
	ItemID string
	Path   string
	Owner  string
}

func (e *PathCollisionError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("path %s for %s is occupied by an unmanaged file", e.Path, e.ItemID)
	}
	return fmt.Sprintf("path %s for %s is already claimed by %s", e.Path, e.ItemID, e.Owner)
}

func (e *PathCollisionError) Is(target error) bool { return target == ErrPathCollision }

// StatePersistError is returned when the final state write fails.
type StatePersistError struct {
	Err error
}

func (e *StatePersistError) Error() string        { return "persist state: " + e.Err.Error() }
func (e *StatePersistError) Unwrap() error        { return e.Err }
func (e *StatePersistError) Is(target error) bool { return target == ErrStatePersist }

// IsFatal reports whether err must abort the pass.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatalSource) || errors.Is(err, ErrStatePersist)
}
