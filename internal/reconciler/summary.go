package reconciler

import (
	"errors"
	"time"

	"github.com/starford/pagesync/internal/apperr"
	"github.com/starford/pagesync/internal/detector"
)

// ItemFailure is one reported per-record error.
type ItemFailure struct {
	ItemID  string `json:"itemId"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

// Summary describes the outcome of one pass.
type Summary struct {
	RunID      string        `json:"runId"`
	Mode       detector.Mode `json:"mode"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Created    int           `json:"created"`
	Updated    int           `json:"updated"`
	Unchanged  int           `json:"unchanged"`
	Skipped    int           `json:"skipped"`
	Deleted    int           `json:"deleted"`
	Errored    int           `json:"errored"`
	Errors     []ItemFailure `json:"errors,omitempty"`
	// Truncated counts failures left out of Errors.
	Truncated int `json:"truncatedErrors,omitempty"`
}

// Changed reports whether the pass wrote or deleted any artifact.
func (s *Summary) Changed() bool {
	return s.Created+s.Updated+s.Deleted > 0
}

// Duration is the wall time of the pass.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s *Summary) fail(id string, err error, limit int) {
	s.Errored++
	if limit > 0 && len(s.Errors) >= limit {
		s.Truncated++
		return
	}
	f := ItemFailure{ItemID: id, Message: err.Error()}
	var ie *apperr.ItemError
	if errors.As(err, &ie) {
		f.Stage = ie.Stage
		f.Message = ie.Err.Error()
	}
	s.Errors = append(s.Errors, f)
}
