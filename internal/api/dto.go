package api

import (
	"github.com/starford/pagesync/internal/reconciler"
	"github.com/starford/pagesync/internal/syncservice"
)

// RecordView is one sync record (aliased from the domain layer).
type RecordView = syncservice.RecordView

// RecordDetail is a record with its artifact (aliased from the domain layer).
type RecordDetail = syncservice.RecordDetail

// RunView is one recorded pass (aliased from the domain layer).
type RunView = syncservice.RunView

// RecordListResponse wraps record listings.
type RecordListResponse struct {
	Records []RecordView `json:"records" validate:"required"`
	Total   int          `json:"total" example:"42" validate:"required"`
}

// RunListResponse wraps paginated run listings.
type RunListResponse struct {
	Runs  []RunView `json:"runs" validate:"required"`
	Total int       `json:"total" example:"7" validate:"required"`
}

// ArtifactListResponse wraps paginated catalogue listings.
type ArtifactListResponse struct {
	Artifacts []syncservice.ArtifactView `json:"artifacts" validate:"required"`
	Total     int                        `json:"total" example:"42" validate:"required"`
}

// SyncResponse is returned by POST /api/sync. Summary is present whenever
// the pass produced one, including a failed state commit.
type SyncResponse struct {
	Summary *reconciler.Summary `json:"summary,omitempty"`
	Error   string              `json:"error,omitempty"`
}
