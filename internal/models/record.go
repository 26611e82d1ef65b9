package models

import "time"

// SyncStatus is the outcome of the last processing attempt for a record.
type SyncStatus string

// Sync statuses.
const (
	StatusSuccess SyncStatus = "success"
	StatusError   SyncStatus = "error"
)

// SyncRecord is the persisted per-record sync state.
type SyncRecord struct {
	ItemID         string     `json:"-"`
	ContentHash    string     `json:"contentHash"`
	LastEditedSeen time.Time  `json:"lastEditedSeen"`
	Status         SyncStatus `json:"status"`
	TargetPath     string     `json:"targetPath"`
	LastError      string     `json:"lastError,omitempty"`
}

// Metadata is the frontmatter derived for one artifact.
type Metadata map[string]any

// String returns the value of key if it is a non-empty string.
func (m Metadata) String(key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Artifact is one generated file: frontmatter plus body.
type Artifact struct {
	Path     string
	Metadata Metadata
	Body     string
}
