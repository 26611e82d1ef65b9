package index

import "context"

// Catalog defines the artifact and run-history operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type Catalog interface {
	UpsertArtifact(a ArtifactRow) error
	DeleteArtifact(path string) error
	GetArtifact(path string) (*ArtifactRow, error)
	ListArtifacts(limit, offset int, tag string) ([]ArtifactRow, int, error)
	AllChecksums() (map[string]string, error)

	RecordRun(ctx context.Context, r RunRow) error
	GetRun(ctx context.Context, id string) (*RunRow, error)
	ListRuns(ctx context.Context, limit, offset int) ([]RunRow, int, error)
	LastRun(ctx context.Context) (*RunRow, error)
	Close() error
}

// Verify *DB satisfies Catalog at compile time.
var _ Catalog = (*DB)(nil)
