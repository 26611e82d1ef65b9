package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/pagesync/internal/apperr"
	"github.com/starford/pagesync/internal/models"
)

const sqlOperationTimeout = 5 * time.Second

const recordsSchemaSQL = `
CREATE TABLE IF NOT EXISTS sync_records (
	item_id          TEXT PRIMARY KEY,
	content_hash     TEXT NOT NULL DEFAULT '',
	last_edited_seen TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT '',
	target_path      TEXT NOT NULL DEFAULT '',
	last_error       TEXT NOT NULL DEFAULT ''
);
`

// SQL stores one row per record. Save replaces the whole table inside a
// single transaction so a failed save leaves the previous state intact.
type SQL struct {
	db          *sql.DB
	placeholder func(n int) string
	advisory    bool
}

// advisoryLockKey identifies the run lock among Postgres advisory locks.
const advisoryLockKey int64 = 0x7061676573796e63

// OpenSQLite opens (or creates) a SQLite state database at path.
func OpenSQLite(path string) (*SQL, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	return newSQL(conn, func(int) string { return "?" })
}

// OpenPostgres connects to the Postgres database named by dsn.
func OpenPostgres(dsn string) (*SQL, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: open postgres: %w", err)
	}
	b, err := newSQL(conn, func(n int) string { return fmt.Sprintf("$%d", n) })
	if err != nil {
		return nil, err
	}
	b.advisory = true
	return b, nil
}

func newSQL(conn *sql.DB, placeholder func(int) string) (*SQL, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("state: ping: %w", err)
	}
	if _, err := conn.ExecContext(ctx, recordsSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("state: apply schema: %w", err)
	}
	return &SQL{db: conn, placeholder: placeholder}, nil
}

func (b *SQL) Load(ctx context.Context) (map[string]models.SyncRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	rows, err := b.db.QueryContext(ctx, `
		SELECT item_id, content_hash, last_edited_seen, status, target_path, last_error
		FROM sync_records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]models.SyncRecord)
	for rows.Next() {
		var r models.SyncRecord
		var seen, status string
		if err := rows.Scan(&r.ItemID, &r.ContentHash, &seen, &status, &r.TargetPath, &r.LastError); err != nil {
			return nil, err
		}
		if seen != "" {
			t, err := time.Parse(time.RFC3339Nano, seen)
			if err != nil {
				return nil, fmt.Errorf("record %s: last_edited_seen: %w", r.ItemID, err)
			}
			r.LastEditedSeen = t
		}
		r.Status = models.SyncStatus(status)
		out[r.ItemID] = r
	}
	return out, rows.Err()
}

func (b *SQL) Save(ctx context.Context, records map[string]models.SyncRecord) error {
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	ph := make([]string, 6)
	for i := range ph {
		ph[i] = b.placeholder(i + 1)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_records (item_id, content_hash, last_edited_seen, status, target_path, last_error)
		VALUES (`+strings.Join(ph, ", ")+`)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for id, r := range records {
		seen := ""
		if !r.LastEditedSeen.IsZero() {
			seen = r.LastEditedSeen.UTC().Format(time.RFC3339Nano)
		}
		if _, err := stmt.ExecContext(ctx, id, r.ContentHash, seen, string(r.Status), r.TargetPath, r.LastError); err != nil {
			return fmt.Errorf("insert record %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// TryLock takes a session-level advisory lock on a dedicated connection
// so that passes from several hosts sharing one Postgres database never
// overlap. SQLite has no advisory locks; its run lock is a file next to
// the database and TryLock there is a no-op.
func (b *SQL) TryLock(ctx context.Context) (func(), error) {
	if !b.advisory {
		return func() {}, nil
	}
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("state: lock connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLockKey).Scan(&ok); err != nil {
		conn.Close()
		return nil, fmt.Errorf("state: advisory lock: %w", err)
	}
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("state: advisory lock held: %w", apperr.ErrBusy)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()
		_, _ = conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockKey)
		conn.Close()
	}, nil
}

func (b *SQL) Close() error {
	return b.db.Close()
}
