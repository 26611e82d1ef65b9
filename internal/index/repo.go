package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/pagesync/internal/apperr"
)

// ArtifactRow represents a row in the artifacts table.
type ArtifactRow struct {
	Path      string
	Title     string
	Identity  string
	Checksum  string
	Tags      []string
	UpdatedAt time.Time
}

// UpsertArtifact inserts or replaces one catalogued file.
func (db *DB) UpsertArtifact(a ArtifactRow) error {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)

	_, err := db.conn.Exec(`
		INSERT INTO artifacts (path, title, identity, checksum, tags, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title      = excluded.title,
			identity   = excluded.identity,
			checksum   = excluded.checksum,
			tags       = excluded.tags,
			updated_at = excluded.updated_at
	`, a.Path, a.Title, a.Identity, a.Checksum, string(tagsJSON), a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("index: upsert artifact: %w", err)
	}
	return nil
}

// DeleteArtifact removes a catalogued file. Unknown paths are ignored.
func (db *DB) DeleteArtifact(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM artifacts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete artifact: %w", err)
	}
	return nil
}

// GetArtifact returns the row for path or apperr.ErrNotFound.
func (db *DB) GetArtifact(path string) (*ArtifactRow, error) {
	row := db.conn.QueryRow(`
		SELECT path, title, identity, checksum, tags, updated_at
		FROM artifacts WHERE path = ?`, path)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get artifact: %w", err)
	}
	return a, nil
}

// ListArtifacts returns one page of artifacts ordered by path, optionally
// restricted to those carrying tag, plus the total match count.
func (db *DB) ListArtifacts(limit, offset int, tag string) ([]ArtifactRow, int, error) {
	where := ""
	args := []any{}
	if tag != "" {
		where = `WHERE EXISTS (SELECT 1 FROM json_each(artifacts.tags) WHERE json_each.value = ?)`
		args = append(args, tag)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM artifacts `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count artifacts: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT path, title, identity, checksum, tags, updated_at
		FROM artifacts `+where+` ORDER BY path LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list artifacts: %w", err)
	}
	defer rows.Close()

	var out []ArtifactRow
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("index: scan artifact: %w", err)
		}
		out = append(out, *a)
	}
	return out, total, rows.Err()
}

// AllChecksums returns path → checksum for every catalogued file.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM artifacts`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// UnmanagedPaths returns, ordered, the catalogued files without a notion_id.
func (db *DB) UnmanagedPaths() ([]string, error) {
	rows, err := db.conn.Query(`SELECT path FROM artifacts WHERE identity = '' ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("index: unmanaged paths: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DuplicateIdentities returns notion_id → paths for every id carried by
// more than one catalogued file.
func (db *DB) DuplicateIdentities() (map[string][]string, error) {
	rows, err := db.conn.Query(`
		SELECT identity, path FROM artifacts
		WHERE identity IN (
			SELECT identity FROM artifacts WHERE identity != ''
			GROUP BY identity HAVING count(*) > 1
		)
		ORDER BY identity, path`)
	if err != nil {
		return nil, fmt.Errorf("index: duplicate identities: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var id, p string
		if err := rows.Scan(&id, &p); err != nil {
			return nil, err
		}
		out[id] = append(out[id], p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(s scanner) (*ArtifactRow, error) {
	var (
		a    ArtifactRow
		tags string
	)
	if err := s.Scan(&a.Path, &a.Title, &a.Identity, &a.Checksum, &tags, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", a.Path, err)
	}
	return &a, nil
}
