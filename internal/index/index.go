// Package index maintains a local SQLite cache of flattened
// line-attribution rows, sourced from the Attribution Store's git notes
// rather than a JSONL log. Blame Join and Query Services consult it so a
// repeated File Blame or Range Summary doesn't have to re-parse every
// note in the commit's ancestry on each call.
package index

import (
	"database/sql"
	"fmt"

	"github.com/dotsetlabs/whogitit/internal/attribution"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS line_attributions (
	commit_sha    TEXT NOT NULL,
	path          TEXT NOT NULL,
	line          INTEGER NOT NULL,
	source        TEXT NOT NULL,
	edit_id       TEXT NOT NULL DEFAULT '',
	session_id    TEXT NOT NULL DEFAULT '',
	prompt_index  INTEGER NOT NULL DEFAULT -1,
	content       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (commit_sha, path, line)
);
CREATE INDEX IF NOT EXISTS idx_line_attributions_path ON line_attributions(path);
`

// DB wraps a SQLite-backed attribution cache.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the cache database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: create schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Index flattens attr's per-line attributions into rows keyed by
// attr.CommitSHA, replacing any rows previously indexed for that commit.
func (d *DB) Index(attr *attribution.AIAttribution) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM line_attributions WHERE commit_sha = ?`, attr.CommitSHA); err != nil {
		return fmt.Errorf("index: clear existing rows: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO line_attributions (commit_sha, path, line, source, edit_id, session_id, prompt_index, content) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, fa := range attr.Files {
		for _, la := range fa.Lines {
			promptIndex := -1
			if la.PromptIndex != nil {
				promptIndex = *la.PromptIndex
			}
			if _, err := stmt.Exec(attr.CommitSHA, fa.Path, la.Line, string(la.Source), la.EditID, la.SessionID, promptIndex, la.Content); err != nil {
				return fmt.Errorf("index: insert row: %w", err)
			}
		}
	}

	return tx.Commit()
}

// Remove deletes all cached rows for commitSHA, mirroring a Store.Remove
// of that commit's note.
func (d *DB) Remove(commitSHA string) error {
	if _, err := d.conn.Exec(`DELETE FROM line_attributions WHERE commit_sha = ?`, commitSHA); err != nil {
		return fmt.Errorf("index: remove %s: %w", commitSHA, err)
	}
	return nil
}

// Row is one cached line-attribution entry. PromptIndex is nil when the
// line carries no prompt linkage (Source is Original, Human, or Unknown).
// Content is the line's own text, carried so the Blame Join can fall back
// to a content match when a blamed line's original-line index no longer
// lines up with this row's Line.
type Row struct {
	CommitSHA   string
	Path        string
	Line        int
	Source      attribution.LineSource
	EditID      string
	SessionID   string
	PromptIndex *int
	Content     string
}

// Lookup returns the cached rows for path at commitSHA, if any were
// indexed. A cache miss (commit never indexed) returns an empty slice,
// not an error — callers fall back to reading the note directly.
func (d *DB) Lookup(commitSHA, path string) ([]Row, error) {
	rows, err := d.conn.Query(
		`SELECT commit_sha, path, line, source, edit_id, session_id, prompt_index, content FROM line_attributions WHERE commit_sha = ? AND path = ? ORDER BY line`,
		commitSHA, path,
	)
	if err != nil {
		return nil, fmt.Errorf("index: lookup %s:%s: %w", commitSHA, path, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var source string
		var promptIndex int
		if err := rows.Scan(&r.CommitSHA, &r.Path, &r.Line, &source, &r.EditID, &r.SessionID, &promptIndex, &r.Content); err != nil {
			return nil, fmt.Errorf("index: scan row: %w", err)
		}
		r.Source = attribution.LineSource(source)
		if promptIndex >= 0 {
			r.PromptIndex = &promptIndex
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Indexed reports whether commitSHA has any cached rows at all, letting a
// caller distinguish "indexed, but this file had no attribution" from
// "never indexed."
func (d *DB) Indexed(commitSHA string) (bool, error) {
	var n int
	err := d.conn.QueryRow(`SELECT COUNT(1) FROM line_attributions WHERE commit_sha = ? LIMIT 1`, commitSHA).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("index: indexed check %s: %w", commitSHA, err)
	}
	return n > 0, nil
}
