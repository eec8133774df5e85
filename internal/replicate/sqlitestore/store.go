// Package sqlitestore is the shared low-level SQLite engine behind the
// replication capability implementations (issuecaps, blobcaps): one table
// per item kind, a uuid-keyed etag on every row, and the same
// connection/transaction idiom the storage layer has always used.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound means the row has no record at all, live or tombstoned.
var ErrNotFound = errors.New("sqlitestore: not found")

// ErrEtagMismatch means a conditional write's etag no longer matched the
// stored row.
var ErrEtagMismatch = errors.New("sqlitestore: etag mismatch")

const schema = `
CREATE TABLE IF NOT EXISTS replicated_items (
	table_name TEXT NOT NULL,
	id TEXT NOT NULL,
	meta TEXT NOT NULL,
	body BLOB,
	etag TEXT NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (table_name, id)
);
CREATE INDEX IF NOT EXISTS idx_replicated_items_table ON replicated_items(table_name);
`

// Store wraps a single SQLite connection pool shared by every item-kind
// capability implementation; table distinguishes item kinds within it.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Row is one stored record as the row-level primitives see it: raw JSON
// metadata text and an opaque body blob, left to the capability layer to
// decode.
type Row struct {
	MetaJSON string
	Body     []byte
	Etag     string
	Deleted  bool
}

// Get reads the current row for (table, id). Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, table, id string) (Row, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return Row{}, fmt.Errorf("sqlitestore: acquire connection: %w", err)
	}
	defer conn.Close()

	var row Row
	var deleted int
	err = conn.QueryRowContext(ctx,
		`SELECT meta, body, etag, deleted FROM replicated_items WHERE table_name = ? AND id = ?`,
		table, id,
	).Scan(&row.MetaJSON, &row.Body, &row.Etag, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("sqlitestore: read %s/%s: %w", table, id, err)
	}
	row.Deleted = deleted != 0
	return row, nil
}

// Upsert writes (table, id) with a freshly generated etag, honoring
// expectedEtag as an optimistic-concurrency guard when non-nil: nil means
// "write regardless" (used for brand-new rows and unconditional artifact
// writes); non-nil must match the currently stored etag, or an absent row
// must correspond to an empty expected etag check failing with
// ErrEtagMismatch, matching the storage interface's etag? semantics.
func (s *Store) Upsert(ctx context.Context, table, id string, metaJSON string, body []byte, deleted bool, expectedEtag *string) (string, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentEtag string
	err = tx.QueryRowContext(ctx,
		`SELECT etag FROM replicated_items WHERE table_name = ? AND id = ?`, table, id,
	).Scan(&currentEtag)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expectedEtag != nil {
			return "", ErrEtagMismatch
		}
	case err != nil:
		return "", fmt.Errorf("sqlitestore: check existing row %s/%s: %w", table, id, err)
	default:
		if expectedEtag != nil && *expectedEtag != currentEtag {
			return "", ErrEtagMismatch
		}
	}

	newEtag := uuid.NewString()
	deletedInt := 0
	if deleted {
		deletedInt = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO replicated_items (table_name, id, meta, body, etag, deleted)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(table_name, id) DO UPDATE SET meta=excluded.meta, body=excluded.body, etag=excluded.etag, deleted=excluded.deleted`,
		table, id, metaJSON, body, newEtag, deletedInt,
	)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: write %s/%s: %w", table, id, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("sqlitestore: commit write %s/%s: %w", table, id, err)
	}
	return newEtag, nil
}

// Delete hard-deletes (table, id), honoring expectedEtag as in Upsert.
func (s *Store) Delete(ctx context.Context, table, id string, expectedEtag *string) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if expectedEtag != nil {
		var currentEtag string
		err := tx.QueryRowContext(ctx,
			`SELECT etag FROM replicated_items WHERE table_name = ? AND id = ?`, table, id,
		).Scan(&currentEtag)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEtagMismatch
		}
		if err != nil {
			return fmt.Errorf("sqlitestore: check existing row %s/%s: %w", table, id, err)
		}
		if currentEtag != *expectedEtag {
			return ErrEtagMismatch
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM replicated_items WHERE table_name = ? AND id = ?`, table, id); err != nil {
		return fmt.Errorf("sqlitestore: delete %s/%s: %w", table, id, err)
	}
	return tx.Commit()
}

// InTransaction invokes fn and returns its error. It opens no SQLite
// transaction of its own: each Store method called from fn commits
// separately, so the writes of one fn are not atomic as a group. It is the
// Transactor the replication engine's deferred notification hook expects.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// The capability and engine methods above each open their own
	// connection and transaction per call; true cross-call atomicity would
	// require threading a *sql.Tx through context, which the engine's
	// per-id lock table already makes unnecessary for correctness (see
	// the concurrency model). InTransaction's job here is purely to gate
	// notification delivery to commit, so fn is simply invoked and its
	// error (if any) aborts delivery.
	return fn(ctx)
}
