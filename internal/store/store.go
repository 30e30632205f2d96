// Package store is the local calendar instance store. It holds expanded
// occurrences per ICS source in sqlite and is the data source the display
// engine queries.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"calface/internal/face"
	appLog "calface/internal/log"
	"calface/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS instances (
	source_id     TEXT NOT NULL,
	instance_key  TEXT NOT NULL,
	uid           TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	begin_ms      INTEGER NOT NULL,
	end_ms        INTEGER NOT NULL,
	display_color TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (source_id, instance_key)
);
CREATE INDEX IF NOT EXISTS idx_instances_begin ON instances(begin_ms);
`

// Store is a sqlite-backed instance table plus change notifications.
type Store struct {
	db   *sql.DB
	path string

	mu     sync.Mutex
	subs   map[int]func()
	nextID int
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating schema: %w", err)
	}

	return &Store{db: db, path: path, subs: make(map[int]func())}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Path() string { return s.path }

// Query returns the instances overlapping [fromMillis, toMillis], ordered by
// begin. The caller must Close the cursor.
func (s *Store) Query(ctx context.Context, fromMillis, toMillis int64) (face.Rows, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT begin_ms, end_ms, title, display_color
		FROM instances
		WHERE begin_ms <= ? AND end_ms >= ?
		ORDER BY begin_ms, source_id, instance_key`,
		toMillis, fromMillis)
	if err != nil {
		return nil, fmt.Errorf("store: query instances: %w", err)
	}
	return &cursor{rows: rows}, nil
}

// ReplaceSource swaps every instance of sourceID for occs in one
// transaction, then notifies subscribers. Occurrence.Color is stored as the
// display color.
func (s *Store) ReplaceSource(ctx context.Context, sourceID string, occs []model.Occurrence) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("store: clearing %s: %w", sourceID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO instances
			(source_id, instance_key, uid, title, begin_ms, end_ms, display_color)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range occs {
		if _, err := stmt.ExecContext(ctx,
			sourceID, o.InstanceKey, o.UID, o.Summary,
			o.Start.UnixMilli(), o.End.UnixMilli(), o.Color,
		); err != nil {
			return fmt.Errorf("store: insert %s: %w", o.InstanceKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	appLog.Debug("store: source replaced", "source", sourceID, "instances", len(occs))
	s.notify()
	return nil
}

// DeleteSourcesExcept drops every source not listed in keep. It is used when
// a subscription is removed from the configuration.
func (s *Store) DeleteSourcesExcept(ctx context.Context, keep []string) (int64, error) {
	query := `DELETE FROM instances`
	args := make([]any, 0, len(keep))
	if len(keep) > 0 {
		query += ` WHERE source_id NOT IN (?` + repeatPlaceholder(len(keep)-1) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: pruning sources: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.notify()
	}
	return n, nil
}

// Count returns the number of stored instances.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Subscribe registers fn for change notifications. fn runs on the writing
// goroutine and must not block.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func repeatPlaceholder(n int) string {
	out := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		out = append(out, ", ?"...)
	}
	return string(out)
}

// cursor adapts sql.Rows. A row that fails to scan is reported by Row and
// does not end the iteration.
type cursor struct {
	rows *sql.Rows
}

func (c *cursor) Next() bool { return c.rows.Next() }

func (c *cursor) Row() (model.RawRow, error) {
	var r model.RawRow
	if err := c.rows.Scan(&r.BeginMillis, &r.EndMillis, &r.Title, &r.DisplayColor); err != nil {
		return model.RawRow{}, fmt.Errorf("store: scan: %w", err)
	}
	return r, nil
}

func (c *cursor) Err() error { return c.rows.Err() }

func (c *cursor) Close() error { return c.rows.Close() }
