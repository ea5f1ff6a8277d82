// Package journal keeps a durable log of motor runs in SQLite.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one started motor run.
type Entry struct {
	ID       string
	Time     time.Time
	Source   string
	Grams    float64 // requested mass; 0 for fixed-duration runs
	Duration time.Duration
	Clamped  bool
}

// Journal is an append-only run log.
type Journal struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the journal at path. Use ":memory:" for tests.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection: ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		source TEXT NOT NULL,
		grams REAL NOT NULL,
		duration_ms INTEGER NOT NULL,
		clamped INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_ts ON runs(ts);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Append records a run.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	clamped := 0
	if e.Clamped {
		clamped = 1
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO runs (id, ts, source, grams, duration_ms, clamped) VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, e.Time.UnixMilli(), e.Source, e.Grams, e.Duration.Milliseconds(), clamped,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Since returns runs at or after t, oldest first.
func (j *Journal) Since(ctx context.Context, t time.Time) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, ts, source, grams, duration_ms, clamped FROM runs WHERE ts >= ? ORDER BY ts, rowid",
		t.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			ts, ms  int64
			clamped int
		)
		if err := rows.Scan(&e.ID, &ts, &e.Source, &e.Grams, &ms, &clamped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.Time = time.UnixMilli(ts)
		e.Duration = time.Duration(ms) * time.Millisecond
		e.Clamped = clamped != 0
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// GramsSince sums the requested mass of runs at or after t.
func (j *Journal) GramsSince(ctx context.Context, t time.Time) (float64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var total float64
	err := j.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(grams), 0) FROM runs WHERE ts >= ?", t.UnixMilli(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum runs: %w", err)
	}
	return total, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
