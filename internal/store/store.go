// Package store persists position fixes in SQLite so the last known
// position survives a restart.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"gpslink/internal/gps"
)

const (
	DefaultKeep        = 1000
	DefaultMinInterval = 10 * time.Second
)

type Config struct {
	Path string
	// Keep bounds the number of stored fixes; older rows are pruned.
	Keep int
	// MinInterval spaces out rows written by Record.
	MinInterval time.Duration
}

// FixStore is a SQLite-backed fix history.
type FixStore struct {
	db  *sql.DB
	cfg Config

	mu       sync.Mutex
	lastSave time.Time
	nowFn    func() time.Time
}

// Open opens (creating if needed) the database at cfg.Path. ":memory:" is
// accepted for tests.
func Open(cfg Config) (*FixStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}

	dsn := cfg.Path
	if dsn != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	s := &FixStore{db: db, cfg: cfg, nowFn: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *FixStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS fixes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lat_deg REAL NOT NULL,
		lon_deg REAL NOT NULL,
		taken_at INTEGER NOT NULL,
		source TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_fixes_taken_at ON fixes(taken_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *FixStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save appends fix and prunes the history to Keep rows.
func (s *FixStore) Save(ctx context.Context, fix gps.Fix) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	if !fix.Valid() {
		return fmt.Errorf("invalid fix")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fixes (lat_deg, lon_deg, taken_at, source) VALUES (?, ?, ?, ?)`,
		fix.LatDeg, fix.LonDeg, fix.Time.UTC().UnixNano(), fix.Source,
	); err != nil {
		return fmt.Errorf("failed to insert fix: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM fixes WHERE id NOT IN (SELECT id FROM fixes ORDER BY id DESC LIMIT ?)`,
		s.cfg.Keep,
	); err != nil {
		return fmt.Errorf("failed to prune fixes: %w", err)
	}
	return tx.Commit()
}

// Last returns the most recently saved fix.
func (s *FixStore) Last(ctx context.Context) (gps.Fix, bool, error) {
	fixes, err := s.Recent(ctx, 1)
	if err != nil || len(fixes) == 0 {
		return gps.Fix{}, false, err
	}
	return fixes[0], true, nil
}

// Recent returns up to n fixes, newest first.
func (s *FixStore) Recent(ctx context.Context, n int) ([]gps.Fix, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if n <= 0 {
		n = 1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT lat_deg, lon_deg, taken_at, source FROM fixes ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query fixes: %w", err)
	}
	defer rows.Close()

	var out []gps.Fix
	for rows.Next() {
		var (
			f     gps.Fix
			taken int64
		)
		if err := rows.Scan(&f.LatDeg, &f.LonDeg, &taken, &f.Source); err != nil {
			return nil, fmt.Errorf("failed to scan fix: %w", err)
		}
		f.Time = time.Unix(0, taken).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// Record is a gps subscriber that saves at most one fix per MinInterval.
// Errors are logged; they never reach the position source.
func (s *FixStore) Record(fix gps.Fix) {
	if s == nil {
		return
	}
	now := s.nowFn()
	s.mu.Lock()
	if !s.lastSave.IsZero() && now.Sub(s.lastSave) < s.cfg.MinInterval {
		s.mu.Unlock()
		return
	}
	s.lastSave = now
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Save(ctx, fix); err != nil {
		log.Warn().Str("module", "store").Err(err).Msg("fix not saved")
	}
}
