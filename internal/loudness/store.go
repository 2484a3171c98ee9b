package loudness

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store caches loudness reports in SQLite so a file is scanned once per
// content version. Rows are keyed by path; file size and mtime are stored
// alongside, and a lookup only matches when both still agree, so a changed
// file simply stops matching and its next scan overwrites the stale row.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the report database at dbPath and applies
// pragmas and schema. ":memory:" works for tests.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA user_version = 1",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	slog.Debug("loudness store opened", "path", dbPath)
	return &Store{db: db}, nil
}

// ensureSchema creates the report table if it doesn't exist
func ensureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS loudness_reports (
    path             TEXT    PRIMARY KEY,
    file_size        INTEGER NOT NULL,
    modified_at      INTEGER NOT NULL,
    integrated_lufs  REAL    NOT NULL,
    range_lu         REAL    NOT NULL,
    true_peak        REAL    NOT NULL,
    silence_start_ms INTEGER NOT NULL,
    duration_ms      INTEGER NOT NULL,
    sample_rate      INTEGER NOT NULL,
    analyzed_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_analyzed ON loudness_reports(analyzed_at DESC);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// StorePath returns the cache-directory path for the report database.
func StorePath() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		// Fallback to current directory if the cache dir is not available
		cacheDir = "."
	}

	dbDir := filepath.Join(cacheDir, "cadenza")
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}

	return filepath.Join(dbDir, "loudness.db"), nil
}

// Get looks up the cached report for path. It only hits when the stored
// file size and mtime both match, so stale reports read as misses.
func (s *Store) Get(path string, size, modified int64) (*Report, bool, error) {
	row := s.db.QueryRow(`
		SELECT integrated_lufs, range_lu, true_peak, silence_start_ms,
		       duration_ms, sample_rate, analyzed_at
		FROM loudness_reports
		WHERE path = ? AND file_size = ? AND modified_at = ?`,
		path, size, modified)

	var silenceMs, durationMs, analyzedAt int64
	report := &Report{Path: path}
	err := row.Scan(&report.Integrated, &report.Range, &report.TruePeak,
		&silenceMs, &durationMs, &report.SampleRate, &analyzedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read report: %w", err)
	}

	report.SilenceStart = -1
	if silenceMs >= 0 {
		report.SilenceStart = time.Duration(silenceMs) * time.Millisecond
	}
	report.Duration = time.Duration(durationMs) * time.Millisecond
	report.AnalyzedAt = time.UnixMilli(analyzedAt)
	return report, true, nil
}

// Put inserts or replaces the report for its path.
func (s *Store) Put(report *Report, size, modified int64) error {
	silenceMs := int64(-1)
	if report.SilenceStart >= 0 {
		silenceMs = report.SilenceStart.Milliseconds()
	}

	_, err := s.db.Exec(`
		INSERT INTO loudness_reports (
			path, file_size, modified_at, integrated_lufs, range_lu,
			true_peak, silence_start_ms, duration_ms, sample_rate, analyzed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			file_size = excluded.file_size,
			modified_at = excluded.modified_at,
			integrated_lufs = excluded.integrated_lufs,
			range_lu = excluded.range_lu,
			true_peak = excluded.true_peak,
			silence_start_ms = excluded.silence_start_ms,
			duration_ms = excluded.duration_ms,
			sample_rate = excluded.sample_rate,
			analyzed_at = excluded.analyzed_at`,
		report.Path, size, modified, report.Integrated, report.Range,
		report.TruePeak, silenceMs, report.Duration.Milliseconds(),
		report.SampleRate, report.AnalyzedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
