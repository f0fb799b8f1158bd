package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"system-toolbox/internal/cleaner"
)

var ErrRunNotFound = errors.New("run not found")

// Run status values
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// HistoryDB stores cleaning sessions and their per-entry decisions.
type HistoryDB struct {
	db *sql.DB
}

// RunRecord is one cleaning session.
type RunRecord struct {
	ID            int64          `json:"id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Trigger       string         `json:"trigger"` // cli, api or schedule
	DryRun        bool           `json:"dry_run"`
	Cleaned       int            `json:"cleaned"`
	Skipped       int            `json:"skipped"`
	BytesFreed    int64          `json:"bytes_freed"`
	DirsRemoved   int            `json:"dirs_removed"`
	FailedTargets int            `json:"failed_targets"`
	Status        string         `json:"status"`
	Targets       []TargetRecord `json:"targets,omitempty"`
}

// TargetRecord is the outcome of one target within a run.
type TargetRecord struct {
	Target      string        `json:"target"`
	Kind        string        `json:"kind"` // temp, browser or recycle_bin
	Cleaned     int           `json:"cleaned"`
	Skipped     int           `json:"skipped"`
	BytesFreed  int64         `json:"bytes_freed"`
	DirsRemoved int           `json:"dirs_removed"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// DecisionRecord is a stored cleaner.Decision.
type DecisionRecord struct {
	ID           int64     `json:"id"`
	RunID        int64     `json:"run_id"`
	Target       string    `json:"target"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
	Action       string    `json:"action"`
	Reason       string    `json:"reason"`
	Path         string    `json:"path"`
	FileName     string    `json:"file_name"`
	ObjectType   string    `json:"object_type"`
	Size         int64     `json:"size"`
	AgeDays      *int      `json:"age_days,omitempty"`
	MinAgeDays   int       `json:"min_age_days"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// NewHistoryDB opens (creating if needed) the database at dbPath.
func NewHistoryDB(dbPath string) (*HistoryDB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// _loc=auto parses DATETIME columns into time.Time.
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_loc=auto&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	// SELECT instead of Ping so the file gets created.
	if _, err = db.Exec("SELECT 1"); err != nil {
		return nil, fmt.Errorf("failed to initialize database (check permissions on %s): %w", dbPath, err)
	}
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err = db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	h := &HistoryDB{db: db}
	if err = h.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return h, nil
}

func (h *HistoryDB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		trigger_source TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		cleaned INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		bytes_freed INTEGER NOT NULL DEFAULT 0,
		dirs_removed INTEGER NOT NULL DEFAULT 0,
		failed_targets INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS run_targets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		target TEXT NOT NULL,
		kind TEXT NOT NULL,
		cleaned INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		bytes_freed INTEGER NOT NULL DEFAULT 0,
		dirs_removed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		duration_ns INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		target TEXT NOT NULL,
		evaluated_at DATETIME NOT NULL,
		action TEXT NOT NULL,
		reason TEXT NOT NULL,
		path TEXT NOT NULL,
		file_name TEXT,
		object_type TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		age_days INTEGER,
		min_age_days INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_run_targets_run ON run_targets(run_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_run ON decisions(run_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_action ON decisions(action);
	CREATE INDEX IF NOT EXISTS idx_decisions_reason ON decisions(reason);
	CREATE INDEX IF NOT EXISTS idx_decisions_path ON decisions(path);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := h.db.Exec(schema)
	return err
}

// RecordRun stores a run with its targets and returns the new run id.
func (h *HistoryDB) RecordRun(run RunRecord) (int64, error) {
	tx, err := h.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
	INSERT INTO runs (
		started_at, finished_at, trigger_source, dry_run, cleaned, skipped,
		bytes_freed, dirs_removed, failed_targets, status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.StartedAt, run.FinishedAt, run.Trigger, run.DryRun, run.Cleaned, run.Skipped,
		run.BytesFreed, run.DirsRemoved, run.FailedTargets, run.Status,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`
	INSERT INTO run_targets (
		run_id, target, kind, cleaned, skipped, bytes_freed, dirs_removed, error, duration_ns
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, t := range run.Targets {
		if _, err := stmt.Exec(id, t.Target, t.Kind, t.Cleaned, t.Skipped, t.BytesFreed,
			t.DirsRemoved, nullString(t.Error), int64(t.Duration)); err != nil {
			return 0, fmt.Errorf("insert run target %s: %w", t.Target, err)
		}
	}

	return id, tx.Commit()
}

// RecordDecisions stores the decisions a target produced within a run.
func (h *HistoryDB) RecordDecisions(runID int64, target string, decisions []cleaner.Decision) error {
	if len(decisions) == 0 {
		return nil
	}

	tx, err := h.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
	INSERT INTO decisions (
		run_id, target, evaluated_at, action, reason, path, file_name,
		object_type, size, age_days, min_age_days, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range decisions {
		var age *int
		if d.AgeDays >= 0 {
			a := d.AgeDays
			age = &a
		}
		if _, err := stmt.Exec(runID, target, d.EvaluatedAt, string(d.Action), string(d.Reason),
			d.Path, filepath.Base(d.Path), string(d.Kind), d.Size, age, d.MinAge,
			nullString(d.ErrorMessage())); err != nil {
			return fmt.Errorf("insert decision %s: %w", d.Path, err)
		}
	}

	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ping checks the connection; used by health checks.
func (h *HistoryDB) Ping() error {
	return h.db.Ping()
}

func (h *HistoryDB) Close() error {
	return h.db.Close()
}

// Vacuum optimizes the database (run periodically)
func (h *HistoryDB) Vacuum() error {
	_, err := h.db.Exec("VACUUM")
	return err
}

// GetDatabaseStats returns record counts, file size and the run date range.
func (h *HistoryDB) GetDatabaseStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var runs, decisions int64
	if err := h.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&runs); err != nil {
		return nil, err
	}
	if err := h.db.QueryRow("SELECT COUNT(*) FROM decisions").Scan(&decisions); err != nil {
		return nil, err
	}
	stats["total_runs"] = runs
	stats["total_decisions"] = decisions

	var pageCount, pageSize int64
	if err := h.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, err
	}
	if err := h.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, err
	}
	stats["database_size_bytes"] = pageCount * pageSize

	var oldest, newest sql.NullString
	err := h.db.QueryRow("SELECT MIN(started_at), MAX(started_at) FROM runs").Scan(&oldest, &newest)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if t, ok := parseSQLiteTime(oldest); ok {
		stats["oldest_run"] = t
	}
	if t, ok := parseSQLiteTime(newest); ok {
		stats["newest_run"] = t
	}

	return stats, nil
}

// Aggregates come back as text, in whichever layout the driver wrote.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

func parseSQLiteTime(s sql.NullString) (time.Time, bool) {
	if !s.Valid || s.String == "" {
		return time.Time{}, false
	}
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s.String); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
