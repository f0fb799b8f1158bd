package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const runColumns = `id, started_at, finished_at, trigger_source, dry_run, cleaned, skipped,
	bytes_freed, dirs_removed, failed_targets, status`

// GetRecentRuns returns the N most recent runs without their targets.
func (h *HistoryDB) GetRecentRuns(limit int) ([]RunRecord, error) {
	rows, err := h.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run with its targets.
func (h *HistoryDB) GetRun(id int64) (*RunRecord, error) {
	row := h.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := h.db.Query(`
	SELECT target, kind, cleaned, skipped, bytes_freed, dirs_removed, error, duration_ns
	FROM run_targets WHERE run_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t TargetRecord
		var errMsg sql.NullString
		var ns int64
		if err := rows.Scan(&t.Target, &t.Kind, &t.Cleaned, &t.Skipped, &t.BytesFreed,
			&t.DirsRemoved, &errMsg, &ns); err != nil {
			return nil, err
		}
		t.Error = errMsg.String
		t.Duration = time.Duration(ns)
		r.Targets = append(r.Targets, t)
	}
	return &r, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s rowScanner) (RunRecord, error) {
	var r RunRecord
	err := s.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Trigger, &r.DryRun, &r.Cleaned,
		&r.Skipped, &r.BytesFreed, &r.DirsRemoved, &r.FailedTargets, &r.Status)
	return r, err
}

// DecisionFilter selects decisions. Zero fields do not filter.
type DecisionFilter struct {
	RunID       int64
	Target      string
	Action      string
	Reason      string
	PathPattern string // SQL LIKE pattern
	Limit       int
	Offset      int
}

func (f DecisionFilter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.RunID > 0 {
		clauses = append(clauses, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.Target != "" {
		clauses = append(clauses, "target = ?")
		args = append(args, f.Target)
	}
	if f.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, f.Action)
	}
	if f.Reason != "" {
		clauses = append(clauses, "reason = ?")
		args = append(args, f.Reason)
	}
	if f.PathPattern != "" {
		clauses = append(clauses, "path LIKE ?")
		args = append(args, f.PathPattern)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// GetDecisions returns one page of matching decisions and the total match count.
func (h *HistoryDB) GetDecisions(f DecisionFilter) ([]DecisionRecord, int, error) {
	where, args := f.where()

	var total int
	if err := h.db.QueryRow("SELECT COUNT(*) FROM decisions"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `
	SELECT id, run_id, target, evaluated_at, action, reason, path, file_name,
	       object_type, size, age_days, min_age_days, error_message
	FROM decisions` + where + `
	ORDER BY id
	LIMIT ? OFFSET ?`

	rows, err := h.db.Query(query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		var fileName, errMsg sql.NullString
		var age sql.NullInt64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Target, &r.EvaluatedAt, &r.Action, &r.Reason,
			&r.Path, &fileName, &r.ObjectType, &r.Size, &age, &r.MinAgeDays, &errMsg); err != nil {
			return nil, 0, err
		}
		r.FileName = fileName.String
		r.ErrorMessage = errMsg.String
		if age.Valid {
			a := int(age.Int64)
			r.AgeDays = &a
		}
		records = append(records, r)
	}
	return records, total, rows.Err()
}

// GetTotalSpaceFreed returns bytes freed by runs started in [start, end].
func (h *HistoryDB) GetTotalSpaceFreed(start, end time.Time) (int64, error) {
	var total int64
	err := h.db.QueryRow(`
	SELECT COALESCE(SUM(bytes_freed), 0)
	FROM runs
	WHERE dry_run = 0 AND started_at BETWEEN ? AND ?
	`, start, end).Scan(&total)
	return total, err
}

// HistoryStats aggregates runs over a period.
type HistoryStats struct {
	Runs            int            `json:"runs"`
	PartialRuns     int            `json:"partial_runs"`
	TotalCleaned    int            `json:"total_cleaned"`
	TotalSkipped    int            `json:"total_skipped"`
	TotalSpaceFreed int64          `json:"total_space_freed"`
	SkipsByReason   map[string]int `json:"skips_by_reason"`
	ByAction        map[string]int `json:"by_action"`
	StartDate       time.Time      `json:"start_date"`
	EndDate         time.Time      `json:"end_date"`
}

// GetStats returns statistics for runs started in the last days days.
func (h *HistoryDB) GetStats(days int) (*HistoryStats, error) {
	now := time.Now()
	since := now.AddDate(0, 0, -days)
	stats := &HistoryStats{StartDate: since, EndDate: now}

	err := h.db.QueryRow(`
	SELECT COUNT(*),
	       COUNT(CASE WHEN status != 'ok' THEN 1 END),
	       COALESCE(SUM(cleaned), 0),
	       COALESCE(SUM(skipped), 0)
	FROM runs WHERE started_at >= ?
	`, since).Scan(&stats.Runs, &stats.PartialRuns, &stats.TotalCleaned, &stats.TotalSkipped)
	if err != nil {
		return nil, err
	}

	if stats.TotalSpaceFreed, err = h.GetTotalSpaceFreed(since, now); err != nil {
		return nil, err
	}

	stats.SkipsByReason, err = h.countDecisions("reason", "d.action = 'SKIP'", since)
	if err != nil {
		return nil, err
	}
	stats.ByAction, err = h.countDecisions("action", "1 = 1", since)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// countDecisions groups decisions of runs since the given time by column.
func (h *HistoryDB) countDecisions(column, cond string, since time.Time) (map[string]int, error) {
	rows, err := h.db.Query(`
	SELECT d.`+column+`, COUNT(*)
	FROM decisions d JOIN runs r ON r.id = d.run_id
	WHERE `+cond+` AND r.started_at >= ?
	GROUP BY d.`+column, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// GetTopSkippedPaths returns the paths skipped most often, excluding
// deliberate policy exclusions when failuresOnly is set.
func (h *HistoryDB) GetTopSkippedPaths(limit int, failuresOnly bool) (map[string]int, error) {
	query := `
	SELECT path, COUNT(*) AS count
	FROM decisions
	WHERE action = 'SKIP'`
	if failuresOnly {
		query += ` AND reason IN ('delete_failed', 'inaccessible', 'age_unknown')`
	}
	query += `
	GROUP BY path
	ORDER BY count DESC
	LIMIT ?`

	rows, err := h.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var path string
		var n int
		if err := rows.Scan(&path, &n); err != nil {
			return nil, err
		}
		counts[path] = n
	}
	return counts, rows.Err()
}

// DeleteOldRuns removes runs (and their decisions) older than the given days.
func (h *HistoryDB) DeleteOldRuns(olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	res, err := h.db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
