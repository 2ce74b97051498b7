package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// #region log-run
// LogRun writes one consolidation run to the consolidation_runs table.
func LogRun(ctx context.Context, db *sql.DB, entry RunEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO consolidation_runs (run_id, user_id, outcome, logs_read, logs_used, logs_deleted, diary_id, version_from, version_to, reason, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.UserID,
		entry.Outcome,
		entry.LogsRead,
		entry.LogsUsed,
		entry.LogsDeleted,
		nullIfEmpty(entry.DiaryID),
		nullIfZero(entry.VersionFrom),
		nullIfZero(entry.VersionTo),
		nullIfEmpty(entry.Reason),
		entry.Duration.Milliseconds(),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log run: %w", err)
	}
	return nil
}
// #endregion log-run

// #region recent-runs
// RecentRuns returns the latest runs, newest first.
func RecentRuns(ctx context.Context, db *sql.DB, limit int) ([]RunEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, user_id, outcome, logs_read, logs_used, logs_deleted, diary_id, version_from, version_to, reason, duration_ms, created_at
		 FROM consolidation_runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var e RunEntry
		var diaryID, reason sql.NullString
		var from, to sql.NullInt64
		var durationMS int64
		var createdStr string
		if err := rows.Scan(&e.RunID, &e.UserID, &e.Outcome, &e.LogsRead, &e.LogsUsed, &e.LogsDeleted,
			&diaryID, &from, &to, &reason, &durationMS, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.DiaryID = diaryID.String
		e.Reason = reason.String
		e.VersionFrom = from.Int64
		e.VersionTo = to.Int64
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}
// #endregion recent-runs

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
// #endregion helpers
