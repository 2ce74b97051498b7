package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const diaryColumns = `id, date, created_at, total_interactions, top_action, top_success_rate,
	worst_action, worst_success_rate, personality_changes, diary_text,
	profile_version_before, profile_version_after`

// #region save-diary
// SaveDiary stores a diary entry outside a consolidation transaction.
func (s *Store) SaveDiary(ctx context.Context, e DiaryEntry) (DiaryEntry, error) {
	defer s.track("save_diary", time.Now())
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if err := insertDiary(ctx, s.db, e); err != nil {
		return DiaryEntry{}, err
	}
	return e, nil
}

func insertDiary(ctx context.Context, q queryer, e DiaryEntry) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO diary_entries (`+diaryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Date, e.CreatedAt.UnixNano(), e.TotalInteractions,
		nullIfEmpty(e.TopAction), e.TopSuccessRate,
		nullIfEmpty(e.WorstAction), e.WorstSuccessRate,
		e.PersonalityChanges, e.DiaryText,
		e.ProfileVersionBefore, e.ProfileVersionAfter,
	)
	if err != nil {
		return fmt.Errorf("insert diary: %w", err)
	}
	return nil
}
// #endregion save-diary

// #region read-diary
// RecentDiary returns up to limit entries, newest first.
func (s *Store) RecentDiary(ctx context.Context, limit int) ([]DiaryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+diaryColumns+` FROM diary_entries ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent diary: %w", err)
	}
	defer rows.Close()

	var out []DiaryEntry
	for rows.Next() {
		e, err := scanDiary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DiaryByDate returns the latest entry written for date (2006-01-02).
func (s *Store) DiaryByDate(ctx context.Context, date string) (DiaryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+diaryColumns+` FROM diary_entries WHERE date = ? ORDER BY created_at DESC LIMIT 1`, date,
	)
	e, err := scanDiary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DiaryEntry{}, fmt.Errorf("diary %s: %w", date, ErrNotFound)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDiary(r scanner) (DiaryEntry, error) {
	var e DiaryEntry
	var created int64
	var top, worst sql.NullString
	err := r.Scan(&e.ID, &e.Date, &created, &e.TotalInteractions, &top, &e.TopSuccessRate,
		&worst, &e.WorstSuccessRate, &e.PersonalityChanges, &e.DiaryText,
		&e.ProfileVersionBefore, &e.ProfileVersionAfter)
	if errors.Is(err, sql.ErrNoRows) {
		return DiaryEntry{}, err
	}
	if err != nil {
		return DiaryEntry{}, fmt.Errorf("scan diary: %w", err)
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	e.TopAction = top.String
	e.WorstAction = worst.String
	return e, nil
}
// #endregion read-diary

// #region prune-diary
// DeleteDiaryOlderThan removes entries created before cutoff.
func (s *Store) DeleteDiaryOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM diary_entries WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune diary: %w", err)
	}
	return res.RowsAffected()
}
// #endregion prune-diary

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
