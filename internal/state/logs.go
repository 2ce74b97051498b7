package state

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// maxBatchArgs keeps IN (...) lists well under SQLite's variable limit.
const maxBatchArgs = 500

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newLogID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// #region append-log
// AppendLog stores a new pending interaction log. ID and CreatedAt are assigned
// when empty. When a pending cap is configured the oldest pending logs beyond it
// are evicted in the same transaction.
func (s *Store) AppendLog(ctx context.Context, l InteractionLog) (InteractionLog, error) {
	defer s.track("append_log", time.Now())
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	if l.ID == "" {
		l.ID = newLogID(l.CreatedAt)
	}
	l.Consolidated = false
	if len(l.ContextVector) != ContextDim {
		l.ContextVector = SnapshotFromVector(l.ContextVector).FullVector()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InteractionLog{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO interaction_logs (id, created_at, context_vector, action_index, action_intensity, reward_score, reward_confidence, consolidated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		l.ID, l.CreatedAt.UnixNano(), encodeVector(l.ContextVector),
		l.ActionIndex, l.ActionIntensity, l.RewardScore, l.RewardConfidence,
	)
	if err != nil {
		return InteractionLog{}, fmt.Errorf("insert log: %w", err)
	}

	if s.maxPending > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM interaction_logs WHERE id IN (
			   SELECT id FROM interaction_logs WHERE consolidated = 0
			   ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?)`,
			s.maxPending,
		)
		if err != nil {
			return InteractionLog{}, fmt.Errorf("evict pending: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return InteractionLog{}, fmt.Errorf("commit: %w", err)
	}
	return l, nil
}
// #endregion append-log

// #region pending-logs
// PendingLogs returns up to limit unconsolidated logs, oldest first.
func (s *Store) PendingLogs(ctx context.Context, limit int) ([]InteractionLog, error) {
	defer s.track("pending_logs", time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, context_vector, action_index, action_intensity, reward_score, reward_confidence, consolidated
		 FROM interaction_logs WHERE consolidated = 0
		 ORDER BY created_at ASC, id ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pending logs: %w", err)
	}
	defer rows.Close()

	var logs []InteractionLog
	for rows.Next() {
		var l InteractionLog
		var created int64
		var vec []byte
		var consolidated int
		if err := rows.Scan(&l.ID, &created, &vec, &l.ActionIndex, &l.ActionIntensity, &l.RewardScore, &l.RewardConfidence, &consolidated); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		l.CreatedAt = time.Unix(0, created).UTC()
		l.ContextVector = decodeVector(vec)
		l.Consolidated = consolidated != 0
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
// #endregion pending-logs

// #region mark-delete
// MarkConsolidated flags the given logs as consumed and returns how many rows changed.
func (s *Store) MarkConsolidated(ctx context.Context, ids []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	n, err := markConsolidated(ctx, tx, ids)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func markConsolidated(ctx context.Context, q queryer, ids []string) (int, error) {
	total := 0
	for start := 0; start < len(ids); start += maxBatchArgs {
		end := start + maxBatchArgs
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		res, err := q.ExecContext(ctx,
			`UPDATE interaction_logs SET consolidated = 1 WHERE id IN (`+placeholders(len(chunk))+`)`, args...,
		)
		if err != nil {
			return 0, fmt.Errorf("mark consolidated: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// DeleteConsolidated removes every consolidated log and returns the number removed.
func (s *Store) DeleteConsolidated(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM interaction_logs WHERE consolidated = 1`)
	if err != nil {
		return 0, fmt.Errorf("delete consolidated: %w", err)
	}
	return res.RowsAffected()
}
// #endregion mark-delete

// #region counts
// PendingCount is the number of unconsolidated logs.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interaction_logs WHERE consolidated = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

// TotalLogCount is the number of stored logs, consolidated or not.
func (s *Store) TotalLogCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interaction_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("total count: %w", err)
	}
	return n, nil
}
// #endregion counts
