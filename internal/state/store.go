package state

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS user_profiles (
	user_id              TEXT PRIMARY KEY,
	version              INTEGER NOT NULL,
	alpha                BLOB NOT NULL,
	beta                 BLOB NOT NULL,
	context_bias         BLOB NOT NULL,
	total_interactions   INTEGER NOT NULL DEFAULT 0,
	total_consolidations INTEGER NOT NULL DEFAULT 0,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS profile_versions (
	version_id    TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	version       INTEGER NOT NULL,
	alpha         BLOB NOT NULL,
	beta          BLOB NOT NULL,
	context_bias  BLOB NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (user_id) REFERENCES user_profiles(user_id)
);

CREATE INDEX IF NOT EXISTS idx_profile_versions_user ON profile_versions(user_id, version);

CREATE TABLE IF NOT EXISTS interaction_logs (
	id                TEXT PRIMARY KEY,
	created_at        INTEGER NOT NULL,
	context_vector    BLOB NOT NULL,
	action_index      INTEGER NOT NULL,
	action_intensity  REAL NOT NULL,
	reward_score      REAL NOT NULL,
	reward_confidence REAL NOT NULL,
	consolidated      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_interaction_logs_pending ON interaction_logs(consolidated, created_at, id);

CREATE TABLE IF NOT EXISTS diary_entries (
	id                     TEXT PRIMARY KEY,
	date                   TEXT NOT NULL,
	created_at             INTEGER NOT NULL,
	total_interactions     INTEGER NOT NULL,
	top_action             TEXT,
	top_success_rate       REAL NOT NULL DEFAULT 0,
	worst_action           TEXT,
	worst_success_rate     REAL NOT NULL DEFAULT 0,
	personality_changes    TEXT NOT NULL,
	diary_text             TEXT NOT NULL,
	profile_version_before INTEGER NOT NULL,
	profile_version_after  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_diary_entries_created ON diary_entries(created_at);
CREATE INDEX IF NOT EXISTS idx_diary_entries_date ON diary_entries(date);

CREATE TABLE IF NOT EXISTS consolidation_runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	logs_read     INTEGER NOT NULL DEFAULT 0,
	logs_used     INTEGER NOT NULL DEFAULT 0,
	logs_deleted  INTEGER NOT NULL DEFAULT 0,
	diary_id      TEXT,
	version_from  INTEGER,
	version_to    INTEGER,
	reason        TEXT,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);
`
// #endregion schema

// #region store-struct
// Store persists the profile, the short-term interaction logs and the diary in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time

	// profileMu serializes every profile read-modify-write in this process.
	profileMu sync.Mutex

	maxPending int
	observe    func(op string, start time.Time)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMaxPendingLogs caps the number of unconsolidated logs. When an append
// pushes the count over n, the oldest pending logs are evicted. n <= 0 disables the cap.
func WithMaxPendingLogs(n int) Option {
	return func(s *Store) { s.maxPending = n }
}
// WithObserver registers a callback invoked after each profile, log and diary
// operation with the operation name and its start time.
func WithObserver(fn func(op string, start time.Time)) Option {
	return func(s *Store) { s.observe = fn }
}

func (s *Store) track(op string, start time.Time) {
	if s.observe != nil {
		s.observe(op, start)
	}
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string, opts ...Option) (*Store, error) {
	memory := dbPath == ":memory:"
	dsn := dbPath
	if !memory {
		// Transactions take the write lock at BEGIN. A deferred transaction that
		// reads and then writes fails with SQLITE_BUSY_SNAPSHOT in WAL mode when
		// another connection commits in between, and busy_timeout does not retry that.
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if memory {
		// every pooled connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma fk: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion db-accessor

// #region profile
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Profile returns the stored profile for userID, creating the default one on first use.
func (s *Store) Profile(ctx context.Context, userID string) (UserProfile, error) {
	defer s.track("profile", time.Now())
	s.profileMu.Lock()
	defer s.profileMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UserProfile{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := s.loadOrCreate(ctx, tx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	if err := tx.Commit(); err != nil {
		return UserProfile{}, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

// UpdateProfile applies fn to the current profile and persists the result as one
// atomic read-modify-write. If fn returns an error nothing is written.
func (s *Store) UpdateProfile(ctx context.Context, userID string, fn func(UserProfile) (UserProfile, error)) (UserProfile, error) {
	defer s.track("update_profile", time.Now())
	s.profileMu.Lock()
	defer s.profileMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UserProfile{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cur, err := s.loadOrCreate(ctx, tx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	next, err := fn(cur.Clone())
	if err != nil {
		return UserProfile{}, err
	}
	next.UserID = cur.UserID
	next = next.Sanitize()
	if err := writeProfile(ctx, tx, next); err != nil {
		return UserProfile{}, err
	}
	if next.Version != cur.Version {
		if err := insertProfileVersion(ctx, tx, next, s.now()); err != nil {
			return UserProfile{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return UserProfile{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

func (s *Store) loadOrCreate(ctx context.Context, q queryer, userID string) (UserProfile, error) {
	if userID == "" {
		userID = DefaultUserID
	}
	p, err := loadProfile(ctx, q, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return UserProfile{}, err
	}
	p = DefaultProfile(userID, s.now())
	if err := writeProfile(ctx, q, p); err != nil {
		return UserProfile{}, err
	}
	if err := insertProfileVersion(ctx, q, p, p.CreatedAt); err != nil {
		return UserProfile{}, err
	}
	return p, nil
}

func loadProfile(ctx context.Context, q queryer, userID string) (UserProfile, error) {
	var p UserProfile
	var alpha, beta, bias []byte
	var createdStr, updatedStr string
	err := q.QueryRowContext(ctx,
		`SELECT user_id, version, alpha, beta, context_bias, total_interactions, total_consolidations, created_at, updated_at
		 FROM user_profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Version, &alpha, &beta, &bias, &p.TotalInteractions, &p.TotalConsolidations, &createdStr, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return UserProfile{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return UserProfile{}, fmt.Errorf("get profile %s: %w", userID, err)
	}
	p.Alpha = decodeVector(alpha)
	p.Beta = decodeVector(beta)
	p.ContextBias = decodeVector(bias)
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return p.Sanitize(), nil
}

func writeProfile(ctx context.Context, q queryer, p UserProfile) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, version, alpha, beta, context_bias, total_interactions, total_consolidations, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   version = excluded.version,
		   alpha = excluded.alpha,
		   beta = excluded.beta,
		   context_bias = excluded.context_bias,
		   total_interactions = excluded.total_interactions,
		   total_consolidations = excluded.total_consolidations,
		   updated_at = excluded.updated_at`,
		p.UserID, p.Version, encodeVector(p.Alpha), encodeVector(p.Beta), encodeVector(p.ContextBias),
		p.TotalInteractions, p.TotalConsolidations,
		p.CreatedAt.UTC().Format(time.RFC3339Nano), p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}
// #endregion profile

// #region consolidation-commit
// CommitConsolidation runs the persistent half of a consolidation in one transaction:
// fn receives the current profile and returns the consolidated profile and its diary
// entry, which are written together with the consolidated flag on logIDs.
// Either everything is committed or nothing is.
func (s *Store) CommitConsolidation(ctx context.Context, userID string, logIDs []string, fn func(before UserProfile) (UserProfile, DiaryEntry, error)) (ConsolidationCommit, error) {
	defer s.track("commit_consolidation", time.Now())
	s.profileMu.Lock()
	defer s.profileMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ConsolidationCommit{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	before, err := s.loadOrCreate(ctx, tx, userID)
	if err != nil {
		return ConsolidationCommit{}, err
	}
	after, entry, err := fn(before.Clone())
	if err != nil {
		return ConsolidationCommit{}, err
	}
	after.UserID = before.UserID
	after = after.Sanitize()

	if err := writeProfile(ctx, tx, after); err != nil {
		return ConsolidationCommit{}, err
	}
	if err := insertProfileVersion(ctx, tx, after, s.now()); err != nil {
		return ConsolidationCommit{}, err
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if err := insertDiary(ctx, tx, entry); err != nil {
		return ConsolidationCommit{}, err
	}
	marked, err := markConsolidated(ctx, tx, logIDs)
	if err != nil {
		return ConsolidationCommit{}, err
	}
	if err := tx.Commit(); err != nil {
		return ConsolidationCommit{}, fmt.Errorf("commit: %w", err)
	}
	return ConsolidationCommit{Before: before, After: after, Diary: entry, Marked: marked}, nil
}
// #endregion consolidation-commit

// #region profile-versions
func insertProfileVersion(ctx context.Context, q queryer, p UserProfile, at time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO profile_versions (version_id, user_id, version, alpha, beta, context_bias, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), p.UserID, p.Version,
		encodeVector(p.Alpha), encodeVector(p.Beta), encodeVector(p.ContextBias),
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert profile version: %w", err)
	}
	return nil
}

// ListProfileVersions returns the most recent history snapshots for userID, newest first.
func (s *Store) ListProfileVersions(ctx context.Context, userID string, limit int) ([]ProfileVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version_id, user_id, version, alpha, beta, context_bias, created_at
		 FROM profile_versions WHERE user_id = ? ORDER BY version DESC, created_at DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list profile versions: %w", err)
	}
	defer rows.Close()

	var out []ProfileVersion
	for rows.Next() {
		var v ProfileVersion
		var alpha, beta, bias []byte
		var createdStr string
		if err := rows.Scan(&v.VersionID, &v.UserID, &v.Version, &alpha, &beta, &bias, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		v.Alpha = decodeVector(alpha)
		v.Beta = decodeVector(beta)
		v.ContextBias = decodeVector(bias)
		v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, v)
	}
	return out, rows.Err()
}

// RollbackProfile restores the arm parameters and context bias recorded for
// version. Version and counters are left alone; only consolidation advances Version.
func (s *Store) RollbackProfile(ctx context.Context, userID string, version int64) (UserProfile, error) {
	var alpha, beta, bias []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT alpha, beta, context_bias FROM profile_versions
		 WHERE user_id = ? AND version = ? ORDER BY created_at DESC LIMIT 1`, userID, version,
	).Scan(&alpha, &beta, &bias)
	if errors.Is(err, sql.ErrNoRows) {
		return UserProfile{}, fmt.Errorf("profile version %d: %w", version, ErrNotFound)
	}
	if err != nil {
		return UserProfile{}, fmt.Errorf("get profile version %d: %w", version, err)
	}
	now := s.now()
	return s.UpdateProfile(ctx, userID, func(p UserProfile) (UserProfile, error) {
		p.Alpha = decodeVector(alpha)
		p.Beta = decodeVector(beta)
		p.ContextBias = decodeVector(bias)
		p.UpdatedAt = now
		return p, nil
	})
}
// #endregion profile-versions

// #region vector-encoding
func encodeVector(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
// #endregion vector-encoding
