package consolidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/edge-companion/internal/bandit"
	"github.com/danielpatrickdp/edge-companion/internal/diary"
	"github.com/danielpatrickdp/edge-companion/internal/eval"
	"github.com/danielpatrickdp/edge-companion/internal/gate"
	"github.com/danielpatrickdp/edge-companion/internal/logging"
	"github.com/danielpatrickdp/edge-companion/internal/metrics"
	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region types

// Outcome is the result class of one run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeNoOp    Outcome = "no_op"
	OutcomeRetry   Outcome = "retry"
)

// Config controls a consolidation run.
type Config struct {
	UserID         string
	BatchLimit     int           // pending logs read per run
	DiaryRetention time.Duration // diaries older than this are pruned
}

// DefaultConfig reads up to 1000 logs and keeps 90 days of diaries.
func DefaultConfig() Config {
	return Config{
		UserID:         state.DefaultUserID,
		BatchLimit:     1000,
		DiaryRetention: 90 * 24 * time.Hour,
	}
}

// Report describes one run.
type Report struct {
	RunID         string
	Outcome       Outcome
	LogsRead      int
	LogsUsed      int // logs confident enough to move the profile
	LogsDeleted   int64
	DiaryPruned   int64
	VersionBefore int64
	VersionAfter  int64
	Diary         *state.DiaryEntry
	Eval          *eval.EvalResult
	Err           error
	Duration      time.Duration
}

// ErrValidation is returned inside a retry report when the consolidated profile
// fails the eval harness.
var ErrValidation = errors.New("consolidated profile failed validation")

// #endregion types

// #region job

// Job folds pending interaction logs into the long-term profile and writes the diary.
type Job struct {
	store   *state.Store
	bandit  *bandit.Bandit
	gate    *gate.ConfidenceGate
	harness *eval.EvalHarness
	diary   diary.Config
	cfg     Config
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Job.
type Option func(*Job)

func WithLogger(l *zap.Logger) Option {
	return func(j *Job) { j.logger = l.Named("consolidation") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Job) { j.metrics = m }
}

// WithClock overrides the time used for the diary date and retention cutoff.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// WithDiaryConfig overrides the narrative thresholds.
func WithDiaryConfig(c diary.Config) Option {
	return func(j *Job) { j.diary = c }
}

// WithEvalConfig overrides the validation bounds.
func WithEvalConfig(c eval.EvalConfig) Option {
	return func(j *Job) { j.harness = eval.NewEvalHarness(c) }
}

// NewJob wires a consolidation job. A nil gate uses the default thresholds.
func NewJob(store *state.Store, b *bandit.Bandit, g *gate.ConfidenceGate, cfg Config, opts ...Option) *Job {
	if g == nil {
		g = gate.NewConfidenceGate(gate.DefaultConfidenceConfig())
	}
	def := DefaultConfig()
	if cfg.UserID == "" {
		cfg.UserID = def.UserID
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = def.BatchLimit
	}
	if cfg.DiaryRetention <= 0 {
		cfg.DiaryRetention = def.DiaryRetention
	}
	bc := b.Config()
	ec := eval.DefaultEvalConfig()
	ec.MaxParameterSum, ec.MinParameter = bc.MaxParameterSum, bc.MinParameter
	j := &Job{
		store:   store,
		bandit:  b,
		gate:    g,
		harness: eval.NewEvalHarness(ec),
		diary:   diary.DefaultConfig(),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// #endregion job

// #region run

// Run executes one consolidation. It never returns partially applied state: the
// profile, its history row, the diary and the consolidated flags are committed
// together or not at all. Cleanup failures after the commit are logged only.
func (j *Job) Run(ctx context.Context) Report {
	start := time.Now()
	rep := j.run(ctx)
	rep.Duration = time.Since(start)

	fields := []zap.Field{
		zap.String("run_id", rep.RunID),
		zap.String("outcome", string(rep.Outcome)),
		zap.Int("logs_read", rep.LogsRead),
		zap.Int("logs_used", rep.LogsUsed),
		zap.Duration("duration", rep.Duration),
	}
	if rep.Err != nil {
		j.logger.Warn("consolidation failed", append(fields, zap.Error(rep.Err))...)
	} else {
		j.logger.Info("consolidation finished", append(fields,
			zap.Int64("version_from", rep.VersionBefore),
			zap.Int64("version_to", rep.VersionAfter))...)
	}
	j.record(ctx, rep)
	return rep
}

func (j *Job) run(ctx context.Context) Report {
	rep := Report{RunID: uuid.New().String()}
	retry := func(err error) Report {
		rep.Outcome = OutcomeRetry
		rep.Err = err
		return rep
	}

	logs, err := j.store.PendingLogs(ctx, j.cfg.BatchLimit)
	if err != nil {
		return retry(err)
	}
	rep.LogsRead = len(logs)
	if len(logs) == 0 {
		rep.Outcome = OutcomeNoOp
		return rep
	}

	rewards, used := j.partition(logs)
	rep.LogsUsed = used
	ids := make([]string, len(logs))
	for i, l := range logs {
		ids[i] = l.ID
	}

	at := j.now()
	commit, err := j.store.CommitConsolidation(ctx, j.cfg.UserID, ids,
		func(before state.UserProfile) (state.UserProfile, state.DiaryEntry, error) {
			after := j.bandit.Consolidate(before, rewards)
			res := j.harness.Run(before, after)
			rep.Eval = &res
			if !res.Passed {
				return state.UserProfile{}, state.DiaryEntry{}, fmt.Errorf("%w: %s", ErrValidation, res.Reason)
			}
			return after, j.diary.Compose(logs, before, after, at), nil
		})
	if err != nil {
		return retry(fmt.Errorf("commit consolidation: %w", err))
	}
	rep.Outcome = OutcomeSuccess
	rep.VersionBefore = commit.Before.Version
	rep.VersionAfter = commit.After.Version
	rep.Diary = &commit.Diary

	if n, err := j.store.DeleteConsolidated(ctx); err != nil {
		j.logger.Warn("delete consolidated logs", zap.Error(err))
	} else {
		rep.LogsDeleted = n
	}
	if n, err := j.store.DeleteDiaryOlderThan(ctx, at.Add(-j.cfg.DiaryRetention)); err != nil {
		j.logger.Warn("prune diary", zap.Error(err))
	} else {
		rep.DiaryPruned = n
	}

	j.metrics.Profile(commit.After.Version, state.ActionNames(), commit.After.Expectations())
	return rep
}

// partition groups confident rewards by action. Logs below the batch threshold
// still count as read and are marked consolidated with the rest.
func (j *Job) partition(logs []state.InteractionLog) (map[int][]float64, int) {
	rewards := make(map[int][]float64)
	used := 0
	for _, l := range logs {
		if !j.gate.AllowBatch(l.RewardConfidence) {
			continue
		}
		rewards[l.ActionIndex] = append(rewards[l.ActionIndex], l.RewardScore)
		used++
	}
	return rewards, used
}

func (j *Job) record(ctx context.Context, rep Report) {
	entry := logging.RunEntry{
		RunID:       rep.RunID,
		UserID:      j.cfg.UserID,
		Outcome:     string(rep.Outcome),
		LogsRead:    rep.LogsRead,
		LogsUsed:    rep.LogsUsed,
		LogsDeleted: rep.LogsDeleted,
		VersionFrom: rep.VersionBefore,
		VersionTo:   rep.VersionAfter,
		Duration:    rep.Duration,
		CreatedAt:   j.now(),
	}
	if rep.Diary != nil {
		entry.DiaryID = rep.Diary.ID
	}
	if rep.Err != nil {
		entry.Reason = rep.Err.Error()
	}
	if err := logging.LogRun(context.WithoutCancel(ctx), j.store.DB(), entry); err != nil {
		j.logger.Warn("record run", zap.Error(err))
	}

	used := 0
	if rep.Outcome == OutcomeSuccess {
		used = rep.LogsUsed
	}
	j.metrics.Run(string(rep.Outcome), rep.Duration, used)
	if n, err := j.store.PendingCount(context.WithoutCancel(ctx)); err == nil {
		j.metrics.Pending(n)
	}
}

// #endregion run
