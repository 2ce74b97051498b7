package companion

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/edge-companion/internal/config"
	"github.com/danielpatrickdp/edge-companion/internal/consolidation"
	"github.com/danielpatrickdp/edge-companion/internal/engine"
	"github.com/danielpatrickdp/edge-companion/internal/reward"
	"github.com/danielpatrickdp/edge-companion/internal/schedule"
	"github.com/danielpatrickdp/edge-companion/internal/state"
)

var morning = time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC)

type stubEvaluator struct {
	sig    reward.Signal
	closed bool
}

func (s *stubEvaluator) Prepare(context.Context) error { return nil }
func (s *stubEvaluator) Available() bool               { return true }
func (s *stubEvaluator) Evaluate(context.Context, time.Duration) reward.Signal {
	return s.sig
}
func (s *stubEvaluator) Close() error {
	s.closed = true
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "data", "companion.db")
	cfg.Seed = 11
	cfg.Device.Monitor = "static"
	cfg.Device.Charging = true
	cfg.Device.Unmetered = true
	cfg.Device.BatteryLevel = 0.9
	cfg.Learning.EvaluationWindow = "10ms"
	return cfg
}

func build(t *testing.T, cfg *config.Config, ev reward.Evaluator, opts ...BuildOption) *Service {
	t.Helper()
	opts = append([]BuildOption{WithEvaluator(ev), WithClock(func() time.Time { return morning })}, opts...)
	svc, err := Build(context.Background(), cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestReactRemembersLastReaction(t *testing.T) {
	svc := build(t, testConfig(t), &stubEvaluator{})
	ctx := context.Background()

	_, ok := svc.LastReaction()
	assert.False(t, ok)

	r, err := svc.React(ctx)
	require.NoError(t, err)
	assert.True(t, r.Action.Valid())
	assert.GreaterOrEqual(t, r.Intensity, 0.1)
	assert.LessOrEqual(t, r.Intensity, 1.0)
	assert.Equal(t, 0.5, r.Confidence, "fresh profile has expectation 0.5 everywhere")
	assert.NotEmpty(t, r.Text)
	assert.Equal(t, "rule-based", r.Engine)
	assert.Equal(t, morning, r.At)
	assert.Equal(t, state.SnapshotAt(morning).FullVector(), r.Snapshot.FullVector())

	last, ok := svc.LastReaction()
	require.True(t, ok)
	assert.Equal(t, r.Action, last.Action)
}

func TestLearnBeforeReact(t *testing.T) {
	svc := build(t, testConfig(t), &stubEvaluator{})
	_, err := svc.LearnFromLastReaction(context.Background())
	assert.ErrorIs(t, err, ErrNoReaction)
}

func TestLearnFromLastReactionUsesDecisionContext(t *testing.T) {
	svc := build(t, testConfig(t), &stubEvaluator{sig: reward.Signal{Score: 1, Confidence: 1}})
	ctx := context.Background()

	r, err := svc.React(ctx)
	require.NoError(t, err)
	res, err := svc.LearnFromLastReaction(ctx)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, int(r.Action), res.Log.ActionIndex)
	assert.Equal(t, r.Snapshot.FullVector(), res.Log.ContextVector)

	p, err := svc.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Alpha[r.Action])
}

func TestLearnExplicitAction(t *testing.T) {
	svc := build(t, testConfig(t), &stubEvaluator{sig: reward.Signal{Score: 0.6, Confidence: 0.9}})
	ctx := context.Background()

	res := svc.Learn(ctx, state.Curiosity, 0.4)
	require.NoError(t, res.Err)
	assert.True(t, res.Applied)
	assert.Equal(t, int(state.Curiosity), res.Log.ActionIndex)

	p, err := svc.Profile(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.6, p.Alpha[int(state.Curiosity)], 1e-9)
	_, ok := svc.LastReaction()
	assert.False(t, ok, "Learn does not go through React")
}

func TestReactAndLearn(t *testing.T) {
	svc := build(t, testConfig(t), &stubEvaluator{sig: reward.Signal{Score: -1, Confidence: 0.9}})
	ctx := context.Background()

	r, results, err := svc.ReactAndLearn(ctx, 5*time.Millisecond)
	require.NoError(t, err)

	select {
	case res, ok := <-results:
		require.True(t, ok)
		assert.True(t, res.Applied)
		assert.Equal(t, 2.0, res.Profile.Beta[r.Action])
	case <-time.After(2 * time.Second):
		t.Fatal("learning never finished")
	}
	_, open := <-results
	assert.False(t, open)
}

func TestReactAndLearnCancelled(t *testing.T) {
	svc := build(t, testConfig(t), &stubEvaluator{sig: reward.Signal{Score: 1, Confidence: 1}})
	ctx, cancel := context.WithCancel(context.Background())

	_, results, err := svc.ReactAndLearn(ctx, time.Hour)
	require.NoError(t, err)
	cancel()
	_, ok := <-results
	assert.False(t, ok)

	n, err := svc.Store().PendingCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSwapEngine(t *testing.T) {
	svc := build(t, testConfig(t), &stubEvaluator{})
	require.NoError(t, svc.SwapEngine("greedy"))
	assert.Equal(t, "greedy", svc.EngineName())

	r, err := svc.React(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "greedy", r.Engine)
	assert.Equal(t, state.Empathy, r.Action, "ties resolve to the first arm")

	assert.ErrorIs(t, svc.SwapEngine("neural"), engine.ErrNoEngine)
	assert.Equal(t, "greedy", svc.EngineName())
}

func TestConfiguredEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine = "greedy"
	svc := build(t, cfg, &stubEvaluator{})
	assert.Equal(t, "greedy", svc.EngineName())
}

func TestConsolidateWritesDiary(t *testing.T) {
	svc := build(t, testConfig(t), &stubEvaluator{sig: reward.Signal{Score: 0.8, Confidence: 0.9}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.React(ctx)
		require.NoError(t, err)
		_, err = svc.LearnFromLastReaction(ctx)
		require.NoError(t, err)
	}

	rep, skipped := svc.Consolidate(ctx)
	require.Empty(t, skipped)
	require.NoError(t, rep.Err)
	assert.Equal(t, consolidation.OutcomeSuccess, rep.Outcome)
	assert.Equal(t, 3, rep.LogsRead)

	entries, err := svc.Diary(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2026-05-04", entries[0].Date)
	assert.Equal(t, 3, entries[0].TotalInteractions)

	e, err := svc.DiaryByDate(ctx, "2026-05-04")
	require.NoError(t, err)
	assert.Equal(t, entries[0].ID, e.ID)

	p, err := svc.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Version)
}

func TestConsolidateRespectsDevicePreconditions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Device.Charging = false
	svc := build(t, cfg, &stubEvaluator{})

	_, skipped := svc.Consolidate(context.Background())
	assert.Equal(t, schedule.SkipPreconditions, skipped)

	rep := svc.ConsolidateUnguarded(context.Background())
	assert.Equal(t, consolidation.OutcomeNoOp, rep.Outcome)
}

func TestBuildRegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := build(t, testConfig(t), &stubEvaluator{}, WithRegisterer(reg))
	_, err := svc.React(context.Background())
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "companion_profile_version", "companion_pending_logs")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = testutil.GatherAndCount(reg, "companion_store_latency_seconds")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1, "store operations report their latency")
}

func TestCloseReleasesEvaluator(t *testing.T) {
	ev := &stubEvaluator{}
	svc, err := Build(context.Background(), testConfig(t), nil, WithEvaluator(ev))
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	assert.True(t, ev.closed)
}
