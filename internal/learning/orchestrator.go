package learning

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/edge-companion/internal/bandit"
	"github.com/danielpatrickdp/edge-companion/internal/gate"
	"github.com/danielpatrickdp/edge-companion/internal/metrics"
	"github.com/danielpatrickdp/edge-companion/internal/reward"
	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region config

// Cycle results recorded in metrics.
const (
	ResultApplied      = "applied"
	ResultDeferred     = "deferred"
	ResultLogFailed    = "log_failed"
	ResultUpdateFailed = "update_failed"
)

// Config controls one learning cycle.
type Config struct {
	UserID           string
	EvaluationWindow time.Duration // how long the evaluator observes the user
	EvaluationGrace  time.Duration // extra time allowed on top of the window
}

// DefaultConfig returns a 3s observation window for the default user.
func DefaultConfig() Config {
	return Config{
		UserID:           state.DefaultUserID,
		EvaluationWindow: 3 * time.Second,
		EvaluationGrace:  2 * time.Second,
	}
}

// #endregion config

// #region orchestrator-struct

// Orchestrator runs the per-interaction learning cycle:
// evaluate reward, log the interaction, and update the profile when the
// signal is confident enough.
type Orchestrator struct {
	store     *state.Store
	bandit    *bandit.Bandit
	evaluator reward.Evaluator
	gate      *gate.ConfidenceGate
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.Named("learning") }
}

// WithMetrics records cycle outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// #endregion orchestrator-struct

// #region constructor

// NewOrchestrator wires the learning cycle. A nil evaluator means reward.Unavailable.
func NewOrchestrator(store *state.Store, b *bandit.Bandit, ev reward.Evaluator, g *gate.ConfidenceGate, cfg Config, opts ...Option) *Orchestrator {
	if ev == nil {
		ev = reward.Unavailable{}
	}
	if g == nil {
		g = gate.NewConfidenceGate(gate.DefaultConfidenceConfig())
	}
	if cfg.UserID == "" {
		cfg.UserID = state.DefaultUserID
	}
	if cfg.EvaluationWindow <= 0 {
		cfg.EvaluationWindow = DefaultConfig().EvaluationWindow
	}
	if cfg.EvaluationGrace < 0 {
		cfg.EvaluationGrace = 0
	}
	o := &Orchestrator{
		store:     store,
		bandit:    b,
		evaluator: ev,
		gate:      g,
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the cycle configuration in use.
func (o *Orchestrator) Config() Config { return o.cfg }

// #endregion constructor

// #region learn

// CycleResult reports what one learning cycle did.
type CycleResult struct {
	Logged  bool
	Applied bool
	Log     state.InteractionLog
	Signal  reward.Signal
	Profile state.UserProfile // profile after the update, zero if not applied
	Err     error             // first storage error, already logged
}

// LearnFromReaction observes the user's response to a reaction and learns from it.
// Storage failures are logged and absorbed into the result: a failed append skips
// the update, a failed update leaves the log in place for consolidation.
func (o *Orchestrator) LearnFromReaction(ctx context.Context, action state.Action, intensity float64, snap state.ContextSnapshot) CycleResult {
	sig := o.observe(ctx, action)
	res := CycleResult{Signal: sig}
	o.metrics.Reward(sig.Score)

	logged, err := o.store.AppendLog(ctx, state.InteractionLog{
		ContextVector:    snap.FullVector(),
		ActionIndex:      int(action),
		ActionIntensity:  intensity,
		RewardScore:      sig.Score,
		RewardConfidence: sig.Confidence,
	})
	if err != nil {
		res.Err = fmt.Errorf("append log: %w", err)
		o.logger.Error("learning cycle aborted", zap.String("action", action.String()), zap.Error(err))
		o.metrics.Cycle(ResultLogFailed)
		return res
	}
	res.Logged = true
	res.Log = logged

	decision := o.gate.EvaluateRealtime(sig.Confidence)
	if decision.Action != gate.ActionApply {
		o.logger.Debug("realtime update deferred",
			zap.String("action", action.String()),
			zap.Float64("score", sig.Score),
			zap.String("reason", decision.Reason))
		o.metrics.Cycle(ResultDeferred)
		return res
	}

	updated, err := o.store.UpdateProfile(ctx, o.cfg.UserID, func(p state.UserProfile) (state.UserProfile, error) {
		return o.bandit.UpdateFromReward(p, int(action), sig.Score), nil
	})
	if err != nil {
		res.Err = fmt.Errorf("update profile: %w", err)
		o.logger.Error("realtime update failed", zap.String("action", action.String()), zap.Error(err))
		o.metrics.Cycle(ResultUpdateFailed)
		return res
	}
	res.Applied = true
	res.Profile = updated

	o.logger.Info("realtime update applied",
		zap.String("action", action.String()),
		zap.Float64("score", sig.Score),
		zap.Float64("confidence", sig.Confidence),
		zap.Float64("expectation", updated.Expectation(int(action))))
	o.metrics.Cycle(ResultApplied)
	o.metrics.Profile(updated.Version, state.ActionNames(), updated.Expectations())
	return res
}

// observe runs the evaluator under the window plus grace. A panicking
// evaluator counts as a neutral observation.
func (o *Orchestrator) observe(ctx context.Context, action state.Action) (sig reward.Signal) {
	evalCtx, cancel := context.WithTimeout(ctx, o.cfg.EvaluationWindow+o.cfg.EvaluationGrace)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("reward evaluator panicked",
				zap.String("action", action.String()),
				zap.Any("panic", r))
			sig = reward.Neutral()
		}
	}()
	return o.evaluator.Evaluate(evalCtx, o.cfg.EvaluationWindow).Clamp()
}

// #endregion learn
