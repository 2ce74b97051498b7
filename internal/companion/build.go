package companion

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/edge-companion/internal/bandit"
	"github.com/danielpatrickdp/edge-companion/internal/config"
	"github.com/danielpatrickdp/edge-companion/internal/consolidation"
	"github.com/danielpatrickdp/edge-companion/internal/engine"
	"github.com/danielpatrickdp/edge-companion/internal/gate"
	"github.com/danielpatrickdp/edge-companion/internal/learning"
	"github.com/danielpatrickdp/edge-companion/internal/metrics"
	"github.com/danielpatrickdp/edge-companion/internal/reward"
	"github.com/danielpatrickdp/edge-companion/internal/schedule"
	"github.com/danielpatrickdp/edge-companion/internal/sensor"
	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// BuildOption adjusts Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	reg       prometheus.Registerer
	clock     func() time.Time
	evaluator reward.Evaluator
}

// WithRegisterer registers the companion's metrics on reg. Without it metrics are off.
func WithRegisterer(reg prometheus.Registerer) BuildOption {
	return func(o *buildOptions) { o.reg = reg }
}

// WithClock overrides the wall clock for reactions and consolidation.
func WithClock(now func() time.Time) BuildOption {
	return func(o *buildOptions) { o.clock = now }
}

// WithEvaluator uses ev instead of the configured sensor.
func WithEvaluator(ev reward.Evaluator) BuildOption {
	return func(o *buildOptions) { o.evaluator = ev }
}

// Build opens the store and wires every component from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...BuildOption) (*Service, error) {
	o := buildOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.DatabasePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	var m *metrics.Metrics
	if o.reg != nil {
		m = metrics.New(o.reg, prometheus.Labels{"user": cfg.UserID})
	}

	store, err := state.NewStore(cfg.DatabasePath,
		state.WithClock(func() time.Time { return o.clock().UTC() }),
		state.WithMaxPendingLogs(cfg.MaxPendingLogs),
		state.WithObserver(m.ObserveStore))
	if err != nil {
		return nil, err
	}

	var sampler *bandit.Sampler
	if cfg.Seed != 0 {
		sampler = bandit.NewSeededSampler(cfg.Seed)
	}
	b := bandit.New(bandit.Config{MaxParameterSum: cfg.Learning.MaxParameterSum, MinParameter: state.MinParameter}, sampler,
		bandit.WithClock(func() time.Time { return o.clock().UTC() }))

	ev := o.evaluator
	if ev == nil {
		ev, err = buildEvaluator(cfg, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	if err := ev.Prepare(ctx); err != nil {
		logger.Warn("reward evaluator unavailable, learning will only log", zap.Error(err))
	}

	confidence := gate.NewConfidenceGate(gate.ConfidenceConfig{
		RealtimeThreshold: cfg.Learning.RealtimeThreshold,
		BatchThreshold:    cfg.Learning.BatchThreshold,
	})

	learner := learning.NewOrchestrator(store, b, ev, confidence, learning.Config{
		UserID:           cfg.UserID,
		EvaluationWindow: cfg.EvaluationWindow(),
		EvaluationGrace:  cfg.EvaluationGrace(),
	}, learning.WithLogger(logger), learning.WithMetrics(m))

	job := consolidation.NewJob(store, b, confidence, consolidation.Config{
		UserID:         cfg.UserID,
		BatchLimit:     cfg.Consolidation.BatchLimit,
		DiaryRetention: cfg.DiaryRetention(),
	}, consolidation.WithLogger(logger), consolidation.WithMetrics(m),
		consolidation.WithClock(func() time.Time { return o.clock().UTC() }))

	sched := schedule.New(job, buildMonitor(cfg), gate.NewDeviceGate(gate.DeviceConfig{
		RequireCharging:      cfg.Device.RequireCharging,
		RequireUnmetered:     cfg.Device.RequireUnmetered,
		RequireBatteryNotLow: cfg.Device.RequireBatteryNotLow,
	}), schedule.Config{
		Interval:        cfg.Interval(),
		InitialDelay:    cfg.InitialDelay(),
		RetryBackoff:    cfg.RetryBackoff(),
		RecheckInterval: cfg.RecheckInterval(),
	}, schedule.WithLogger(logger), schedule.WithMetrics(m))

	engines := engine.NewRegistry(engine.NewRuleBased(b), engine.Greedy{})
	var rng *rand.Rand
	if cfg.Seed != 0 {
		rng = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
	}

	svc, err := New(Deps{
		Store:     store,
		Engines:   engines,
		Responder: engine.NewTemplateResponder(engine.TemplateConfig{GreetingChance: cfg.Responder.GreetingChance}, rng),
		Learner:   learner,
		Job:       job,
		Scheduler: sched,
		Evaluator: ev,
		UserID:    cfg.UserID,
		Clock:     o.clock,
		Logger:    logger,
	})
	if err != nil {
		ev.Close()
		store.Close()
		return nil, err
	}
	svc.closers = append(svc.closers, store.Close)

	if cfg.Engine != "" && cfg.Engine != svc.EngineName() {
		if err := svc.SwapEngine(cfg.Engine); err != nil {
			svc.Close()
			return nil, err
		}
	}

	if p, err := store.Profile(ctx, cfg.UserID); err == nil {
		m.Profile(p.Version, state.ActionNames(), p.Expectations())
	}
	if n, err := store.PendingCount(ctx); err == nil {
		m.Pending(n)
	}
	return svc, nil
}

func buildEvaluator(cfg *config.Config, logger *zap.Logger) (reward.Evaluator, error) {
	if cfg.Sensor.Address == "" {
		return reward.Unavailable{}, nil
	}
	c, err := sensor.NewClient(cfg.Sensor.Address, cfg.SensorGrace(), logger.Named("sensor"))
	if err != nil {
		return nil, fmt.Errorf("connect reward sensor: %w", err)
	}
	return c, nil
}

func buildMonitor(cfg *config.Config) schedule.DeviceMonitor {
	if cfg.Device.Monitor == "static" {
		return schedule.StaticMonitor{State: state.DeviceState{
			Charging:     cfg.Device.Charging,
			Unmetered:    cfg.Device.Unmetered,
			BatteryLevel: cfg.Device.BatteryLevel,
			BatteryLow:   cfg.Device.BatteryLevel > 0 && cfg.Device.BatteryLevel <= 0.15,
		}}
	}
	return schedule.SysfsMonitor{Root: cfg.Device.PowerSupplyRoot, Unmetered: cfg.Device.Unmetered}
}
