package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/danielpatrickdp/edge-companion/internal/consolidation"
	"github.com/danielpatrickdp/edge-companion/internal/gate"
	"github.com/danielpatrickdp/edge-companion/internal/metrics"
	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region config

// Config sets the cadence of background consolidation.
type Config struct {
	Interval        time.Duration // time between successful runs
	InitialDelay    time.Duration // first attempt after Start; zero means Interval
	RetryBackoff    time.Duration // first delay after a retry outcome, doubled up to Interval
	RecheckInterval time.Duration // delay after preconditions failed
}

// DefaultConfig runs every six hours.
func DefaultConfig() Config {
	return Config{
		Interval:        6 * time.Hour,
		RetryBackoff:    10 * time.Minute,
		RecheckInterval: 15 * time.Minute,
	}
}

// Skip reasons reported by TriggerNow and in metrics.
const (
	SkipBusy          = "busy"
	SkipPreconditions = "preconditions"
	SkipMonitor       = "monitor_error"
)

// #endregion config

// #region interfaces

// DeviceMonitor reports the device conditions background work depends on.
type DeviceMonitor interface {
	DeviceState(ctx context.Context) (state.DeviceState, error)
}

// Runner is one unit of scheduled work. *consolidation.Job implements it.
type Runner interface {
	Run(ctx context.Context) consolidation.Report
}

// #endregion interfaces

// #region scheduler

// Scheduler runs a Runner periodically when the device allows it. At most one
// run is in flight at any time, whether started by the timer or by TriggerNow.
type Scheduler struct {
	runner  Runner
	monitor DeviceMonitor
	gate    *gate.DeviceGate
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	sem     *semaphore.Weighted

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l.Named("schedule") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New builds a scheduler. A nil gate requires every device precondition.
func New(runner Runner, monitor DeviceMonitor, g *gate.DeviceGate, cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = cfg.Interval
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = def.RecheckInterval
	}
	if g == nil {
		g = gate.NewDeviceGate(gate.DefaultDeviceConfig())
	}
	s := &Scheduler{
		runner:  runner,
		monitor: monitor,
		gate:    g,
		cfg:     cfg,
		logger:  zap.NewNop(),
		sem:     semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules periodic runs. It returns false when the scheduler is already
// running; the existing schedule is kept.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("consolidation scheduled", zap.Duration("interval", s.cfg.Interval))
	return true
}

// Stop cancels the schedule and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// TriggerNow runs once immediately under the same guards as a scheduled run.
// The second result is the skip reason, empty when the run happened.
func (s *Scheduler) TriggerNow(ctx context.Context) (consolidation.Report, string) {
	return s.attempt(ctx)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	backoff := s.cfg.RetryBackoff
	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := s.cfg.Interval
		rep, skipped := s.attempt(ctx)
		switch {
		case skipped == SkipPreconditions || skipped == SkipMonitor:
			next = s.cfg.RecheckInterval
		case skipped == SkipBusy:
			next = s.cfg.RecheckInterval
		case rep.Outcome == consolidation.OutcomeRetry:
			next = backoff
			backoff = min(backoff*2, s.cfg.Interval)
		default:
			backoff = s.cfg.RetryBackoff
		}
		if ctx.Err() != nil {
			return
		}
		timer.Reset(next)
	}
}

func (s *Scheduler) attempt(ctx context.Context) (consolidation.Report, string) {
	if !s.sem.TryAcquire(1) {
		s.skip(SkipBusy, "a run is already in flight")
		return consolidation.Report{}, SkipBusy
	}
	defer s.sem.Release(1)

	dev, err := s.monitor.DeviceState(ctx)
	if err != nil {
		s.skip(SkipMonitor, err.Error())
		return consolidation.Report{}, SkipMonitor
	}
	if d := s.gate.Evaluate(dev); d.Action != gate.ActionRun {
		s.skip(SkipPreconditions, d.Reason)
		return consolidation.Report{}, SkipPreconditions
	}
	return s.runner.Run(ctx), ""
}

func (s *Scheduler) skip(reason, detail string) {
	s.logger.Debug("consolidation skipped", zap.String("reason", reason), zap.String("detail", detail))
	s.metrics.SchedulerSkip(reason)
}

// #endregion scheduler
