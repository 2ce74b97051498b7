package companion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/edge-companion/internal/consolidation"
	"github.com/danielpatrickdp/edge-companion/internal/engine"
	"github.com/danielpatrickdp/edge-companion/internal/learning"
	"github.com/danielpatrickdp/edge-companion/internal/reward"
	"github.com/danielpatrickdp/edge-companion/internal/schedule"
	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region types

// ErrNoReaction is returned by LearnFromLastReaction before the first React.
var ErrNoReaction = errors.New("no reaction to learn from")

// Reaction is what React hands to the caller: the decision, a line of text and
// the context it was made in.
type Reaction struct {
	engine.Output
	Text     string
	Snapshot state.ContextSnapshot
	At       time.Time
}

// Deps are the collaborators of a Service. Store, Engines, Learner and Job are
// required; the rest have defaults.
type Deps struct {
	Store     *state.Store
	Engines   *engine.Registry
	Responder engine.Responder
	Learner   *learning.Orchestrator
	Job       *consolidation.Job
	Scheduler *schedule.Scheduler
	Evaluator reward.Evaluator // closed by Close
	UserID    string
	Clock     func() time.Time
	Logger    *zap.Logger
}

// #endregion types

// #region service

// Service is the inbound API of the companion: react, learn, consolidate and
// read back what was learned.
type Service struct {
	deps   Deps
	logger *zap.Logger

	mu     sync.Mutex
	engine engine.Engine
	last   *Reaction

	learning sync.WaitGroup
	closers  []func() error
}

// New builds a Service from explicit collaborators. The first ready offline
// engine in the registry becomes the active engine.
func New(d Deps) (*Service, error) {
	if d.Store == nil || d.Engines == nil || d.Learner == nil || d.Job == nil {
		return nil, fmt.Errorf("companion: store, engines, learner and job are required")
	}
	if d.Responder == nil {
		d.Responder = engine.NewTemplateResponder(engine.DefaultTemplateConfig(), nil)
	}
	if d.UserID == "" {
		d.UserID = state.DefaultUserID
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	eng, err := d.Engines.Select(engine.CapabilityOffline)
	if err != nil {
		return nil, fmt.Errorf("companion: %w", err)
	}
	return &Service{deps: d, logger: d.Logger.Named("companion"), engine: eng}, nil
}

// EngineName is the name of the active engine.
func (s *Service) EngineName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Name()
}

// SwapEngine makes the named engine active. It must be registered and ready.
func (s *Service) SwapEngine(name string) error {
	eng, err := s.deps.Engines.ByName(name)
	if err != nil {
		return err
	}
	if !eng.Ready() {
		return fmt.Errorf("engine %q: %w", name, engine.ErrNoEngine)
	}
	s.mu.Lock()
	prev := s.engine.Name()
	s.engine = eng
	s.mu.Unlock()
	s.logger.Info("engine swapped", zap.String("from", prev), zap.String("to", name))
	return nil
}

// React infers a reaction for the current moment and remembers it for learning.
func (s *Service) React(ctx context.Context) (Reaction, error) {
	now := s.deps.Clock()
	snap := state.SnapshotAt(now)
	profile, err := s.deps.Store.Profile(ctx, s.deps.UserID)
	if err != nil {
		return Reaction{}, fmt.Errorf("react: %w", err)
	}

	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()

	out, err := eng.Infer(ctx, snap, profile)
	if err != nil {
		return Reaction{}, fmt.Errorf("react: %w", err)
	}
	r := Reaction{Output: out, Text: s.deps.Responder.Respond(out, now), Snapshot: snap, At: now}

	s.mu.Lock()
	s.last = &r
	s.mu.Unlock()

	s.logger.Debug("react",
		zap.String("action", out.Action.String()),
		zap.Float64("intensity", out.Intensity),
		zap.Float64("confidence", out.Confidence),
		zap.String("engine", out.Engine))
	return r, nil
}

// LastReaction returns the most recent reaction, if any.
func (s *Service) LastReaction() (Reaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Reaction{}, false
	}
	return *s.last, true
}

// LearnFromLastReaction runs the learning cycle for the most recent reaction.
func (s *Service) LearnFromLastReaction(ctx context.Context) (learning.CycleResult, error) {
	r, ok := s.LastReaction()
	if !ok {
		return learning.CycleResult{}, ErrNoReaction
	}
	return s.learn(ctx, r), nil
}

// Learn runs the learning cycle for a reaction chosen outside this process,
// observed in the current moment.
func (s *Service) Learn(ctx context.Context, action state.Action, intensity float64) learning.CycleResult {
	return s.deps.Learner.LearnFromReaction(ctx, action, intensity, state.SnapshotAt(s.deps.Clock()))
}

// ReactAndLearn reacts immediately and learns in the background after delay.
// The channel receives exactly one result and is then closed; if ctx ends
// before the delay elapses, it is closed without a result.
func (s *Service) ReactAndLearn(ctx context.Context, delay time.Duration) (Reaction, <-chan learning.CycleResult, error) {
	r, err := s.React(ctx)
	if err != nil {
		return Reaction{}, nil, err
	}
	ch := make(chan learning.CycleResult, 1)
	s.learning.Add(1)
	go func() {
		defer s.learning.Done()
		defer close(ch)
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
		ch <- s.learn(ctx, r)
	}()
	return r, ch, nil
}

func (s *Service) learn(ctx context.Context, r Reaction) learning.CycleResult {
	return s.deps.Learner.LearnFromReaction(ctx, r.Action, r.Intensity, r.Snapshot)
}

// Consolidate runs the consolidation job now, under the scheduler's guards
// when a scheduler is configured. skipped names why nothing ran.
func (s *Service) Consolidate(ctx context.Context) (rep consolidation.Report, skipped string) {
	if s.deps.Scheduler != nil {
		return s.deps.Scheduler.TriggerNow(ctx)
	}
	return s.deps.Job.Run(ctx), ""
}

// ConsolidateUnguarded runs the job ignoring device preconditions.
func (s *Service) ConsolidateUnguarded(ctx context.Context) consolidation.Report {
	return s.deps.Job.Run(ctx)
}

// Scheduler is the background scheduler, nil when none was configured.
func (s *Service) Scheduler() *schedule.Scheduler { return s.deps.Scheduler }

// Store exposes the underlying store for inspection tools.
func (s *Service) Store() *state.Store { return s.deps.Store }

// UserID is the profile the service reads and writes.
func (s *Service) UserID() string { return s.deps.UserID }

// Profile returns the current long-term profile.
func (s *Service) Profile(ctx context.Context) (state.UserProfile, error) {
	return s.deps.Store.Profile(ctx, s.deps.UserID)
}

// Diary returns the latest entries, newest first.
func (s *Service) Diary(ctx context.Context, limit int) ([]state.DiaryEntry, error) {
	if limit <= 0 {
		limit = 30
	}
	return s.deps.Store.RecentDiary(ctx, limit)
}

// DiaryByDate returns the entry for a YYYY-MM-DD date, or state.ErrNotFound.
func (s *Service) DiaryByDate(ctx context.Context, date string) (state.DiaryEntry, error) {
	return s.deps.Store.DiaryByDate(ctx, date)
}

// Close stops the scheduler, waits for background learning, then releases the
// evaluator and anything Build opened.
func (s *Service) Close() error {
	if s.deps.Scheduler != nil {
		s.deps.Scheduler.Stop()
	}
	s.learning.Wait()
	var errs []error
	if s.deps.Evaluator != nil {
		if err := s.deps.Evaluator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close evaluator: %w", err))
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// #endregion service
