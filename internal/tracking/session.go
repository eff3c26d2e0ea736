// Package tracking runs one live quest attempt: it samples the camera on a
// fixed tick, estimates a pose, advances the rep counter and fans the result
// out to coaching, completion and any observers.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/claude/repquest/internal/camera"
	"github.com/claude/repquest/internal/coach"
	"github.com/claude/repquest/internal/completion"
	"github.com/claude/repquest/internal/exercise"
	"github.com/claude/repquest/internal/pose"
	"github.com/claude/repquest/internal/quest"
)

// DefaultInterval is the sampling tick.
const DefaultInterval = 220 * time.Millisecond

// ErrEstimatorUnavailable wraps a pose estimator that failed to start or
// died mid-attempt.
var ErrEstimatorUnavailable = errors.New("pose estimator unavailable")

// Snapshot is an immutable view of the attempt after one tick.
type Snapshot struct {
	QuestID    string         `json:"questId"`
	Seq        uint64         `json:"seq"`
	Phase      exercise.Phase `json:"phase"`
	Reps       int            `json:"reps"`
	Target     int            `json:"target"`
	Prompt     string         `json:"prompt"`
	Stage      quest.Stage    `json:"stage"`
	LeftAngle  float64        `json:"leftAngle"`
	RightAngle float64        `json:"rightAngle"`
	Cue        string         `json:"cue"`
	Message    string         `json:"message,omitempty"`
	Mirrored   bool           `json:"mirrored"`
}

// Observer receives every snapshot together with the overlay for the frame
// it came from. Observe runs on the tick goroutine and must not block.
type Observer interface {
	Observe(s Snapshot, o pose.Overlay)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot, pose.Overlay)

// Observe implements Observer.
func (f ObserverFunc) Observe(s Snapshot, o pose.Overlay) { f(s, o) }

// EstimatorFactory starts a pose estimator for one attempt.
type EstimatorFactory func(ctx context.Context) (pose.Estimator, error)

// Config describes one attempt.
type Config struct {
	Quest           quest.Quest
	Target          int
	Profiles        []camera.Profile
	Interval        time.Duration
	EstimateTimeout time.Duration
}

// Stats counts tick outcomes.
type Stats struct {
	Ticks   int64 `json:"ticks"`
	Dropped int64 `json:"dropped"` // fired while inference was outstanding
	Skipped int64 `json:"skipped"` // no usable pose
	Errors  int64 `json:"errors"`
}

// Result is the final state of an attempt.
type Result struct {
	Snapshot Snapshot
	Outcome  completion.Outcome
	Stats    Stats
}

// Session owns one attempt. Snapshot may be called from any goroutine; all
// other state is written only by Run.
type Session struct {
	cfg          Config
	opener       camera.Opener
	newEstimator EstimatorFactory
	coach        *coach.Channel
	guard        *completion.Guard
	observers    []Observer
	log          *slog.Logger

	eval exercise.Evaluator
	snap atomic.Pointer[Snapshot]

	inFlight atomic.Bool
	ticks    atomic.Int64
	dropped  atomic.Int64
	skipped  atomic.Int64
	errs     atomic.Int64

	seq    uint64
	mirror bool
	ran    atomic.Bool
}

// NewSession creates a session. coach and guard may be nil.
func NewSession(cfg Config, opener camera.Opener, newEstimator EstimatorFactory, ch *coach.Channel, guard *completion.Guard, log *slog.Logger, observers ...Observer) *Session {
	if cfg.Target <= 0 {
		cfg.Target = quest.TargetReps
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.EstimateTimeout <= 0 {
		cfg.EstimateTimeout = 2 * time.Second
	}
	s := &Session{
		cfg:          cfg,
		opener:       opener,
		newEstimator: newEstimator,
		coach:        ch,
		guard:        guard,
		observers:    observers,
		log:          log.With("quest", cfg.Quest.ID),
		eval:         exercise.New(cfg.Quest.Family(), cfg.Target),
	}
	s.store(s.eval.State(), 0, 0)
	return s
}

// Snapshot returns the latest published snapshot.
func (s *Session) Snapshot() Snapshot {
	return *s.snap.Load()
}

// Stats returns the tick counters so far.
func (s *Session) Stats() Stats {
	return Stats{
		Ticks:   s.ticks.Load(),
		Dropped: s.dropped.Load(),
		Skipped: s.skipped.Load(),
		Errors:  s.errs.Load(),
	}
}

type tickResult struct {
	frame pose.Frame
	pose  pose.Pose
	err   error
}

// Run drives the attempt until the rep target is reached and the completion
// credit has settled, ctx is cancelled, or a sensor fails. Camera and
// estimator are released on every path after any in-flight tick has drained.
// A session runs at most once.
func (s *Session) Run(ctx context.Context) (Result, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return Result{}, errors.New("tracking: session already ran")
	}

	stream, profile, err := camera.Acquire(ctx, s.opener, s.cfg.Profiles, s.log)
	if err != nil {
		return s.result(), err
	}
	est, err := s.newEstimator(ctx)
	if err != nil {
		if cerr := stream.Close(); cerr != nil {
			s.log.Warn("closing camera", "error", cerr)
		}
		return s.result(), fmt.Errorf("%w: %w", ErrEstimatorUnavailable, err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	var wg sync.WaitGroup

	// release stops sampling and frees the sensors once the in-flight tick
	// has drained. It runs before the completion credit is awaited.
	var released bool
	release := func() {
		if released {
			return
		}
		released = true
		ticker.Stop()
		wg.Wait()
		if err := est.Close(); err != nil {
			s.log.Warn("closing pose estimator", "error", err)
		}
		if err := stream.Close(); err != nil {
			s.log.Warn("closing camera", "error", err)
		}
	}
	defer release()

	s.mirror = camera.Mirrored(stream.Facing())
	s.log.Info("attempt started", "profile", profile.Name, "family", s.eval.Family(), "target", s.cfg.Target)

	results := make(chan tickResult, 1)

	for !s.eval.State().Complete() {
		select {
		case <-ctx.Done():
			return s.result(), ctx.Err()
		case <-ticker.C:
			s.ticks.Add(1)
			if !s.inFlight.CompareAndSwap(false, true) {
				s.dropped.Add(1)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- s.sample(ctx, stream, est)
			}()
		case r := <-results:
			s.inFlight.Store(false)
			if err := s.apply(r); err != nil {
				return s.result(), err
			}
		}
	}

	release()
	if s.guard != nil && s.guard.Fired() {
		select {
		case <-s.guard.Done():
		case <-ctx.Done():
			return s.result(), ctx.Err()
		}
		_, msg := s.guard.Result()
		s.notify(s.republish(msg), pose.Overlay{})
	}
	res := s.result()
	s.log.Info("attempt finished", "reps", res.Snapshot.Reps, "outcome", res.Outcome,
		"ticks", res.Stats.Ticks, "dropped", res.Stats.Dropped, "skipped", res.Stats.Skipped)
	return res, nil
}

func (s *Session) sample(ctx context.Context, stream camera.Stream, est pose.Estimator) tickResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.EstimateTimeout)
	defer cancel()

	frame, err := stream.Frame(ctx)
	if err != nil {
		return tickResult{err: fmt.Errorf("reading frame: %w", err)}
	}
	p, err := est.Estimate(ctx, frame)
	if err != nil {
		return tickResult{frame: frame, err: fmt.Errorf("estimating pose: %w", err)}
	}
	return tickResult{frame: frame, pose: p}
}

// apply folds one tick into the attempt. Only persistent sensor failures are
// returned; anything else skips the tick.
func (s *Session) apply(r tickResult) error {
	if r.err != nil {
		if errors.Is(r.err, pose.ErrWorkerStopped) {
			return fmt.Errorf("%w: %w", ErrEstimatorUnavailable, r.err)
		}
		if errors.Is(r.err, camera.ErrUnavailable) {
			return r.err
		}
		s.errs.Add(1)
		s.log.Debug("tick skipped", "error", r.err)
		return nil
	}

	overlay := pose.BuildOverlay(r.pose, r.frame.Width, r.frame.Height, s.mirror)

	m, ok := exercise.MetricsFrom(r.pose)
	if !ok {
		s.skipped.Add(1)
		s.notify(s.Snapshot(), overlay)
		return nil
	}

	st := s.eval.Step(m)
	left, right := m.Display()
	snap := s.store(st, left, right)

	if s.coach != nil && !st.Complete() {
		s.coach.Offer(coach.Request{
			QuestTitle: s.cfg.Quest.Title,
			Workout:    s.cfg.Quest.Workout,
			Phase:      string(st.Phase),
			Reps:       st.Reps,
			TargetReps: st.Target,
			LeftAngle:  left,
			RightAngle: right,
		})
	}
	if s.guard != nil && s.guard.Check(st) {
		s.log.Info("rep target reached", "reps", st.Reps)
	}
	if st.Complete() {
		snap = s.republish(completion.MessageDefeated)
	}

	s.notify(snap, overlay)
	return nil
}

func (s *Session) store(st exercise.State, left, right float64) Snapshot {
	s.seq++
	snap := Snapshot{
		QuestID:    s.cfg.Quest.ID,
		Seq:        s.seq,
		Phase:      st.Phase,
		Reps:       st.Reps,
		Target:     st.Target,
		Prompt:     st.Prompt,
		Stage:      quest.StageFor(st.Reps, st.Target),
		LeftAngle:  left,
		RightAngle: right,
		Mirrored:   s.mirror,
	}
	if s.coach != nil {
		snap.Cue = s.coach.Cue()
	}
	if prev := s.snap.Load(); prev != nil {
		snap.Message = prev.Message
	}
	s.snap.Store(&snap)
	return snap
}

// republish stores a copy of the current snapshot carrying msg.
func (s *Session) republish(msg string) Snapshot {
	snap := s.Snapshot()
	s.seq++
	snap.Seq = s.seq
	snap.Message = msg
	if s.coach != nil {
		snap.Cue = s.coach.Cue()
	}
	s.snap.Store(&snap)
	return snap
}

func (s *Session) notify(snap Snapshot, o pose.Overlay) {
	for _, obs := range s.observers {
		obs.Observe(snap, o)
	}
}

func (s *Session) result() Result {
	res := Result{Snapshot: s.Snapshot(), Stats: s.Stats()}
	if s.guard != nil {
		res.Outcome, _ = s.guard.Result()
	}
	return res
}
