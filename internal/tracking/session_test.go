package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claude/repquest/internal/camera"
	"github.com/claude/repquest/internal/completion"
	"github.com/claude/repquest/internal/exercise"
	"github.com/claude/repquest/internal/pose"
	"github.com/claude/repquest/internal/quest"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStream struct {
	facing camera.Facing
	seq    atomic.Uint64
	closed atomic.Bool
}

func (s *fakeStream) Frame(ctx context.Context) (pose.Frame, error) {
	return pose.Frame{Seq: s.seq.Add(1), Width: 640, Height: 480, Format: "RGB"}, nil
}
func (s *fakeStream) Facing() camera.Facing { return s.facing }
func (s *fakeStream) Close() error          { s.closed.Store(true); return nil }

type fakeOpener struct {
	stream *fakeStream
	err    error
}

func (o *fakeOpener) Open(ctx context.Context, p camera.Profile) (camera.Stream, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.stream, nil
}

// scriptEstimator returns poses in order, repeating the last one.
type scriptEstimator struct {
	mu      sync.Mutex
	script  []pose.Pose
	next    int
	delay   time.Duration
	failAt  int // 1-based call that returns ErrWorkerStopped; 0 never
	calls   int
	active  atomic.Int32
	maxSeen atomic.Int32
	closed  atomic.Bool
}

func (e *scriptEstimator) Estimate(ctx context.Context, frame pose.Frame) (pose.Pose, error) {
	n := e.active.Add(1)
	defer e.active.Add(-1)
	if n > e.maxSeen.Load() {
		e.maxSeen.Store(n)
	}
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return pose.Pose{}, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.failAt > 0 && e.calls >= e.failAt {
		return pose.Pose{}, pose.ErrWorkerStopped
	}
	p := e.script[min(e.next, len(e.script)-1)]
	e.next++
	return p, nil
}

func (e *scriptEstimator) Close() error { e.closed.Store(true); return nil }

type countingCrediter struct {
	mu      sync.Mutex
	amounts []int
	err     error
}

func (c *countingCrediter) Credit(ctx context.Context, amount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.amounts = append(c.amounts, amount)
	return c.err
}

func (c *countingCrediter) calls() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.amounts...)
}

func lm(name pose.Keypoint, x, y float64) pose.Landmark {
	return pose.Landmark{Name: name, X: x, Y: y, Score: 0.9}
}

// armsPose is a full-body pose with both elbows straight (up) or bent to 90
// degrees (down).
func armsPose(bent bool) pose.Pose {
	lwY, rwY, lwX, rwX := 100.0, 100.0, 0.0, 400.0
	if bent {
		lwX, lwY, rwX, rwY = 50, 150, 350, 150
	}
	return pose.Pose{Landmarks: []pose.Landmark{
		lm(pose.LeftShoulder, 100, 100), lm(pose.RightShoulder, 300, 100),
		lm(pose.LeftElbow, 50, 100), lm(pose.RightElbow, 350, 100),
		lm(pose.LeftWrist, lwX, lwY), lm(pose.RightWrist, rwX, rwY),
		lm(pose.LeftHip, 100, 200), lm(pose.RightHip, 300, 200),
		lm(pose.LeftKnee, 100, 300), lm(pose.RightKnee, 300, 300),
		lm(pose.LeftAnkle, 100, 400), lm(pose.RightAnkle, 300, 400),
	}}
}

// pushUps scripts a start position followed by n full reps.
func pushUps(n int) []pose.Pose {
	script := []pose.Pose{armsPose(false)}
	for range n {
		script = append(script, armsPose(true), armsPose(false))
	}
	return script
}

func pushUpQuest(t *testing.T) quest.Quest {
	t.Helper()
	q, ok := quest.Find("orc-pushup")
	if !ok {
		t.Fatal("orc-pushup missing from catalog")
	}
	return q
}

func newTestSession(t *testing.T, est *scriptEstimator, opener *fakeOpener, guard *completion.Guard, obs ...Observer) *Session {
	t.Helper()
	cfg := Config{Quest: pushUpQuest(t), Interval: time.Millisecond, EstimateTimeout: time.Second}
	factory := func(ctx context.Context) (pose.Estimator, error) { return est, nil }
	return NewSession(cfg, opener, factory, nil, guard, discard(), obs...)
}

// TestRunToCompletion verifies ten scripted reps kill the monster, credit the
// quest reward exactly once and release the sensors.
func TestRunToCompletion(t *testing.T) {
	est := &scriptEstimator{script: append(pushUps(10), pushUps(3)...)}
	opener := &fakeOpener{stream: &fakeStream{facing: camera.FacingEnvironment}}
	cred := &countingCrediter{}
	guard := completion.NewGuard(cred, quest.Adept.Reward(), time.Second, discard())

	var stages []quest.Stage
	obs := ObserverFunc(func(s Snapshot, _ pose.Overlay) { stages = append(stages, s.Stage) })

	s := newTestSession(t, est, opener, guard, obs)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	snap := s.Snapshot()
	if snap.Reps != 10 || snap.Phase != exercise.PhaseComplete || snap.Stage != quest.StageDead {
		t.Errorf("snapshot = %+v, want 10 reps complete dead", snap)
	}
	if snap.Message != "Monster defeated. +20 EXP awarded." {
		t.Errorf("message = %q", snap.Message)
	}
	if got := cred.calls(); len(got) != 1 || got[0] != 20 {
		t.Errorf("credits = %v, want [20]", got)
	}
	if res.Outcome != completion.Credited {
		t.Errorf("outcome = %s, want credited", res.Outcome)
	}
	if !opener.stream.closed.Load() || !est.closed.Load() {
		t.Error("camera or estimator not released")
	}

	sawHalf := false
	for _, st := range stages {
		if st == quest.StageHalf {
			sawHalf = true
		}
	}
	if !sawHalf {
		t.Errorf("stages = %v, want a half-health stage before dead", stages)
	}
	if est.calls > len(pushUps(10)) {
		t.Errorf("estimate calls = %d, want ticks to stop at completion", est.calls)
	}
}

// TestHalfHealthAfterThreeReps verifies the stage after three reps and that
// cancelling mid-attempt releases the sensors without crediting.
func TestHalfHealthAfterThreeReps(t *testing.T) {
	est := &scriptEstimator{script: pushUps(3)}
	opener := &fakeOpener{stream: &fakeStream{facing: camera.FacingEnvironment}}
	cred := &countingCrediter{}
	guard := completion.NewGuard(cred, 20, time.Second, discard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obs := ObserverFunc(func(s Snapshot, _ pose.Overlay) {
		if s.Reps == 3 {
			cancel()
		}
	})

	s := newTestSession(t, est, opener, guard, obs)
	_, err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	snap := s.Snapshot()
	if snap.Reps != 3 || snap.Stage != quest.StageHalf {
		t.Errorf("snapshot = %+v, want 3 reps half", snap)
	}
	if len(cred.calls()) != 0 {
		t.Errorf("credits = %v, want none", cred.calls())
	}
	if !opener.stream.closed.Load() || !est.closed.Load() {
		t.Error("camera or estimator not released")
	}
}

// TestCreditFailureKeepsReps verifies a failed credit leaves the rep count
// and shows the degraded message.
func TestCreditFailureKeepsReps(t *testing.T) {
	est := &scriptEstimator{script: pushUps(10)}
	opener := &fakeOpener{stream: &fakeStream{facing: camera.FacingEnvironment}}
	cred := &countingCrediter{err: errors.New("502")}
	guard := completion.NewGuard(cred, 20, time.Second, discard())

	s := newTestSession(t, est, opener, guard)
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Snapshot.Reps != 10 || res.Outcome != completion.CreditFailed {
		t.Errorf("result = %+v, want 10 reps credit_failed", res)
	}
	if res.Snapshot.Message != completion.MessageCreditFailed {
		t.Errorf("message = %q, want %q", res.Snapshot.Message, completion.MessageCreditFailed)
	}
	if len(cred.calls()) != 1 {
		t.Errorf("credits = %v, want exactly one attempt", cred.calls())
	}
}

type gatedCrediter struct {
	entered chan struct{}
	gate    chan struct{}
}

func (c *gatedCrediter) Credit(ctx context.Context, amount int) error {
	close(c.entered)
	<-c.gate
	return nil
}

// TestSensorsReleasedBeforeCreditSettles verifies the camera and estimator
// are freed as soon as the target is reached, while the credit is pending.
func TestSensorsReleasedBeforeCreditSettles(t *testing.T) {
	est := &scriptEstimator{script: pushUps(10)}
	opener := &fakeOpener{stream: &fakeStream{facing: camera.FacingEnvironment}}
	cred := &gatedCrediter{entered: make(chan struct{}), gate: make(chan struct{})}
	guard := completion.NewGuard(cred, 20, 5*time.Second, discard())

	s := newTestSession(t, est, opener, guard)
	type runResult struct {
		res Result
		err error
	}
	done := make(chan runResult, 1)
	go func() {
		res, err := s.Run(context.Background())
		done <- runResult{res, err}
	}()

	select {
	case <-cred.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("credit never requested")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !opener.stream.closed.Load() || !est.closed.Load() {
		if time.Now().After(deadline) {
			close(cred.gate)
			t.Fatalf("camera closed = %v, estimator closed = %v while credit pending, want both true",
				opener.stream.closed.Load(), est.closed.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case r := <-done:
		t.Fatalf("Run returned before the credit settled: %+v", r.res)
	default:
	}

	close(cred.gate)
	r := <-done
	if r.err != nil {
		t.Fatalf("Run error: %v", r.err)
	}
	if r.res.Outcome != completion.Credited {
		t.Errorf("outcome = %s, want credited", r.res.Outcome)
	}
}

// TestDroppedTicks verifies ticks that fire during inference are dropped,
// never queued, and inference never overlaps.
func TestDroppedTicks(t *testing.T) {
	est := &scriptEstimator{script: []pose.Pose{armsPose(false)}, delay: 20 * time.Millisecond}
	opener := &fakeOpener{stream: &fakeStream{facing: camera.FacingEnvironment}}
	s := newTestSession(t, est, opener, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want deadline exceeded", err)
	}

	st := s.Stats()
	if st.Dropped == 0 {
		t.Errorf("dropped = 0, want > 0 (stats %+v)", st)
	}
	if got := est.maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent estimates = %d, want 1", got)
	}
}

// TestCameraUnavailable verifies acquisition failure is returned and the
// estimator is never started.
func TestCameraUnavailable(t *testing.T) {
	opener := &fakeOpener{err: errors.New("permission denied")}
	started := false
	factory := func(ctx context.Context) (pose.Estimator, error) {
		started = true
		return nil, errors.New("unreachable")
	}
	s := NewSession(Config{Quest: pushUpQuest(t)}, opener, factory, nil, nil, discard())

	_, err := s.Run(context.Background())
	if !errors.Is(err, camera.ErrUnavailable) {
		t.Errorf("error = %v, want camera.ErrUnavailable", err)
	}
	if started {
		t.Error("estimator started without a camera")
	}
}

// TestEstimatorStartFailure verifies a failed estimator start is persistent
// and the camera is released.
func TestEstimatorStartFailure(t *testing.T) {
	opener := &fakeOpener{stream: &fakeStream{}}
	factory := func(ctx context.Context) (pose.Estimator, error) {
		return nil, errors.New("model missing")
	}
	s := NewSession(Config{Quest: pushUpQuest(t)}, opener, factory, nil, nil, discard())

	_, err := s.Run(context.Background())
	if !errors.Is(err, ErrEstimatorUnavailable) {
		t.Errorf("error = %v, want ErrEstimatorUnavailable", err)
	}
	if !opener.stream.closed.Load() {
		t.Error("camera not released")
	}
}

// TestWorkerStoppedMidAttempt verifies a dead estimator ends the attempt.
func TestWorkerStoppedMidAttempt(t *testing.T) {
	est := &scriptEstimator{script: pushUps(10), failAt: 4}
	opener := &fakeOpener{stream: &fakeStream{}}
	s := newTestSession(t, est, opener, nil)

	_, err := s.Run(context.Background())
	if !errors.Is(err, ErrEstimatorUnavailable) {
		t.Errorf("error = %v, want ErrEstimatorUnavailable", err)
	}
	if s.Snapshot().Reps != 1 {
		t.Errorf("reps = %d, want 1", s.Snapshot().Reps)
	}
}

// TestMirroredFrontCamera verifies overlays are flipped for a user-facing
// camera.
func TestMirroredFrontCamera(t *testing.T) {
	est := &scriptEstimator{script: pushUps(10)}
	opener := &fakeOpener{stream: &fakeStream{facing: camera.FacingUser}}

	var first pose.Overlay
	var once sync.Once
	obs := ObserverFunc(func(s Snapshot, o pose.Overlay) {
		if len(o.Joints) > 0 {
			once.Do(func() { first = o })
		}
	})
	s := newTestSession(t, est, opener, nil, obs)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !s.Snapshot().Mirrored {
		t.Error("Mirrored = false, want true")
	}
	// The left shoulder at x=100 lands at 640-100 once mirrored.
	found := false
	for _, j := range first.Joints {
		if j.X == 540 && j.Y == 100 {
			found = true
		}
	}
	if !found {
		t.Errorf("joints = %v, want a mirrored shoulder at (540,100)", first.Joints)
	}
}

// TestRunOnce verifies a session cannot be restarted.
func TestRunOnce(t *testing.T) {
	est := &scriptEstimator{script: pushUps(10)}
	s := newTestSession(t, est, &fakeOpener{stream: &fakeStream{}}, nil)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background()); err == nil {
		t.Error("second Run error = nil, want error")
	}
}
