package exercise

import (
	"testing"

	"github.com/claude/repquest/internal/pose"
)

func both(deg float64) Pair {
	return Pair{Left: Angle{Deg: deg, OK: true}, Right: Angle{Deg: deg, OK: true}}
}

func elbows(deg float64) Metrics { return Metrics{Elbow: both(deg)} }

func feed(e Evaluator, seq []Metrics) State {
	var s State
	for _, m := range seq {
		s = e.Step(m)
	}
	return s
}

// TestPushUpHysteresis verifies a rep is counted only after the metric crosses
// the down threshold and then the up threshold again.
func TestPushUpHysteresis(t *testing.T) {
	tests := []struct {
		name string
		seq  []float64
		want int
	}{
		{"full cycle", []float64{160, 150, 94, 160}, 1},
		{"never reached down", []float64{160, 96, 170}, 0},
		{"no start", []float64{150, 90, 150}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(FamilyPushUp, 10)
			var ms []Metrics
			for _, v := range tt.seq {
				ms = append(ms, elbows(v))
			}
			if got := feed(e, ms).Reps; got != tt.want {
				t.Errorf("reps = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestSaturatesAndCompletes verifies reps never exceed the target, never
// decrease, and that complete is terminal.
func TestSaturatesAndCompletes(t *testing.T) {
	e := New(FamilySquat, 3)
	knees := func(deg float64) Metrics { return Metrics{Knee: both(deg)} }

	prev := 0
	for i := 0; i < 6; i++ {
		for _, v := range []float64{170, 100, 170} {
			s := e.Step(knees(v))
			if s.Reps < prev {
				t.Fatalf("reps decreased from %d to %d", prev, s.Reps)
			}
			if s.Reps > 3 {
				t.Fatalf("reps = %d, exceeds target 3", s.Reps)
			}
			if s.Reps-prev > 1 {
				t.Fatalf("reps jumped from %d to %d in one step", prev, s.Reps)
			}
			prev = s.Reps
		}
	}

	s := e.State()
	if s.Phase != PhaseComplete {
		t.Errorf("phase = %s, want %s", s.Phase, PhaseComplete)
	}
	if s.Prompt != PromptComplete {
		t.Errorf("prompt = %q, want %q", s.Prompt, PromptComplete)
	}

	e.Reset()
	if got := e.State(); got.Phase != PhaseFindStart || got.Reps != 0 || got.Prompt != PromptStart {
		t.Errorf("after Reset = %+v, want find_start/0/%q", got, PromptStart)
	}
}

// TestMissingMetricSkipsTick verifies a frame without the family's metric
// changes nothing.
func TestMissingMetricSkipsTick(t *testing.T) {
	e := New(FamilyPushUp, 10)
	e.Step(elbows(170))

	half := Metrics{Elbow: Pair{Left: Angle{Deg: 80, OK: true}}}
	s := e.Step(half)
	if s.Phase != PhaseMoveA {
		t.Errorf("phase = %s, want %s", s.Phase, PhaseMoveA)
	}
	if s.Prompt != "down" {
		t.Errorf("prompt = %q, want %q", s.Prompt, "down")
	}
}

// TestCrunchAndBackExtensionDirections verifies the inverted start conditions:
// crunches start flat (large hip angle), back extensions start folded.
func TestCrunchAndBackExtensionDirections(t *testing.T) {
	hips := func(vs ...float64) []Metrics {
		var ms []Metrics
		for _, v := range vs {
			ms = append(ms, Metrics{Hip: both(v)})
		}
		return ms
	}

	crunch := New(FamilyCrunch, 10)
	if got := feed(crunch, hips(160, 110, 160)).Reps; got != 1 {
		t.Errorf("crunch reps = %d, want 1", got)
	}
	if got := feed(New(FamilyCrunch, 10), hips(110, 160, 110)).Reps; got != 0 {
		t.Errorf("crunch reversed reps = %d, want 0", got)
	}

	back := New(FamilyBackExtension, 10)
	s := feed(back, hips(110, 160))
	if s.Phase != PhaseMoveB || s.Prompt != "down" {
		t.Errorf("back extension state = %+v, want move_b/down", s)
	}
	if got := back.Step(Metrics{Hip: both(115)}).Reps; got != 1 {
		t.Errorf("back extension reps = %d, want 1", got)
	}
}

// TestJumpingJack verifies closed → open → closed counts one rep, wrists above
// the shoulders substitute for arm spread, and the band between thresholds
// does not count.
func TestJumpingJack(t *testing.T) {
	closed := Metrics{HandsOK: true, ArmSpread: 1.2, LegSpread: 1.1}
	openArms := Metrics{HandsOK: true, ArmSpread: 2.0, LegSpread: 1.8}
	openHigh := Metrics{HandsOK: true, ArmSpread: 1.0, LegSpread: 1.8, WristsHigh: true}
	band := Metrics{HandsOK: true, ArmSpread: 1.58, LegSpread: 1.45}

	e := New(FamilyJumpingJack, 10)
	if got := e.State().Prompt; got != PromptClosedStance {
		t.Errorf("initial prompt = %q, want %q", got, PromptClosedStance)
	}
	if got := feed(e, []Metrics{closed, openArms, band, closed}).Reps; got != 1 {
		t.Errorf("reps = %d, want 1", got)
	}
	if got := feed(e, []Metrics{openHigh, closed}).Reps; got != 2 {
		t.Errorf("reps with wrists high = %d, want 2", got)
	}
	if got := feed(e, []Metrics{band, band, closed}).Reps; got != 2 {
		t.Errorf("reps after band-only motion = %d, want 2", got)
	}
}

// TestMountainClimberAlternates verifies each drive counts once and that the
// same leg twice in a row does not count twice.
func TestMountainClimberAlternates(t *testing.T) {
	knees := func(l, r float64) Metrics {
		return Metrics{Knee: Pair{Left: Angle{Deg: l, OK: true}, Right: Angle{Deg: r, OK: true}}}
	}
	e := New(FamilyMountainClimber, 10)
	if got := e.State().Prompt; got != PromptPlankStart {
		t.Errorf("initial prompt = %q, want %q", got, PromptPlankStart)
	}

	s := feed(e, []Metrics{knees(160, 160), knees(90, 150)})
	if s.Reps != 1 || s.Phase != PhaseMoveB || s.Prompt != "right knee in" {
		t.Fatalf("after left drive = %+v, want 1 rep, move_b, right knee in", s)
	}
	if got := e.Step(knees(90, 150)).Reps; got != 1 {
		t.Errorf("repeated left drive reps = %d, want 1", got)
	}
	if got := e.Step(knees(150, 95)).Reps; got != 2 {
		t.Errorf("right drive reps = %d, want 2", got)
	}
}

// TestFamilyFor verifies label-to-family mapping including the fallback.
func TestFamilyFor(t *testing.T) {
	tests := map[string]Family{
		"Push-ups":          FamilyPushUp,
		"Squats":            FamilySquat,
		"Crunches":          FamilyCrunch,
		"Back Extensions":   FamilyBackExtension,
		"Jumping Jacks":     FamilyJumpingJack,
		"Mountain Climbers": FamilyMountainClimber,
		"Burpees":           FamilyMountainClimber,
	}
	for label, want := range tests {
		if got := FamilyFor(label); got != want {
			t.Errorf("FamilyFor(%q) = %s, want %s", label, got, want)
		}
	}
}

func lm(name pose.Keypoint, x, y float64) pose.Landmark {
	return pose.Landmark{Name: name, X: x, Y: y, Score: 0.9}
}

func standing() []pose.Landmark {
	return []pose.Landmark{
		lm(pose.LeftShoulder, 100, 100), lm(pose.RightShoulder, 200, 100),
		lm(pose.LeftHip, 110, 250), lm(pose.RightHip, 190, 250),
		lm(pose.LeftKnee, 110, 350), lm(pose.RightKnee, 190, 350),
		lm(pose.LeftAnkle, 110, 450), lm(pose.RightAnkle, 190, 450),
	}
}

// TestMetricsFrom verifies required landmarks, straight-leg angles and the
// elbow fallback for hand positions.
func TestMetricsFrom(t *testing.T) {
	if _, ok := MetricsFrom(pose.Pose{Landmarks: standing()[1:]}); ok {
		t.Error("MetricsFrom without left shoulder = ok, want skipped")
	}

	lms := append(standing(),
		lm(pose.LeftElbow, 60, 60), lm(pose.RightElbow, 240, 60),
	)
	m, ok := MetricsFrom(pose.Pose{Landmarks: lms})
	if !ok {
		t.Fatal("MetricsFrom = skipped, want ok")
	}
	if avg, ok := m.Knee.Average(); !ok || avg < 179.9 {
		t.Errorf("knee average = %v (ok=%v), want 180", avg, ok)
	}
	if m.Elbow.Left.OK || m.Elbow.Right.OK {
		t.Error("elbow angles defined without wrists")
	}
	if !m.HandsOK || !m.WristsHigh {
		t.Errorf("HandsOK=%v WristsHigh=%v, want both true from elbows", m.HandsOK, m.WristsHigh)
	}
	if m.ArmSpread != 1.8 {
		t.Errorf("arm spread = %v, want 1.8", m.ArmSpread)
	}

	left, right := m.Display()
	if left < 179.9 || right < 179.9 {
		t.Errorf("Display = (%v,%v), want knee angles", left, right)
	}
}
