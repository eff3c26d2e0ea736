// Package exercise implements the per-family repetition state machines that
// turn frame metrics into phase changes and rep counts.
package exercise

import "strings"

// Phase is a step in an exercise's repetition cycle.
type Phase string

const (
	PhaseFindStart Phase = "find_start"
	PhaseMoveA     Phase = "move_a"
	PhaseMoveB     Phase = "move_b"
	PhaseComplete  Phase = "complete"
)

// Family identifies an exercise evaluator.
type Family string

const (
	FamilyPushUp          Family = "pushup"
	FamilySquat           Family = "squat"
	FamilyCrunch          Family = "crunch"
	FamilyBackExtension   Family = "back_extension"
	FamilyJumpingJack     Family = "jumping_jack"
	FamilyMountainClimber Family = "mountain_climber"
)

// FamilyFor maps a free-form workout label such as "Push-ups" to its family.
// Unrecognized labels fall through to mountain climbers.
func FamilyFor(workout string) Family {
	w := strings.ToLower(workout)
	switch {
	case strings.Contains(w, "push"):
		return FamilyPushUp
	case strings.Contains(w, "squat"):
		return FamilySquat
	case strings.Contains(w, "crunch"):
		return FamilyCrunch
	case strings.Contains(w, "back extension"):
		return FamilyBackExtension
	case strings.Contains(w, "jumping"):
		return FamilyJumpingJack
	default:
		return FamilyMountainClimber
	}
}

// Prompt texts shown to the participant.
const (
	PromptStart        = "Get into start position"
	PromptClosedStance = "Start closed stance"
	PromptPlankStart   = "Hold plank start"
	PromptComplete     = "Quest Complete"
	promptDown         = "down"
	promptUp           = "up"
	promptOpen         = "open"
	promptClose        = "close"
	promptLeftKneeIn   = "left knee in"
	promptRightKneeIn  = "right knee in"
)

// State is an immutable view of an evaluator.
type State struct {
	Phase  Phase  `json:"phase"`
	Reps   int    `json:"reps"`
	Target int    `json:"target"`
	Prompt string `json:"prompt"`
}

// Complete reports whether the target has been reached.
func (s State) Complete() bool {
	return s.Phase == PhaseComplete
}

// Evaluator advances one exercise attempt frame by frame. Implementations are
// not safe for concurrent use; the tracking loop is their only caller.
type Evaluator interface {
	Family() Family
	// Step feeds one frame's metrics. Frames lacking the family's metric leave
	// the state untouched.
	Step(m Metrics) State
	State() State
	Reset()
}

// New returns the evaluator for family with the given rep target.
func New(family Family, target int) Evaluator {
	if target < 1 {
		target = 1
	}
	switch family {
	case FamilyPushUp:
		return newHinge(family, target, elbowAverage, atLeast(155), atMost(95), promptDown, promptUp)
	case FamilySquat:
		return newHinge(family, target, kneeAverage, atLeast(160), atMost(105), promptDown, promptUp)
	case FamilyCrunch:
		return newHinge(family, target, hipAverage, atLeast(155), atMost(120), promptUp, promptDown)
	case FamilyBackExtension:
		return newHinge(family, target, hipAverage, atMost(120), atLeast(155), promptUp, promptDown)
	case FamilyJumpingJack:
		return newJumpingJack(target)
	default:
		return newMountainClimber(target)
	}
}

// counter is the state shared by every family: phase, reps, target and the
// prompt for the next movement.
type counter struct {
	family Family
	phase  Phase
	reps   int
	target int
	prompt string
	start  string
}

func (c *counter) Family() Family { return c.family }

func (c *counter) State() State {
	return State{Phase: c.phase, Reps: c.reps, Target: c.target, Prompt: c.prompt}
}

func (c *counter) Reset() {
	c.phase = PhaseFindStart
	c.reps = 0
	c.prompt = c.start
}

func (c *counter) moveTo(p Phase, prompt string) {
	c.phase = p
	c.prompt = prompt
}

// rep counts one repetition and moves to next, or completes when the target
// is reached.
func (c *counter) rep(next Phase, prompt string) {
	c.reps = min(c.target, c.reps+1)
	if c.reps >= c.target {
		c.moveTo(PhaseComplete, PromptComplete)
		return
	}
	c.moveTo(next, prompt)
}
