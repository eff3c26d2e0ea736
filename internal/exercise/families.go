package exercise

type metricFunc func(Metrics) (float64, bool)

func elbowAverage(m Metrics) (float64, bool) { return m.Elbow.Average() }
func kneeAverage(m Metrics) (float64, bool)  { return m.Knee.Average() }
func hipAverage(m Metrics) (float64, bool)   { return m.Hip.Average() }

func atLeast(deg float64) func(float64) bool { return func(v float64) bool { return v >= deg } }
func atMost(deg float64) func(float64) bool  { return func(v float64) bool { return v <= deg } }

// hinge counts single-joint movements: the metric must satisfy rest to begin,
// then reach turn (move_a), then return to rest (move_b) to count a rep. The
// gap between the two thresholds is the hysteresis band.
type hinge struct {
	counter
	metric     metricFunc
	rest, turn func(float64) bool
	toTurn     string
	toRest     string
}

func newHinge(f Family, target int, metric metricFunc, rest, turn func(float64) bool, toTurn, toRest string) *hinge {
	h := &hinge{
		counter: counter{family: f, target: target, start: PromptStart},
		metric:  metric,
		rest:    rest,
		turn:    turn,
		toTurn:  toTurn,
		toRest:  toRest,
	}
	h.Reset()
	return h
}

func (h *hinge) Step(m Metrics) State {
	v, ok := h.metric(m)
	if !ok {
		return h.State()
	}
	switch {
	case h.phase == PhaseFindStart && h.rest(v):
		h.moveTo(PhaseMoveA, h.toTurn)
	case h.phase == PhaseMoveA && h.turn(v):
		h.moveTo(PhaseMoveB, h.toRest)
	case h.phase == PhaseMoveB && h.rest(v):
		h.rep(PhaseMoveA, h.toTurn)
	}
	return h.State()
}

// Jumping-jack spread thresholds. Open and closed are separated so a stance
// hovering near one cutoff cannot flip phases.
const (
	jackOpenLeg   = 1.55
	jackOpenArm   = 1.6
	jackClosedLeg = 1.35
	jackClosedArm = 1.55
)

type jumpingJack struct {
	counter
}

func newJumpingJack(target int) *jumpingJack {
	j := &jumpingJack{counter{family: FamilyJumpingJack, target: target, start: PromptClosedStance}}
	j.Reset()
	return j
}

func (j *jumpingJack) Step(m Metrics) State {
	if !m.HandsOK {
		return j.State()
	}
	open := m.LegSpread > jackOpenLeg && (m.ArmSpread > jackOpenArm || m.WristsHigh)
	closed := m.LegSpread < jackClosedLeg && m.ArmSpread < jackClosedArm

	switch {
	case j.phase == PhaseFindStart && closed:
		j.moveTo(PhaseMoveA, promptOpen)
	case j.phase == PhaseMoveA && open:
		j.moveTo(PhaseMoveB, promptClose)
	case j.phase == PhaseMoveB && closed:
		j.rep(PhaseMoveA, promptOpen)
	}
	return j.State()
}

// Mountain-climber knee thresholds.
const (
	climberPlank    = 145.0 // both knees above: plank ready
	climberDrive    = 100.0 // driving knee below
	climberExtended = 135.0 // other knee above while driving
)

// mountainClimber counts each knee drive as a rep, alternating left (move_a)
// and right (move_b).
type mountainClimber struct {
	counter
}

func newMountainClimber(target int) *mountainClimber {
	c := &mountainClimber{counter{family: FamilyMountainClimber, target: target, start: PromptPlankStart}}
	c.Reset()
	return c
}

func (c *mountainClimber) Step(m Metrics) State {
	if !m.Knee.Left.OK || !m.Knee.Right.OK {
		return c.State()
	}
	left, right := m.Knee.Left.Deg, m.Knee.Right.Deg
	plank := left > climberPlank && right > climberPlank
	leftDrive := left < climberDrive && right > climberExtended
	rightDrive := right < climberDrive && left > climberExtended

	switch {
	case c.phase == PhaseFindStart && plank:
		c.moveTo(PhaseMoveA, promptLeftKneeIn)
	case c.phase == PhaseMoveA && leftDrive:
		c.rep(PhaseMoveB, promptRightKneeIn)
	case c.phase == PhaseMoveB && rightDrive:
		c.rep(PhaseMoveA, promptLeftKneeIn)
	}
	return c.State()
}
