package exercise

import (
	"github.com/claude/repquest/internal/geometry"
	"github.com/claude/repquest/internal/pose"
)

// Angle is a joint angle that may be undefined for the current frame.
type Angle struct {
	Deg float64
	OK  bool
}

// Pair holds the left and right readings of one joint.
type Pair struct {
	Left  Angle
	Right Angle
}

// Average returns the mean of both sides, defined only when both are.
func (p Pair) Average() (float64, bool) {
	if !p.Left.OK || !p.Right.OK {
		return 0, false
	}
	return (p.Left.Deg + p.Right.Deg) / 2, true
}

// Metrics are the per-frame scalars the evaluators consume.
type Metrics struct {
	Elbow Pair
	Knee  Pair
	Hip   Pair // shoulder-hip-knee

	// Jumping-jack spreads, relative to shoulder and hip width.
	HandsOK    bool
	ArmSpread  float64
	LegSpread  float64
	WristsHigh bool
}

// Display returns the left and right angles shown to the user and sent with
// coaching requests: elbow when visible, else knee, else hip.
func (m Metrics) Display() (left, right float64) {
	pick := func(a ...Angle) float64 {
		for _, v := range a {
			if v.OK {
				return v.Deg
			}
		}
		return 0
	}
	return pick(m.Elbow.Left, m.Knee.Left, m.Hip.Left), pick(m.Elbow.Right, m.Knee.Right, m.Hip.Right)
}

// MetricsFrom derives metrics from a pose. ok is false when any landmark every
// family depends on (shoulders, hips, knees, ankles) is missing.
func MetricsFrom(p pose.Pose) (Metrics, bool) {
	ls, ok1 := p.Find(pose.LeftShoulder)
	rs, ok2 := p.Find(pose.RightShoulder)
	lh, ok3 := p.Find(pose.LeftHip)
	rh, ok4 := p.Find(pose.RightHip)
	lk, ok5 := p.Find(pose.LeftKnee)
	rk, ok6 := p.Find(pose.RightKnee)
	la, ok7 := p.Find(pose.LeftAnkle)
	ra, ok8 := p.Find(pose.RightAnkle)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8) {
		return Metrics{}, false
	}

	le, hasLE := p.Find(pose.LeftElbow)
	re, hasRE := p.Find(pose.RightElbow)
	lw, hasLW := p.Find(pose.LeftWrist)
	rw, hasRW := p.Find(pose.RightWrist)

	var m Metrics
	if hasLE && hasLW {
		m.Elbow.Left = angle(ls, le, lw)
	}
	if hasRE && hasRW {
		m.Elbow.Right = angle(rs, re, rw)
	}
	m.Knee = Pair{Left: angle(lh, lk, la), Right: angle(rh, rk, ra)}
	m.Hip = Pair{Left: angle(ls, lh, lk), Right: angle(rs, rh, rk)}

	// Hands fall back to elbows when wrists are not visible.
	leftHand, hasLeft := lw, hasLW
	if !hasLeft {
		leftHand, hasLeft = le, hasLE
	}
	rightHand, hasRight := rw, hasRW
	if !hasRight {
		rightHand, hasRight = re, hasRE
	}
	if hasLeft && hasRight {
		shoulderWidth := max(geometry.Distance(ls.Point(), rs.Point()), 1)
		hipWidth := max(geometry.Distance(lh.Point(), rh.Point()), 1)
		shoulderY := (ls.Y + rs.Y) / 2

		m.HandsOK = true
		m.ArmSpread = geometry.Distance(leftHand.Point(), rightHand.Point()) / shoulderWidth
		m.LegSpread = geometry.Distance(la.Point(), ra.Point()) / hipWidth
		m.WristsHigh = leftHand.Y < shoulderY && rightHand.Y < shoulderY
	}

	return m, true
}

func angle(a, b, c pose.Landmark) Angle {
	deg, ok := geometry.AngleAt(a.Point(), b.Point(), c.Point())
	return Angle{Deg: deg, OK: ok}
}
