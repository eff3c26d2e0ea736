// Package pose models body landmarks produced by a keypoint estimator and the
// estimator processes that produce them.
package pose

import (
	"context"
	"time"

	"github.com/claude/repquest/internal/geometry"
)

// Keypoint is the semantic name of a landmark (MoveNet naming).
type Keypoint string

const (
	Nose          Keypoint = "nose"
	LeftEye       Keypoint = "left_eye"
	RightEye      Keypoint = "right_eye"
	LeftEar       Keypoint = "left_ear"
	RightEar      Keypoint = "right_ear"
	LeftShoulder  Keypoint = "left_shoulder"
	RightShoulder Keypoint = "right_shoulder"
	LeftElbow     Keypoint = "left_elbow"
	RightElbow    Keypoint = "right_elbow"
	LeftWrist     Keypoint = "left_wrist"
	RightWrist    Keypoint = "right_wrist"
	LeftHip       Keypoint = "left_hip"
	RightHip      Keypoint = "right_hip"
	LeftKnee      Keypoint = "left_knee"
	RightKnee     Keypoint = "right_knee"
	LeftAnkle     Keypoint = "left_ankle"
	RightAnkle    Keypoint = "right_ankle"
)

// MinScore is the confidence a landmark must exceed to feed a metric.
const MinScore = 0.4

// Landmark is one estimated keypoint.
type Landmark struct {
	Name  Keypoint `json:"name" msgpack:"name"`
	X     float64  `json:"x" msgpack:"x"`
	Y     float64  `json:"y" msgpack:"y"`
	Score float64  `json:"score" msgpack:"score"`
}

// Point returns the landmark position.
func (l Landmark) Point() geometry.Point {
	return geometry.Point{X: l.X, Y: l.Y}
}

// Pose is the set of landmarks for one subject in one frame.
type Pose struct {
	Landmarks []Landmark `json:"landmarks"`
}

// Empty reports whether the estimator detected nobody.
func (p Pose) Empty() bool {
	return len(p.Landmarks) == 0
}

// Find returns the named landmark if it is present with a score above MinScore.
func (p Pose) Find(name Keypoint) (Landmark, bool) {
	for _, l := range p.Landmarks {
		if l.Name == name && l.Score > MinScore {
			return l, true
		}
	}
	return Landmark{}, false
}

// Frame is a captured camera image handed to an Estimator.
type Frame struct {
	Seq      uint64
	Width    int
	Height   int
	Format   string // pixel format, e.g. "RGB"
	Data     []byte
	Captured time.Time
}

// Estimator turns frames into poses. An empty Pose with a nil error means no
// subject was detected.
type Estimator interface {
	Estimate(ctx context.Context, frame Frame) (Pose, error)
	Close() error
}
