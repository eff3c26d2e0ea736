package pose

import "github.com/claude/repquest/internal/geometry"

// OverlayMinScore is the confidence a landmark needs to be drawn.
const OverlayMinScore = 0.35

// Skeleton lists the keypoint pairs joined by bones in the overlay.
var Skeleton = [][2]Keypoint{
	{Nose, LeftEye}, {Nose, RightEye},
	{LeftEye, LeftEar}, {RightEye, RightEar},
	{LeftShoulder, RightShoulder},
	{LeftShoulder, LeftElbow}, {LeftShoulder, LeftHip},
	{RightShoulder, RightElbow}, {RightShoulder, RightHip},
	{LeftElbow, LeftWrist}, {RightElbow, RightWrist},
	{LeftHip, RightHip},
	{LeftHip, LeftKnee}, {RightHip, RightKnee},
	{LeftKnee, LeftAnkle}, {RightKnee, RightAnkle},
}

// Segment is one bone to draw.
type Segment struct {
	From geometry.Point `json:"from"`
	To   geometry.Point `json:"to"`
}

// Overlay is the draw list for one frame.
type Overlay struct {
	Width    int              `json:"width"`
	Height   int              `json:"height"`
	Segments []Segment        `json:"segments"`
	Joints   []geometry.Point `json:"joints"`
}

// BuildOverlay converts a pose into skeleton draw instructions for a frame of
// the given size. When mirror is set, x coordinates are flipped so the overlay
// lines up with a mirrored preview.
func BuildOverlay(p Pose, width, height int, mirror bool) Overlay {
	byName := make(map[Keypoint]Landmark, len(p.Landmarks))
	for _, l := range p.Landmarks {
		if l.Score >= OverlayMinScore {
			byName[l.Name] = l
		}
	}

	place := func(l Landmark) geometry.Point {
		pt := l.Point()
		if mirror {
			pt.X = float64(width) - pt.X
		}
		return pt
	}

	o := Overlay{Width: width, Height: height}
	for _, pair := range Skeleton {
		a, okA := byName[pair[0]]
		b, okB := byName[pair[1]]
		if !okA || !okB {
			continue
		}
		o.Segments = append(o.Segments, Segment{From: place(a), To: place(b)})
	}
	for _, l := range p.Landmarks {
		if l.Score < OverlayMinScore {
			continue
		}
		o.Joints = append(o.Joints, place(l))
	}
	return o
}
