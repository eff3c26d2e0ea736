// Package camera acquires a video source for live tracking, trying a ranked
// list of constraint profiles until one opens.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/claude/repquest/internal/pose"
)

// ErrUnavailable is returned when no profile could be opened.
var ErrUnavailable = errors.New("camera unavailable")

// Facing is the direction a camera points relative to the participant.
type Facing string

const (
	FacingEnvironment Facing = "environment" // rear camera
	FacingUser        Facing = "user"        // front camera
	FacingAny         Facing = ""
)

// Profile is one set of capture constraints. Zero width and height leave the
// resolution unconstrained.
type Profile struct {
	Name   string
	Facing Facing
	Width  int
	Height int
}

// DefaultProfiles is the preference order: rear at high resolution, rear at
// standard resolution, front, then anything.
var DefaultProfiles = []Profile{
	{Name: "rear-qhd", Facing: FacingEnvironment, Width: 2560, Height: 1440},
	{Name: "rear-fhd", Facing: FacingEnvironment, Width: 1920, Height: 1080},
	{Name: "front-fhd", Facing: FacingUser, Width: 1920, Height: 1080},
	{Name: "any", Facing: FacingAny},
}

// Stream is an open camera.
type Stream interface {
	// Frame returns the most recent frame, waiting for the first one if needed.
	Frame(ctx context.Context) (pose.Frame, error)
	// Facing reports which way the resolved device points.
	Facing() Facing
	Close() error
}

// Opener opens a stream satisfying a profile.
type Opener interface {
	Open(ctx context.Context, p Profile) (Stream, error)
}

// Mirrored reports whether a preview from a camera facing f should be
// flipped horizontally.
func Mirrored(f Facing) bool {
	return f == FacingUser
}

// Acquire tries each profile in order and returns the first stream that opens.
// When every profile fails the returned error wraps ErrUnavailable and each
// profile's cause.
func Acquire(ctx context.Context, o Opener, profiles []Profile, log *slog.Logger) (Stream, Profile, error) {
	if len(profiles) == 0 {
		profiles = DefaultProfiles
	}

	var errs []error
	for _, p := range profiles {
		if err := ctx.Err(); err != nil {
			return nil, Profile{}, err
		}
		s, err := o.Open(ctx, p)
		if err != nil {
			log.Debug("camera profile rejected", "profile", p.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}
		log.Info("camera acquired", "profile", p.Name, "facing", s.Facing(), "mirrored", Mirrored(s.Facing()))
		return s, p, nil
	}
	return nil, Profile{}, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}
