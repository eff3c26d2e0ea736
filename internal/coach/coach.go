// Package coach produces short real-time coaching cues: Service builds them
// on the server from a text generator, Channel requests them from the
// tracking client without ever blocking it.
package coach

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// SystemInstruction frames the generator as a terse coach.
const SystemInstruction = "You are a concise real-time workout coach. Respond with one short cue only, under 14 words."

// FallbackTip is returned when the generator fails.
const FallbackTip = "Drive through the full range and keep your core tight."

// Request is the snapshot sent to the coaching endpoint.
type Request struct {
	SubjectID  string  `json:"userId"`
	QuestTitle string  `json:"questTitle"`
	Workout    string  `json:"workout"`
	Phase      string  `json:"phase"`
	Reps       int     `json:"reps"`
	TargetReps int     `json:"targetReps"`
	LeftAngle  float64 `json:"leftElbowAngle"`
	RightAngle float64 `json:"rightElbowAngle"`
}

// TextGenerator is a generative text backend.
type TextGenerator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Service turns coaching requests into one-line tips.
type Service struct {
	gen TextGenerator
	log *slog.Logger
}

// NewService creates a Service. gen may be nil when no backend is configured.
func NewService(gen TextGenerator, log *slog.Logger) *Service {
	return &Service{gen: gen, log: log}
}

// Tip returns a cue for req. It always returns something usable.
func (s *Service) Tip(ctx context.Context, req Request) string {
	if s.gen == nil {
		return fmt.Sprintf("Keep steady pace. Reps: %d/%d.", req.Reps, req.TargetReps)
	}
	text, err := s.gen.Generate(ctx, SystemInstruction, Prompt(req))
	if err != nil {
		s.log.Warn("coach generation failed", "error", err, "workout", req.Workout)
		return FallbackTip
	}
	if tip := strings.TrimSpace(text); tip != "" {
		return tip
	}
	return fmt.Sprintf("Keep going. Reps: %d/%d.", req.Reps, req.TargetReps)
}

// Prompt renders the user prompt for req.
func Prompt(req Request) string {
	return strings.Join([]string{
		fmt.Sprintf("Quest: %s.", req.QuestTitle),
		fmt.Sprintf("Workout: %s.", req.Workout),
		fmt.Sprintf("Phase: %s.", req.Phase),
		fmt.Sprintf("Reps: %d/%d.", req.Reps, req.TargetReps),
		fmt.Sprintf("Elbow angles: left=%d, right=%d.", roundAngle(req.LeftAngle), roundAngle(req.RightAngle)),
		"Give one immediate coaching cue for the next rep.",
	}, " ")
}

func roundAngle(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(math.Round(v))
}
