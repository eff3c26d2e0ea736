package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/claude/repquest/internal/exercise"
	"github.com/claude/repquest/internal/pose"
	"github.com/claude/repquest/internal/quest"
	"github.com/claude/repquest/internal/tracking"
)

// TestVideoStatus verifies the post-analysis messages for each outcome.
func TestVideoStatus(t *testing.T) {
	tests := []struct {
		name      string
		reps      int
		complete  bool
		already   bool
		creditErr error
		want      string
	}{
		{"short", 6, false, false, nil, "Workout analyzed (high confidence). 6 reps counted. Need 10 to slay the monster. Good depth."},
		{"credited", 10, true, false, nil, "Quest complete. 10 reps counted (high confidence). Monster defeated. Good depth."},
		{"credit failed", 10, true, false, errors.New("502"), "Workout analyzed (10 reps), but EXP update failed."},
		{"already credited", 10, true, true, nil, "Quest complete. 10 reps counted (high confidence). This clip has already earned EXP. Good depth."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := videoStatus(tt.reps, 10, "high", " Good depth. ", tt.complete, tt.already, tt.creditErr)
			if got != tt.want {
				t.Errorf("videoStatus = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestVideoType verifies MIME detection from the file extension.
func TestVideoType(t *testing.T) {
	tests := map[string]string{
		"set.webm":  "video/webm",
		"SET.MP4":   "video/mp4",
		"clip.mov":  "video/quicktime",
		"notes.qqz": "application/octet-stream",
	}
	for path, want := range tests {
		if got := videoType(path); got != want {
			t.Errorf("videoType(%q) = %q, want %q", path, got, want)
		}
	}
}

// TestHealthBar verifies the monster bar empties as reps accumulate.
func TestHealthBar(t *testing.T) {
	tests := []struct {
		reps, target int
		want         string
	}{
		{0, 10, "██████████"},
		{3, 10, "███████░░░"},
		{10, 10, "░░░░░░░░░░"},
		{12, 10, "░░░░░░░░░░"},
	}
	for _, tt := range tests {
		if got := healthBar(tt.reps, tt.target); got != tt.want {
			t.Errorf("healthBar(%d, %d) = %q, want %q", tt.reps, tt.target, got, tt.want)
		}
	}
}

// TestRendererPlainDedup verifies non-terminal output prints only on change.
func TestRendererPlainDedup(t *testing.T) {
	q, _ := quest.Find("goblin-crunch")
	var buf bytes.Buffer
	r := newRenderer(&buf, q, false)

	s := tracking.Snapshot{QuestID: q.ID, Phase: exercise.PhaseMoveA, Reps: 1, Target: 10, Prompt: "up", Stage: quest.StageFull}
	r.Observe(s, pose.Overlay{})
	r.Observe(s, pose.Overlay{})
	s.Reps = 2
	r.Observe(s, pose.Overlay{})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "reps 2/10") {
		t.Errorf("line = %q, want reps 2/10", lines[1])
	}
}

// TestAttemptResult verifies the attempt history labels.
func TestAttemptResult(t *testing.T) {
	if got := attemptResult(true, true, true); got != "defeated, EXP credited" {
		t.Errorf("got = %q", got)
	}
	if got := attemptResult(false, false, false); got != "unfinished" {
		t.Errorf("got = %q", got)
	}
	if got := attemptResult(false, false, true); got != "escaped" {
		t.Errorf("got = %q", got)
	}
}
