package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/claude/repquest/internal/pose"
	"github.com/claude/repquest/internal/quest"
	"github.com/claude/repquest/internal/tracking"
)

var (
	colorGreen  = lipgloss.Color("#8ec07c")
	colorYellow = lipgloss.Color("#fabd2f")
	colorRed    = lipgloss.Color("#fb4934")
	colorDim    = lipgloss.Color("#928374")
	colorHeader = lipgloss.Color("#fe8019")

	styleHeader = lipgloss.NewStyle().Foreground(colorHeader).Bold(true)
	styleDim    = lipgloss.NewStyle().Foreground(colorDim)
	styleCue    = lipgloss.NewStyle().Foreground(colorYellow).Italic(true)
	styleDone   = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
)

// stageStyle colors the monster health.
func stageStyle(s quest.Stage) lipgloss.Style {
	switch s {
	case quest.StageDead:
		return lipgloss.NewStyle().Foreground(colorDim).Strikethrough(true)
	case quest.StageHalf:
		return lipgloss.NewStyle().Foreground(colorYellow)
	default:
		return lipgloss.NewStyle().Foreground(colorRed)
	}
}

// renderer draws snapshots as a status line. On a terminal the line is
// redrawn in place; otherwise a line is printed only when something a reader
// cares about changes.
type renderer struct {
	out  io.Writer
	q    quest.Quest
	tty  bool
	last string
}

var _ tracking.Observer = (*renderer)(nil)

func newRenderer(out io.Writer, q quest.Quest, tty bool) *renderer {
	return &renderer{out: out, q: q, tty: tty}
}

// Observe implements tracking.Observer.
func (r *renderer) Observe(s tracking.Snapshot, o pose.Overlay) {
	key := fmt.Sprintf("%d|%s|%s|%s|%s", s.Reps, s.Phase, s.Prompt, s.Cue, s.Message)
	if !r.tty {
		if key == r.last {
			return
		}
		r.last = key
		fmt.Fprintln(r.out, plainLine(r.q, s))
		return
	}
	r.last = key
	fmt.Fprint(r.out, "\r\033[K"+r.styledLine(s, len(o.Joints)))
}

func plainLine(q quest.Quest, s tracking.Snapshot) string {
	line := fmt.Sprintf("%s %s | reps %d/%d | %s", q.Monster, s.Stage, s.Reps, s.Target, s.Prompt)
	if s.Cue != "" {
		line += " | coach: " + s.Cue
	}
	if s.Message != "" {
		line += " | " + s.Message
	}
	return line
}

func (r *renderer) styledLine(s tracking.Snapshot, joints int) string {
	parts := []string{
		styleHeader.Render(r.q.Monster) + " " + stageStyle(s.Stage).Render(healthBar(s.Reps, s.Target)),
		fmt.Sprintf("%d/%d", s.Reps, s.Target),
		s.Prompt,
		styleDim.Render(fmt.Sprintf("L %3.0f° R %3.0f° · %d joints", s.LeftAngle, s.RightAngle, joints)),
	}
	if s.Cue != "" {
		parts = append(parts, styleCue.Render(s.Cue))
	}
	return strings.Join(parts, "  ")
}

// healthBar shows the monster's remaining health in ten cells.
func healthBar(reps, target int) string {
	const cells = 10
	if target <= 0 {
		target = 1
	}
	left := max(0, min(cells, cells-reps*cells/target))
	return strings.Repeat("█", left) + strings.Repeat("░", cells-left)
}
