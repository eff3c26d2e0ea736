// Package completion issues the one-time experience credit when an attempt
// reaches its rep target.
package completion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/claude/repquest/internal/exercise"
)

// Messages shown once the monster is defeated.
const (
	MessageDefeated     = "Monster defeated! Quest complete."
	MessageCreditFailed = "Monster defeated, but EXP update failed. Try again from profile."
)

// Outcome is the state of the credit request.
type Outcome int

const (
	Pending Outcome = iota
	Credited
	CreditFailed
	Skipped // no crediter configured
)

func (o Outcome) String() string {
	switch o {
	case Credited:
		return "credited"
	case CreditFailed:
		return "credit_failed"
	case Skipped:
		return "skipped"
	default:
		return "pending"
	}
}

// Crediter requests experience from the progression service.
type Crediter interface {
	Credit(ctx context.Context, amount int) error
}

// Guard fires at most once per attempt, the first time the rep count reaches
// the target. The credit runs asynchronously and is never retried; the rep
// count is never rolled back when it fails.
type Guard struct {
	credit  Crediter
	reward  int
	timeout time.Duration
	log     *slog.Logger

	latched atomic.Bool
	done    chan struct{}

	mu       sync.Mutex
	outcome  Outcome
	message  string
	onSettle func(Outcome, string)
}

// NewGuard creates a Guard crediting reward experience points. credit may be
// nil for unauthenticated sessions.
func NewGuard(credit Crediter, reward int, timeout time.Duration, log *slog.Logger) *Guard {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Guard{
		credit:  credit,
		reward:  reward,
		timeout: timeout,
		log:     log,
		done:    make(chan struct{}),
	}
}

// OnSettle registers a callback run once the credit request resolves.
func (g *Guard) OnSettle(fn func(Outcome, string)) {
	g.mu.Lock()
	g.onSettle = fn
	g.mu.Unlock()
}

// Check inspects a state and fires the credit the first time it is complete.
// It reports whether this call fired.
func (g *Guard) Check(s exercise.State) bool {
	if s.Reps < s.Target || s.Target <= 0 {
		return false
	}
	if !g.latched.CompareAndSwap(false, true) {
		return false
	}

	g.mu.Lock()
	g.message = MessageDefeated
	g.mu.Unlock()

	if g.credit == nil {
		g.settle(Skipped, MessageDefeated)
		return true
	}
	go g.run()
	return true
}

func (g *Guard) run() {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	if err := g.credit.Credit(ctx, g.reward); err != nil {
		g.log.Warn("experience credit failed", "reward", g.reward, "error", err)
		g.settle(CreditFailed, MessageCreditFailed)
		return
	}
	g.log.Info("experience credited", "reward", g.reward)
	g.settle(Credited, fmt.Sprintf("Monster defeated. +%d EXP awarded.", g.reward))
}

func (g *Guard) settle(o Outcome, msg string) {
	g.mu.Lock()
	g.outcome = o
	g.message = msg
	fn := g.onSettle
	g.mu.Unlock()

	if fn != nil {
		fn(o, msg)
	}
	close(g.done)
}

// Fired reports whether the latch is set.
func (g *Guard) Fired() bool {
	return g.latched.Load()
}

// Done is closed once the credit request has resolved.
func (g *Guard) Done() <-chan struct{} {
	return g.done
}

// Result returns the credit outcome and the message to display.
func (g *Guard) Result() (Outcome, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outcome, g.message
}
