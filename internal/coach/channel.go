package coach

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCooldown is the minimum spacing between coaching requests.
const DefaultCooldown = 4500 * time.Millisecond

// Requester sends a coaching request to the service.
type Requester interface {
	Authenticated() bool
	Cue(ctx context.Context, req Request) (string, error)
}

// Channel throttles coaching requests and keeps the latest cue. Offer never
// blocks: each request runs in its own goroutine and whichever response
// resolves last overwrites the cue. Failed requests leave the cue unchanged.
type Channel struct {
	req      Requester
	cooldown time.Duration
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	last   time.Time
	cue    string
	onCue  func(string)
	failed int
}

// NewChannel creates a Channel showing initial until the first cue arrives.
func NewChannel(r Requester, cooldown, timeout time.Duration, initial string, log *slog.Logger) *Channel {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		req:      r,
		cooldown: cooldown,
		timeout:  timeout,
		log:      log,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		cue:      initial,
	}
}

// OnCue registers a callback invoked with every newly applied cue.
func (c *Channel) OnCue(fn func(string)) {
	c.mu.Lock()
	c.onCue = fn
	c.mu.Unlock()
}

// Offer sends req if the cooldown has elapsed and the requester is
// authenticated. It reports whether a request was started.
func (c *Channel) Offer(req Request) bool {
	if c.req == nil || !c.req.Authenticated() || c.ctx.Err() != nil {
		return false
	}

	c.mu.Lock()
	now := c.now()
	if !c.last.IsZero() && now.Sub(c.last) <= c.cooldown {
		c.mu.Unlock()
		return false
	}
	c.last = now
	c.mu.Unlock()

	c.wg.Add(1)
	go c.send(req)
	return true
}

func (c *Channel) send(req Request) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	cue, err := c.req.Cue(ctx, req)
	if err != nil || cue == "" {
		c.mu.Lock()
		c.failed++
		c.mu.Unlock()
		if err != nil {
			c.log.Debug("coach request failed, keeping previous cue", "error", err)
		}
		return
	}

	c.mu.Lock()
	c.cue = cue
	fn := c.onCue
	c.mu.Unlock()
	if fn != nil {
		fn(cue)
	}
}

// Cue returns the most recently applied cue.
func (c *Channel) Cue() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cue
}

// Failures returns how many requests failed or came back empty.
func (c *Channel) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// Close cancels outstanding requests and waits for them to return.
func (c *Channel) Close() {
	c.cancel()
	c.wg.Wait()
}
