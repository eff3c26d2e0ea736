package publish

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/claude/repquest/internal/pose"
	"github.com/claude/repquest/internal/quest"
	"github.com/claude/repquest/internal/tracking"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type sent struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu    sync.Mutex
	sent  []sent
	err   error
	block chan struct{}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{topic: topic, payload: payload.([]byte)})
	return doneToken{err: c.err}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestObservePublishesSnapshot verifies topic layout and JSON payload.
func TestObservePublishesSnapshot(t *testing.T) {
	c := &fakeClient{}
	m := newMQTT(c, "repquest/quests/", discard())

	m.Observe(tracking.Snapshot{QuestID: "dragon-squats", Reps: 4, Target: 10, Stage: quest.StageHalf}, pose.Overlay{})
	m.Close()

	if len(c.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(c.sent))
	}
	if c.sent[0].topic != "repquest/quests/dragon-squats/snapshot" {
		t.Errorf("topic = %q", c.sent[0].topic)
	}
	var got tracking.Snapshot
	if err := json.Unmarshal(c.sent[0].payload, &got); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.Reps != 4 || got.Stage != quest.StageHalf {
		t.Errorf("payload = %+v, want 4 reps half", got)
	}
	if published, _, _ := m.Stats(); published != 1 {
		t.Errorf("published = %d, want 1", published)
	}
}

// TestObserveNeverBlocks verifies a stalled broker drops snapshots instead of
// blocking the caller.
func TestObserveNeverBlocks(t *testing.T) {
	c := &fakeClient{block: make(chan struct{})}
	m := newMQTT(c, "p", discard())

	done := make(chan struct{})
	go func() {
		for i := range 100 {
			m.Observe(tracking.Snapshot{QuestID: "q", Reps: i}, pose.Overlay{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Observe blocked on a stalled broker")
	}

	close(c.block)
	m.Close()
	if _, dropped, _ := m.Stats(); dropped == 0 {
		t.Error("dropped = 0, want > 0")
	}
}

// TestPublishFailureCounted verifies broker errors are counted, not fatal.
func TestPublishFailureCounted(t *testing.T) {
	c := &fakeClient{err: errors.New("not connected")}
	m := newMQTT(c, "p", discard())
	m.Observe(tracking.Snapshot{QuestID: "q"}, pose.Overlay{})
	m.Close()
	if _, _, failed := m.Stats(); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}
