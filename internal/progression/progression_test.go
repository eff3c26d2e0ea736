package progression

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"
)

type memStore struct {
	profiles map[string]*Profile
	log      []Change
}

func newMemStore() *memStore {
	return &memStore{profiles: map[string]*Profile{}}
}

func (m *memStore) get(id string) *Profile {
	p, ok := m.profiles[id]
	if !ok {
		p = &Profile{SubjectID: id, Rank: RankE}
		m.profiles[id] = p
	}
	return p
}

func (m *memStore) GetProfile(ctx context.Context, id string) (Profile, error) {
	return *m.get(id), nil
}

func (m *memStore) UpdateProfile(ctx context.Context, id string, fn func(*Profile) (Change, bool, error)) (Profile, error) {
	cur := *m.get(id)
	c, apply, err := fn(&cur)
	if err != nil || !apply {
		return *m.get(id), err
	}
	m.profiles[id] = &cur
	m.log = append(m.log, c)
	return cur, nil
}

func (m *memStore) DecayCandidates(ctx context.Context, now, since time.Time) ([]string, error) {
	var ids []string
	for id := range m.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func newTestService(store Store, now time.Time) *Service {
	s := NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return now }
	return s
}

// TestRankFor verifies rank boundaries.
func TestRankFor(t *testing.T) {
	tests := []struct {
		exp  int
		want Rank
	}{
		{0, RankE}, {49, RankE}, {50, RankD}, {149, RankD}, {150, RankC},
		{350, RankB}, {649, RankB}, {650, RankA}, {999, RankA}, {1000, RankS}, {5000, RankS},
	}
	for _, tt := range tests {
		if got := RankFor(tt.exp); got != tt.want {
			t.Errorf("RankFor(%d) = %s, want %s", tt.exp, got, tt.want)
		}
	}
}

// TestNextRank verifies the experience needed for the next rank.
func TestNextRank(t *testing.T) {
	next, needed, ok := NextRank(120)
	if !ok || next != RankC || needed != 30 {
		t.Errorf("NextRank(120) = (%s, %d, %v), want (C, 30, true)", next, needed, ok)
	}
	if _, _, ok := NextRank(1000); ok {
		t.Error("NextRank(1000) ok = true, want false")
	}
}

// TestQRPayload verifies the default class fallback.
func TestQRPayload(t *testing.T) {
	if got := QRPayload("", RankB); got != "PXH|class=Fighter|rank=B" {
		t.Errorf("got = %q", got)
	}
	if got := QRPayload("Mage", RankS); got != "PXH|class=Mage|rank=S" {
		t.Errorf("got = %q", got)
	}
}

// TestCreditRankUp verifies a credit crossing a threshold locks the rank for
// thirty days and logs a workout entry.
func TestCreditRankUp(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.profiles["u1"] = &Profile{SubjectID: "u1", Class: "Rogue", Exp: 40, Rank: RankE}
	svc := newTestService(store, now)

	res, err := svc.Credit(context.Background(), "u1", 20)
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if res.OldExp != 40 || res.NewExp != 60 || res.NewRank != RankD || !res.RankUp {
		t.Errorf("result = %+v", res)
	}
	p := store.profiles["u1"]
	if p.RankLockedUntil == nil || !p.RankLockedUntil.Equal(now.Add(RankLock)) {
		t.Errorf("RankLockedUntil = %v, want %v", p.RankLockedUntil, now.Add(RankLock))
	}
	if p.LastWorkoutAt == nil || !p.LastWorkoutAt.Equal(now) {
		t.Errorf("LastWorkoutAt = %v, want %v", p.LastWorkoutAt, now)
	}
	if p.QRPayload != "PXH|class=Rogue|rank=D" {
		t.Errorf("QRPayload = %q", p.QRPayload)
	}
	if len(store.log) != 1 || store.log[0] != (Change{Delta: 20, Reason: ReasonWorkout}) {
		t.Errorf("log = %+v", store.log)
	}
}

// TestCreditSameRank verifies a credit without a rank-up leaves the lock
// unchanged.
func TestCreditSameRank(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	svc := newTestService(store, now)

	res, err := svc.Credit(context.Background(), "new", 10)
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if res.RankUp || res.NewRank != RankE || res.NewExp != 10 {
		t.Errorf("result = %+v", res)
	}
	if store.profiles["new"].RankLockedUntil != nil {
		t.Error("rank lock set without rank-up")
	}
}

// TestCreditInvalidGain verifies out-of-range gains are rejected without a
// store write.
func TestCreditInvalidGain(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, time.Now())
	for _, gain := range []int{0, -5, MaxCredit + 1} {
		if _, err := svc.Credit(context.Background(), "u1", gain); !errors.Is(err, ErrInvalidGain) {
			t.Errorf("Credit(%d) error = %v, want ErrInvalidGain", gain, err)
		}
	}
	if len(store.log) != 0 {
		t.Errorf("log = %+v, want empty", store.log)
	}
}

// TestDecay verifies only unlocked idle profiles lose experience, floored at
// zero, with the rank recomputed.
func TestDecay(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-2 * 24 * time.Hour)
	lock := now.Add(24 * time.Hour)
	expired := now.Add(-time.Hour)

	store := newMemStore()
	store.profiles["idle"] = &Profile{SubjectID: "idle", Exp: 160, Rank: RankC, LastWorkoutAt: &old}
	store.profiles["locked"] = &Profile{SubjectID: "locked", Exp: 400, Rank: RankB, RankLockedUntil: &lock}
	store.profiles["active"] = &Profile{SubjectID: "active", Exp: 100, Rank: RankD, LastWorkoutAt: &recent}
	store.profiles["never"] = &Profile{SubjectID: "never", Exp: 10, Rank: RankE, RankLockedUntil: &expired}
	svc := newTestService(store, now)

	results, err := svc.Decay(context.Background())
	if err != nil {
		t.Fatalf("Decay: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("decayed = %+v, want idle and never", results)
	}
	if p := store.profiles["idle"]; p.Exp != 130 || p.Rank != RankD {
		t.Errorf("idle = %d/%s, want 130/D", p.Exp, p.Rank)
	}
	if p := store.profiles["never"]; p.Exp != 0 {
		t.Errorf("never exp = %d, want 0", p.Exp)
	}
	if store.profiles["locked"].Exp != 400 || store.profiles["active"].Exp != 100 {
		t.Error("locked or active profile decayed")
	}
	for _, c := range store.log {
		if c.Reason != ReasonDecay {
			t.Errorf("log reason = %s, want decay", c.Reason)
		}
	}
}

// TestNewSchedulerRejectsBadSchedule verifies invalid cron expressions fail
// at construction.
func TestNewSchedulerRejectsBadSchedule(t *testing.T) {
	svc := newTestService(newMemStore(), time.Now())
	if _, err := NewScheduler(svc, "not a schedule", slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Error("NewScheduler accepted invalid schedule")
	}
	if _, err := NewScheduler(svc, "", slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Errorf("NewScheduler(default) error = %v", err)
	}
}
