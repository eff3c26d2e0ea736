package progression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// RankLock is how long a rank-up protects a profile from decay.
	RankLock = 30 * 24 * time.Hour
	// IdleWindow is how long without a workout before decay applies. A
	// profile decays at most once per window.
	IdleWindow = 30 * 24 * time.Hour
	// DecayAmount is subtracted from idle profiles, floored at zero.
	DecayAmount = 30
	// MaxCredit caps a single experience credit.
	MaxCredit = 100
)

// ErrInvalidGain rejects credits outside 1..MaxCredit.
var ErrInvalidGain = errors.New("experience gain out of range")

// Reason labels an experience log entry.
type Reason string

const (
	ReasonWorkout Reason = "workout"
	ReasonDecay   Reason = "decay"
)

// Profile is a participant's progression record.
type Profile struct {
	SubjectID       string     `json:"subjectId"`
	Class           string     `json:"class"`
	Exp             int        `json:"exp"`
	Rank            Rank       `json:"rank"`
	RankLockedUntil *time.Time `json:"rankLockedUntil,omitempty"`
	LastWorkoutAt   *time.Time `json:"lastWorkoutAt,omitempty"`
	QRPayload       string     `json:"qrPayload"`
}

// Locked reports whether the rank lock is active at now.
func (p Profile) Locked(now time.Time) bool {
	return p.RankLockedUntil != nil && !p.RankLockedUntil.Before(now)
}

// Idle reports whether the profile has not worked out within the idle window.
func (p Profile) Idle(now time.Time) bool {
	return p.LastWorkoutAt == nil || p.LastWorkoutAt.Before(now.Add(-IdleWindow))
}

// Change is one experience log entry.
type Change struct {
	Delta  int
	Reason Reason
}

// Store persists profiles and the experience log.
type Store interface {
	// GetProfile returns the profile, creating an empty one if needed.
	GetProfile(ctx context.Context, subjectID string) (Profile, error)
	// UpdateProfile locks the profile, lets fn mutate it and, when fn
	// returns apply, writes it back with the change logged, all in one
	// transaction.
	UpdateProfile(ctx context.Context, subjectID string, fn func(p *Profile) (c Change, apply bool, err error)) (Profile, error)
	// DecayCandidates lists unlocked idle profiles with no decay entry
	// since idleSince.
	DecayCandidates(ctx context.Context, now, idleSince time.Time) ([]string, error)
}

// CreditResult describes an applied credit.
type CreditResult struct {
	OldExp          int        `json:"oldExp"`
	NewExp          int        `json:"newExp"`
	ExpGain         int        `json:"expGain"`
	OldRank         Rank       `json:"oldRank"`
	NewRank         Rank       `json:"newRank"`
	RankUp          bool       `json:"rankUp"`
	RankLockedUntil *time.Time `json:"rankLockedUntil,omitempty"`
}

// DecayResult describes one decayed profile.
type DecayResult struct {
	SubjectID string `json:"userId"`
	OldExp    int    `json:"oldExp"`
	NewExp    int    `json:"newExp"`
	OldRank   Rank   `json:"oldRank"`
	NewRank   Rank   `json:"newRank"`
}

// Service applies credits and decay.
type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// NewService creates a Service.
func NewService(store Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

// Profile returns a participant's profile.
func (s *Service) Profile(ctx context.Context, subjectID string) (Profile, error) {
	return s.store.GetProfile(ctx, subjectID)
}

// Credit adds gain experience points. A rank-up starts a new rank lock.
func (s *Service) Credit(ctx context.Context, subjectID string, gain int) (CreditResult, error) {
	if gain <= 0 || gain > MaxCredit {
		return CreditResult{}, fmt.Errorf("%w: %d", ErrInvalidGain, gain)
	}

	now := s.now().UTC()
	var res CreditResult
	_, err := s.store.UpdateProfile(ctx, subjectID, func(p *Profile) (Change, bool, error) {
		res.OldExp = p.Exp
		res.OldRank = RankFor(p.Exp)
		if p.Rank != "" {
			res.OldRank = p.Rank
		}

		p.Exp += gain
		p.Rank = RankFor(p.Exp)
		if p.Rank.Above(res.OldRank) {
			until := now.Add(RankLock)
			p.RankLockedUntil = &until
		}
		p.LastWorkoutAt = &now
		p.QRPayload = QRPayload(p.Class, p.Rank)

		res.NewExp = p.Exp
		res.ExpGain = gain
		res.NewRank = p.Rank
		res.RankUp = p.Rank != res.OldRank
		res.RankLockedUntil = p.RankLockedUntil
		return Change{Delta: gain, Reason: ReasonWorkout}, true, nil
	})
	if err != nil {
		return CreditResult{}, fmt.Errorf("crediting %s: %w", subjectID, err)
	}

	s.log.Info("experience credited", "subject", subjectID, "gain", gain,
		"exp", res.NewExp, "rank", res.NewRank, "rank_up", res.RankUp)
	return res, nil
}

// Decay applies the idle penalty to every eligible profile. A failure on
// one profile is logged and does not stop the run.
func (s *Service) Decay(ctx context.Context) ([]DecayResult, error) {
	now := s.now().UTC()
	since := now.Add(-IdleWindow)

	ids, err := s.store.DecayCandidates(ctx, now, since)
	if err != nil {
		return nil, fmt.Errorf("listing decay candidates: %w", err)
	}

	var results []DecayResult
	for _, id := range ids {
		var r DecayResult
		_, err := s.store.UpdateProfile(ctx, id, func(p *Profile) (Change, bool, error) {
			// A credit may have landed since the candidate query ran.
			if p.Locked(now) || !p.Idle(now) {
				return Change{}, false, nil
			}
			r = DecayResult{SubjectID: id, OldExp: p.Exp, OldRank: p.Rank}
			p.Exp = max(0, p.Exp-DecayAmount)
			p.Rank = RankFor(p.Exp)
			p.QRPayload = QRPayload(p.Class, p.Rank)
			r.NewExp = p.Exp
			r.NewRank = p.Rank
			return Change{Delta: r.NewExp - r.OldExp, Reason: ReasonDecay}, true, nil
		})
		if err != nil {
			s.log.Warn("decaying profile", "subject", id, "error", err)
			continue
		}
		if r.SubjectID != "" {
			results = append(results, r)
		}
	}

	s.log.Info("decay run complete", "candidates", len(ids), "decayed", len(results))
	return results, nil
}
