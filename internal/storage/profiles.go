package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/claude/repquest/internal/progression"
)

const profileColumns = `subject_id, class, exp, rank, rank_locked_until, last_workout_at, qr_payload`

func scanProfile(row pgx.Row) (progression.Profile, error) {
	var p progression.Profile
	var rank string
	err := row.Scan(&p.SubjectID, &p.Class, &p.Exp, &rank, &p.RankLockedUntil, &p.LastWorkoutAt, &p.QRPayload)
	p.Rank = progression.Rank(rank)
	return p, err
}

// GetProfile finds or creates the profile for a subject.
func (db *DB) GetProfile(ctx context.Context, subjectID string) (progression.Profile, error) {
	p, err := scanProfile(db.Pool.QueryRow(ctx, `
		INSERT INTO profiles (subject_id, qr_payload)
		VALUES ($1, $2)
		ON CONFLICT (subject_id) DO UPDATE SET updated_at = profiles.updated_at
		RETURNING `+profileColumns,
		subjectID, progression.QRPayload("", progression.RankE)))
	if err != nil {
		return progression.Profile{}, fmt.Errorf("getting profile %s: %w", subjectID, err)
	}
	return p, nil
}

// UpdateProfile locks a profile row, applies fn and writes the profile and
// its experience log entry in one transaction.
func (db *DB) UpdateProfile(ctx context.Context, subjectID string, fn func(*progression.Profile) (progression.Change, bool, error)) (progression.Profile, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return progression.Profile{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx,
		`INSERT INTO profiles (subject_id, qr_payload) VALUES ($1, $2) ON CONFLICT (subject_id) DO NOTHING`,
		subjectID, progression.QRPayload("", progression.RankE)); err != nil {
		return progression.Profile{}, fmt.Errorf("ensuring profile %s: %w", subjectID, err)
	}

	p, err := scanProfile(tx.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE subject_id = $1 FOR UPDATE`, subjectID))
	if err != nil {
		return progression.Profile{}, fmt.Errorf("locking profile %s: %w", subjectID, err)
	}

	change, apply, err := fn(&p)
	if err != nil {
		return progression.Profile{}, err
	}
	if !apply {
		return p, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE profiles SET
			exp = $2, rank = $3, rank_locked_until = $4, last_workout_at = $5,
			qr_payload = $6, updated_at = NOW()
		WHERE subject_id = $1`,
		subjectID, p.Exp, string(p.Rank), p.RankLockedUntil, p.LastWorkoutAt, p.QRPayload); err != nil {
		return progression.Profile{}, fmt.Errorf("updating profile %s: %w", subjectID, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO exp_log (subject_id, delta, reason) VALUES ($1, $2, $3)`,
		subjectID, change.Delta, string(change.Reason)); err != nil {
		return progression.Profile{}, fmt.Errorf("logging exp change: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return progression.Profile{}, fmt.Errorf("committing profile %s: %w", subjectID, err)
	}
	return p, nil
}

// DecayCandidates lists unlocked, idle profiles that have not decayed since
// idleSince.
func (db *DB) DecayCandidates(ctx context.Context, now, idleSince time.Time) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT p.subject_id
		FROM profiles p
		WHERE (p.rank_locked_until IS NULL OR p.rank_locked_until < $1)
		  AND (p.last_workout_at IS NULL OR p.last_workout_at < $2)
		  AND NOT EXISTS (
			SELECT 1 FROM exp_log l
			WHERE l.subject_id = p.subject_id AND l.reason = 'decay' AND l.created_at >= $2
		  )
		ORDER BY p.subject_id`,
		now, idleSince)
	if err != nil {
		return nil, fmt.Errorf("querying decay candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning decay candidate: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExpLogEntry is one row of the experience log.
type ExpLogEntry struct {
	ID        int64     `json:"id"`
	SubjectID string    `json:"subjectId"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// QueryExpLog returns the most recent experience changes for a subject.
func (db *DB) QueryExpLog(ctx context.Context, subjectID string, limit int) ([]ExpLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, subject_id, delta, reason, created_at
		 FROM exp_log
		 WHERE subject_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying exp log: %w", err)
	}
	defer rows.Close()

	var result []ExpLogEntry
	for rows.Next() {
		var e ExpLogEntry
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.Delta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning exp log: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
