// Package attempts keeps the live CLI's local history of quest attempts in
// SQLite.
package attempts

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Source says how the reps of an attempt were counted.
type Source string

const (
	SourceLive  Source = "live"
	SourceVideo Source = "video"
)

// Attempt is one try at a quest.
type Attempt struct {
	ID        uuid.UUID  `json:"id"`
	QuestID   string     `json:"questId"`
	Source    Source     `json:"source"`
	ClipHash  string     `json:"clipHash,omitempty"`
	Reps      int        `json:"reps"`
	Target    int        `json:"target"`
	Completed bool       `json:"completed"`
	Credited  bool       `json:"credited"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// ErrNotFound is returned when an attempt id is unknown.
var ErrNotFound = errors.New("attempt not found")

// Store is the SQLite attempt history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the attempt database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating attempts dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening attempts db: %w", err)
	}
	// One writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS attempts (
		id         TEXT PRIMARY KEY,
		quest_id   TEXT NOT NULL,
		source     TEXT NOT NULL,
		clip_hash  TEXT NOT NULL DEFAULT '',
		reps       INTEGER NOT NULL DEFAULT 0,
		target     INTEGER NOT NULL,
		completed  INTEGER NOT NULL DEFAULT 0,
		credited   INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		ended_at   TIMESTAMP
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating attempts table: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS attempts_clip ON attempts (clip_hash) WHERE clip_hash != ''`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating attempts index: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Start records a new attempt and returns it.
func (s *Store) Start(ctx context.Context, questID string, source Source, target int, clipHash string) (Attempt, error) {
	a := Attempt{
		ID:        uuid.New(),
		QuestID:   questID,
		Source:    source,
		ClipHash:  clipHash,
		Target:    target,
		StartedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, quest_id, source, clip_hash, target, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.QuestID, string(a.Source), a.ClipHash, a.Target, a.StartedAt,
	)
	if err != nil {
		return Attempt{}, fmt.Errorf("inserting attempt: %w", err)
	}
	return a, nil
}

// Finish stamps the outcome of an attempt.
func (s *Store) Finish(ctx context.Context, id uuid.UUID, reps int, completed, credited bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET reps = ?, completed = ?, credited = ?, ended_at = ? WHERE id = ?`,
		reps, completed, credited, s.now().UTC(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("finishing attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Recent returns the newest attempts first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, quest_id, source, clip_hash, reps, target, completed, credited, started_at, ended_at
		FROM attempts ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a       Attempt
			id      string
			source  string
			endedAt sql.NullTime
		)
		if err := rows.Scan(&id, &a.QuestID, &source, &a.ClipHash, &a.Reps, &a.Target,
			&a.Completed, &a.Credited, &a.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing attempt id: %w", err)
		}
		a.Source = Source(source)
		if endedAt.Valid {
			t := endedAt.Time
			a.EndedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ClipCredited reports whether a clip with this hash has already earned EXP.
func (s *Store) ClipCredited(ctx context.Context, clipHash string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE clip_hash = ? AND credited = 1`, clipHash,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// HashFile computes the SHA-256 hash of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
