package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/claude/repquest/internal/analysis"
)

// AnalysisRecord is the audit row of one video analysis job.
type AnalysisRecord struct {
	ID           uuid.UUID `json:"id"`
	SubjectID    string    `json:"subjectId"`
	CreatedAt    time.Time `json:"createdAt"`
	Workout      string    `json:"workout"`
	TargetReps   int       `json:"targetReps"`
	MIMEType     string    `json:"mimeType"`
	SizeBytes    int64     `json:"sizeBytes"`
	Status       string    `json:"status"`
	Mode         string    `json:"mode"`
	Model        *string   `json:"model"`
	Reps         *int      `json:"reps"`
	Confidence   *string   `json:"confidence"`
	Notes        *string   `json:"notes"`
	ErrorMessage *string   `json:"error"`
	DurationMs   int64     `json:"durationMs"`
}

// RecordAnalysis stores a finished analysis job.
func (db *DB) RecordAnalysis(ctx context.Context, job *analysis.Job) error {
	var model, confidence, notes, errMsg *string
	var reps *int
	if job.Model != "" {
		model = &job.Model
	}
	if job.Result != nil {
		c := string(job.Result.Confidence)
		reps, confidence, notes = &job.Result.Reps, &c, &job.Result.Notes
	}
	if job.Err != nil {
		s := job.Err.Error()
		errMsg = &s
	}

	_, err := db.Pool.Exec(ctx,
		`INSERT INTO analysis_jobs (id, subject_id, created_at, workout, target_reps, mime_type, size_bytes,
		 status, mode, model, reps, confidence, notes, error_message, duration_ms)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		job.ID, job.SubjectID, job.Started, job.Workout, job.TargetReps, job.MIMEType, job.Size,
		string(job.Status), string(job.Mode), model, reps, confidence, notes, errMsg,
		job.Duration().Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting analysis job %s: %w", job.ID, err)
	}
	return nil
}

// QueryAnalyses returns the most recent analysis jobs for a subject.
func (db *DB) QueryAnalyses(ctx context.Context, subjectID string, limit int) ([]AnalysisRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, subject_id, created_at, workout, target_reps, mime_type, size_bytes,
		 status, mode, model, reps, confidence, notes, error_message, duration_ms
		 FROM analysis_jobs
		 WHERE subject_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying analyses: %w", err)
	}
	defer rows.Close()

	var result []AnalysisRecord
	for rows.Next() {
		var r AnalysisRecord
		if err := rows.Scan(&r.ID, &r.SubjectID, &r.CreatedAt, &r.Workout, &r.TargetReps, &r.MIMEType,
			&r.SizeBytes, &r.Status, &r.Mode, &r.Model, &r.Reps, &r.Confidence, &r.Notes,
			&r.ErrorMessage, &r.DurationMs); err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
