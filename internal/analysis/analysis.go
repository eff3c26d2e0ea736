// Package analysis estimates rep counts from uploaded workout clips with a
// generative video model.
//
// A job uploads the clip to a media store, polls until the store reports it
// ready, and then runs an ordered cascade of model candidates against the
// file reference. Small clips get a second cascade with the bytes inline when
// the file path fails. The model reply is parsed into a clamped Result.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Confidence is the model's self-reported certainty.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Result is the structured outcome of an analysis.
type Result struct {
	Reps       int        `json:"reps"`
	Confidence Confidence `json:"confidence"`
	Notes      string     `json:"notes"`
}

// Status tracks a job through the pipeline.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusAnalyzed   Status = "analyzed"
	StatusFailed     Status = "failed"
)

// Mode says how the clip was handed to the model.
type Mode string

const (
	ModeFile   Mode = "file"
	ModeInline Mode = "inline"
)

// FileState is the media store's processing state for an uploaded file.
type FileState string

const (
	FileProcessing FileState = "processing"
	FileActive     FileState = "active"
	FileFailed     FileState = "failed"
)

// File is a media store object.
type File struct {
	Name     string
	URI      string
	MIMEType string
	State    FileState
	Error    string // set by the store when State is FileFailed
}

// MediaStore uploads clips and reports their processing state.
type MediaStore interface {
	Upload(ctx context.Context, data []byte, mimeType, displayName string) (File, error)
	Get(ctx context.Context, name string) (File, error)
	Delete(ctx context.Context, name string) error
}

// Media is the clip passed to a model, either by reference or inline.
type Media struct {
	URI      string
	MIMEType string
	Data     []byte
}

// Model runs one generation against one model candidate. Implementations
// return an error wrapping ErrModelNotFound when the candidate does not
// exist so the cascade can advance.
type Model interface {
	Generate(ctx context.Context, model, prompt string, media Media) (string, error)
}

// Recorder persists finished jobs.
type Recorder interface {
	RecordAnalysis(ctx context.Context, job *Job) error
}

// Request is one clip submitted for analysis.
type Request struct {
	SubjectID  string
	Workout    string
	TargetReps int
	MIMEType   string
	Data       []byte
}

// Job is the single-owner record of one analysis.
type Job struct {
	ID         uuid.UUID
	SubjectID  string
	Workout    string
	TargetReps int
	MIMEType   string
	Size       int64
	Status     Status
	Mode       Mode
	Model      string
	Result     *Result
	Err        error
	Started    time.Time
	Finished   time.Time
}

// Duration returns how long the job ran.
func (j *Job) Duration() time.Duration {
	if j.Finished.IsZero() {
		return 0
	}
	return j.Finished.Sub(j.Started)
}

// Prompt builds the instruction sent with the clip.
func Prompt(workout string, targetReps int) string {
	return strings.Join([]string{
		"Analyze this workout video and estimate full reps completed by the person.",
		fmt.Sprintf("Workout type: %s.", workout),
		fmt.Sprintf("Target reps: %d.", targetReps),
		"Count only complete reps with visible range of motion.",
		"Return strict JSON with this shape:",
		`{"reps": number, "confidence": "low"|"medium"|"high", "notes": string}`,
	}, " ")
}
