package analysis

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation rejects an upload before any external call.
	ErrValidation = errors.New("invalid video upload")
	// ErrProcessingFailed means the media store reported a terminal failure.
	ErrProcessingFailed = errors.New("video processing failed")
	// ErrProcessingTimeout means the poll budget ran out; the clip may
	// become ready later.
	ErrProcessingTimeout = errors.New("video is still processing, try again shortly")
	// ErrModelNotFound advances the model cascade to the next candidate.
	ErrModelNotFound = errors.New("model not found")
	// ErrNoStructuredResult means the model reply held no parseable JSON.
	ErrNoStructuredResult = errors.New("model did not return JSON")
)

// Attempt is one failed step of a job.
type Attempt struct {
	Mode  Mode
	Model string // empty for upload and processing steps
	Err   error
}

func (a Attempt) String() string {
	if a.Model == "" {
		return fmt.Sprintf("%s: %v", a.Mode, a.Err)
	}
	return fmt.Sprintf("%s/%s: %v", a.Mode, a.Model, a.Err)
}

// CascadeError is returned once every fallback has been exhausted. It keeps
// the cause of each attempt in order.
type CascadeError struct {
	Attempts []Attempt
}

func (e *CascadeError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return "video analysis failed: " + strings.Join(parts, "; ")
}

func (e *CascadeError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}
