package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const mib = 1 << 20

// Options tune the pipeline.
type Options struct {
	MaxBytes          int64
	InlineMaxBytes    int64
	PollInterval      time.Duration
	PollAttempts      int
	Models            []string
	CleanupTimeout    time.Duration
	DefaultWorkout    string
	DefaultTargetReps int
}

// DefaultOptions returns the production limits.
func DefaultOptions() Options {
	return Options{
		MaxBytes:          100 * mib,
		InlineMaxBytes:    4 * mib,
		PollInterval:      2 * time.Second,
		PollAttempts:      20,
		Models:            []string{"gemini-2.0-flash", "gemini-1.5-flash"},
		CleanupTimeout:    10 * time.Second,
		DefaultWorkout:    "Push-ups",
		DefaultTargetReps: 10,
	}
}

// Pipeline runs analysis jobs. It holds no per-job state and is safe for
// concurrent use.
type Pipeline struct {
	store    MediaStore
	model    Model
	opts     Options
	recorder Recorder
	log      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a Pipeline. Zero-valued options fall back to DefaultOptions.
func New(store MediaStore, model Model, opts Options, log *slog.Logger) *Pipeline {
	def := DefaultOptions()
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = def.MaxBytes
	}
	if opts.InlineMaxBytes < 0 {
		opts.InlineMaxBytes = 0
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = def.PollAttempts
	}
	if len(opts.Models) == 0 {
		opts.Models = def.Models
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = def.CleanupTimeout
	}
	if opts.DefaultWorkout == "" {
		opts.DefaultWorkout = def.DefaultWorkout
	}
	if opts.DefaultTargetReps <= 0 {
		opts.DefaultTargetReps = def.DefaultTargetReps
	}
	return &Pipeline{
		store: store,
		model: model,
		opts:  opts,
		log:   log,
		sleep: sleepCtx,
		now:   time.Now,
	}
}

// SetRecorder attaches an audit recorder for finished jobs.
func (p *Pipeline) SetRecorder(r Recorder) {
	p.recorder = r
}

// Options returns the effective options.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Validate checks the clip's type and size. It never calls out.
func (p *Pipeline) Validate(mimeType string, size int64) error {
	if !strings.HasPrefix(mimeType, "video/") {
		return fmt.Errorf("%w: invalid file type %q", ErrValidation, mimeType)
	}
	if size <= 0 || size > p.opts.MaxBytes {
		return fmt.Errorf("%w: video must be between 1 byte and %s", ErrValidation, formatBytes(p.opts.MaxBytes))
	}
	return nil
}

// Analyze runs one job to completion. The caller's cancellation is
// detached: once submitted a job runs until it succeeds or fails. The
// returned job is nil only when validation rejects the request.
func (p *Pipeline) Analyze(ctx context.Context, req Request) (*Job, error) {
	if err := p.Validate(req.MIMEType, int64(len(req.Data))); err != nil {
		return nil, err
	}
	if req.Workout == "" {
		req.Workout = p.opts.DefaultWorkout
	}
	if req.TargetReps <= 0 {
		req.TargetReps = p.opts.DefaultTargetReps
	}

	ctx = context.WithoutCancel(ctx)
	job := &Job{
		ID:         uuid.New(),
		SubjectID:  req.SubjectID,
		Workout:    req.Workout,
		TargetReps: req.TargetReps,
		MIMEType:   req.MIMEType,
		Size:       int64(len(req.Data)),
		Mode:       ModeFile,
		Started:    p.now(),
	}
	log := p.log.With("job", job.ID, "workout", job.Workout, "bytes", job.Size)
	log.Info("analysis started")

	res, err := p.run(ctx, job, req.Data, log)
	job.Finished = p.now()
	if err != nil {
		job.Status = StatusFailed
		job.Err = err
		log.Warn("analysis failed", "error", err, "duration", job.Duration())
	} else {
		job.Status = StatusAnalyzed
		job.Result = &res
		log.Info("analysis complete", "reps", res.Reps, "confidence", res.Confidence,
			"model", job.Model, "mode", job.Mode, "duration", job.Duration())
	}

	if p.recorder != nil {
		if rerr := p.recorder.RecordAnalysis(ctx, job); rerr != nil {
			log.Error("recording analysis", "error", rerr)
		}
	}
	return job, err
}

func (p *Pipeline) run(ctx context.Context, job *Job, data []byte, log *slog.Logger) (Result, error) {
	prompt := Prompt(job.Workout, job.TargetReps)

	var attempts []Attempt
	text, procErr := p.viaFile(ctx, job, data, prompt, &attempts, log)
	inline := false
	if procErr != nil && job.Size <= p.opts.InlineMaxBytes {
		log.Info("retrying analysis with inline bytes", "error", procErr)
		inline = true
		job.Mode = ModeInline
		text, procErr = p.cascade(ctx, job, ModeInline, prompt, Media{MIMEType: job.MIMEType, Data: data}, &attempts, log)
	}
	if procErr != nil {
		// Upload and processing failures keep their own identity when no
		// fallback ran.
		if !inline && (errors.Is(procErr, ErrProcessingFailed) || errors.Is(procErr, ErrProcessingTimeout)) {
			return Result{}, procErr
		}
		return Result{}, &CascadeError{Attempts: attempts}
	}

	return ParseResult(text)
}

// viaFile uploads the clip, waits for it to become ready and runs the
// cascade against the file reference. The uploaded object is deleted before
// it returns.
func (p *Pipeline) viaFile(ctx context.Context, job *Job, data []byte, prompt string, attempts *[]Attempt, log *slog.Logger) (string, error) {
	name := fmt.Sprintf("%s-upload-%d", job.Workout, p.now().UnixMilli())
	file, err := p.store.Upload(ctx, data, job.MIMEType, name)
	if err != nil {
		err = fmt.Errorf("uploading video: %w", err)
		*attempts = append(*attempts, Attempt{Mode: ModeFile, Err: err})
		return "", err
	}
	job.Status = StatusUploaded
	defer p.cleanup(ctx, file.Name, log)

	file, err = p.waitActive(ctx, job, file)
	if err != nil {
		*attempts = append(*attempts, Attempt{Mode: ModeFile, Err: err})
		return "", err
	}
	job.Status = StatusReady

	mime := file.MIMEType
	if mime == "" {
		mime = job.MIMEType
	}
	return p.cascade(ctx, job, ModeFile, prompt, Media{URI: file.URI, MIMEType: mime}, attempts, log)
}

// waitActive polls the store until the file is active, failed, or the
// attempt budget is spent.
func (p *Pipeline) waitActive(ctx context.Context, job *Job, file File) (File, error) {
	job.Status = StatusProcessing
	for i := 0; i < p.opts.PollAttempts; i++ {
		switch file.State {
		case FileActive:
			return file, nil
		case FileFailed:
			return file, processingFailed(file)
		}
		if err := p.sleep(ctx, p.opts.PollInterval); err != nil {
			return file, err
		}
		next, err := p.store.Get(ctx, file.Name)
		if err != nil {
			return file, fmt.Errorf("polling video %s: %w", file.Name, err)
		}
		file = next
	}

	switch file.State {
	case FileActive:
		return file, nil
	case FileFailed:
		return file, processingFailed(file)
	}
	return file, fmt.Errorf("%w (after %d polls)", ErrProcessingTimeout, p.opts.PollAttempts)
}

func processingFailed(f File) error {
	if f.Error != "" {
		return fmt.Errorf("%w: %s", ErrProcessingFailed, f.Error)
	}
	return ErrProcessingFailed
}

// cascade tries each model in order. Not-found errors advance; any other
// error stops the cascade.
func (p *Pipeline) cascade(ctx context.Context, job *Job, mode Mode, prompt string, media Media, attempts *[]Attempt, log *slog.Logger) (string, error) {
	var last error
	for _, m := range p.opts.Models {
		text, err := p.model.Generate(ctx, m, prompt, media)
		if err == nil {
			job.Model = m
			return text, nil
		}
		*attempts = append(*attempts, Attempt{Mode: mode, Model: m, Err: err})
		last = err
		if !errors.Is(err, ErrModelNotFound) {
			return "", fmt.Errorf("model %s: %w", m, err)
		}
		log.Debug("model unavailable, trying next", "model", m, "mode", mode)
	}
	return "", fmt.Errorf("no %s model candidate succeeded: %w", mode, last)
}

func (p *Pipeline) cleanup(ctx context.Context, name string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.CleanupTimeout)
	defer cancel()
	if err := p.store.Delete(ctx, name); err != nil {
		log.Debug("deleting uploaded video", "file", name, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func formatBytes(n int64) string {
	if n%mib == 0 {
		return fmt.Sprintf("%d MB", n/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}
