// Package pipeline runs a resumable upscaling job: it plans chunks, pushes
// each chunk through extract, upscale, rebuild and cleanup, and merges the
// rebuilt segments into the output. Completed frames and chunks are
// checkpointed in the progress record as they finish, so an interrupted job
// continues from the last checkpoint when resumed.
//
// Two jobs must not run against the same working directory at once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"videoupscaler/internal/ffmpeg"
	"videoupscaler/internal/job"
	"videoupscaler/internal/planner"
	"videoupscaler/internal/runner"
	"videoupscaler/internal/state"
	"videoupscaler/internal/upscaling"
	"videoupscaler/internal/video"
)

// Config names the external tools and the working directory of a job.
type Config struct {
	WorkDir   string
	FFmpeg    string
	FFprobe   string
	Upscaler  string
	ModelsDir string
	// Workers bounds concurrent upscaler invocations within a chunk.
	Workers int
	// AssumeYes discards an unfinished job without asking.
	AssumeYes bool
}

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Success(format string, args ...any)
	Warn(format string, args ...any)
}

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(label string) (bool, error)
}

type Clock interface {
	Now() time.Time
}

// Summary describes a job once its chunks are known.
type Summary struct {
	JobID           string
	Params          job.Params
	Duration        float64
	FrameRate       float64
	Chunks          int
	CompletedChunks int
	Resumed         bool
}

// Reporter is told about job progress. Calls for one chunk may arrive from
// several goroutines when Workers > 1.
type Reporter interface {
	JobPlanned(s Summary)
	ChunkStarted(c planner.Chunk, frames, done int)
	FrameDone(c planner.Chunk)
	ChunkDone(c planner.Chunk)
}

// Result is what Start and Resume report back.
type Result struct {
	JobID      string
	Params     job.Params
	Chunks     int
	OutputPath string
	// NothingToResume is set when Resume found a completed job.
	NothingToResume bool
}

type Option func(*Pipeline)

func WithLogger(l Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func WithConfirmer(c Confirmer) Option {
	return func(p *Pipeline) { p.confirm = c }
}

func WithReporter(r Reporter) Option {
	return func(p *Pipeline) { p.reporter = r }
}

func WithClock(c Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithToolCheck replaces the PATH lookup used to verify the tools exist.
func WithToolCheck(available func(binary string) bool) Option {
	return func(p *Pipeline) { p.available = available }
}

// Pipeline drives jobs against one working directory and state store.
type Pipeline struct {
	cfg      Config
	exec     runner.Executor
	store    state.Store
	layout   Layout
	log      Logger
	confirm  Confirmer
	reporter Reporter
	clock    Clock

	available func(string) bool
	newID     func() string
}

func New(cfg Config, exec runner.Executor, store state.Store, opts ...Option) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	p := &Pipeline{
		cfg:       cfg,
		exec:      exec,
		store:     store,
		layout:    NewLayout(cfg.WorkDir),
		log:       nopLogger{},
		reporter:  nopReporter{},
		clock:     systemClock{},
		available: runner.IsAvailable,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Layout returns the work-directory layout used by p.
func (p *Pipeline) Layout() Layout {
	return p.layout
}

// Start runs a new job with params. An unfinished job in the working
// directory is discarded, after confirmation, before anything else happens.
func (p *Pipeline) Start(ctx context.Context, params job.Params) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := p.checkTools(); err != nil {
		return nil, err
	}

	prev, err := state.LoadLastOperation(p.store)
	switch {
	case errors.Is(err, state.ErrNotFound):
	case err != nil:
		return nil, job.NewErrorWithCause(job.ErrState, "failed to read last operation", err)
	case prev.Status == state.StatusRunning:
		if err := p.confirmDiscard(prev); err != nil {
			return nil, err
		}
	}

	// Leftovers of any earlier job would otherwise be reused as this job's
	// segments and checkpoints.
	if err := removeIfExists(p.layout.TempDir()); err != nil {
		return nil, job.NewErrorWithCause(job.ErrState, "failed to remove previous temp directory", err)
	}
	if err := p.store.Delete(state.KeyProgress); err != nil {
		return nil, job.NewErrorWithCause(job.ErrState, "failed to remove previous progress", err)
	}

	op := &state.LastOperation{
		JobID:     p.newID(),
		Params:    params,
		Status:    state.StatusRunning,
		StartedAt: p.clock.Now().UTC(),
	}
	if err := state.SaveLastOperation(p.store, op); err != nil {
		return nil, job.NewErrorWithCause(job.ErrState, "failed to record job parameters", err)
	}
	p.log.Info("Started job %s", op.JobID)

	return p.run(ctx, op, false)
}

// Resume continues the job recorded in the last-operation record with its
// recorded parameters. It reports NothingToResume for a completed job.
func (p *Pipeline) Resume(ctx context.Context) (*Result, error) {
	op, err := state.LoadLastOperation(p.store)
	if errors.Is(err, state.ErrNotFound) {
		return nil, job.NewError(job.ErrNoResumableJob, "no previous job found to resume").
			WithContext("work_dir", p.layout.Root)
	}
	if err != nil {
		return nil, job.NewErrorWithCause(job.ErrState, "failed to read last operation", err)
	}

	if op.Status == state.StatusCompleted {
		p.log.Info("Job %s already completed, nothing to resume", op.JobID)
		return &Result{
			JobID:           op.JobID,
			Params:          op.Params,
			OutputPath:      op.Params.OutputPath,
			NothingToResume: true,
		}, nil
	}

	if err := op.Params.Validate(); err != nil {
		return nil, err
	}
	if err := p.checkTools(); err != nil {
		return nil, err
	}
	p.log.Info("Resuming job %s", op.JobID)

	return p.run(ctx, op, true)
}

func (p *Pipeline) confirmDiscard(prev *state.LastOperation) error {
	if p.cfg.AssumeYes {
		p.log.Warn("Discarding unfinished job %s", prev.JobID)
		return nil
	}
	if p.confirm == nil {
		return job.NewError(job.ErrInvalidParams,
			"an unfinished job exists in the working directory; run resume, or pass --yes to discard it").
			WithContext("job_id", prev.JobID)
	}

	label := fmt.Sprintf("Discard unfinished job %s (%s)", prev.JobID, prev.Params.InputPath)
	ok, err := p.confirm.Confirm(label)
	if err != nil {
		return job.NewErrorWithCause(job.ErrInvalidParams, "confirmation aborted", err)
	}
	if !ok {
		return job.NewError(job.ErrInvalidParams, "kept the unfinished job; run resume to continue it").
			WithContext("job_id", prev.JobID)
	}
	p.log.Warn("Discarding unfinished job %s", prev.JobID)
	return nil
}

func (p *Pipeline) checkTools() error {
	tools := []struct{ role, binary string }{
		{"decoder", orDefault(p.cfg.FFmpeg, "ffmpeg")},
		{"prober", orDefault(p.cfg.FFprobe, "ffprobe")},
		{"upscaler", p.cfg.Upscaler},
	}
	for _, t := range tools {
		if t.binary == "" {
			return job.NewError(job.ErrMissingTool, fmt.Sprintf("no %s binary configured", t.role))
		}
		if !p.available(t.binary) {
			return job.NewError(job.ErrMissingTool, fmt.Sprintf("%s %q not found", t.role, t.binary)).
				WithContext("binary", t.binary)
		}
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// jobRun carries the collaborators of one run.
type jobRun struct {
	op       *state.LastOperation
	progress *state.Progress
	codec    *ffmpeg.Tool
	upscaler *upscaling.Upscaler
	rate     string
	fps      float64
	chunks   int
}

// shorterThanFrame reports whether c is a trailing chunk too short to hold
// a single frame. Such a chunk may extract nothing and is left out.
func (r *jobRun) shorterThanFrame(c planner.Chunk) bool {
	return c.Index > 1 && c.Index == r.chunks && c.Duration*r.fps < 1
}

func (p *Pipeline) run(ctx context.Context, op *state.LastOperation, resumed bool) (*Result, error) {
	params := op.Params

	progress, err := state.LoadProgress(p.store)
	if err != nil {
		return nil, job.NewErrorWithCause(job.ErrState, "failed to load progress", err)
	}
	if resumed {
		chunks, frames := progress.Counts()
		p.log.Info("Checkpoint: %d chunks and %d frames already completed", chunks, frames)
	}

	up, err := upscaling.NewUpscaler(p.exec, upscaling.UpscalingConfig{
		Binary:    p.cfg.Upscaler,
		ModelsDir: p.cfg.ModelsDir,
		Model:     params.Model,
		Scale:     params.Scale,
		Device:    params.Device,
	})
	if err != nil {
		return nil, err
	}
	r := &jobRun{
		op:       op,
		progress: progress,
		codec:    ffmpeg.New(p.exec, p.cfg.FFmpeg),
		upscaler: up,
	}

	p.log.Info("Upscaling with %s", up.Describe())

	prober := video.NewProber(p.exec, p.cfg.FFprobe)
	plan := planner.New(prober, r.codec, p.log.Info)

	// Resume re-plans from a fresh probe instead of enumerating the segment
	// files on disk; Prepare then reuses every complete segment.
	chunks, total, err := plan.PlanChunks(ctx, params.InputPath, params.ChunkSeconds)
	if err != nil {
		return nil, err
	}
	rate, fps, err := prober.FrameRate(ctx, params.InputPath)
	if err != nil {
		return nil, err
	}
	r.rate = rate
	r.fps = fps
	r.chunks = len(chunks)

	done := 0
	for _, c := range chunks {
		if progress.IsChunkDone(c.ID()) {
			done++
		}
	}
	p.reporter.JobPlanned(Summary{
		JobID:           op.JobID,
		Params:          params,
		Duration:        total,
		FrameRate:       fps,
		Chunks:          len(chunks),
		CompletedChunks: done,
		Resumed:         resumed,
	})
	p.log.Info("Planned %d chunks of %ds over %.3fs at %s fps", len(chunks), params.ChunkSeconds, total, rate)

	chunks, err = plan.Prepare(ctx, params.InputPath, chunks, p.layout.ChunksDir(), func(c planner.Chunk) bool {
		return !progress.IsChunkDone(c.ID()) &&
			!exists(p.layout.RebuiltSegment(c)) &&
			!isDir(p.layout.FramesDir(c))
	})
	if err != nil {
		return nil, err
	}

	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.processChunk(ctx, r, c); err != nil {
			return nil, err
		}
	}

	if err := p.merge(ctx, r, chunks); err != nil {
		return nil, err
	}

	return &Result{
		JobID:      op.JobID,
		Params:     params,
		Chunks:     len(chunks),
		OutputPath: params.OutputPath,
	}, nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)   {}
func (nopLogger) Info(string, ...any)    {}
func (nopLogger) Success(string, ...any) {}
func (nopLogger) Warn(string, ...any)    {}

type nopReporter struct{}

func (nopReporter) JobPlanned(Summary)                   {}
func (nopReporter) ChunkStarted(planner.Chunk, int, int) {}
func (nopReporter) FrameDone(planner.Chunk)              {}
func (nopReporter) ChunkDone(planner.Chunk)              {}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
