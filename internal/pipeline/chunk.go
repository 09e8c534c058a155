package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"videoupscaler/internal/job"
	"videoupscaler/internal/planner"
)

// chunkStage is the position of a chunk in its state machine.
type chunkStage int

const (
	stagePending chunkStage = iota
	stageSkipped
	stageExtracting
	stageUpscaling
	stageRebuilding
	stageCleaned
	stageDone
)

func (s chunkStage) String() string {
	switch s {
	case stagePending:
		return "pending"
	case stageSkipped:
		return "skipped"
	case stageExtracting:
		return "extracting"
	case stageUpscaling:
		return "upscaling"
	case stageRebuilding:
		return "rebuilding"
	case stageCleaned:
		return "cleaned"
	case stageDone:
		return "done"
	}
	return "unknown"
}

// processChunk moves c through extract, upscale, rebuild and cleanup. A
// chunk already in the progress record is skipped outright. A chunk whose
// rebuilt segment exists goes straight to cleanup: the segment is renamed
// into place only once encoding succeeded.
func (p *Pipeline) processChunk(ctx context.Context, r *jobRun, c planner.Chunk) error {
	id := c.ID()
	if r.progress.IsChunkDone(id) {
		p.transition(c, stageSkipped)
		p.log.Info("Skipping %s: already completed", id)
		return nil
	}

	if exists(p.layout.RebuiltSegment(c)) {
		p.log.Info("%s was rebuilt before the interruption, finishing it", id)
		return p.finishChunk(r, c)
	}

	p.transition(c, stageExtracting)
	frames, err := p.extract(ctx, r, c)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		p.log.Warn("%s is shorter than one frame, leaving it out of the output", id)
		return p.finishChunk(r, c)
	}

	p.transition(c, stageUpscaling)
	if err := p.upscaleFrames(ctx, r, c, frames); err != nil {
		return err
	}

	p.transition(c, stageRebuilding)
	if err := p.rebuild(ctx, r, c, frames); err != nil {
		return err
	}

	return p.finishChunk(r, c)
}

func (p *Pipeline) transition(c planner.Chunk, s chunkStage) {
	p.log.Debug("%s: %s", c.ID(), s)
}

// extract returns the frame names of c, extracting them first unless a
// complete frames directory is already present.
func (p *Pipeline) extract(ctx context.Context, r *jobRun, c planner.Chunk) ([]string, error) {
	dir := p.layout.FramesDir(c)
	if isDir(dir) {
		p.log.Info("Reusing extracted frames of %s", c.ID())
	} else {
		part := dir + ".part"
		if err := removeIfExists(part); err != nil {
			return nil, job.NewErrorWithCause(job.ErrExtraction, "failed to clear partial frames", err).
				WithContext("dir", part)
		}
		p.log.Info("Extracting frames of %s", c.ID())
		if err := r.codec.ExtractFrames(ctx, c.Segment, part); err != nil {
			return nil, fmt.Errorf("%s: %w", c.ID(), err)
		}
		if err := os.Rename(part, dir); err != nil {
			return nil, job.NewErrorWithCause(job.ErrExtraction, "failed to move frames into place", err).
				WithContext("dir", dir)
		}
	}

	frames, err := listFrames(dir)
	if err != nil {
		return nil, job.NewErrorWithCause(job.ErrExtraction, "failed to list extracted frames", err).
			WithContext("dir", dir)
	}
	if len(frames) == 0 && !r.shorterThanFrame(c) {
		return nil, job.NewError(job.ErrExtraction, "no frames were extracted").
			WithContext("chunk", c.ID())
	}
	return frames, nil
}

// upscaleFrames upscales every frame of c not yet in the progress record.
// Frames are dispatched in sequence order to at most Workers concurrent
// upscaler processes. The first failure stops dispatching and cancels the
// frames in flight; frames that finished before it stay checkpointed.
func (p *Pipeline) upscaleFrames(ctx context.Context, r *jobRun, c planner.Chunk, frames []string) error {
	framesDir := p.layout.FramesDir(c)
	upDir := p.layout.UpscaledDir(c)

	done := 0
	for _, f := range frames {
		if r.progress.IsFrameDone(FrameID(c, f)) {
			done++
		}
	}
	p.reporter.ChunkStarted(c, len(frames), done)
	if done > 0 {
		p.log.Info("%s: %d of %d frames already upscaled", c.ID(), done, len(frames))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for _, f := range frames {
		fid := FrameID(c, f)
		if r.progress.IsFrameDone(fid) {
			p.log.Debug("Skipping frame %s: already upscaled", fid)
			continue
		}
		if gctx.Err() != nil {
			break
		}
		f := f
		g.Go(func() error {
			if err := r.upscaler.UpscaleFrame(gctx, filepath.Join(framesDir, f), filepath.Join(upDir, f)); err != nil {
				return fmt.Errorf("%s: %w", fid, err)
			}
			if err := r.progress.MarkFrame(fid); err != nil {
				return job.NewErrorWithCause(job.ErrState, "failed to checkpoint frame", err).
					WithContext("frame", fid)
			}
			p.reporter.FrameDone(c)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// rebuild encodes the upscaled frames of c into its rebuilt segment.
func (p *Pipeline) rebuild(ctx context.Context, r *jobRun, c planner.Chunk, frames []string) error {
	upDir := p.layout.UpscaledDir(c)
	for _, f := range frames {
		if !exists(filepath.Join(upDir, f)) {
			return job.NewError(job.ErrRebuild, "upscaled frame is missing although checkpointed; delete the progress record to redo the job").
				WithContext("frame", FrameID(c, f))
		}
	}

	out := p.layout.RebuiltSegment(c)
	part := partPath(out)
	if err := removeIfExists(part); err != nil {
		return job.NewErrorWithCause(job.ErrRebuild, "failed to clear partial segment", err)
	}
	p.log.Info("Rebuilding %s from %d upscaled frames", c.ID(), len(frames))
	if err := r.codec.EncodeFrames(ctx, upDir, r.rate, part); err != nil {
		return fmt.Errorf("%s: %w", c.ID(), err)
	}
	if err := os.Rename(part, out); err != nil {
		return job.NewErrorWithCause(job.ErrRebuild, "failed to move rebuilt segment into place", err).
			WithContext("segment", out)
	}
	return nil
}

// finishChunk removes the intermediates of c and checkpoints it.
func (p *Pipeline) finishChunk(r *jobRun, c planner.Chunk) error {
	if err := removeIfExists(p.layout.ChunkDir(c)); err != nil {
		return job.NewErrorWithCause(job.ErrRebuild, "failed to remove frame directories", err).
			WithContext("chunk", c.ID())
	}
	if c.Segment != "" {
		if err := removeIfExists(c.Segment); err != nil {
			return job.NewErrorWithCause(job.ErrRebuild, "failed to remove split segment", err).
				WithContext("segment", c.Segment)
		}
	}
	p.transition(c, stageCleaned)

	if err := r.progress.MarkChunk(c.ID()); err != nil {
		return job.NewErrorWithCause(job.ErrState, "failed to checkpoint chunk", err).
			WithContext("chunk", c.ID())
	}
	p.transition(c, stageDone)
	p.reporter.ChunkDone(c)
	p.log.Success("Completed %s", c.ID())
	return nil
}
