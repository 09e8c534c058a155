package pipeline

import (
	"context"
	"os"

	"videoupscaler/internal/job"
	"videoupscaler/internal/planner"
	"videoupscaler/internal/state"
)

// merge concatenates the rebuilt segments in chunk order, copying audio and
// subtitle streams from the source, then completes the job.
func (p *Pipeline) merge(ctx context.Context, r *jobRun, chunks []planner.Chunk) error {
	segments := make([]string, 0, len(chunks))
	for _, c := range chunks {
		seg := p.layout.RebuiltSegment(c)
		if !exists(seg) && r.shorterThanFrame(c) && r.progress.IsChunkDone(c.ID()) {
			continue
		}
		if !exists(seg) {
			return job.NewError(job.ErrMerge, "rebuilt segment is missing").
				WithContext("chunk", c.ID()).
				WithContext("segment", seg)
		}
		segments = append(segments, seg)
	}

	out := r.op.Params.OutputPath
	p.log.Info("Merging %d segments into %s", len(segments), out)
	if err := r.codec.Concat(ctx, segments, r.op.Params.InputPath, p.layout.ConcatList(), out); err != nil {
		return err
	}
	if !exists(out) {
		return job.NewError(job.ErrMerge, "merge finished but the output file was not created").
			WithContext("output", out)
	}

	return p.complete(r)
}

// complete records the job as completed before cleaning up, so that a
// failure during cleanup leaves a finished job rather than one whose
// rebuilt segments are gone. Cleanup failures are only reported.
func (p *Pipeline) complete(r *jobRun) error {
	now := p.clock.Now().UTC()
	r.op.Status = state.StatusCompleted
	r.op.CompletedAt = &now
	if err := state.SaveLastOperation(p.store, r.op); err != nil {
		r.op.Status = state.StatusRunning
		r.op.CompletedAt = nil
		return job.NewErrorWithCause(job.ErrState, "failed to record job completion", err)
	}

	if err := r.progress.Clear(); err != nil {
		p.log.Warn("Failed to clear progress record: %v", err)
	}
	if err := os.RemoveAll(p.layout.TempDir()); err != nil {
		p.log.Warn("Failed to remove temp directory %s: %v", p.layout.TempDir(), err)
	}
	p.log.Success("Job %s completed: %s", r.op.JobID, r.op.Params.OutputPath)
	return nil
}
