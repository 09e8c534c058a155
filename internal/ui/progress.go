package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"videoupscaler/internal/pipeline"
	"videoupscaler/internal/planner"
)

// FrameProgress reports a job on a terminal: the job box once chunks are
// planned, then one bar per chunk counting upscaled frames.
type FrameProgress struct {
	w io.Writer

	mu     sync.Mutex
	bar    *progressbar.ProgressBar
	chunks int
}

func NewFrameProgress(w io.Writer) *FrameProgress {
	return &FrameProgress{w: w}
}

func (f *FrameProgress) JobPlanned(s pipeline.Summary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = s.Chunks
	fmt.Fprintln(f.w, JobSummary(s))
}

func (f *FrameProgress) ChunkStarted(c planner.Chunk, frames, done int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bar = progressbar.NewOptions(frames,
		progressbar.OptionSetWriter(f.w),
		progressbar.OptionSetDescription(fmt.Sprintf("Upscaling %s (%d/%d)", c.ID(), c.Index, f.chunks)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetRenderBlankState(true),
	)
	if done > 0 {
		_ = f.bar.Set(done)
	}
}

func (f *FrameProgress) FrameDone(planner.Chunk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bar != nil {
		_ = f.bar.Add(1)
	}
}

func (f *FrameProgress) ChunkDone(planner.Chunk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bar != nil {
		_ = f.bar.Finish()
		fmt.Fprintln(f.w)
		f.bar = nil
	}
}
