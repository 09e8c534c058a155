// Package ffmpeg wraps the decoding/encoding tool. Every operation builds an
// explicit argument list and maps a non-zero exit to the job error of the
// stage it belongs to.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"videoupscaler/internal/job"
	"videoupscaler/internal/runner"
)

// FramePattern names extracted and upscaled frames: frame_000001.png, ...
const FramePattern = "frame_%06d.png"

// Tool runs ffmpeg through an Executor.
type Tool struct {
	exec   runner.Executor
	binary string
}

func New(exec runner.Executor, binary string) *Tool {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Tool{exec: exec, binary: binary}
}

// Split copies the [start, start+duration) range of src into out without re-encoding.
func (t *Tool) Split(ctx context.Context, src string, start, duration float64, out string) error {
	if err := t.exec.Run(ctx, t.binary, splitArgs(src, start, duration, out)...); err != nil {
		return job.NewErrorWithCause(job.ErrSplit, "failed to split source into chunk", err).
			WithContext("segment", out)
	}
	return nil
}

// ExtractFrames writes one numbered PNG per frame of segment into dir.
func (t *Tool) ExtractFrames(ctx context.Context, segment, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return job.NewErrorWithCause(job.ErrExtraction, "failed to create frames directory", err).
			WithContext("dir", dir)
	}
	if err := t.exec.Run(ctx, t.binary, extractArgs(segment, dir)...); err != nil {
		return job.NewErrorWithCause(job.ErrExtraction, "failed to extract frames", err).
			WithContext("segment", segment)
	}
	return nil
}

// EncodeFrames encodes the numbered frame sequence in dir at frameRate into out.
func (t *Tool) EncodeFrames(ctx context.Context, dir, frameRate, out string) error {
	if err := t.exec.Run(ctx, t.binary, encodeArgs(dir, frameRate, out)...); err != nil {
		return job.NewErrorWithCause(job.ErrRebuild, "failed to encode upscaled frames", err).
			WithContext("output", out)
	}
	return nil
}

// Concat joins segments in order and carries audio and subtitle streams over
// from source when it has them. listPath is where the concat list is written.
func (t *Tool) Concat(ctx context.Context, segments []string, source, listPath, out string) error {
	if len(segments) == 0 {
		return job.NewError(job.ErrMerge, "no chunk segments to merge")
	}
	if err := WriteConcatList(listPath, segments); err != nil {
		return job.NewErrorWithCause(job.ErrMerge, "failed to write concat list", err).
			WithContext("list", listPath)
	}
	if err := t.exec.Run(ctx, t.binary, concatArgs(listPath, source, out)...); err != nil {
		return job.NewErrorWithCause(job.ErrMerge, "failed to merge chunks", err).
			WithContext("output", out)
	}
	return nil
}

// WriteConcatList writes an ffmpeg concat demuxer list. Paths are made
// absolute because the demuxer resolves them relative to the list file.
func WriteConcatList(listPath string, segments []string) error {
	var b strings.Builder
	for _, s := range segments {
		abs, err := filepath.Abs(s)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.MkdirAll(filepath.Dir(listPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(listPath, []byte(b.String()), 0644)
}

func splitArgs(src string, start, duration float64, out string) []string {
	return []string{
		"-y",
		"-i", src,
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-c", "copy",
		out,
	}
}

func extractArgs(segment, dir string) []string {
	return []string{
		"-y",
		"-i", segment,
		"-qscale:v", "2",
		filepath.Join(dir, FramePattern),
	}
}

func encodeArgs(dir, frameRate, out string) []string {
	return []string{
		"-y",
		"-framerate", frameRate,
		"-i", filepath.Join(dir, FramePattern),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		out,
	}
}

func concatArgs(listPath, source, out string) []string {
	return []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-i", source,
		"-c:v", "copy",
		"-c:a", "copy",
		"-map", "0:v:0",
		"-map", "1:a?",
		"-map", "1:s?",
		out,
	}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
