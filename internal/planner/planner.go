// Package planner turns a source video into an ordered list of time-bounded
// chunks and makes sure a split segment exists on disk for each of them.
package planner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"videoupscaler/internal/job"
)

// Chunk is the [Start, Start+Duration) range of the source, in seconds.
// Index is 1-based and fixes the chunk's position in the final output.
type Chunk struct {
	Index    int
	Start    float64
	Duration float64
	// Segment is the split file for this chunk, set by Prepare.
	Segment string
}

// ID identifies the chunk in progress records and file names.
func (c Chunk) ID() string {
	return fmt.Sprintf("chunk_%03d", c.Index)
}

// End returns the exclusive end of the chunk's range.
func (c Chunk) End() float64 {
	return c.Start + c.Duration
}

// Plan splits [0, total) into ceil(total/chunkSeconds) contiguous chunks.
// total is rounded to milliseconds first, the precision ffmpeg is given
// chunk boundaries at, so probe noise cannot add an empty trailing chunk.
func Plan(total float64, chunkSeconds int) ([]Chunk, error) {
	if chunkSeconds <= 0 {
		return nil, job.NewError(job.ErrInvalidParams, "chunk duration must be positive").
			WithContext("chunk_duration", chunkSeconds)
	}
	total = math.Round(total*1000) / 1000
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, job.NewError(job.ErrProbe, "source duration is not positive").
			WithContext("duration", total)
	}

	d := float64(chunkSeconds)
	n := int(math.Ceil(total / d))
	chunks := make([]Chunk, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * d
		chunks = append(chunks, Chunk{
			Index:    i + 1,
			Start:    start,
			Duration: math.Min(d, total-start),
		})
	}
	return chunks, nil
}

// DurationProber reports the duration of a video in seconds.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Splitter writes one time range of src to out.
type Splitter interface {
	Split(ctx context.Context, src string, start, duration float64, out string) error
}

// Planner probes the source and prepares split segments.
type Planner struct {
	prober   DurationProber
	splitter Splitter
	logf     func(format string, args ...any)
}

func New(prober DurationProber, splitter Splitter, logf func(string, ...any)) *Planner {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Planner{prober: prober, splitter: splitter, logf: logf}
}

// PlanChunks probes src and derives its chunks.
func (p *Planner) PlanChunks(ctx context.Context, src string, chunkSeconds int) ([]Chunk, float64, error) {
	total, err := p.prober.Duration(ctx, src)
	if err != nil {
		return nil, 0, err
	}
	chunks, err := Plan(total, chunkSeconds)
	if err != nil {
		return nil, 0, err
	}
	return chunks, total, nil
}

// Prepare makes sure every chunk that still needs processing has its
// segment in dir. Segments already on disk are reused as-is; missing ones
// are split under a temporary name and renamed into place, so a segment
// file that exists is always complete. needed reports whether a chunk
// still needs its segment.
func (p *Planner) Prepare(ctx context.Context, src string, chunks []Chunk, dir string, needed func(Chunk) bool) ([]Chunk, error) {
	ext := SegmentExt(src)
	existing, err := ExistingSegments(dir, ext)
	if err != nil {
		return nil, job.NewErrorWithCause(job.ErrSplit, "failed to enumerate existing segments", err).
			WithContext("dir", dir)
	}
	if len(existing) > 0 {
		p.logf("Found %d existing chunk segments in %s, not re-splitting them", len(existing), dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, job.NewErrorWithCause(job.ErrSplit, "failed to create chunks directory", err)
	}

	ret := make([]Chunk, len(chunks))
	for i, c := range chunks {
		c.Segment = filepath.Join(dir, c.ID()+ext)
		ret[i] = c

		if path, ok := existing[c.Index]; ok && path == c.Segment {
			continue
		}
		if needed != nil && !needed(c) {
			continue
		}

		p.logf("Splitting %s [%.3fs, %.3fs)", c.ID(), c.Start, c.End())
		part := partPath(c.Segment)
		if err := p.splitter.Split(ctx, src, c.Start, c.Duration, part); err != nil {
			_ = os.Remove(part)
			return nil, fmt.Errorf("%s: %w", c.ID(), err)
		}
		if err := os.Rename(part, c.Segment); err != nil {
			return nil, job.NewErrorWithCause(job.ErrSplit, "failed to move segment into place", err).
				WithContext("segment", c.Segment)
		}
	}
	return ret, nil
}

var segmentName = regexp.MustCompile(`^chunk_(\d+)(\.[^.]+)$`)

// ExistingSegments lists complete segment files in dir keyed by chunk index.
func ExistingSegments(dir, ext string) (map[int]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return map[int]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	ret := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentName.FindStringSubmatch(e.Name())
		if m == nil || !strings.EqualFold(m[2], ext) {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx <= 0 {
			continue
		}
		ret[idx] = filepath.Join(dir, e.Name())
	}
	return ret, nil
}

// SegmentExt is the container used for split segments: the source's own,
// since splitting stream-copies.
func SegmentExt(src string) string {
	if ext := filepath.Ext(src); ext != "" {
		return strings.ToLower(ext)
	}
	return ".mp4"
}

// partPath inserts ".part" before the extension so ffmpeg still infers the
// container from the name.
func partPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".part" + ext
}
