package video

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"videoupscaler/internal/job"
	"videoupscaler/internal/runner"
)

// Prober queries ffprobe for duration and frame rate.
type Prober struct {
	exec    runner.Executor
	ffprobe string
}

func NewProber(exec runner.Executor, ffprobe string) *Prober {
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &Prober{exec: exec, ffprobe: ffprobe}
}

// Duration returns the container duration of path in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.exec.Output(ctx, p.ffprobe, durationArgs(path)...)
	if err != nil {
		return 0, job.NewErrorWithCause(job.ErrProbe, "failed to run ffprobe for duration", err).
			WithContext("input", path)
	}
	d, err := ParseDuration(string(out))
	if err != nil {
		return 0, job.NewErrorWithCause(job.ErrProbe, "cannot determine source duration", err).
			WithContext("input", path)
	}
	return d, nil
}

// FrameRate returns the first video stream's r_frame_rate, raw and parsed.
func (p *Prober) FrameRate(ctx context.Context, path string) (string, float64, error) {
	out, err := p.exec.Output(ctx, p.ffprobe, frameRateArgs(path)...)
	if err != nil {
		return "", 0, job.NewErrorWithCause(job.ErrProbe, "failed to run ffprobe for frame rate", err).
			WithContext("input", path)
	}
	raw := firstLine(string(out))
	fps, err := ParseFrameRate(raw)
	if err != nil {
		return "", 0, job.NewErrorWithCause(job.ErrProbe, "cannot determine source frame rate", err).
			WithContext("input", path)
	}
	return raw, fps, nil
}

func durationArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-sexagesimal",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
}

func frameRateArgs(path string) []string {
	return []string{
		"-v", "0",
		"-of", "csv=p=0",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate",
		path,
	}
}

// ParseDuration parses "H:MM:SS.frac" into seconds. It also accepts the
// "Duration: 00:02:05.00, start: ..." banner printed by ffmpeg -i.
func ParseDuration(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "Duration:"); i >= 0 {
		s = strings.TrimSpace(s[i+len("Duration:"):])
		if j := strings.IndexByte(s, ','); j >= 0 {
			s = s[:j]
		}
	}
	s = firstLine(s)

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed duration %q", s)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("malformed hours in %q", s)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("malformed minutes in %q", s)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 || math.IsNaN(seconds) {
		return 0, fmt.Errorf("malformed seconds in %q", s)
	}

	total := float64(hours)*3600 + float64(minutes)*60 + seconds
	if total <= 0 {
		return 0, fmt.Errorf("duration %q is not positive", s)
	}
	return total, nil
}

// ParseFrameRate parses "num/den" (or a plain decimal) into frames per second.
func ParseFrameRate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty frame rate")
	}

	var fps float64
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil {
			return 0, fmt.Errorf("malformed frame rate numerator in %q", s)
		}
		d, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err != nil {
			return 0, fmt.Errorf("malformed frame rate denominator in %q", s)
		}
		if d == 0 {
			return 0, fmt.Errorf("frame rate %q has a zero denominator", s)
		}
		fps = n / d
	} else {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed frame rate %q", s)
		}
		fps = v
	}

	if fps <= 0 || math.IsInf(fps, 0) || math.IsNaN(fps) {
		return 0, fmt.Errorf("frame rate %q is not positive", s)
	}
	return fps, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
