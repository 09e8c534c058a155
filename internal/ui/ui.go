package ui

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"videoupscaler/internal/job"
	"videoupscaler/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			MarginBottom(1)

	infoStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(1, 2).
			MarginTop(1).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#06B6D4")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)
)

func Title(version string) string {
	return titleStyle.Render("🎬 Video Upscaler " + version)
}

// JobSummary renders the job box shown before processing starts.
func JobSummary(s pipeline.Summary) string {
	p := s.Params
	rows := [][2]string{
		{"📁 Input:", filepath.Base(p.InputPath)},
		{"💾 Output:", p.OutputPath},
		{"🔍 Scale:", fmt.Sprintf("%dx", p.Scale)},
		{"🧠 Model:", describeModel(p.Model)},
		{"🖥️  Device:", strings.ToUpper(string(p.Device))},
		{"⏱️  Duration:", FormatDuration(s.Duration)},
		{"🎞️  Frame rate:", fmt.Sprintf("%.3f fps", s.FrameRate)},
		{"✂️  Chunks:", chunkLine(s)},
		{"🆔 Job:", s.JobID},
	}

	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = labelStyle.Render(r[0]) + " " + valueStyle.Render(r[1])
	}
	return infoStyle.Render(strings.Join(lines, "\n"))
}

func chunkLine(s pipeline.Summary) string {
	line := fmt.Sprintf("%d × %ds", s.Chunks, s.Params.ChunkSeconds)
	if s.Resumed {
		line += fmt.Sprintf(" (%d already done)", s.CompletedChunks)
	}
	return line
}

func describeModel(model string) string {
	if d, ok := job.ModelDescriptions[model]; ok {
		return model + " – " + d
	}
	return model
}

// PrintError writes err and the recovery advice for it to w.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render("❌ "+err.Error()))
	fmt.Fprintln(w, hintStyle.Render("💡 "+job.Advice(err)))
}

func PrintSuccess(w io.Writer, msg string) {
	fmt.Fprintln(w, successStyle.Render("✅ "+msg))
}

func PrintHint(w io.Writer, msg string) {
	fmt.Fprintln(w, hintStyle.Render(msg))
}

// FormatFileSize converts bytes to human-readable format
func FormatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration converts seconds to MM:SS, or H:MM:SS from one hour up.
func FormatDuration(seconds float64) string {
	total := int(seconds)
	h, m, s := total/3600, total%3600/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
