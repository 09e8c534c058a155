// Package logging provides a leveled printf-style logger with coloured level
// tags on a terminal and an optional plain-text file sink.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps debug, info, warn or error (any case) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q (expected debug, info, warn or error)", s)
}

var (
	debugTag   = lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4")).Bold(true)
	infoTag    = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6")).Bold(true)
	successTag = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	warnTag    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true)
	errorTag   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
)

type Options struct {
	Level Level
	// Color renders level tags with lipgloss. Use ColorEnabled for the
	// usual terminal check.
	Color bool
	// File, when set, receives every line without colour, appended.
	File string
	// Out and Err default to os.Stdout and os.Stderr. Errors go to Err.
	Out io.Writer
	Err io.Writer
}

// Logger is safe for concurrent use.
type Logger struct {
	mu    sync.Mutex
	level Level
	color bool
	out   io.Writer
	err   io.Writer
	file  *os.File
	now   func() time.Time
}

// New creates a logger. Call Close when Options.File was set.
func New(opts Options) (*Logger, error) {
	l := &Logger{
		level: opts.Level,
		color: opts.Color,
		out:   opts.Out,
		err:   opts.Err,
		now:   time.Now,
	}
	if l.out == nil {
		l.out = os.Stdout
	}
	if l.err == nil {
		l.err = os.Stderr
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
	}
	return l, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{level: LevelError + 1, out: io.Discard, err: io.Discard, now: time.Now}
}

// ColorEnabled reports whether f is a terminal and colour was not disabled
// through NO_COLOR or TERM=dumb.
func ColorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" || strings.EqualFold(os.Getenv("TERM"), "dumb") {
		return false
	}
	return IsTerminal(f)
}

func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Close closes the log file if one was opened.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Logger) Debug(format string, args ...any) {
	l.line(LevelDebug, "DEBUG", debugTag, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.line(LevelInfo, "INFO", infoTag, format, args...)
}

// Success logs at INFO level with its own tag.
func (l *Logger) Success(format string, args ...any) {
	l.line(LevelInfo, "SUCCESS", successTag, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.line(LevelWarn, "WARN", warnTag, format, args...)
}

// Error logs to the error writer.
func (l *Logger) Error(format string, args ...any) {
	l.line(LevelError, "ERROR", errorTag, format, args...)
}

func (l *Logger) line(level Level, tag string, style lipgloss.Style, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	ts := l.now().Format("2006-01-02 15:04:05")
	text := fmt.Sprintf(format, args...)
	plain := ts + " [" + tag + "] " + text + "\n"

	out := l.out
	if level == LevelError {
		out = l.err
	}
	if l.color {
		_, _ = io.WriteString(out, ts+" "+style.Render("["+tag+"]")+" "+text+"\n")
	} else {
		_, _ = io.WriteString(out, plain)
	}
	if l.file != nil {
		_, _ = io.WriteString(l.file, plain)
	}
}
