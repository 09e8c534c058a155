// Package validation checks the paths of a job before any tool runs.
package validation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"videoupscaler/internal/job"
)

// SupportedInputFormats lists the source containers that split cleanly
// with stream copy.
var SupportedInputFormats = []string{".mp4", ".mkv", ".mov", ".avi", ".webm", ".flv", ".wmv", ".m4v", ".ts"}

// SupportedOutputFormats lists the containers the merged H.264 output can
// be written to.
var SupportedOutputFormats = []string{".mp4", ".mkv", ".mov"}

// getSystemDirectories returns platform-specific system directories to protect
func getSystemDirectories() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			"C:\\Windows",
			"C:\\Program Files",
			"C:\\Program Files (x86)",
			"C:\\ProgramData",
		}
	case "darwin":
		return []string{"/System", "/usr", "/bin", "/sbin", "/etc", "/private/etc", "/Applications"}
	default:
		return []string{"/etc", "/usr", "/bin", "/sbin", "/boot", "/sys", "/proc"}
	}
}

func getMaxPathLength() int {
	switch runtime.GOOS {
	case "windows":
		return 260
	case "linux":
		return 4096
	default:
		return 1024
	}
}

func normalizePathForComparison(path string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(filepath.Clean(path))
	}
	return filepath.Clean(path)
}

// CleanPath trims whitespace and the quotes a file manager adds when a
// file is dropped on the terminal, and returns the absolute path.
func CleanPath(input string) string {
	p := strings.TrimSpace(input)
	if len(p) >= 2 {
		if (p[0] == '\'' && p[len(p)-1] == '\'') || (p[0] == '"' && p[len(p)-1] == '"') {
			p = strings.TrimSpace(p[1 : len(p)-1])
		}
	}
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(p)
}

func invalid(format string, args ...any) *job.Error {
	return job.NewError(job.ErrInvalidParams, fmt.Sprintf(format, args...))
}

// ValidateInputPath checks that input is a readable, non-empty video file
// in a supported container.
func ValidateInputPath(input string) error {
	path := CleanPath(input)
	if path == "" {
		return invalid("input path cannot be empty")
	}
	if err := validatePathCharacters(path); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return invalid("input file does not exist: %s", path)
	}
	if err != nil {
		return job.NewErrorWithCause(job.ErrInvalidParams, "cannot access input file", err)
	}
	if info.IsDir() {
		return invalid("input path points to a directory, not a file: %s", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(SupportedInputFormats, ext) {
		return invalid("unsupported input format %q (supported: %s)", ext, strings.Join(SupportedInputFormats, ", "))
	}
	if info.Size() == 0 {
		return invalid("input file is empty: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return job.NewErrorWithCause(job.ErrInvalidParams, "cannot read input file", err)
	}
	f.Close()
	return nil
}

// ValidateOutputPath checks that output can be created: its directory
// exists and is writable, it is not a directory, it is not the input, and
// it does not point into a system directory. An existing file is
// overwritten by the merge.
func ValidateOutputPath(output, input string) error {
	path := CleanPath(output)
	if path == "" {
		return invalid("output path cannot be empty")
	}
	if err := validatePathCharacters(path); err != nil {
		return err
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return invalid("output path points to a directory; add a file name such as %s",
			filepath.Join(output, "upscaled.mp4"))
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(SupportedOutputFormats, ext) {
		return invalid("unsupported output format %q (supported: %s)", ext, strings.Join(SupportedOutputFormats, ", "))
	}
	if input != "" && normalizePathForComparison(path) == normalizePathForComparison(CleanPath(input)) {
		return invalid("output must differ from the input file")
	}

	parent := filepath.Dir(path)
	info, err := os.Stat(parent)
	if errors.Is(err, fs.ErrNotExist) {
		return invalid("output directory does not exist: %s", parent)
	}
	if err != nil {
		return job.NewErrorWithCause(job.ErrInvalidParams, "cannot access output directory", err)
	}
	if !info.IsDir() {
		return invalid("output parent path is not a directory: %s", parent)
	}
	if err := checkWritePermission(parent); err != nil {
		return job.NewErrorWithCause(job.ErrInvalidParams, "cannot write to output directory", err).
			WithContext("dir", parent)
	}
	return validatePathSecurity(path)
}

// ValidateWorkDir creates dir if needed and checks that it is writable.
func ValidateWorkDir(dir string) error {
	path := CleanPath(dir)
	if path == "" {
		return invalid("working directory cannot be empty")
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return invalid("working directory is a file: %s", path)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return job.NewErrorWithCause(job.ErrState, "cannot create working directory", err).
			WithContext("dir", path)
	}
	if err := checkWritePermission(path); err != nil {
		return job.NewErrorWithCause(job.ErrState, "cannot write to working directory", err).
			WithContext("dir", path)
	}
	return nil
}

func checkWritePermission(dir string) error {
	f, err := os.CreateTemp(dir, ".videoupscaler_write_test-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func validatePathSecurity(path string) error {
	if maxLen := getMaxPathLength(); len(path) > maxLen {
		return invalid("path too long (max %d characters)", maxLen)
	}
	normalized := normalizePathForComparison(path)
	for _, sysDir := range getSystemDirectories() {
		d := normalizePathForComparison(sysDir)
		if normalized == d || strings.HasPrefix(normalized, d+string(filepath.Separator)) {
			return invalid("cannot write to system directory: %s", sysDir)
		}
	}
	return nil
}

func validatePathCharacters(path string) error {
	if strings.Contains(path, "\x00") {
		return invalid("path contains null bytes")
	}
	if runtime.GOOS != "windows" {
		return nil
	}

	// Skip the drive letter's colon.
	rest := path
	if len(rest) >= 2 && rest[1] == ':' {
		rest = rest[2:]
	}
	for _, c := range []string{"<", ">", ":", "\"", "|", "?", "*"} {
		if strings.Contains(rest, c) {
			return invalid("path contains invalid character: %s", c)
		}
	}

	base := strings.ToUpper(filepath.Base(path))
	if i := strings.LastIndex(base, "."); i != -1 {
		base = base[:i]
	}
	reserved := []string{
		"CON", "PRN", "AUX", "NUL",
		"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
		"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
	}
	if slices.Contains(reserved, base) {
		return invalid("path uses reserved Windows name: %s", base)
	}
	return nil
}
