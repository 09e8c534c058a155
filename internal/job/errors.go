package job

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorKind int

const (
	ErrProbe ErrorKind = iota
	ErrUnsupportedScale
	ErrInvalidModel
	ErrInvalidDevice
	ErrInvalidParams
	ErrSplit
	ErrExtraction
	ErrUpscale
	ErrRebuild
	ErrMerge
	ErrNoResumableJob
	ErrState
	ErrMissingTool
)

// Error is the error type returned by every stage of a job.
type Error struct {
	Kind    ErrorKind
	Message string
	Context map[string]any
	Cause   error
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(kind ErrorKind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (k ErrorKind) String() string {
	switch k {
	case ErrProbe:
		return "ProbeError"
	case ErrUnsupportedScale:
		return "UnsupportedScaleError"
	case ErrInvalidModel:
		return "InvalidModelError"
	case ErrInvalidDevice:
		return "InvalidDeviceError"
	case ErrInvalidParams:
		return "InvalidParamsError"
	case ErrSplit:
		return "SplitError"
	case ErrExtraction:
		return "ExtractionError"
	case ErrUpscale:
		return "UpscaleError"
	case ErrRebuild:
		return "RebuildError"
	case ErrMerge:
		return "MergeError"
	case ErrNoResumableJob:
		return "NoResumableJobError"
	case ErrState:
		return "StateError"
	case ErrMissingTool:
		return "MissingToolError"
	default:
		return "UnknownError"
	}
}

// Advice returns a hint for the user about how to recover from err.
func Advice(err error) string {
	var jobErr *Error
	if !errors.As(err, &jobErr) {
		return "Check the log output above, fix the cause and run resume"
	}
	switch jobErr.Kind {
	case ErrProbe:
		return "Make sure the input is a readable video and ffprobe is installed"
	case ErrUnsupportedScale, ErrInvalidModel, ErrInvalidDevice, ErrInvalidParams:
		return "Run with --help to see the accepted values"
	case ErrSplit, ErrExtraction, ErrUpscale, ErrRebuild, ErrMerge:
		return "Check disk space and the tool installation, then run resume to continue where the job stopped"
	case ErrNoResumableJob:
		return "Start a new job first: videoupscaler input.mp4 output.mp4 2 60"
	case ErrState:
		return "Check permissions on the working directory"
	case ErrMissingTool:
		return "Install the tool or point VSR_FFMPEG, VSR_FFPROBE or VSR_UPSCALER at it"
	default:
		return "Check the log output above, fix the cause and run resume"
	}
}

// IsKind reports whether err, or any error it wraps, is an *Error of kind.
func IsKind(err error, kind ErrorKind) bool {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr.Kind == kind
	}
	return false
}
