// Package job defines the parameters of an upscaling job and the error
// taxonomy shared by every stage of the pipeline.
package job

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Device selects where the upscaling tool runs.
type Device string

const (
	DeviceCPU Device = "cpu"
	DeviceGPU Device = "gpu"
)

// DefaultModel is used when no model is given on the command line.
const DefaultModel = "models-cunet"

// ScaleFactors lists every scale factor the upscaling tool accepts.
var ScaleFactors = []int{2, 4, 8, 16, 32}

// Models lists the recognised model identifiers.
var Models = []string{
	"models-cunet",
	"models-upconv_7_anime_style_art_rgb",
	"models-upconv_7_photo",
}

// ModelDescriptions provides user-friendly descriptions
var ModelDescriptions = map[string]string{
	"models-cunet":                        "CUnet (best quality, slowest)",
	"models-upconv_7_anime_style_art_rgb": "UpConv7 anime/art (fast, for drawn content)",
	"models-upconv_7_photo":               "UpConv7 photo (fast, for camera footage)",
}

// Params holds everything needed to run, or resume, one job. It is persisted
// verbatim in the last-operation record.
type Params struct {
	InputPath    string `json:"input_path"`
	OutputPath   string `json:"output_path"`
	Scale        int    `json:"scale_factor"`
	ChunkSeconds int    `json:"chunk_duration"`
	Model        string `json:"model"`
	Device       Device `json:"device"`
}

// Validate checks the parameters before any external tool is invoked.
func (p Params) Validate() error {
	if err := ValidateScale(p.Scale); err != nil {
		return err
	}
	if err := ValidateModel(p.Model); err != nil {
		return err
	}
	if _, err := ParseDevice(string(p.Device)); err != nil {
		return err
	}
	if p.ChunkSeconds <= 0 {
		return NewError(ErrInvalidParams, "chunk duration must be a positive number of seconds").
			WithContext("chunk_duration", p.ChunkSeconds)
	}
	if strings.TrimSpace(p.InputPath) == "" {
		return NewError(ErrInvalidParams, "input path is required")
	}
	if strings.TrimSpace(p.OutputPath) == "" {
		return NewError(ErrInvalidParams, "output path is required")
	}
	return nil
}

// ValidateScale rejects scale factors outside ScaleFactors.
func ValidateScale(scale int) error {
	if slices.Contains(ScaleFactors, scale) {
		return nil
	}
	return NewError(ErrUnsupportedScale,
		fmt.Sprintf("unsupported scale factor %d (supported: %s)", scale, joinInts(ScaleFactors))).
		WithContext("scale_factor", scale)
}

// ValidateModel rejects model identifiers outside Models.
func ValidateModel(model string) error {
	if slices.Contains(Models, model) {
		return nil
	}
	return NewError(ErrInvalidModel,
		fmt.Sprintf("invalid model %q (valid options: %s)", model, strings.Join(Models, ", "))).
		WithContext("model", model)
}

// ParseDevice maps a device flag to a Device. Empty input selects the GPU.
func ParseDevice(s string) (Device, error) {
	switch Device(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeviceGPU:
		return DeviceGPU, nil
	case DeviceCPU:
		return DeviceCPU, nil
	}
	return "", NewError(ErrInvalidDevice, fmt.Sprintf("invalid device %q (expected cpu or gpu)", s))
}

// ParseScale parses a command-line scale factor and validates it.
func ParseScale(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, NewErrorWithCause(ErrUnsupportedScale, fmt.Sprintf("scale factor %q is not an integer", s), err)
	}
	return n, ValidateScale(n)
}

// ParseChunkSeconds parses a command-line chunk duration.
func ParseChunkSeconds(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, NewError(ErrInvalidParams, fmt.Sprintf("chunk duration %q must be a positive integer", s))
	}
	return n, nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
