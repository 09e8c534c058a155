package upscaling

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"videoupscaler/internal/job"
	"videoupscaler/internal/runner"
)

// UpscalingConfig holds configuration for the per-frame upscaling tool
type UpscalingConfig struct {
	Binary    string // waifu2x-ncnn-vulkan compatible executable
	ModelsDir string // directory holding one folder per model
	Model     string
	Scale     int
	Device    job.Device
}

// Upscaler invokes the upscaling tool once per frame
type Upscaler struct {
	config UpscalingConfig
	exec   runner.Executor
}

// NewUpscaler validates config and creates a new upscaler instance
func NewUpscaler(exec runner.Executor, config UpscalingConfig) (*Upscaler, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return &Upscaler{config: config, exec: exec}, nil
}

// ValidateConfig validates upscaling configuration
func ValidateConfig(config UpscalingConfig) error {
	if err := job.ValidateScale(config.Scale); err != nil {
		return err
	}
	if err := job.ValidateModel(config.Model); err != nil {
		return err
	}
	if _, err := job.ParseDevice(string(config.Device)); err != nil {
		return err
	}
	if config.Binary == "" {
		return job.NewError(job.ErrInvalidParams, "upscaler binary is required")
	}
	return nil
}

// UpscaleFrame upscales a single frame from inputPath into outputPath. The
// frame only counts as done when the output file exists afterwards.
func (u *Upscaler) UpscaleFrame(ctx context.Context, inputPath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return job.NewErrorWithCause(job.ErrUpscale, "failed to create upscaled frames directory", err)
	}

	if err := u.exec.Run(ctx, u.config.Binary, u.args(inputPath, outputPath)...); err != nil {
		return job.NewErrorWithCause(job.ErrUpscale, "upscaling failed", err).
			WithContext("frame", filepath.Base(inputPath))
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return job.NewError(job.ErrUpscale, "upscaling completed but output file was not created").
			WithContext("frame", filepath.Base(inputPath))
	}
	return nil
}

func (u *Upscaler) args(inputPath, outputPath string) []string {
	return []string{
		"-i", inputPath,
		"-o", outputPath,
		"-n", "-1",
		"-s", strconv.Itoa(u.config.Scale),
		"-m", filepath.Join(u.config.ModelsDir, u.config.Model),
		"-g", gpuFlag(u.config.Device),
	}
}

// gpuFlag maps a device to the tool's -g argument: -1 selects the CPU path.
func gpuFlag(d job.Device) string {
	if d == job.DeviceCPU {
		return "-1"
	}
	return "0"
}

// Describe renders a one-line summary of the configuration for logs.
func (u *Upscaler) Describe() string {
	return fmt.Sprintf("%s x%d on %s", u.config.Model, u.config.Scale, u.config.Device)
}
