package ui

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"

	"videoupscaler/internal/job"
	"videoupscaler/internal/validation"
)

// Prompter asks the user for input.
type Prompter interface {
	PromptString(label, defaultValue string, validate func(string) error) (string, error)
	Select(label string, items []string, defaultIndex int) (int, error)
	Confirm(label string) (bool, error)
}

// TerminalPrompter implements Prompter with promptui.
type TerminalPrompter struct{}

func (TerminalPrompter) PromptString(label, defaultValue string, validate func(string) error) (string, error) {
	prompt := promptui.Prompt{
		Label:     label,
		Default:   defaultValue,
		AllowEdit: true,
	}
	if validate != nil {
		prompt.Validate = validate
	}
	return prompt.Run()
}

func (TerminalPrompter) Select(label string, items []string, defaultIndex int) (int, error) {
	sel := promptui.Select{
		Label:     label,
		Items:     items,
		CursorPos: defaultIndex,
		Size:      len(items),
	}
	i, _, err := sel.Run()
	return i, err
}

// Confirm answers false, without an error, when the user declines.
func (TerminalPrompter) Confirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	_, err := prompt.Run()
	if errors.Is(err, promptui.ErrAbort) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const (
	LabelInput        = "📁 Input video"
	LabelOutput       = "💾 Output video"
	LabelScale        = "🔍 Scale factor"
	LabelChunkSeconds = "✂️  Chunk duration (seconds)"
	LabelModel        = "🧠 Model"
	LabelDevice       = "🖥️  Device"
)

// CollectParams asks for every job parameter, validating each answer the
// same way the command line is validated. defaults pre-fills the answers.
func CollectParams(p Prompter, defaults job.Params) (job.Params, error) {
	var params job.Params

	in, err := p.PromptString(LabelInput, defaults.InputPath, validation.ValidateInputPath)
	if err != nil {
		return params, err
	}
	params.InputPath = validation.CleanPath(in)

	out, err := p.PromptString(LabelOutput, defaults.OutputPath, func(s string) error {
		return validation.ValidateOutputPath(s, params.InputPath)
	})
	if err != nil {
		return params, err
	}
	params.OutputPath = validation.CleanPath(out)

	scales := make([]string, len(job.ScaleFactors))
	scaleIdx := 0
	for i, s := range job.ScaleFactors {
		scales[i] = fmt.Sprintf("%dx", s)
		if s == defaults.Scale {
			scaleIdx = i
		}
	}
	i, err := p.Select(LabelScale, scales, scaleIdx)
	if err != nil {
		return params, err
	}
	params.Scale = job.ScaleFactors[i]

	chunkDefault := ""
	if defaults.ChunkSeconds > 0 {
		chunkDefault = strconv.Itoa(defaults.ChunkSeconds)
	}
	secs, err := p.PromptString(LabelChunkSeconds, chunkDefault, func(s string) error {
		_, err := job.ParseChunkSeconds(s)
		return err
	})
	if err != nil {
		return params, err
	}
	if params.ChunkSeconds, err = job.ParseChunkSeconds(secs); err != nil {
		return params, err
	}

	models := make([]string, len(job.Models))
	modelIdx := 0
	for i, m := range job.Models {
		models[i] = fmt.Sprintf("%s (%s)", m, job.ModelDescriptions[m])
		if m == defaults.Model {
			modelIdx = i
		}
	}
	if i, err = p.Select(LabelModel, models, modelIdx); err != nil {
		return params, err
	}
	params.Model = job.Models[i]

	devices := []job.Device{job.DeviceGPU, job.DeviceCPU}
	deviceIdx := 0
	if defaults.Device == job.DeviceCPU {
		deviceIdx = 1
	}
	if i, err = p.Select(LabelDevice, []string{"gpu", "cpu"}, deviceIdx); err != nil {
		return params, err
	}
	params.Device = devices[i]

	return params, params.Validate()
}
