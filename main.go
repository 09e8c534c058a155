package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"videoupscaler/internal/config"
	"videoupscaler/internal/job"
	"videoupscaler/internal/logging"
	"videoupscaler/internal/pipeline"
	"videoupscaler/internal/runner"
	"videoupscaler/internal/state"
	"videoupscaler/internal/ui"
	"videoupscaler/internal/validation"
)

var version = "dev"

const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

const usage = `Usage:
  videoupscaler [flags] <input> <output> <scale> <chunk_seconds> [model] [device]
  videoupscaler [flags] resume
  videoupscaler --interactive

Upscales a video chunk by chunk with a per-frame super-resolution tool.
Progress is checkpointed after every frame; an interrupted job continues
with "videoupscaler resume" in the same working directory.

Scale factors: %s
Models:        %s (default %s)

Flags:
`

type mode int

const (
	modeFresh mode = iota
	modeResume
	modeInteractive
	modeVersion
	modeHelp
)

type cliOptions struct {
	mode        mode
	params      job.Params
	device      string
	workers     int
	workDir     string
	stateStore  string
	yes         bool
	interactive bool
	verbose     bool
}

// parseArgs accepts flags before, between and after the positional arguments.
func parseArgs(args []string, stderr io.Writer) (*cliOptions, error) {
	opts := &cliOptions{}
	fs := flag.NewFlagSet("videoupscaler", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		scales := make([]string, len(job.ScaleFactors))
		for i, s := range job.ScaleFactors {
			scales[i] = fmt.Sprint(s)
		}
		fmt.Fprintf(stderr, usage, strings.Join(scales, ", "), strings.Join(job.Models, ", "), job.DefaultModel)
		fs.PrintDefaults()
	}

	var showVersion bool
	fs.StringVar(&opts.device, "device", "gpu", "where the upscaler runs: cpu or gpu")
	fs.IntVar(&opts.workers, "workers", 0, "concurrent upscaler processes per chunk (default from VSR_WORKERS, else 1)")
	fs.StringVar(&opts.workDir, "work-dir", "", "working directory for state and temp files (default from VSR_WORK_DIR, else .)")
	fs.StringVar(&opts.stateStore, "state", "", "state backend: file or sqlite (default from VSR_STATE_BACKEND, else file)")
	fs.BoolVar(&opts.yes, "yes", false, "discard an unfinished job without asking")
	fs.BoolVar(&opts.interactive, "interactive", false, "ask for the job parameters")
	fs.BoolVar(&opts.verbose, "verbose", false, "show tool output and debug logs")
	fs.BoolVar(&showVersion, "version", false, "print the version and exit")

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				opts.mode = modeHelp
				return opts, nil
			}
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			break
		}
		positional = append(positional, args[0])
		args = args[1:]
	}

	switch {
	case showVersion:
		opts.mode = modeVersion
	case len(positional) == 1 && positional[0] == "resume":
		opts.mode = modeResume
	case len(positional) == 0:
		opts.mode = modeInteractive
	case len(positional) >= 4 && len(positional) <= 6:
		opts.mode = modeFresh
		params, err := freshParams(positional, opts.device)
		if err != nil {
			return nil, err
		}
		opts.params = params
	default:
		fs.Usage()
		return nil, fmt.Errorf("expected 4 to 6 arguments or \"resume\", got %d", len(positional))
	}
	return opts, nil
}

func freshParams(pos []string, device string) (job.Params, error) {
	params := job.Params{
		InputPath:  validation.CleanPath(pos[0]),
		OutputPath: validation.CleanPath(pos[1]),
		Model:      job.DefaultModel,
	}

	var err error
	if params.Scale, err = job.ParseScale(pos[2]); err != nil {
		return params, err
	}
	if params.ChunkSeconds, err = job.ParseChunkSeconds(pos[3]); err != nil {
		return params, err
	}
	if len(pos) >= 5 {
		params.Model = pos[4]
	}
	if err := job.ValidateModel(params.Model); err != nil {
		return params, err
	}
	if len(pos) == 6 {
		device = pos[5]
	}
	if params.Device, err = job.ParseDevice(device); err != nil {
		return params, err
	}
	return params, nil
}

// app holds what main wires from the process environment.
type app struct {
	stdout   io.Writer
	stderr   io.Writer
	color    bool
	terminal bool
	prompter ui.Prompter
	// exec and toolCheck replace the real process runner when set.
	exec      runner.Executor
	toolCheck func(string) bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	terminal := logging.IsTerminal(os.Stdin) && logging.IsTerminal(os.Stdout)
	a := &app{
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		color:    logging.ColorEnabled(os.Stdout),
		terminal: terminal,
		prompter: ui.TerminalPrompter{},
	}
	code := a.run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func (a *app) run(ctx context.Context, args []string) int {
	opts, err := parseArgs(args, a.stderr)
	if err != nil {
		ui.PrintError(a.stderr, err)
		if job.IsKind(err, job.ErrUnsupportedScale) || job.IsKind(err, job.ErrInvalidModel) ||
			job.IsKind(err, job.ErrInvalidDevice) || job.IsKind(err, job.ErrInvalidParams) {
			return exitFailure
		}
		return exitUsage
	}

	switch opts.mode {
	case modeHelp:
		return exitOK
	case modeVersion:
		fmt.Fprintln(a.stdout, "videoupscaler", version)
		return exitOK
	case modeInteractive:
		if !opts.interactive && !a.terminal {
			ui.PrintError(a.stderr, job.NewError(job.ErrInvalidParams, "no arguments given and no terminal to ask on"))
			return exitUsage
		}
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		ui.PrintError(a.stderr, err)
		return exitFailure
	}
	cfg, err := config.NewFromEnv(configOptions(opts)...)
	if err != nil {
		ui.PrintError(a.stderr, job.NewErrorWithCause(job.ErrInvalidParams, "invalid configuration", err))
		return exitFailure
	}

	logger, err := logging.New(logging.Options{
		Level: cfg.LogLevel(),
		Color: a.color,
		File:  cfg.Log.File,
		Out:   a.stdout,
		Err:   a.stderr,
	})
	if err != nil {
		ui.PrintError(a.stderr, err)
		return exitFailure
	}
	defer logger.Close()

	if opts.mode != modeResume {
		fmt.Fprintln(a.stdout, ui.Title(version))
	}

	if opts.mode == modeInteractive {
		defaults := job.Params{Scale: 2, ChunkSeconds: 60, Model: job.DefaultModel, Device: job.Device(opts.device)}
		opts.params, err = ui.CollectParams(a.prompter, defaults)
		if err != nil {
			ui.PrintError(a.stderr, err)
			return exitFailure
		}
		opts.mode = modeFresh
	}

	if opts.mode == modeFresh {
		if err := validateFresh(opts.params, cfg.Job.WorkDir); err != nil {
			ui.PrintError(a.stderr, err)
			return exitFailure
		}
	}

	store, err := state.Open(cfg.Job.StateBackend, cfg.Job.WorkDir)
	if err != nil {
		ui.PrintError(a.stderr, job.NewErrorWithCause(job.ErrState, "cannot open state store", err))
		return exitFailure
	}
	defer state.Close(store)

	exec := a.exec
	if exec == nil {
		exec = runner.NewExecRunner(cfg.Log.Verbose, func(cmd string) { logger.Debug("$ %s", cmd) })
	}
	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithReporter(ui.NewFrameProgress(a.stdout)),
	}
	if a.terminal {
		pipeOpts = append(pipeOpts, pipeline.WithConfirmer(a.prompter))
	}
	if a.toolCheck != nil {
		pipeOpts = append(pipeOpts, pipeline.WithToolCheck(a.toolCheck))
	}
	p := pipeline.New(pipeline.Config{
		WorkDir:   cfg.Job.WorkDir,
		FFmpeg:    cfg.Tools.FFmpeg,
		FFprobe:   cfg.Tools.FFprobe,
		Upscaler:  cfg.Tools.Upscaler,
		ModelsDir: cfg.Tools.ModelsDir,
		Workers:   cfg.Job.Workers,
		AssumeYes: opts.yes,
	}, exec, store, pipeOpts...)

	var res *pipeline.Result
	if opts.mode == modeResume {
		res, err = p.Resume(ctx)
	} else {
		res, err = p.Start(ctx, opts.params)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(a.stderr)
			ui.PrintHint(a.stderr, "⏸  Interrupted. Completed frames are saved; run \"videoupscaler resume\" to continue.")
			return exitInterrupted
		}
		ui.PrintError(a.stderr, err)
		return exitFailure
	}

	if res.NothingToResume {
		ui.PrintSuccess(a.stdout, fmt.Sprintf("Nothing to resume: job %s already completed (%s)", res.JobID, res.OutputPath))
		return exitOK
	}
	msg := fmt.Sprintf("Upscaling completed: %s", res.OutputPath)
	if info, err := os.Stat(res.OutputPath); err == nil {
		msg += fmt.Sprintf(" (%s)", ui.FormatFileSize(info.Size()))
	}
	ui.PrintSuccess(a.stdout, msg)
	return exitOK
}

func configOptions(opts *cliOptions) []config.Option {
	var ret []config.Option
	if opts.workers > 0 {
		ret = append(ret, config.WithWorkers(opts.workers))
	}
	if opts.workDir != "" {
		ret = append(ret, config.WithWorkDir(opts.workDir))
	}
	if opts.stateStore != "" {
		ret = append(ret, config.WithStateBackend(opts.stateStore))
	}
	if opts.verbose {
		ret = append(ret, config.WithVerbose(true))
	}
	return ret
}

func validateFresh(params job.Params, workDir string) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if err := validation.ValidateInputPath(params.InputPath); err != nil {
		return err
	}
	if err := validation.ValidateOutputPath(params.OutputPath, params.InputPath); err != nil {
		return err
	}
	return validation.ValidateWorkDir(workDir)
}
