package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoupscaler/internal/job"
	"videoupscaler/internal/mocks"
	"videoupscaler/internal/planner"
	"videoupscaler/internal/state"
)

// harness simulates ffmpeg, ffprobe and the upscaler on a real temp
// directory. A split segment holds its duration as text and extraction
// writes one frame per secondsPerFrame of it.
type harness struct {
	t      *testing.T
	work   string
	input  string
	output string
	store  state.Store
	exec   *mocks.MockCommandExecutor

	secondsPerFrame float64
	hasAudio        bool

	mu           sync.Mutex
	upscaled     []string
	encoded      []string
	upscaleCalls int
	failUpscale  int // fail the n-th upscaler call of this run, 0 never
	failExtract  string
	failEncode   string // fail encoding of the chunk whose id is given
	failConcat   bool
	emptyBelow   float64 // segments shorter than this extract no frames
	running      int32
	maxRunning   int32
	upscaleDelay time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	work := t.TempDir()
	h := &harness{
		t:               t,
		work:            work,
		input:           filepath.Join(work, "in.mp4"),
		output:          filepath.Join(work, "out.mp4"),
		store:           state.NewMemoryStore(),
		exec:            mocks.NewMockCommandExecutor(),
		secondsPerFrame: 20,
		hasAudio:        true,
	}
	h.exec.OnRun = h.onRun
	h.probe("0:02:05.000000", "24/1")
	return h
}

func (h *harness) probe(duration, rate string) {
	h.exec.SetResponse(duration+"\n", "ffprobe",
		"-v", "error", "-show_entries", "format=duration", "-sexagesimal",
		"-of", "default=noprint_wrappers=1:nokey=1", h.input)
	h.exec.SetResponse(rate+"\n", "ffprobe",
		"-v", "0", "-of", "csv=p=0", "-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate", h.input)
}

func (h *harness) params() job.Params {
	return job.Params{
		InputPath:    h.input,
		OutputPath:   h.output,
		Scale:        2,
		ChunkSeconds: 60,
		Model:        job.DefaultModel,
		Device:       job.DeviceGPU,
	}
}

func (h *harness) pipeline(workers int, opts ...Option) *Pipeline {
	cfg := Config{
		WorkDir:   h.work,
		Upscaler:  "waifu2x",
		ModelsDir: "/models",
		Workers:   workers,
	}
	base := []Option{
		WithToolCheck(func(string) bool { return true }),
		WithClock(mocks.NewMockTime()),
	}
	return New(cfg, h.exec, h.store, append(base, opts...)...)
}

// newRun forgets what the previous run invoked.
func (h *harness) newRun() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.upscaled = nil
	h.encoded = nil
	h.upscaleCalls = 0
	h.failUpscale = 0
	h.failExtract = ""
	h.failEncode = ""
	h.failConcat = false
	h.exec.CallLog = nil
}

func (h *harness) upscaledFrames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.upscaled...)
}

func argAfter(args []string, flag string) string {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

func (h *harness) onRun(name string, args []string) error {
	switch name {
	case "ffmpeg":
		return h.fakeFFmpeg(args)
	case "waifu2x":
		return h.fakeUpscaler(args)
	}
	return nil
}

func (h *harness) fakeFFmpeg(args []string) error {
	out := args[len(args)-1]
	switch {
	case slices.Contains(args, "-ss"):
		return os.WriteFile(out, []byte(argAfter(args, "-t")), 0644)

	case slices.Contains(args, "-qscale:v"):
		seg := argAfter(args, "-i")
		h.mu.Lock()
		fail := h.failExtract != "" && strings.Contains(seg, h.failExtract)
		h.mu.Unlock()
		if fail {
			return errors.New("exit status 1")
		}
		data, err := os.ReadFile(seg)
		if err != nil {
			return err
		}
		d, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return err
		}
		n := int(math.Ceil(d / h.secondsPerFrame))
		if d < h.emptyBelow {
			n = 0
		}
		dir := filepath.Dir(out)
		for i := 1; i <= n; i++ {
			if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("frame_%06d.png", i)), []byte("raw"), 0644); err != nil {
				return err
			}
		}
		return nil

	case slices.Contains(args, "-framerate"):
		in := argAfter(args, "-i")
		h.mu.Lock()
		fail := h.failEncode != "" && strings.Contains(in, h.failEncode+"/")
		h.mu.Unlock()
		if fail {
			return errors.New("exit status 1")
		}
		entries, err := os.ReadDir(filepath.Dir(in))
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.encoded = append(h.encoded, filepath.Base(out))
		h.mu.Unlock()
		return os.WriteFile(out, []byte(fmt.Sprintf("frames=%d", len(entries))), 0644)

	case slices.Contains(args, "concat"):
		h.mu.Lock()
		fail := h.failConcat
		h.mu.Unlock()
		if fail {
			return errors.New("exit status 1")
		}
		if !h.hasAudio && slices.Contains(args, "1:a") {
			return errors.New("stream map '1:a' matches no streams")
		}
		list, err := os.ReadFile(argAfter(args, "-i"))
		if err != nil {
			return err
		}
		return os.WriteFile(out, list, 0644)
	}
	return fmt.Errorf("unexpected ffmpeg call: %v", args)
}

func (h *harness) fakeUpscaler(args []string) error {
	in, out := argAfter(args, "-i"), argAfter(args, "-o")
	frame := filepath.Base(filepath.Dir(filepath.Dir(in))) + "/" + filepath.Base(in)

	n := atomic.AddInt32(&h.running, 1)
	defer atomic.AddInt32(&h.running, -1)
	for {
		m := atomic.LoadInt32(&h.maxRunning)
		if n <= m || atomic.CompareAndSwapInt32(&h.maxRunning, m, n) {
			break
		}
	}

	h.mu.Lock()
	h.upscaleCalls++
	fail := h.failUpscale != 0 && h.upscaleCalls == h.failUpscale
	delay := h.upscaleDelay
	h.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return errors.New("exit status 255")
	}
	if err := os.WriteFile(out, []byte("upscaled"), 0644); err != nil {
		return err
	}
	h.mu.Lock()
	h.upscaled = append(h.upscaled, frame)
	h.mu.Unlock()
	return nil
}

type recordingReporter struct {
	mu       sync.Mutex
	summary  Summary
	started  map[string][2]int
	frames   int
	finished []string
	onDone   func(planner.Chunk)
}

func (r *recordingReporter) JobPlanned(s Summary) {
	r.summary = s
}

func (r *recordingReporter) ChunkStarted(c planner.Chunk, frames, done int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started == nil {
		r.started = make(map[string][2]int)
	}
	r.started[c.ID()] = [2]int{frames, done}
}

func (r *recordingReporter) FrameDone(planner.Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames++
}

func (r *recordingReporter) ChunkDone(c planner.Chunk) {
	r.mu.Lock()
	r.finished = append(r.finished, c.ID())
	r.mu.Unlock()
	if r.onDone != nil {
		r.onDone(c)
	}
}

// flakyStore fails the n-th Write or Delete of a key, e.g. "Delete progress": 2.
type flakyStore struct {
	state.Store

	mu    sync.Mutex
	calls map[string]int
	fail  map[string]int
}

func newFlakyStore(inner state.Store, fail map[string]int) *flakyStore {
	return &flakyStore{Store: inner, calls: make(map[string]int), fail: fail}
}

func (s *flakyStore) hit(op, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := op + " " + key
	s.calls[k]++
	if n, ok := s.fail[k]; ok && s.calls[k] == n {
		return errors.New("disk full")
	}
	return nil
}

func (s *flakyStore) Write(key string, data []byte) error {
	if err := s.hit("Write", key); err != nil {
		return err
	}
	return s.Store.Write(key, data)
}

func (s *flakyStore) Delete(key string) error {
	if err := s.hit("Delete", key); err != nil {
		return err
	}
	return s.Store.Delete(key)
}

func loadProgress(t *testing.T, store state.Store) *state.Progress {
	t.Helper()
	p, err := state.LoadProgress(store)
	require.NoError(t, err)
	return p
}

func TestStart_EndToEnd(t *testing.T) {
	h := newHarness(t)
	h.store = state.NewFileStore(h.work)
	rep := &recordingReporter{}

	res, err := h.pipeline(1, WithReporter(rep)).Start(context.Background(), h.params())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, h.output, res.OutputPath)
	assert.False(t, res.NothingToResume)

	splits := h.exec.CallsContaining("ffmpeg", "-ss")
	require.Len(t, splits, 3)
	assert.Contains(t, splits[0], "-ss 0.000 -t 60.000")
	assert.Contains(t, splits[1], "-ss 60.000 -t 60.000")
	assert.Contains(t, splits[2], "-ss 120.000 -t 5.000")

	assert.Equal(t, []string{
		"chunk_001/frame_000001.png", "chunk_001/frame_000002.png", "chunk_001/frame_000003.png",
		"chunk_002/frame_000001.png", "chunk_002/frame_000002.png", "chunk_002/frame_000003.png",
		"chunk_003/frame_000001.png",
	}, h.upscaledFrames())
	for _, call := range h.exec.CallsContaining("waifu2x") {
		assert.Contains(t, call, "-s 2 -m /models/models-cunet -g 0")
	}

	encodes := h.exec.CallsContaining("ffmpeg", "-framerate 24/1")
	assert.Len(t, encodes, 3)
	assert.Equal(t, []string{"upscaled_chunk_001.part.mp4", "upscaled_chunk_002.part.mp4", "upscaled_chunk_003.part.mp4"}, h.encoded)

	merged, err := os.ReadFile(h.output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(merged)), "\n")
	require.Len(t, lines, 3)
	for i, line := range lines {
		assert.Contains(t, line, fmt.Sprintf("upscaled_chunk_%03d.mp4'", i+1))
	}

	concat := h.exec.CallsContaining("ffmpeg", "concat")
	require.Len(t, concat, 1)
	assert.Contains(t, concat[0], "-i "+h.input+" -c:v copy -c:a copy -map 0:v:0 -map 1:a? -map 1:s?")

	assert.NoDirExists(t, filepath.Join(h.work, "temp"))
	ok, err := h.store.Exists(state.KeyProgress)
	require.NoError(t, err)
	assert.False(t, ok, "a completed job leaves no progress record")

	op, err := state.LoadLastOperation(h.store)
	require.NoError(t, err)
	assert.Equal(t, res.JobID, op.JobID)
	assert.Equal(t, state.StatusCompleted, op.Status)
	assert.Equal(t, h.params(), op.Params)
	require.NotNil(t, op.CompletedAt)
	assert.True(t, mocks.NewMockTime().Now().Equal(*op.CompletedAt))

	assert.Equal(t, 3, rep.summary.Chunks)
	assert.Equal(t, 24.0, rep.summary.FrameRate)
	assert.Equal(t, 125.0, rep.summary.Duration)
	assert.False(t, rep.summary.Resumed)
	assert.Equal(t, 7, rep.frames)
	assert.Equal(t, []string{"chunk_001", "chunk_002", "chunk_003"}, rep.finished)
}

func TestResume_ContinuesAfterLastCompletedFrame(t *testing.T) {
	h := newHarness(t)
	h.failUpscale = 5 // second frame of chunk_002

	_, err := h.pipeline(1).Start(context.Background(), h.params())
	require.Error(t, err)
	assert.True(t, job.IsKind(err, job.ErrUpscale), "got %v", err)

	progress := loadProgress(t, h.store)
	assert.True(t, progress.IsChunkDone("chunk_001"))
	assert.True(t, progress.IsFrameDone("chunk_002/frame_000001.png"))
	assert.False(t, progress.IsFrameDone("chunk_002/frame_000002.png"))
	assert.FileExists(t, filepath.Join(h.work, "temp", "chunks", "upscaled_chunk_001.mp4"))

	op, err := state.LoadLastOperation(h.store)
	require.NoError(t, err)
	assert.Equal(t, state.StatusRunning, op.Status)

	h.newRun()
	rep := &recordingReporter{}
	res, err := h.pipeline(1, WithReporter(rep)).Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, op.JobID, res.JobID)

	assert.Equal(t, []string{
		"chunk_002/frame_000002.png", "chunk_002/frame_000003.png",
		"chunk_003/frame_000001.png",
	}, h.upscaledFrames())
	assert.Empty(t, h.exec.CallsContaining("ffmpeg", "-ss"), "segments are reused")
	extracts := h.exec.CallsContaining("ffmpeg", "-qscale:v")
	require.Len(t, extracts, 1)
	assert.Contains(t, extracts[0], "chunk_003.mp4")
	assert.Equal(t, [2]int{3, 1}, rep.started["chunk_002"])
	assert.True(t, rep.summary.Resumed)
	assert.Equal(t, 1, rep.summary.CompletedChunks)
	assert.FileExists(t, h.output)
}

func TestResume_SkipsCompletedChunk(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := &recordingReporter{onDone: func(c planner.Chunk) {
		if c.Index == 1 {
			cancel()
		}
	}}

	_, err := h.pipeline(1, WithReporter(rep)).Start(ctx, h.params())
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, loadProgress(t, h.store).IsChunkDone("chunk_001"))
	assert.NoFileExists(t, h.output)

	h.newRun()
	_, err = h.pipeline(1).Resume(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.exec.CallsContaining("chunk_001.mp4"), "chunk_001 must not be split or extracted again")
	for _, f := range h.upscaledFrames() {
		assert.False(t, strings.HasPrefix(f, "chunk_001/"), "re-upscaled %s", f)
	}
	assert.Len(t, h.upscaledFrames(), 4)
	assert.FileExists(t, h.output)
}

func writeRunningJob(t *testing.T, store state.Store, params job.Params) {
	t.Helper()
	require.NoError(t, state.SaveLastOperation(store, &state.LastOperation{
		JobID:     "3b241101-e2bb-4255-8caf-4136c566a962",
		Params:    params,
		Status:    state.StatusRunning,
		StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
}

func TestResume_NeverReupscalesCheckpointedFrame(t *testing.T) {
	h := newHarness(t)
	writeRunningJob(t, h.store, h.params())

	progress := loadProgress(t, h.store)
	require.NoError(t, progress.MarkFrame("chunk_001/frame_000002.png"))
	up := filepath.Join(h.work, "temp", "chunks", "chunk_001", "upscaled_frames")
	require.NoError(t, os.MkdirAll(up, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(up, "frame_000002.png"), []byte("upscaled"), 0644))

	_, err := h.pipeline(1).Resume(context.Background())
	require.NoError(t, err)

	assert.NotContains(t, h.upscaledFrames(), "chunk_001/frame_000002.png")
	assert.Len(t, h.upscaledFrames(), 6)
	assert.Empty(t, h.exec.CallsContaining("waifu2x", "chunk_001/frames/frame_000002.png"))
}

func TestResume_RebuiltSegmentIsTrusted(t *testing.T) {
	h := newHarness(t)
	writeRunningJob(t, h.store, h.params())

	chunks := filepath.Join(h.work, "temp", "chunks")
	frames := filepath.Join(chunks, "chunk_001", "frames")
	require.NoError(t, os.MkdirAll(frames, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(chunks, "upscaled_chunk_001.mp4"), []byte("rebuilt"), 0644))
	progress := loadProgress(t, h.store)
	require.NoError(t, progress.MarkFrame("chunk_001/frame_000001.png"))

	_, err := h.pipeline(1).Resume(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.exec.CallsContaining("chunk_001"), "chunk_001 needs no tool call: %v", h.exec.Calls())
	assert.Equal(t, []string{"upscaled_chunk_002.part.mp4", "upscaled_chunk_003.part.mp4"}, h.encoded)
}

func TestInvalidScale_RejectedBeforeAnyTool(t *testing.T) {
	h := newHarness(t)
	params := h.params()
	params.Scale = 3

	_, err := h.pipeline(1).Start(context.Background(), params)
	require.Error(t, err)
	assert.True(t, job.IsKind(err, job.ErrUnsupportedScale))
	assert.Empty(t, h.exec.Calls())
	ok, err := h.store.Exists(state.KeyLastOperation)
	require.NoError(t, err)
	assert.False(t, ok)

	writeRunningJob(t, h.store, params)
	_, err = h.pipeline(1).Resume(context.Background())
	require.Error(t, err)
	assert.True(t, job.IsKind(err, job.ErrUnsupportedScale))
	assert.Empty(t, h.exec.Calls())
}

func TestResume_NoRecord(t *testing.T) {
	for _, backend := range []string{state.BackendFile, state.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			h := newHarness(t)
			work := t.TempDir()
			store, err := state.Open(backend, work)
			require.NoError(t, err)
			t.Cleanup(func() { _ = state.Close(store) })

			p := New(Config{WorkDir: work, Upscaler: "waifu2x"}, h.exec, store,
				WithToolCheck(func(string) bool { return true }))
			_, err = p.Resume(context.Background())
			require.Error(t, err)
			assert.True(t, job.IsKind(err, job.ErrNoResumableJob))
			assert.Empty(t, h.exec.Calls())

			entries, err := os.ReadDir(work)
			require.NoError(t, err)
			assert.Empty(t, entries, "resume without a job must not touch the working directory")
		})
	}
}

func TestResume_CompletedJob(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline(1).Start(context.Background(), h.params())
	require.NoError(t, err)

	h.newRun()
	res, err := h.pipeline(1).Resume(context.Background())
	require.NoError(t, err)
	assert.True(t, res.NothingToResume)
	assert.Empty(t, h.exec.Calls())
}

func TestMerge_SourceWithoutAudio(t *testing.T) {
	h := newHarness(t)
	h.hasAudio = false

	_, err := h.pipeline(1).Start(context.Background(), h.params())
	require.NoError(t, err)
	assert.FileExists(t, h.output)
}

func TestFailure_LeavesStateForResume(t *testing.T) {
	h := newHarness(t)
	h.failExtract = "chunk_002.mp4"

	_, err := h.pipeline(1).Start(context.Background(), h.params())
	require.Error(t, err)
	assert.True(t, job.IsKind(err, job.ErrExtraction), "got %v", err)
	assert.Contains(t, err.Error(), "chunk_002")

	assert.True(t, loadProgress(t, h.store).IsChunkDone("chunk_001"))
	assert.FileExists(t, filepath.Join(h.work, "temp", "chunks", "upscaled_chunk_001.mp4"))
	assert.FileExists(t, filepath.Join(h.work, "temp", "chunks", "chunk_002.mp4"))
	assert.NoDirExists(t, filepath.Join(h.work, "temp", "chunks", "chunk_002", "frames"))
	assert.Empty(t, h.exec.CallsContaining("waifu2x", "chunk_002"))

	h.newRun()
	_, err = h.pipeline(1).Resume(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.upscaledFrames(), 4)
}

func TestFailure_RebuildLeavesStateForResume(t *testing.T) {
	h := newHarness(t)
	h.failEncode = "chunk_002"

	_, err := h.pipeline(1).Start(context.Background(), h.params())
	require.Error(t, err)
	assert.True(t, job.IsKind(err, job.ErrRebuild), "got %v", err)

	progress := loadProgress(t, h.store)
	assert.True(t, progress.IsChunkDone("chunk_001"))
	assert.False(t, progress.IsChunkDone("chunk_002"))
	for i := 1; i <= 3; i++ {
		assert.True(t, progress.IsFrameDone(fmt.Sprintf("chunk_002/frame_%06d.png", i)))
	}
	chunks := filepath.Join(h.work, "temp", "chunks")
	assert.NoFileExists(t, filepath.Join(chunks, "upscaled_chunk_002.mp4"))
	assert.DirExists(t, filepath.Join(chunks, "chunk_002", "upscaled_frames"))

	h.newRun()
	_, err = h.pipeline(1).Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk_003/frame_000001.png"}, h.upscaledFrames())
	assert.Equal(t, []string{"upscaled_chunk_002.part.mp4", "upscaled_chunk_003.part.mp4"}, h.encoded)
	assert.FileExists(t, h.output)
}

func TestFailure_MergeLeavesStateForResume(t *testing.T) {
	h := newHarness(t)
	h.failConcat = true

	_, err := h.pipeline(1).Start(context.Background(), h.params())
	require.Error(t, err)
	assert.True(t, job.IsKind(err, job.ErrMerge), "got %v", err)

	progress := loadProgress(t, h.store)
	for i := 1; i <= 3; i++ {
		assert.True(t, progress.IsChunkDone(fmt.Sprintf("chunk_%03d", i)))
		assert.FileExists(t, filepath.Join(h.work, "temp", "chunks", fmt.Sprintf("upscaled_chunk_%03d.mp4", i)))
	}
	op, err := state.LoadLastOperation(h.store)
	require.NoError(t, err)
	assert.Equal(t, state.StatusRunning, op.Status)

	h.newRun()
	_, err = h.pipeline(1).Resume(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.upscaledFrames())
	assert.Empty(t, h.encoded)
	assert.FileExists(t, h.output)
}

func TestComplete_CleanupFailureStillCompletesJob(t *testing.T) {
	h := newHarness(t)
	h.store = newFlakyStore(state.NewMemoryStore(), map[string]int{"Delete " + state.KeyProgress: 2})

	_, err := h.pipeline(1).Start(context.Background(), h.params())
	require.NoError(t, err)
	assert.FileExists(t, h.output)

	op, err := state.LoadLastOperation(h.store)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, op.Status)

	h.newRun()
	res, err := h.pipeline(1).Resume(context.Background())
	require.NoError(t, err)
	assert.True(t, res.NothingToResume)
	assert.Empty(t, h.exec.Calls())
}

func TestComplete_RecordFailureKeepsJobResumable(t *testing.T) {
	h := newHarness(t)
	h.store = newFlakyStore(state.NewMemoryStore(), map[string]int{"Write " + state.KeyLastOperation: 2})

	_, err := h.pipeline(1).Start(context.Background(), h.params())
	require.Error(t, err)
	assert.True(t, job.IsKind(err, job.ErrState), "got %v", err)
	assert.FileExists(t, filepath.Join(h.work, "temp", "chunks", "upscaled_chunk_003.mp4"))

	h.newRun()
	require.NoError(t, os.Remove(h.output))
	_, err = h.pipeline(1).Resume(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.upscaledFrames())
	assert.FileExists(t, h.output)

	op, err := state.LoadLastOperation(h.store)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, op.Status)
	assert.NoDirExists(t, filepath.Join(h.work, "temp"))
}

func TestShortTrailingChunkIsLeftOut(t *testing.T) {
	h := newHarness(t)
	h.probe("0:02:00.020000", "24/1")
	h.emptyBelow = 0.5
	h.failConcat = true

	_, err := h.pipeline(1).Start(context.Background(), h.params())
	require.Error(t, err)
	assert.True(t, job.IsKind(err, job.ErrMerge), "got %v", err)
	assert.True(t, loadProgress(t, h.store).IsChunkDone("chunk_003"))
	assert.Equal(t, []string{"upscaled_chunk_001.part.mp4", "upscaled_chunk_002.part.mp4"}, h.encoded)

	h.newRun()
	res, err := h.pipeline(1).Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)

	merged, err := os.ReadFile(h.output)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(merged)), "\n"), 2)
	assert.NotContains(t, string(merged), "upscaled_chunk_003")
}

func TestEmptyExtractionIsFatalBeforeLastChunk(t *testing.T) {
	h := newHarness(t)
	h.emptyBelow = 1000

	_, err := h.pipeline(1).Start(context.Background(), h.params())
	require.Error(t, err)
	assert.True(t, job.IsKind(err, job.ErrExtraction), "got %v", err)
	assert.Contains(t, err.Error(), "chunk_001")
}

func TestWorkers_UpscaleConcurrently(t *testing.T) {
	h := newHarness(t)
	h.secondsPerFrame = 5
	h.upscaleDelay = 10 * time.Millisecond

	_, err := h.pipeline(4).Start(context.Background(), h.params())
	require.NoError(t, err)

	frames := h.upscaledFrames()
	assert.Len(t, frames, 12+12+1)
	seen := make(map[string]bool)
	for _, f := range frames {
		assert.False(t, seen[f], "%s upscaled twice", f)
		seen[f] = true
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&h.maxRunning), int32(4))
	assert.Greater(t, atomic.LoadInt32(&h.maxRunning), int32(1))
}

func TestWorkers_FailureKeepsFinishedFrames(t *testing.T) {
	h := newHarness(t)
	h.secondsPerFrame = 5
	h.failUpscale = 6

	_, err := h.pipeline(3).Start(context.Background(), h.params())
	require.Error(t, err)
	assert.True(t, job.IsKind(err, job.ErrUpscale) || errors.Is(err, context.Canceled), "got %v", err)

	progress := loadProgress(t, h.store)
	assert.False(t, progress.IsChunkDone("chunk_001"))
	_, marked := progress.Counts()
	assert.Less(t, marked, 12)

	up := filepath.Join(h.work, "temp", "chunks", "chunk_001", "upscaled_frames")
	for i := 1; i <= 12; i++ {
		name := fmt.Sprintf("frame_%06d.png", i)
		if progress.IsFrameDone("chunk_001/" + name) {
			assert.FileExists(t, filepath.Join(up, name))
		}
	}
	assert.Empty(t, h.exec.CallsContaining("-framerate"), "no rebuild after a failed frame")
}

func TestStart_OverUnfinishedJob(t *testing.T) {
	stale := func(t *testing.T, h *harness) string {
		dir := filepath.Join(h.work, "temp", "chunks")
		require.NoError(t, os.MkdirAll(dir, 0755))
		path := filepath.Join(dir, "chunk_001.mp4")
		require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))
		return path
	}
	label := "Discard unfinished job 3b241101-e2bb-4255-8caf-4136c566a962"

	t.Run("refused without terminal", func(t *testing.T) {
		h := newHarness(t)
		writeRunningJob(t, h.store, h.params())
		seg := stale(t, h)

		_, err := h.pipeline(1).Start(context.Background(), h.params())
		require.Error(t, err)
		assert.True(t, job.IsKind(err, job.ErrInvalidParams))
		assert.FileExists(t, seg)
		assert.Empty(t, h.exec.Calls())
	})

	t.Run("declined", func(t *testing.T) {
		h := newHarness(t)
		writeRunningJob(t, h.store, h.params())
		seg := stale(t, h)
		prompter := mocks.NewMockPrompter()
		prompter.ConfirmResponses[label+" ("+h.input+")"] = false

		_, err := h.pipeline(1, WithConfirmer(prompter)).Start(context.Background(), h.params())
		require.Error(t, err)
		assert.True(t, job.IsKind(err, job.ErrInvalidParams))
		assert.FileExists(t, seg)
		assert.Len(t, prompter.CallLog, 1)
	})

	t.Run("confirmed", func(t *testing.T) {
		h := newHarness(t)
		writeRunningJob(t, h.store, h.params())
		stale(t, h)
		prompter := mocks.NewMockPrompter()
		prompter.ConfirmResponses[label+" ("+h.input+")"] = true

		res, err := h.pipeline(1, WithConfirmer(prompter)).Start(context.Background(), h.params())
		require.NoError(t, err)
		assert.NotEqual(t, "3b241101-e2bb-4255-8caf-4136c566a962", res.JobID)
		assert.Len(t, h.exec.CallsContaining("ffmpeg", "-ss 0.000"), 1, "stale segment must not be reused")
	})

	t.Run("assume yes", func(t *testing.T) {
		h := newHarness(t)
		writeRunningJob(t, h.store, h.params())
		p := New(Config{WorkDir: h.work, Upscaler: "waifu2x", AssumeYes: true}, h.exec, h.store,
			WithToolCheck(func(string) bool { return true }))
		_, err := p.Start(context.Background(), h.params())
		require.NoError(t, err)
	})
}

func TestMissingTool(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(1, WithToolCheck(func(bin string) bool { return bin != "waifu2x" }))

	_, err := p.Start(context.Background(), h.params())
	require.Error(t, err)
	assert.True(t, job.IsKind(err, job.ErrMissingTool))
	assert.Contains(t, err.Error(), "waifu2x")
	assert.Empty(t, h.exec.Calls())
}

func TestProbeFailure(t *testing.T) {
	h := newHarness(t)
	h.probe("N/A", "24/1")

	_, err := h.pipeline(1).Start(context.Background(), h.params())
	require.Error(t, err)
	assert.True(t, job.IsKind(err, job.ErrProbe))
	assert.Empty(t, h.exec.CallsContaining("ffmpeg"))
}

func TestLayout(t *testing.T) {
	l := NewLayout("/work")
	c := planner.Chunk{Index: 7}

	assert.Equal(t, filepath.Join("/work", "temp", "chunks", "chunk_007", "frames"), l.FramesDir(c))
	assert.Equal(t, filepath.Join("/work", "temp", "chunks", "chunk_007", "upscaled_frames"), l.UpscaledDir(c))
	assert.Equal(t, filepath.Join("/work", "temp", "chunks", "upscaled_chunk_007.mp4"), l.RebuiltSegment(c))
	assert.Equal(t, filepath.Join("/work", "temp", "chunk_list.txt"), l.ConcatList())
	assert.Equal(t, "chunk_007/frame_000004.png", FrameID(c, "frame_000004.png"))
	assert.Equal(t, ".", NewLayout("").Root)
	assert.Equal(t, "upscaled_chunk_007.part.mp4", filepath.Base(partPath(l.RebuiltSegment(c))))
}

func TestListFrames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame_000010.png", "frame_000002.png", "frame_000001.png", "thumbs.db", "frame_1.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	frames, err := listFrames(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"frame_000001.png", "frame_000002.png", "frame_000010.png"}, frames)
}
