package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"videoupscaler/internal/planner"
)

// Layout resolves every path a job uses below its working directory.
//
//	<root>/temp/chunks/chunk_001.mp4              split segment
//	<root>/temp/chunks/chunk_001/frames/          extracted frames
//	<root>/temp/chunks/chunk_001/upscaled_frames/ upscaled frames
//	<root>/temp/chunks/upscaled_chunk_001.mp4     rebuilt segment
//	<root>/temp/chunk_list.txt                    concat list
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	if root == "" {
		root = "."
	}
	return Layout{Root: root}
}

func (l Layout) TempDir() string {
	return filepath.Join(l.Root, "temp")
}

func (l Layout) ChunksDir() string {
	return filepath.Join(l.TempDir(), "chunks")
}

// ChunkDir holds the frame directories of c.
func (l Layout) ChunkDir(c planner.Chunk) string {
	return filepath.Join(l.ChunksDir(), c.ID())
}

func (l Layout) FramesDir(c planner.Chunk) string {
	return filepath.Join(l.ChunkDir(c), "frames")
}

func (l Layout) UpscaledDir(c planner.Chunk) string {
	return filepath.Join(l.ChunkDir(c), "upscaled_frames")
}

// RebuiltSegment is the encoded, upscaled video of c.
func (l Layout) RebuiltSegment(c planner.Chunk) string {
	return filepath.Join(l.ChunksDir(), "upscaled_"+c.ID()+".mp4")
}

func (l Layout) ConcatList() string {
	return filepath.Join(l.TempDir(), "chunk_list.txt")
}

// FrameID identifies a frame in the progress record, e.g.
// "chunk_001/frame_000004.png".
func FrameID(c planner.Chunk, frame string) string {
	return c.ID() + "/" + frame
}

var frameName = regexp.MustCompile(`^frame_\d{6}\.png$`)

// listFrames returns the frame file names in dir in sequence order. Names
// are zero-padded, so lexical order is sequence order.
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var frames []string
	for _, e := range entries {
		if !e.IsDir() && frameName.MatchString(e.Name()) {
			frames = append(frames, e.Name())
		}
	}
	return frames, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func removeIfExists(path string) error {
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// partPath inserts ".part" before the extension.
func partPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".part" + ext
}
