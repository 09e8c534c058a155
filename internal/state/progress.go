package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// KeyProgress is the store key of the progress checkpoint.
const KeyProgress = "progress"

type progressDocument struct {
	CompletedChunks map[string]bool `json:"completed_chunks"`
	CompletedFrames map[string]bool `json:"completed_frames"`
}

// Progress is the set of completed chunk and frame identifiers. Every Mark
// call persists the whole record before returning, so the stored checkpoint
// never claims work that has not been marked. Safe for concurrent use.
type Progress struct {
	store Store

	mu     sync.Mutex
	chunks map[string]bool
	frames map[string]bool
}

// LoadProgress reads the checkpoint from store. A missing record means
// nothing has been completed yet.
func LoadProgress(store Store) (*Progress, error) {
	p := &Progress{
		store:  store,
		chunks: make(map[string]bool),
		frames: make(map[string]bool),
	}

	data, err := store.Read(KeyProgress)
	if errors.Is(err, ErrNotFound) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	var doc progressDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse progress: %w", err)
	}
	for id, done := range doc.CompletedChunks {
		if done {
			p.chunks[id] = true
		}
	}
	for id, done := range doc.CompletedFrames {
		if done {
			p.frames[id] = true
		}
	}
	return p, nil
}

func (p *Progress) IsChunkDone(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chunks[id]
}

func (p *Progress) IsFrameDone(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames[id]
}

// MarkFrame records a completed frame and persists the checkpoint.
func (p *Progress) MarkFrame(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frames[id] {
		return nil
	}
	p.frames[id] = true
	if err := p.saveLocked(); err != nil {
		delete(p.frames, id)
		return err
	}
	return nil
}

// MarkChunk records a completed chunk and persists the checkpoint. Frame
// entries under the chunk ("<id>/...") are dropped; the chunk entry
// supersedes them.
func (p *Progress) MarkChunk(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chunks[id] {
		return nil
	}
	p.chunks[id] = true
	prefix := id + "/"
	var removed []string
	for f := range p.frames {
		if strings.HasPrefix(f, prefix) {
			delete(p.frames, f)
			removed = append(removed, f)
		}
	}
	if err := p.saveLocked(); err != nil {
		delete(p.chunks, id)
		for _, f := range removed {
			p.frames[f] = true
		}
		return err
	}
	return nil
}

// Counts returns the number of completed chunks and frames.
func (p *Progress) Counts() (chunks, frames int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chunks), len(p.frames)
}

// Clear deletes the persisted checkpoint and resets the in-memory sets.
func (p *Progress) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.Delete(KeyProgress); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	p.chunks = make(map[string]bool)
	p.frames = make(map[string]bool)
	return nil
}

func (p *Progress) saveLocked() error {
	data, err := json.MarshalIndent(progressDocument{
		CompletedChunks: p.chunks,
		CompletedFrames: p.frames,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := p.store.Write(KeyProgress, data); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}
