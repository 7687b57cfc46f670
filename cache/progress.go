package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ProgressState is the persisted ingest bookkeeping under progress/state.json.
type ProgressState struct {
	IngestedBlobs         []string          `json:"ingested_blobs"`
	LastCheckpointPerBlob map[string]uint64 `json:"last_checkpoint_per_blob"`
	Counters              map[string]uint64 `json:"counters"`
}

// ProgressEvent is one line of the append-only progress/events.jsonl log.
type ProgressEvent struct {
	Time       time.Time `json:"time"`
	Kind       string    `json:"kind"` // "checkpoint" or "complete"
	Blob       string    `json:"blob,omitempty"`
	Checkpoint uint64    `json:"checkpoint,omitempty"`
}

// Progress tracks batch ingest position across runs. State updates rewrite
// state.json atomically; events append to events.jsonl.
type Progress struct {
	mu    sync.Mutex
	store *Store
	state ProgressState
}

// Progress loads (or initializes) the progress tracker bound to the store.
func (s *Store) Progress() (*Progress, error) {
	p := &Progress{store: s}
	raw, err := os.ReadFile(p.statePath())
	switch {
	case os.IsNotExist(err):
		p.state = ProgressState{
			LastCheckpointPerBlob: make(map[string]uint64),
			Counters:              make(map[string]uint64),
		}
	case err != nil:
		return nil, errors.Wrap(err, "progress: read state")
	default:
		if err := json.Unmarshal(raw, &p.state); err != nil {
			return nil, errors.Wrap(err, "progress: decode state")
		}
		if p.state.LastCheckpointPerBlob == nil {
			p.state.LastCheckpointPerBlob = make(map[string]uint64)
		}
		if p.state.Counters == nil {
			p.state.Counters = make(map[string]uint64)
		}
	}
	return p, nil
}

func (p *Progress) statePath() string {
	return filepath.Join(p.store.root, progressDir, "state.json")
}

func (p *Progress) eventsPath() string {
	return filepath.Join(p.store.root, progressDir, "events.jsonl")
}

// State returns a copy of the current progress state.
func (p *Progress) State() ProgressState {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := p.state
	cp.IngestedBlobs = append([]string(nil), p.state.IngestedBlobs...)
	cp.LastCheckpointPerBlob = make(map[string]uint64, len(p.state.LastCheckpointPerBlob))
	for k, v := range p.state.LastCheckpointPerBlob {
		cp.LastCheckpointPerBlob[k] = v
	}
	cp.Counters = make(map[string]uint64, len(p.state.Counters))
	for k, v := range p.state.Counters {
		cp.Counters[k] = v
	}
	return cp
}

// MarkCheckpoint records that checkpoint seq of blob was ingested.
func (p *Progress) MarkCheckpoint(blob string, seq uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.LastCheckpointPerBlob[blob] < seq {
		p.state.LastCheckpointPerBlob[blob] = seq
	}
	p.state.Counters["checkpoints"]++
	if err := p.appendEvent(ProgressEvent{Time: time.Now().UTC(), Kind: "checkpoint", Blob: blob, Checkpoint: seq}); err != nil {
		return err
	}
	return p.flushLocked()
}

// MarkComplete records that a blob finished ingesting.
func (p *Progress) MarkComplete(blob string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.state.IngestedBlobs {
		if b == blob {
			return nil
		}
	}
	p.state.IngestedBlobs = append(p.state.IngestedBlobs, blob)
	if err := p.appendEvent(ProgressEvent{Time: time.Now().UTC(), Kind: "complete", Blob: blob}); err != nil {
		return err
	}
	return p.flushLocked()
}

// AddCounter bumps a named counter.
func (p *Progress) AddCounter(name string, delta uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Counters[name] += delta
	return p.flushLocked()
}

func (p *Progress) flushLocked() error {
	raw, err := json.MarshalIndent(&p.state, "", "  ")
	if err != nil {
		return err
	}
	return p.store.atomicWrite(p.statePath(), raw)
}

func (p *Progress) appendEvent(ev ProgressEvent) error {
	line, err := json.Marshal(&ev)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p.eventsPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "progress: open events log")
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "progress: append event")
	}
	return nil
}
