package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateVersion is bumped when the progress record gains fields. Older
// files load with zero values; newer files are refused rather than
// silently misread.
const StateVersion = 1

// Outcome of one processed item.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Counters summarize a run so far.
type Counters struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ProgressState is the durable progress record for a resumable job.
// It is plain indented JSON so an operator can read it mid-incident.
type ProgressState struct {
	Version     int               `json:"version"`
	Processed   map[string]string `json:"processed"`
	Counters    Counters          `json:"counters"`
	LastUpdated time.Time         `json:"last_updated"`
}

func NewProgressState() *ProgressState {
	return &ProgressState{
		Version:   StateVersion,
		Processed: make(map[string]string),
	}
}

// LoadState reads a progress record from disk. A missing file yields a
// fresh state; a file written by a newer version is an error.
func LoadState(path string) (*ProgressState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewProgressState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}

	var state ProgressState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("state file %s is version %d, this build understands up to %d", path, state.Version, StateVersion)
	}
	if state.Processed == nil {
		state.Processed = make(map[string]string)
	}
	state.Version = StateVersion
	return &state, nil
}

// Save writes the record atomically (temp file + rename) so a crash
// mid-write never leaves a truncated state file behind.
func (s *ProgressState) Save(path string) error {
	s.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".progress-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Record marks one item processed and bumps the matching counter.
func (s *ProgressState) Record(itemID, outcome string) {
	s.Processed[itemID] = outcome
	switch outcome {
	case OutcomeSucceeded:
		s.Counters.Succeeded++
	case OutcomeFailed:
		s.Counters.Failed++
	case OutcomeSkipped:
		s.Counters.Skipped++
	}
}

// IsProcessed reports whether an item was already handled in an
// earlier (possibly interrupted) run.
func (s *ProgressState) IsProcessed(itemID string) bool {
	_, ok := s.Processed[itemID]
	return ok
}

// Reset discards the progress record on disk.
func Reset(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
