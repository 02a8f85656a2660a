package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"knowthis/internal/model"

	"github.com/oklog/ulid/v2"
)

// ChannelState is the per-channel checkpoint (spec §3 IngestionState).
type ChannelState struct {
	LastIngestedTS string `json:"last_ingested_ts"`
	LastSuccessAt  string `json:"last_success_at"`
	MessageCount   int    `json:"message_count"`
}

// State is the full persisted ingestion checkpoint document (spec §6.2).
type State struct {
	RunID             string                  `json:"run_id"`
	Channels          map[string]ChannelState `json:"channels"`
	FirstRunCompleted bool                    `json:"first_run_completed"`
}

// Store guards State behind a mutex and persists it atomically
// (temp file + rename) after every successful channel batch.
type Store struct {
	mu    sync.Mutex
	path  string
	state State
}

// Open loads the checkpoint file at path, or starts from an empty state if
// it doesn't exist yet (the initial run case).
func Open(path string) (*Store, error) {
	s := &Store{path: path, state: State{Channels: make(map[string]ChannelState)}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ingestion state: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("parse ingestion state: %w", err)
	}
	if s.state.Channels == nil {
		s.state.Channels = make(map[string]ChannelState)
	}
	return s, nil
}

// NewRunID mints a fresh ULID: unique and lexicographically time-sortable,
// satisfying the "monotonically increasing run_id" invariant (spec §3).
func NewRunID() string { return ulid.Make().String() }

// Channel returns the checkpoint for channelID, if one exists. Its absence
// signals an initial run for that channel (spec §4.6).
func (s *Store) Channel(channelID string) (ChannelState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.state.Channels[channelID]
	return cs, ok
}

// FirstRunCompleted reports whether any ingestion run has ever completed.
func (s *Store) FirstRunCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.FirstRunCompleted
}

// Checkpoint advances a channel's high-water mark and persists the whole
// state atomically. Callers only call this once per channel per run, after
// every message up to ts has been upserted in ascending order, so
// last_ingested_ts is monotonically non-decreasing (testable property 1).
func (s *Store) Checkpoint(channelID, ts string, messagesProcessed int, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.state.Channels[channelID]
	cs.LastIngestedTS = ts
	cs.LastSuccessAt = time.Now().UTC().Format(time.RFC3339)
	cs.MessageCount += messagesProcessed
	s.state.Channels[channelID] = cs
	s.state.RunID = runID
	s.state.FirstRunCompleted = true

	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ingestion state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return model.NewError(model.KindPersistenceWriteFailed, true, "ingestion", "create state dir", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return model.NewError(model.KindPersistenceWriteFailed, true, "ingestion", "write checkpoint", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return model.NewError(model.KindPersistenceWriteFailed, true, "ingestion", "rename checkpoint", err)
	}
	return nil
}

// Snapshot returns a deep copy of the current state, safe for the stats
// tool to read concurrently with ingestion writes.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := State{
		RunID:             s.state.RunID,
		FirstRunCompleted: s.state.FirstRunCompleted,
		Channels:          make(map[string]ChannelState, len(s.state.Channels)),
	}
	for k, v := range s.state.Channels {
		out.Channels[k] = v
	}
	return out
}
