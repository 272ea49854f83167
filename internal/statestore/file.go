package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"BreakoutSentinel/internal/model"
)

// fileState is the on-disk document.
type fileState struct {
	Positions map[string]model.Position `json:"positions"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// FileStore keeps positions in a single JSON file, rewritten on every change.
type FileStore struct {
	mu    sync.Mutex
	path  string
	state fileState
}

// NewFileStore opens path, loading whatever it already holds. A missing file
// starts empty.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, state: fileState{Positions: map[string]model.Position{}}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if s.state.Positions == nil {
		s.state.Positions = map[string]model.Position{}
	}
	return s, nil
}

func (s *FileStore) Save(_ context.Context, pos model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Positions[pos.Symbol] = pos
	return s.flush()
}

func (s *FileStore) Delete(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Positions[symbol]; !ok {
		return nil
	}
	delete(s.state.Positions, symbol)
	return s.flush()
}

// Load returns the stored positions ordered by symbol.
func (s *FileStore) Load(_ context.Context) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Position, 0, len(s.state.Positions))
	for _, p := range s.state.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *FileStore) Close() error { return nil }

// flush writes through a temp file so a crash never leaves half a document.
func (s *FileStore) flush() error {
	s.state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
