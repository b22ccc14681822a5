package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
)

// RunStore provides an in-memory run status store for the API.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]content.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]content.Run)}
}

// CreateRun stores a new run in queued status.
func (s *RunStore) CreateRun(_ context.Context, run content.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("create run %s: %w", run.ID, content.ErrRunExists)
	}
	if run.Status == "" {
		run.Status = content.RunStatusQueued
	}
	s.runs[run.ID] = run
	return nil
}

// StartRun marks a run as running.
func (s *RunStore) StartRun(_ context.Context, runID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("start run %s: %w", runID, content.ErrRunNotFound)
	}
	run.Status = content.RunStatusRunning
	if run.Started == nil {
		run.Started = pointerTime(at)
	}
	s.runs[runID] = run
	return nil
}

// FinishRun stores the terminal status and report of a run.
func (s *RunStore) FinishRun(_ context.Context, runID string, status content.RunStatus, report content.RunReport, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("finish run %s: %w", runID, content.ErrRunNotFound)
	}
	run.Status = status
	run.Report = &report
	if run.Started == nil {
		run.Started = pointerTime(at)
	}
	run.Finished = pointerTime(at)
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (content.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return content.Run{}, fmt.Errorf("get run %s: %w", runID, content.ErrRunNotFound)
	}
	return run, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t.UTC()
	return &ts
}
