package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/matgraph/internal/db"
	"github.com/raphaelgruber/matgraph/internal/models"
)

// Processes is an in-memory process registry that mirrors the guarded
// status transitions of the SurrealDB one.
type Processes struct {
	mu    sync.Mutex
	procs map[string]*models.Process
	seq   int

	// Conflicts makes the next CreateProcess calls fail with a sequence conflict.
	Conflicts int
	// Repairs counts RepairProcessSequence calls.
	Repairs int
}

// NewProcesses returns an empty registry.
func NewProcesses() *Processes {
	return &Processes{procs: map[string]*models.Process{}}
}

// Put stores p as is.
func (s *Processes) Put(p models.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[p.ProcessID] = &p
}

// Snapshot returns a copy of the stored record.
func (s *Processes) Snapshot(id string) models.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.procs[id]
}

func (s *Processes) CreateProcess(_ context.Context, in models.ProcessInput) (*models.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Conflicts > 0 {
		s.Conflicts--
		return nil, fmt.Errorf("create process: %w", db.ErrSequenceConflict)
	}
	if _, ok := s.procs[in.ProcessID]; ok {
		return nil, db.ErrEntityAlreadyExists
	}
	s.seq++
	p := &models.Process{
		ProcessID: in.ProcessID, Seq: s.seq, UserID: in.UserID, CallbackURL: in.CallbackURL,
		FileID: in.FileID, Context: in.Context, Status: models.StatusReady, UpdatedAt: time.Now(),
	}
	s.procs[in.ProcessID] = p
	cp := *p
	return &cp, nil
}

func (s *Processes) RepairProcessSequence(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Repairs++
	return nil
}

func (s *Processes) GetProcess(_ context.Context, id string) (*models.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[id]
	if !ok {
		return nil, fmt.Errorf("%w: process %s", db.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (s *Processes) transition(id string, allowed func(models.Status) bool, apply func(*models.Process)) (*models.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[id]
	if !ok {
		return nil, fmt.Errorf("%w: process %s", db.ErrNotFound, id)
	}
	if !allowed(p.Status) {
		return nil, db.ErrProcessBusy
	}
	apply(p)
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

func is(statuses ...models.Status) func(models.Status) bool {
	return func(s models.Status) bool { return slices.Contains(statuses, s) }
}

func (s *Processes) ClaimProcess(_ context.Context, id string) (*models.Process, error) {
	return s.transition(id, func(st models.Status) bool { return !st.IsActive() }, func(p *models.Process) {
		p.Status = models.StatusPending
		p.ErrorMessage = nil
	})
}

func (s *Processes) StartProcess(_ context.Context, id string) (*models.Process, error) {
	return s.transition(id, is(models.StatusPending), func(p *models.Process) { p.Status = models.StatusProcessing })
}

func (s *Processes) CompleteStage(_ context.Context, id string, key models.StageKey, output string) (*models.Process, error) {
	return s.transition(id, is(models.StatusProcessing), func(p *models.Process) {
		p.SetOutput(key, &output)
		p.Status = models.StatusCompleted
	})
}

func (s *Processes) FailProcess(_ context.Context, id, msg string) (*models.Process, error) {
	return s.transition(id, is(models.StatusPending, models.StatusProcessing), func(p *models.Process) {
		p.Status = models.StatusFailed
		p.ErrorMessage = &msg
	})
}

func (s *Processes) CancelProcess(_ context.Context, id string) (*models.Process, error) {
	return s.transition(id, is(models.StatusPending, models.StatusProcessing), func(p *models.Process) {
		p.Status = models.StatusCancelled
		p.ErrorMessage = nil
	})
}

func (s *Processes) ReplaceOutput(_ context.Context, id string, key models.StageKey, output string) (*models.Process, error) {
	return s.transition(id, func(st models.Status) bool { return !st.IsActive() }, func(p *models.Process) {
		p.SetOutput(key, &output)
	})
}

func (s *Processes) MarkInterrupted(_ context.Context, msg string) ([]models.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Process
	for _, p := range s.procs {
		if p.Status.IsActive() {
			p.Status = models.StatusFailed
			p.ErrorMessage = &msg
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Processes) DeleteProcess(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.procs[id]; !ok {
		return 0, nil
	}
	delete(s.procs, id)
	return 1, nil
}

func (s *Processes) ListProcesses(_ context.Context, userID string, _ int) ([]models.ProcessSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ProcessSummary
	for _, p := range s.procs {
		if p.UserID == userID {
			out = append(out, models.ProcessSummary{ProcessID: p.ProcessID, Status: p.Status, UpdatedAt: p.UpdatedAt})
		}
	}
	return out, nil
}
