// Package tasks runs pipeline stages on a bounded worker pool and keeps the
// process registry consistent with what is running.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/matgraph/internal/db"
	"github.com/raphaelgruber/matgraph/internal/models"
)

// ProcessStore is the persistence the registry and runner need.
// *db.Client implements it.
type ProcessStore interface {
	CreateProcess(ctx context.Context, in models.ProcessInput) (*models.Process, error)
	RepairProcessSequence(ctx context.Context) error
	GetProcess(ctx context.Context, processID string) (*models.Process, error)
	ClaimProcess(ctx context.Context, processID string) (*models.Process, error)
	StartProcess(ctx context.Context, processID string) (*models.Process, error)
	CompleteStage(ctx context.Context, processID string, key models.StageKey, output string) (*models.Process, error)
	FailProcess(ctx context.Context, processID, msg string) (*models.Process, error)
	CancelProcess(ctx context.Context, processID string) (*models.Process, error)
	ReplaceOutput(ctx context.Context, processID string, key models.StageKey, output string) (*models.Process, error)
	MarkInterrupted(ctx context.Context, msg string) ([]models.Process, error)
	DeleteProcess(ctx context.Context, processID string) (int, error)
	ListProcesses(ctx context.Context, userID string, limit int) ([]models.ProcessSummary, error)
}

// Report is one stage output as seen by a client.
// Output is only set once the process is no longer queued or running.
type Report struct {
	Status models.Status
	Error  *string
	Key    models.StageKey
	Output json.RawMessage
}

// Registry creates, reads and removes process records.
type Registry struct {
	store  ProcessStore
	logger *slog.Logger
}

// NewRegistry creates a registry over store.
func NewRegistry(store ProcessStore, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger.With("component", "registry")}
}

// Create inserts a Ready process. A drifted sequence counter is repaired
// and the insert retried once.
func (r *Registry) Create(ctx context.Context, in models.ProcessInput) (*models.Process, error) {
	if err := models.Validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRecord, err)
	}
	p, err := r.store.CreateProcess(ctx, in)
	if !errors.Is(err, db.ErrSequenceConflict) {
		return p, err
	}
	r.logger.Warn("sequence conflict on create, repairing", "process_id", in.ProcessID, "error", err)
	if err := r.store.RepairProcessSequence(ctx); err != nil {
		return nil, err
	}
	return r.store.CreateProcess(ctx, in)
}

// Get loads a process.
func (r *Registry) Get(ctx context.Context, processID string) (*models.Process, error) {
	return r.store.GetProcess(ctx, processID)
}

// Report reads one output of a process.
func (r *Registry) Report(ctx context.Context, processID string, key models.StageKey) (*Report, error) {
	p, err := r.store.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	rep := &Report{Status: p.Status, Error: p.ErrorMessage, Key: key}
	if raw := p.Output(key); raw != nil && !p.Status.IsActive() {
		rep.Output = json.RawMessage(*raw)
	}
	return rep, nil
}

// Replace overwrites a stage output. Rejected while a stage is active.
func (r *Registry) Replace(ctx context.Context, processID string, key models.StageKey, output string) (*models.Process, error) {
	p, err := r.store.ReplaceOutput(ctx, processID, key, output)
	if errors.Is(err, db.ErrProcessBusy) {
		return nil, fmt.Errorf("replace %s: %w", key, ErrAlreadyProcessing)
	}
	return p, err
}

// Delete removes a process record.
func (r *Registry) Delete(ctx context.Context, processID string) error {
	n, err := r.store.DeleteProcess(ctx, processID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: process %s", db.ErrNotFound, processID)
	}
	return nil
}

// List returns a user's processes, most recently updated first.
func (r *Registry) List(ctx context.Context, userID string, limit int) ([]models.ProcessSummary, error) {
	return r.store.ListProcesses(ctx, userID, limit)
}
