// Package service joins the registry, the task runner, the stage workers
// and the matcher into the operations exposed over HTTP and the CLI.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/raphaelgruber/matgraph/internal/cache"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/stages"
	"github.com/raphaelgruber/matgraph/internal/tasks"
)

var (
	// ErrInvalidInput indicates a client request that cannot be acted on.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMissingStageInput indicates a stage submitted before its input exists.
	ErrMissingStageInput = errors.New("missing stage input")

	// ErrAlreadyImported indicates a second graph import without force.
	ErrAlreadyImported = errors.New("graph already imported")

	// ErrNotOwned indicates a process that belongs to another user.
	ErrNotOwned = errors.New("process not found for user")
)

// Runner schedules stages. *tasks.Runner implements it.
type Runner interface {
	Submit(ctx context.Context, processID string, key models.StageKey, fn tasks.StageFunc) (*tasks.Run, error)
	Cancel(processID string) bool
	Active(processID string) bool
}

// StageWorkers are the five ingestion stages. *stages.Workers implements it.
type StageWorkers interface {
	Labels(ctx context.Context, cp stages.Checkpoint, p *models.Process) (*stages.Result, error)
	Attributes(ctx context.Context, cp stages.Checkpoint, p *models.Process) (*stages.Result, error)
	Nodes(ctx context.Context, cp stages.Checkpoint, p *models.Process) (*stages.Result, error)
	Relationships(ctx context.Context, cp stages.Checkpoint, p *models.Process) (*stages.Result, error)
	Import(ctx context.Context, cp stages.Checkpoint, p *models.Process) (*stages.Result, error)
}

// StageFunc is the signature shared by the stage workers.
type StageFunc func(ctx context.Context, cp stages.Checkpoint, p *models.Process) (*stages.Result, error)

// stage returns the worker producing key.
func stage(w StageWorkers, key models.StageKey) StageFunc {
	switch key {
	case models.KeyLabels:
		return w.Labels
	case models.KeyAttributes:
		return w.Attributes
	case models.KeyNodes:
		return w.Nodes
	case models.KeyGraph:
		return w.Relationships
	case models.KeyDataset:
		return w.Import
	default:
		return nil
	}
}

// UploadRequest starts a new ingestion with stage 1.
type UploadRequest struct {
	UserID      string
	ProcessID   string
	CallbackURL string
	Context     string
	Filename    string
	File        io.Reader
}

// StageRequest submits one of stages 2 to 5.
type StageRequest struct {
	UserID    string
	ProcessID string
	// Override replaces the stage's input output before it runs.
	Override json.RawMessage
	// Force allows a second graph import.
	Force bool
}

// PipelineService drives the ingestion stages of a process.
type PipelineService struct {
	registry *tasks.Registry
	runner   Runner
	workers  StageWorkers
	files    *Files
	cache    *cache.Cache
	logger   *slog.Logger
}

// NewPipelineService creates the ingestion façade.
func NewPipelineService(registry *tasks.Registry, runner Runner, workers StageWorkers, files *Files, c *cache.Cache, logger *slog.Logger) *PipelineService {
	return &PipelineService{
		registry: registry,
		runner:   runner,
		workers:  workers,
		files:    files,
		cache:    c,
		logger:   logger.With("component", "pipeline"),
	}
}

// Upload stores the file, creates the process and submits label extraction.
func (s *PipelineService) Upload(ctx context.Context, req UploadRequest) (*models.Process, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if req.File == nil {
		return nil, fmt.Errorf("%w: file is required", ErrInvalidInput)
	}
	if req.ProcessID == "" {
		req.ProcessID = uuid.NewString()
	}
	fileID, err := s.files.Save(ctx, req.Filename, req.File)
	if err != nil {
		return nil, err
	}
	p, err := s.registry.Create(ctx, models.ProcessInput{
		ProcessID:   req.ProcessID,
		UserID:      req.UserID,
		CallbackURL: req.CallbackURL,
		FileID:      fileID,
		Context:     req.Context,
	})
	if err != nil {
		return nil, invalid(err)
	}
	s.logger.Info("process created", "process_id", p.ProcessID, "user_id", p.UserID, "file", req.Filename)
	return s.submit(ctx, p.ProcessID, models.KeyLabels)
}

// Submit runs the stage that produces key, after applying any override to
// the stage's input.
func (s *PipelineService) Submit(ctx context.Context, key models.StageKey, req StageRequest) (*models.Process, error) {
	prev, ok := key.Previous()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a submittable stage", ErrInvalidInput, key)
	}
	p, err := s.owned(ctx, req.UserID, req.ProcessID)
	if err != nil {
		return nil, err
	}
	if p.Status.IsActive() || s.runner.Active(p.ProcessID) {
		return nil, tasks.ErrAlreadyProcessing
	}
	if key == models.KeyDataset && p.Dataset != nil && !req.Force {
		return nil, fmt.Errorf("%w: process %s", ErrAlreadyImported, p.ProcessID)
	}

	if len(req.Override) > 0 && string(req.Override) != "null" {
		if err := s.override(ctx, p, prev, req.Override); err != nil {
			return nil, err
		}
	} else if p.Output(prev) == nil {
		return nil, fmt.Errorf("%w: %s has no %s output", ErrMissingStageInput, p.ProcessID, prev)
	}
	return s.submit(ctx, p.ProcessID, key)
}

// override validates raw as the output stored under key and replaces it.
func (s *PipelineService) override(ctx context.Context, p *models.Process, key models.StageKey, raw json.RawMessage) error {
	var (
		value any
		cols  []models.ColumnDescriptor
	)
	switch key {
	case models.KeyLabels, models.KeyAttributes:
		if err := json.Unmarshal(raw, &cols); err != nil {
			return fmt.Errorf("%w: %s override: %v", ErrInvalidInput, key, err)
		}
		for _, c := range cols {
			if err := c.Validate(); err != nil {
				return invalid(err)
			}
			if !c.Label.Valid() || (key == models.KeyAttributes && c.Attribute == "") {
				return fmt.Errorf("%w: column %q is not fully classified", ErrInvalidInput, c.Header)
			}
		}
		value = cols
	case models.KeyNodes:
		var nodes []models.ExtractedNode
		if err := json.Unmarshal(raw, &nodes); err != nil {
			return fmt.Errorf("%w: nodes override: %v", ErrInvalidInput, err)
		}
		width := columnCount(p)
		for _, n := range nodes {
			if err := n.Validate(width); err != nil {
				return invalid(err)
			}
		}
		value = nodes
	case models.KeyGraph:
		var doc models.GraphDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("%w: graph override: %v", ErrInvalidInput, err)
		}
		if err := doc.Validate(); err != nil {
			return invalid(err)
		}
		value = doc
	default:
		return fmt.Errorf("%w: %s cannot be overridden", ErrInvalidInput, key)
	}

	out, err := models.EncodeOutput(value)
	if err != nil {
		return err
	}
	if _, err := s.registry.Replace(ctx, p.ProcessID, key, out); err != nil {
		return err
	}
	if cols != nil {
		s.cache.PutColumns(ctx, cols)
	}
	s.logger.Info("stage output replaced", "process_id", p.ProcessID, "key", key)
	return nil
}

func (s *PipelineService) submit(ctx context.Context, processID string, key models.StageKey) (*models.Process, error) {
	run := stage(s.workers, key)
	fn := func(ctx context.Context, r *tasks.Run) (*stages.Result, error) {
		return run(ctx, r, r.Process)
	}
	if _, err := s.runner.Submit(ctx, processID, key, fn); err != nil {
		return nil, err
	}
	return s.registry.Get(ctx, processID)
}

// Cancel requests cancellation of the process's active stage.
func (s *PipelineService) Cancel(ctx context.Context, userID, processID string) (*models.Process, error) {
	p, err := s.owned(ctx, userID, processID)
	if err != nil {
		return nil, err
	}
	if !s.runner.Cancel(p.ProcessID) {
		return nil, fmt.Errorf("%w: process %s", tasks.ErrNoActiveTask, p.ProcessID)
	}
	return p, nil
}

// Status returns the process record.
func (s *PipelineService) Status(ctx context.Context, userID, processID string) (*models.Process, error) {
	return s.owned(ctx, userID, processID)
}

// Report reads one output of a process.
func (s *PipelineService) Report(ctx context.Context, userID, processID string, key models.StageKey) (*tasks.Report, error) {
	if _, err := s.owned(ctx, userID, processID); err != nil {
		return nil, err
	}
	return s.registry.Report(ctx, processID, key)
}

// Delete cancels any active stage and removes the process.
func (s *PipelineService) Delete(ctx context.Context, userID, processID string) error {
	if _, err := s.owned(ctx, userID, processID); err != nil {
		return err
	}
	if s.runner.Cancel(processID) {
		s.logger.Info("cancelled active stage before delete", "process_id", processID)
	}
	return s.registry.Delete(ctx, processID)
}

// List returns the user's processes.
func (s *PipelineService) List(ctx context.Context, userID string, limit int) ([]models.ProcessSummary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.registry.List(ctx, userID, limit)
}

// owned loads a process and checks that it belongs to userID.
func (s *PipelineService) owned(ctx context.Context, userID, processID string) (*models.Process, error) {
	if userID == "" || processID == "" {
		return nil, fmt.Errorf("%w: user_id and process_id are required", ErrInvalidInput)
	}
	return owned(ctx, s.registry, userID, processID)
}

func owned(ctx context.Context, registry *tasks.Registry, userID, processID string) (*models.Process, error) {
	p, err := registry.Get(ctx, processID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, fmt.Errorf("%w: process %s", ErrNotOwned, processID)
	}
	return p, nil
}

// columnCount is the table width known from stage 1 or 2 output.
func columnCount(p *models.Process) int {
	for _, key := range []models.StageKey{models.KeyAttributes, models.KeyLabels} {
		if cols, err := p.DecodeColumns(key); err == nil {
			return len(cols)
		}
	}
	return math.MaxInt
}

func invalid(err error) error {
	if errors.Is(err, models.ErrInvalidRecord) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return err
}
