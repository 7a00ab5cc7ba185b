package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/raphaelgruber/matgraph/internal/matcher"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/stages"
	"github.com/raphaelgruber/matgraph/internal/tasks"
)

// WorkflowMatcher answers workflow queries. *matcher.Matcher implements it.
type WorkflowMatcher interface {
	Match(ctx context.Context, cp matcher.Checkpoint, q models.QueryGraph) (*models.ResultTable, error)
}

// MatchRequest submits a fabrication workflow query.
type MatchRequest struct {
	UserID      string
	ProcessID   string
	CallbackURL string
	Query       models.QueryGraph
}

// MatchService runs workflow queries as processes of their own.
type MatchService struct {
	registry *tasks.Registry
	runner   Runner
	matcher  WorkflowMatcher
	logger   *slog.Logger
}

// NewMatchService creates the match façade.
func NewMatchService(registry *tasks.Registry, runner Runner, m WorkflowMatcher, logger *slog.Logger) *MatchService {
	return &MatchService{registry: registry, runner: runner, matcher: m, logger: logger.With("component", "match")}
}

// Submit validates the query, creates a process and queues the match.
// The result table is stored under the match key and sent in the callback.
func (s *MatchService) Submit(ctx context.Context, req MatchRequest) (*models.Process, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if err := req.Query.Validate(); err != nil {
		return nil, invalid(err)
	}
	if req.ProcessID == "" {
		req.ProcessID = uuid.NewString()
	}
	p, err := s.registry.Create(ctx, models.ProcessInput{
		ProcessID:   req.ProcessID,
		UserID:      req.UserID,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		return nil, invalid(err)
	}

	query := req.Query
	fn := func(ctx context.Context, run *tasks.Run) (*stages.Result, error) {
		table, err := s.matcher.Match(ctx, run, query)
		if err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("%d workflows found", len(table.Rows))
		if len(table.Columns) == 1 && table.Columns[0] == "Message" {
			msg = models.NoWorkflowsMessage
		}
		return &stages.Result{Output: table, Message: msg}, nil
	}
	if _, err := s.runner.Submit(ctx, p.ProcessID, models.KeyMatch, fn); err != nil {
		return nil, err
	}
	s.logger.Info("match queued", "process_id", p.ProcessID, "nodes", len(query.Nodes), "relationships", len(query.Relationships))
	return s.registry.Get(ctx, p.ProcessID)
}
