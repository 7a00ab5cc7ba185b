// Package stages implements the five ingestion stages: label, attribute,
// node and relationship extraction, and graph import.
package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/matgraph/internal/cache"
	"github.com/raphaelgruber/matgraph/internal/graphdb"
	"github.com/raphaelgruber/matgraph/internal/llm"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/prompts"
	"github.com/raphaelgruber/matgraph/internal/retry"
)

// Checkpoint is consulted before every external call and persistence write.
// It returns an error once the running stage has been cancelled.
type Checkpoint interface {
	Checkpoint() error
}

// FileSource loads the uploaded table of a process.
type FileSource interface {
	// Fetch returns the file content and its link.
	Fetch(ctx context.Context, fileID string) (data []byte, link string, err error)
}

// NameMapper resolves names to ontology class UIDs.
type NameMapper interface {
	MapName(ctx context.Context, name string, kind models.OntologyKind, sciContext string) (string, error)
}

// GraphImporter writes an import batch in one transaction.
type GraphImporter interface {
	Import(ctx context.Context, batch graphdb.ImportBatch) (graphdb.ImportResult, error)
}

// Result is what a stage hands back to the runner.
type Result struct {
	// Output is stored under the stage's key.
	Output any
	// CachedGraph is the graph of an earlier import of the same table.
	// It is reported in the callback and never stored as a stage output.
	CachedGraph any
	// Message is reported in the callback.
	Message string
}

// Deps are the collaborators of the stage workers.
type Deps struct {
	Chat     llm.Chatter
	Prompts  *prompts.Pack
	Cache    *cache.Cache
	Files    FileSource
	Mapper   NameMapper
	Importer GraphImporter
	Logger   *slog.Logger

	// ResolveConcurrency bounds concurrent name resolutions in the import stage.
	ResolveConcurrency int
	// Policies bounds retries of answers that fail consistency checks.
	Policies retry.Policies
}

// Workers runs the stages.
type Workers struct {
	deps   Deps
	logger *slog.Logger
}

// NewWorkers creates the stage workers.
func NewWorkers(deps Deps) *Workers {
	if deps.ResolveConcurrency <= 0 {
		deps.ResolveConcurrency = 4
	}
	if deps.Policies == (retry.Policies{}) {
		deps.Policies = retry.DefaultPolicies()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Workers{deps: deps, logger: deps.Logger.With("component", "stages")}
}

func (w *Workers) loadTable(ctx context.Context, cp Checkpoint, p *models.Process) (*Table, string, error) {
	if err := cp.Checkpoint(); err != nil {
		return nil, "", err
	}
	data, link, err := w.deps.Files.Fetch(ctx, p.FileID)
	if err != nil {
		return nil, "", err
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, "", err
	}
	return t, link, nil
}

// chat renders a prompt and asks the model, checking for cancellation first.
func (w *Workers) chat(ctx context.Context, cp Checkpoint, name string, data, out any) error {
	if err := cp.Checkpoint(); err != nil {
		return err
	}
	sys, user, err := w.deps.Prompts.Render(name, data)
	if err != nil {
		return err
	}
	return w.deps.Chat.Chat(ctx, sys, user, out)
}

// chatChecked repeats chat while check rejects the answer, up to the
// structural retry budget. Errors from chat itself are not retried here.
func (w *Workers) chatChecked(ctx context.Context, cp Checkpoint, name string, data, out any, check func() error) error {
	var last error
	for attempt := uint64(0); attempt <= w.deps.Policies.Structural.MaxRetries; attempt++ {
		if err := w.chat(ctx, cp, name, data, out); err != nil {
			return err
		}
		if last = check(); last == nil {
			return nil
		}
		w.logger.Warn("answer rejected", "prompt", name, "attempt", attempt+1, "error", last)
	}
	return retry.MarkStructural(fmt.Errorf("%s: %w", name, last))
}
