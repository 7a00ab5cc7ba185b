package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/raphaelgruber/matgraph/internal/cache"
	"github.com/raphaelgruber/matgraph/internal/graphdb"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/prompts"
	"github.com/raphaelgruber/matgraph/internal/retry"
	"github.com/raphaelgruber/matgraph/internal/testutil"
	"github.com/stretchr/testify/require"
)

var errStopped = errors.New("stopped")

type openCheckpoint struct{}

func (openCheckpoint) Checkpoint() error { return nil }

type closedCheckpoint struct{}

func (closedCheckpoint) Checkpoint() error { return errStopped }

type memFiles map[string]string

func (m memFiles) Fetch(_ context.Context, id string) ([]byte, string, error) {
	data, ok := m[id]
	if !ok {
		return nil, "", fmt.Errorf("file %s not found", id)
	}
	return []byte(data), "file:///uploads/" + id, nil
}

type fakeMapper struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeMapper) MapName(_ context.Context, name string, kind models.OntologyKind, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, string(kind)+":"+name)
	if f.err != nil {
		return "", f.err
	}
	return "uid-" + name, nil
}

type fakeImporter struct {
	batch graphdb.ImportBatch
	calls int
}

func (f *fakeImporter) Import(_ context.Context, b graphdb.ImportBatch) (graphdb.ImportResult, error) {
	f.calls++
	f.batch = b
	return graphdb.ImportResult{Nodes: len(b.Instances), Relationships: len(b.Edges)}, nil
}

type harness struct {
	workers  *Workers
	chat     *testutil.Chat
	cache    *cache.Cache
	mapper   *fakeMapper
	importer *fakeImporter
	files    memFiles
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		chat:     testutil.NewChat(),
		cache:    cache.New(cache.NewMemory(), 0, logger),
		mapper:   &fakeMapper{},
		importer: &fakeImporter{},
		files:    memFiles{},
	}
	h.workers = NewWorkers(Deps{
		Chat:     h.chat,
		Prompts:  prompts.MustDefault(),
		Cache:    h.cache,
		Files:    h.files,
		Mapper:   h.mapper,
		Importer: h.importer,
		Logger:   logger,
		Policies: retry.Policies{Structural: retry.Policy{MaxRetries: 2}},
	})
	return h
}

func (h *harness) process(id, csv string) *models.Process {
	h.files[id] = csv
	return &models.Process{ProcessID: "p-" + id, FileID: id, Context: "fuel cell materials"}
}

// store writes a stage result onto the process the way the runner does.
func store(t *testing.T, p *models.Process, key models.StageKey, res *Result) {
	t.Helper()
	raw, err := models.EncodeOutput(res.Output)
	require.NoError(t, err)
	p.SetOutput(key, &raw)
}

// Prompt markers for the scripted model.
const (
	labelPrompt            = "You classify the columns"
	attributePrompt        = "You assign an attribute"
	nodesPrompt            = "You extract typed nodes"
	hasPropertyPrompt      = "to the property nodes that describe them"
	hasParameterPrompt     = "nodes to their parameters"
	measurementPrompt      = "You connect measurement nodes"
	matterManufacturingPrm = "to manufacturing nodes"
)

func col(i int) models.Origin { return models.ColumnOrigin(i) }

func attr(value string, origin models.Origin) models.AttributeValue {
	return models.AttributeValue{Value: models.FlexString(value), Index: origin}
}
