package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/matgraph/internal/blob"
	"github.com/raphaelgruber/matgraph/internal/cache"
	"github.com/raphaelgruber/matgraph/internal/db"
	"github.com/raphaelgruber/matgraph/internal/matcher"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/stages"
	"github.com/raphaelgruber/matgraph/internal/tasks"
	"github.com/raphaelgruber/matgraph/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memUploads struct {
	mu    sync.Mutex
	files map[string]models.UploadedFile
}

func (m *memUploads) CreateUpload(_ context.Context, name, link, key string) (*models.UploadedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("u%d", len(m.files)+1)
	up := models.UploadedFile{ID: surrealmodels.RecordID{Table: "upload", ID: id}, Name: name, Link: link, BlobKey: key}
	m.files[id] = up
	return &up, nil
}

func (m *memUploads) GetUpload(_ context.Context, id string) (*models.UploadedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: upload %s", db.ErrNotFound, id)
	}
	return &up, nil
}

// fakeWorkers echoes the stage key and records the tables it was given.
type fakeWorkers struct {
	files *Files
	mu    sync.Mutex
	calls []string
	seen  []string
}

func (f *fakeWorkers) run(ctx context.Context, key models.StageKey, cp stages.Checkpoint, p *models.Process) (*stages.Result, error) {
	if err := cp.Checkpoint(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, string(key))
	f.mu.Unlock()
	if key == models.KeyLabels {
		data, _, err := f.files.Fetch(ctx, p.FileID)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.seen = append(f.seen, string(data))
		f.mu.Unlock()
		return &stages.Result{Output: []models.ColumnDescriptor{{Header: "material", Label: models.LabelMatter}}}, nil
	}
	return &stages.Result{Output: map[string]string{"stage": string(key)}}, nil
}

func (f *fakeWorkers) Labels(ctx context.Context, cp stages.Checkpoint, p *models.Process) (*stages.Result, error) {
	return f.run(ctx, models.KeyLabels, cp, p)
}

func (f *fakeWorkers) Attributes(ctx context.Context, cp stages.Checkpoint, p *models.Process) (*stages.Result, error) {
	return f.run(ctx, models.KeyAttributes, cp, p)
}

func (f *fakeWorkers) Nodes(ctx context.Context, cp stages.Checkpoint, p *models.Process) (*stages.Result, error) {
	return f.run(ctx, models.KeyNodes, cp, p)
}

func (f *fakeWorkers) Relationships(ctx context.Context, cp stages.Checkpoint, p *models.Process) (*stages.Result, error) {
	return f.run(ctx, models.KeyGraph, cp, p)
}

func (f *fakeWorkers) Import(ctx context.Context, cp stages.Checkpoint, p *models.Process) (*stages.Result, error) {
	return f.run(ctx, models.KeyDataset, cp, p)
}

type fakeMatcher struct {
	table *models.ResultTable
	err   error
}

func (f fakeMatcher) Match(_ context.Context, cp matcher.Checkpoint, _ models.QueryGraph) (*models.ResultTable, error) {
	if err := cp.Checkpoint(); err != nil {
		return nil, err
	}
	return f.table, f.err
}

type harness struct {
	store    *testutil.Processes
	cache    *cache.Cache
	workers  *fakeWorkers
	runner   *tasks.Runner
	registry *tasks.Registry
	pipeline *PipelineService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := discardLogger()
	local, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)
	files := NewFiles(&memUploads{files: map[string]models.UploadedFile{}}, local)

	h := &harness{
		store:   testutil.NewProcesses(),
		cache:   cache.New(cache.NewMemory(), 0, logger),
		workers: &fakeWorkers{files: files},
	}
	h.registry = tasks.NewRegistry(h.store, logger)
	h.runner = tasks.NewRunner(h.store, nil, nil, tasks.Config{Workers: 2, QueueSize: 8}, logger)
	h.runner.Start(context.Background())
	t.Cleanup(func() { _ = h.runner.Shutdown(context.Background()) })
	h.pipeline = NewPipelineService(h.registry, h.runner, h.workers, files, h.cache, logger)
	return h
}

func (h *harness) settle(t *testing.T, id string) models.Process {
	t.Helper()
	require.Eventually(t, func() bool {
		return !h.store.Snapshot(id).Status.IsActive() && !h.runner.Active(id)
	}, 5*time.Second, 5*time.Millisecond)
	return h.store.Snapshot(id)
}

func (h *harness) completed(id string, outputs map[models.StageKey]string) {
	p := models.Process{ProcessID: id, UserID: "u1", FileID: "f1", Status: models.StatusCompleted}
	for k, v := range outputs {
		p.SetOutput(k, models.Ptr(v))
	}
	h.store.Put(p)
}

const labelsJSON = `[{"header":"material","index":0,"column_values":["Platinum"],"label":"matter"}]`

func TestUploadRunsLabelExtraction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.pipeline.Upload(ctx, UploadRequest{
		UserID: "u1", Context: "fuel cells", Filename: "table.csv",
		File: strings.NewReader("material,conductivity\nPlatinum,9.4e6\n"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ProcessID)
	assert.NotEmpty(t, p.FileID)

	done := h.settle(t, p.ProcessID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.Labels)
	assert.Contains(t, *done.Labels, `"material"`)
	assert.Equal(t, []string{"material,conductivity\nPlatinum,9.4e6\n"}, h.workers.seen)
}

func TestUploadValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline.Upload(ctx, UploadRequest{File: strings.NewReader("a\n1\n")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.pipeline.Upload(ctx, UploadRequest{UserID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.pipeline.Upload(ctx, UploadRequest{UserID: "u1", CallbackURL: "not a url", File: strings.NewReader("a\n1\n")})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubmitRequiresPreviousOutput(t *testing.T) {
	h := newHarness(t)
	h.completed("p1", nil)

	_, err := h.pipeline.Submit(context.Background(), models.KeyAttributes, StageRequest{UserID: "u1", ProcessID: "p1"})
	assert.ErrorIs(t, err, ErrMissingStageInput)
	assert.Empty(t, h.workers.calls)
}

func TestSubmitRunsStage(t *testing.T) {
	h := newHarness(t)
	h.completed("p1", map[models.StageKey]string{models.KeyLabels: labelsJSON})

	_, err := h.pipeline.Submit(context.Background(), models.KeyAttributes, StageRequest{UserID: "u1", ProcessID: "p1"})
	require.NoError(t, err)

	p := h.settle(t, "p1")
	assert.Equal(t, models.StatusCompleted, p.Status)
	assert.JSONEq(t, `{"stage":"attributes"}`, *p.Attributes)
}

func TestSubmitRejects(t *testing.T) {
	tests := []struct {
		name string
		key  models.StageKey
		req  StageRequest
		want error
	}{
		{"first stage", models.KeyLabels, StageRequest{UserID: "u1", ProcessID: "p1"}, ErrInvalidInput},
		{"match key", models.KeyMatch, StageRequest{UserID: "u1", ProcessID: "p1"}, ErrInvalidInput},
		{"missing ids", models.KeyNodes, StageRequest{}, ErrInvalidInput},
		{"other user", models.KeyNodes, StageRequest{UserID: "u2", ProcessID: "p1"}, ErrNotOwned},
		{"unknown process", models.KeyNodes, StageRequest{UserID: "u1", ProcessID: "nope"}, db.ErrNotFound},
		{"second import", models.KeyDataset, StageRequest{UserID: "u1", ProcessID: "p1"}, ErrAlreadyImported},
		{"bad json", models.KeyAttributes, StageRequest{UserID: "u1", ProcessID: "p1", Override: json.RawMessage(`{`)}, ErrInvalidInput},
		{"unknown label", models.KeyAttributes, StageRequest{UserID: "u1", ProcessID: "p1",
			Override: json.RawMessage(`[{"header":"a","index":0,"label":"gadget"}]`)}, ErrInvalidInput},
		{"unclassified attribute", models.KeyNodes, StageRequest{UserID: "u1", ProcessID: "p1",
			Override: json.RawMessage(`[{"header":"a","index":0,"label":"matter"}]`)}, ErrInvalidInput},
		{"node out of range", models.KeyGraph, StageRequest{UserID: "u1", ProcessID: "p1",
			Override: json.RawMessage(`[{"id":"m1","label":"matter","attributes":{"name":[{"value":"Pt","index":5}]}}]`)}, ErrInvalidInput},
		{"dangling edge", models.KeyDataset, StageRequest{UserID: "u1", ProcessID: "p1", Force: true,
			Override: json.RawMessage(`{"nodes":[],"relationships":[{"connection":["a","b"],"rel_type":"HAS_PROPERTY"}]}`)}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.completed("p1", map[models.StageKey]string{
				models.KeyLabels: labelsJSON, models.KeyAttributes: labelsJSON,
				models.KeyNodes: `[]`, models.KeyGraph: `{"nodes":[],"relationships":[]}`, models.KeyDataset: `{}`,
			})
			_, err := h.pipeline.Submit(context.Background(), tt.key, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, h.workers.calls)
		})
	}
}

func TestSubmitRejectsWhileProcessing(t *testing.T) {
	h := newHarness(t)
	h.store.Put(models.Process{ProcessID: "p1", UserID: "u1", Status: models.StatusProcessing, Labels: models.Ptr(labelsJSON)})

	_, err := h.pipeline.Submit(context.Background(), models.KeyAttributes, StageRequest{UserID: "u1", ProcessID: "p1"})
	assert.ErrorIs(t, err, tasks.ErrAlreadyProcessing)
}

func TestForcedSecondImport(t *testing.T) {
	h := newHarness(t)
	h.completed("p1", map[models.StageKey]string{models.KeyGraph: `{"nodes":[],"relationships":[]}`, models.KeyDataset: `{}`})

	_, err := h.pipeline.Submit(context.Background(), models.KeyDataset, StageRequest{UserID: "u1", ProcessID: "p1", Force: true})
	require.NoError(t, err)
	p := h.settle(t, "p1")
	assert.JSONEq(t, `{"stage":"dataset"}`, *p.Dataset)
}

func TestOverrideReplacesInputAndCache(t *testing.T) {
	h := newHarness(t)
	h.completed("p1", map[models.StageKey]string{models.KeyLabels: labelsJSON})
	override := `[{"header":"Conductivity","index":0,"column_values":["9.4e6"],"label":"property","attribute":"value"}]`

	_, err := h.pipeline.Submit(context.Background(), models.KeyAttributes, StageRequest{
		UserID: "u1", ProcessID: "p1", Override: json.RawMessage(override),
	})
	require.NoError(t, err)
	p := h.settle(t, "p1")

	cols, err := p.DecodeColumns(models.KeyLabels)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, models.LabelProperty, cols[0].Label)

	entry, ok := h.cache.Column(context.Background(), "conductivity", "9.4e6", cache.EntryLabel)
	require.True(t, ok, "manual edit updates the column cache")
	assert.Equal(t, models.LabelProperty, entry.Label)
	entry, ok = h.cache.Column(context.Background(), "Conductivity", "9.4e6", cache.EntryAttribute)
	require.True(t, ok)
	assert.Equal(t, "value", entry.Attribute)
}

func TestCancelWithoutActiveTask(t *testing.T) {
	h := newHarness(t)
	h.completed("p1", nil)

	_, err := h.pipeline.Cancel(context.Background(), "u1", "p1")
	assert.ErrorIs(t, err, tasks.ErrNoActiveTask)
}

func TestReportAndDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.completed("p1", map[models.StageKey]string{models.KeyLabels: labelsJSON})

	rep, err := h.pipeline.Report(ctx, "u1", "p1", models.KeyLabels)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rep.Status)
	assert.JSONEq(t, labelsJSON, string(rep.Output))

	_, err = h.pipeline.Report(ctx, "u2", "p1", models.KeyLabels)
	assert.ErrorIs(t, err, ErrNotOwned)

	list, err := h.pipeline.List(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, h.pipeline.Delete(ctx, "u1", "p1"))
	_, err = h.pipeline.Report(ctx, "u1", "p1", models.KeyLabels)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestMatchStoresResult(t *testing.T) {
	h := newHarness(t)
	table := &models.ResultTable{Columns: []string{"m"}, Rows: []map[string]any{{"m": "Pt foil"}}}
	svc := NewMatchService(h.registry, h.runner, fakeMatcher{table: table}, discardLogger())

	p, err := svc.Submit(context.Background(), MatchRequest{
		UserID: "u1",
		Query:  models.QueryGraph{Nodes: []models.QueryNode{{ID: "m", Label: models.LabelMatter, Attributes: models.QueryAttributes{Name: "Metal"}}}},
	})
	require.NoError(t, err)
	assert.Empty(t, p.FileID)

	done := h.settle(t, p.ProcessID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.Match)
	assert.JSONEq(t, `{"columns":["m"],"rows":[{"m":"Pt foil"}]}`, *done.Match)
}

func TestMatchRejectsInvalidQuery(t *testing.T) {
	h := newHarness(t)
	svc := NewMatchService(h.registry, h.runner, fakeMatcher{}, discardLogger())

	_, err := svc.Submit(context.Background(), MatchRequest{UserID: "u1", Query: models.QueryGraph{}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Submit(context.Background(), MatchRequest{UserID: "u1", Query: models.QueryGraph{Nodes: []models.QueryNode{
		{ID: "m", Label: "gadget", Attributes: models.QueryAttributes{Name: "x"}},
	}}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMatchFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	svc := NewMatchService(h.registry, h.runner, fakeMatcher{err: assert.AnError}, discardLogger())

	p, err := svc.Submit(context.Background(), MatchRequest{
		UserID: "u1",
		Query:  models.QueryGraph{Nodes: []models.QueryNode{{ID: "m", Label: models.LabelMatter, Attributes: models.QueryAttributes{Name: "Metal"}}}},
	})
	require.NoError(t, err)
	done := h.settle(t, p.ProcessID)
	assert.Equal(t, models.StatusFailed, done.Status)
	require.NotNil(t, done.ErrorMessage)
	assert.Contains(t, *done.ErrorMessage, assert.AnError.Error())
}
