package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raphaelgruber/matgraph/internal/metrics"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/stages"
	"github.com/raphaelgruber/matgraph/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerHarness struct {
	store  *testutil.Processes
	sink   *callbackSink
	runner *Runner
}

func newRunnerHarness(t *testing.T, cfg Config) *runnerHarness {
	t.Helper()
	h := &runnerHarness{store: testutil.NewProcesses(), sink: newCallbackSink(t)}
	notifier := NewNotifier(h.sink.Client(), "secret", nil, discardLogger())
	h.runner = NewRunner(h.store, notifier, metrics.NewCollector(), cfg, discardLogger())
	return h
}

func (h *runnerHarness) start(t *testing.T) {
	t.Helper()
	h.runner.Start(context.Background())
	t.Cleanup(func() { _ = h.runner.Shutdown(context.Background()) })
}

func (h *runnerHarness) prepared(id string) {
	h.store.Put(models.Process{
		ProcessID:   id,
		UserID:      "u1",
		CallbackURL: h.sink.URL,
		Status:      models.StatusCompleted,
		FileID:      "f-" + id,
		Nodes:       models.Ptr(`[{"id":"m1","label":"matter","attributes":{}}]`),
		Graph:       models.Ptr(`{"nodes":[],"relationships":[]}`),
	})
}

func returning(res *stages.Result, err error) StageFunc {
	return func(context.Context, *Run) (*stages.Result, error) { return res, err }
}

func TestRunnerCompletesStage(t *testing.T) {
	h := newRunnerHarness(t, Config{Workers: 2, QueueSize: 4})
	h.start(t)
	h.prepared("p1")

	var seen *models.Process
	_, err := h.runner.Submit(context.Background(), "p1", models.KeyGraph, func(_ context.Context, run *Run) (*stages.Result, error) {
		seen = run.Process
		return &stages.Result{Output: map[string]any{"nodes": []any{}, "relationships": []any{}, "ok": true}, Message: "done"}, nil
	})
	require.NoError(t, err)
	h.sink.wait(t)
	require.NoError(t, h.runner.Shutdown(context.Background()))

	p := h.store.Snapshot("p1")
	assert.Equal(t, models.StatusCompleted, p.Status)
	assert.JSONEq(t, `{"nodes":[],"relationships":[],"ok":true}`, *p.Graph)
	require.NotNil(t, seen)
	assert.Equal(t, models.StatusProcessing, seen.Status)

	got := h.sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, "secret", got[0].Header.Get("X-API-KEY"))
	assert.Equal(t, models.KeyGraph, got[0].Callback.Key)
	assert.Equal(t, models.StatusCompleted, got[0].Callback.Status)
	assert.Equal(t, "done", got[0].Callback.Message)
	assert.JSONEq(t, *p.Graph, string(got[0].Callback.Results))
	assert.False(t, h.runner.Active("p1"))
}

func TestRunnerKeepsCachedGraphOutOfOutputs(t *testing.T) {
	h := newRunnerHarness(t, Config{Workers: 1, QueueSize: 1})
	h.start(t)
	h.store.Put(models.Process{
		ProcessID:   "p1",
		UserID:      "u1",
		CallbackURL: h.sink.URL,
		Status:      models.StatusCompleted,
		FileID:      "f-p1",
	})

	_, err := h.runner.Submit(context.Background(), "p1", models.KeyLabels, returning(&stages.Result{
		Output:      []string{"labels"},
		CachedGraph: map[string]string{"cached": "yes"},
		Message:     "cache hit",
	}, nil))
	require.NoError(t, err)
	h.sink.wait(t)

	p := h.store.Snapshot("p1")
	assert.Equal(t, models.StatusCompleted, p.Status)
	assert.JSONEq(t, `["labels"]`, *p.Labels)
	assert.Nil(t, p.Graph, "a cache hit must not produce a graph output")

	got := h.sink.all()
	require.Len(t, got, 1)
	assert.JSONEq(t, `["labels"]`, string(got[0].Callback.Results))
	assert.JSONEq(t, `{"cached":"yes"}`, string(got[0].Callback.CachedGraph))
}

func TestRunnerRecordsFailure(t *testing.T) {
	h := newRunnerHarness(t, Config{Workers: 1, QueueSize: 1})
	h.start(t)
	h.prepared("p1")

	_, err := h.runner.Submit(context.Background(), "p1", models.KeyNodes, returning(nil, errors.New("model unavailable")))
	require.NoError(t, err)
	h.sink.wait(t)

	p := h.store.Snapshot("p1")
	assert.Equal(t, models.StatusFailed, p.Status)
	require.NotNil(t, p.ErrorMessage)
	assert.Equal(t, "model unavailable", *p.ErrorMessage)
	assert.Equal(t, models.StatusFailed, h.sink.all()[0].Callback.Status)
}

func TestRunnerRecoversPanic(t *testing.T) {
	h := newRunnerHarness(t, Config{Workers: 1, QueueSize: 1})
	h.start(t)
	h.prepared("p1")

	_, err := h.runner.Submit(context.Background(), "p1", models.KeyNodes, func(context.Context, *Run) (*stages.Result, error) {
		panic("boom")
	})
	require.NoError(t, err)
	h.sink.wait(t)

	p := h.store.Snapshot("p1")
	assert.Equal(t, models.StatusFailed, p.Status)
	require.NotNil(t, p.ErrorMessage)
	assert.Contains(t, *p.ErrorMessage, "panic: boom")
	assert.Contains(t, *p.ErrorMessage, "goroutine")
}

func TestRunnerCancellation(t *testing.T) {
	h := newRunnerHarness(t, Config{Workers: 1, QueueSize: 1})
	h.start(t)
	h.prepared("p1")
	before := h.store.Snapshot("p1").Graph

	_, err := h.runner.Submit(context.Background(), "p1", models.KeyGraph, func(_ context.Context, run *Run) (*stages.Result, error) {
		for {
			if err := run.Checkpoint(); err != nil {
				return nil, err
			}
			time.Sleep(time.Millisecond)
		}
	})
	require.NoError(t, err)
	assert.True(t, h.runner.Cancel("p1"))
	h.sink.wait(t)
	require.NoError(t, h.runner.Shutdown(context.Background()))

	p := h.store.Snapshot("p1")
	assert.Equal(t, models.StatusCancelled, p.Status)
	assert.Nil(t, p.ErrorMessage)
	assert.Equal(t, *before, *p.Graph)

	got := h.sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, models.StatusCancelled, got[0].Callback.Status)
	assert.False(t, h.runner.Cancel("p1"), "nothing left to cancel")
}

func TestRunnerDiscardsOutputCancelledLate(t *testing.T) {
	h := newRunnerHarness(t, Config{Workers: 1, QueueSize: 1})
	h.start(t)
	h.prepared("p1")
	before := *h.store.Snapshot("p1").Graph

	_, err := h.runner.Submit(context.Background(), "p1", models.KeyGraph, func(_ context.Context, run *Run) (*stages.Result, error) {
		run.token.Cancel()
		return &stages.Result{Output: "late"}, nil
	})
	require.NoError(t, err)
	h.sink.wait(t)

	p := h.store.Snapshot("p1")
	assert.Equal(t, models.StatusCancelled, p.Status)
	assert.Equal(t, before, *p.Graph)
}

func TestRunnerRejectsConcurrentSubmission(t *testing.T) {
	h := newRunnerHarness(t, Config{Workers: 1, QueueSize: 4})
	h.prepared("p1")

	_, err := h.runner.Submit(context.Background(), "p1", models.KeyNodes, returning(nil, nil))
	require.NoError(t, err)
	_, err = h.runner.Submit(context.Background(), "p1", models.KeyNodes, returning(nil, nil))
	assert.ErrorIs(t, err, ErrAlreadyProcessing)

	// A record already active in the store is rejected even without a local token.
	h.store.Put(models.Process{ProcessID: "p2", Status: models.StatusProcessing})
	_, err = h.runner.Submit(context.Background(), "p2", models.KeyNodes, returning(nil, nil))
	assert.ErrorIs(t, err, ErrAlreadyProcessing)
	assert.False(t, h.runner.Active("p2"))
}

func TestRunnerQueueFull(t *testing.T) {
	h := newRunnerHarness(t, Config{Workers: 1, QueueSize: 1})
	h.prepared("p1")
	h.prepared("p2")

	_, err := h.runner.Submit(context.Background(), "p1", models.KeyNodes, returning(nil, nil))
	require.NoError(t, err)
	_, err = h.runner.Submit(context.Background(), "p2", models.KeyNodes, returning(nil, nil))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, models.StatusCompleted, h.store.Snapshot("p2").Status, "rejected submission leaves the record alone")
}

func TestRunnerUnknownProcess(t *testing.T) {
	h := newRunnerHarness(t, Config{})
	_, err := h.runner.Submit(context.Background(), "ghost", models.KeyNodes, returning(nil, nil))
	assert.Error(t, err)
	assert.False(t, h.runner.Active("ghost"))
}

func TestRunnerShutdownCancelsQueued(t *testing.T) {
	h := newRunnerHarness(t, Config{Workers: 1, QueueSize: 2})
	h.start(t)
	h.prepared("p1")
	h.prepared("p2")

	_, err := h.runner.Submit(context.Background(), "p1", models.KeyNodes, func(_ context.Context, run *Run) (*stages.Result, error) {
		for {
			if err := run.Checkpoint(); err != nil {
				return nil, err
			}
			time.Sleep(time.Millisecond)
		}
	})
	require.NoError(t, err)
	_, err = h.runner.Submit(context.Background(), "p2", models.KeyNodes, returning(&stages.Result{Output: 1}, nil))
	require.NoError(t, err)

	require.NoError(t, h.runner.Shutdown(context.Background()))

	assert.Equal(t, models.StatusCancelled, h.store.Snapshot("p1").Status)
	assert.Equal(t, models.StatusCancelled, h.store.Snapshot("p2").Status)
	assert.Len(t, h.sink.all(), 2)
	_, err = h.runner.Submit(context.Background(), "p1", models.KeyNodes, returning(nil, nil))
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestResumeInterrupted(t *testing.T) {
	h := newRunnerHarness(t, Config{})
	h.store.Put(models.Process{ProcessID: "p1", UserID: "u1", CallbackURL: h.sink.URL, FileID: "f1",
		Status: models.StatusProcessing, Labels: models.Ptr(`[]`)})
	h.store.Put(models.Process{ProcessID: "m1", UserID: "u1", CallbackURL: h.sink.URL, Status: models.StatusPending})
	h.store.Put(models.Process{ProcessID: "done", UserID: "u1", CallbackURL: h.sink.URL, Status: models.StatusCompleted})

	require.NoError(t, h.runner.ResumeInterrupted(context.Background()))

	p := h.store.Snapshot("p1")
	assert.Equal(t, models.StatusFailed, p.Status)
	assert.Equal(t, InterruptedMessage, *p.ErrorMessage)
	assert.Equal(t, models.StatusCompleted, h.store.Snapshot("done").Status)

	keys := map[string]models.StageKey{}
	for _, r := range h.sink.all() {
		keys[r.Callback.ProcessID] = r.Callback.Key
	}
	assert.Equal(t, map[string]models.StageKey{"p1": models.KeyAttributes, "m1": models.KeyMatch}, keys)
}
