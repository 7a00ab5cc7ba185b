//go:build integration

package db

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcess(t *testing.T, ctx context.Context) *models.Process {
	t.Helper()
	id := "test-" + uuid.NewString()
	p, err := testDB.CreateProcess(ctx, models.ProcessInput{
		ProcessID: id,
		UserID:    "u-1",
		FileID:    "f-1",
		Context:   "fuel cell bipolar plates",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = testDB.DeleteProcess(context.Background(), id) })
	return p
}

func TestCreateProcess(t *testing.T) {
	ctx := context.Background()
	a := newProcess(t, ctx)
	b := newProcess(t, ctx)

	assert.Equal(t, models.StatusReady, a.Status)
	assert.Greater(t, b.Seq, a.Seq)
	assert.Nil(t, a.Labels)

	_, err := testDB.CreateProcess(ctx, models.ProcessInput{ProcessID: a.ProcessID, UserID: "u-1"})
	assert.ErrorIs(t, err, ErrEntityAlreadyExists)
}

func TestCreateProcessSequenceRepair(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, ctx)

	// Push the counter behind the table.
	_, err := testDB.Query(ctx, `UPSERT sequence:process SET value = $v`, map[string]any{"v": p.Seq - 1})
	require.NoError(t, err)

	id := "test-" + uuid.NewString()
	_, err = testDB.CreateProcess(ctx, models.ProcessInput{ProcessID: id, UserID: "u-1"})
	require.ErrorIs(t, err, ErrSequenceConflict)

	require.NoError(t, testDB.RepairProcessSequence(ctx))
	created, err := testDB.CreateProcess(ctx, models.ProcessInput{ProcessID: id, UserID: "u-1"})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = testDB.DeleteProcess(context.Background(), id) })
	assert.Greater(t, created.Seq, p.Seq)
}

func TestProcessLifecycle(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, ctx)

	claimed, err := testDB.ClaimProcess(ctx, p.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, claimed.Status)

	_, err = testDB.ClaimProcess(ctx, p.ProcessID)
	assert.ErrorIs(t, err, ErrProcessBusy)

	started, err := testDB.StartProcess(ctx, p.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, started.Status)

	done, err := testDB.CompleteStage(ctx, p.ProcessID, models.KeyLabels, `[{"header":"material","index":0}]`)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.Labels)

	cols, err := done.DecodeColumns(models.KeyLabels)
	require.NoError(t, err)
	assert.Equal(t, "material", cols[0].Header)
}

func TestCancelWinsOverCompletion(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, ctx)

	_, err := testDB.ClaimProcess(ctx, p.ProcessID)
	require.NoError(t, err)
	_, err = testDB.StartProcess(ctx, p.ProcessID)
	require.NoError(t, err)

	cancelled, err := testDB.CancelProcess(ctx, p.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	_, err = testDB.CompleteStage(ctx, p.ProcessID, models.KeyGraph, `{}`)
	assert.ErrorIs(t, err, ErrProcessBusy)

	got, err := testDB.GetProcess(ctx, p.ProcessID)
	require.NoError(t, err)
	assert.Nil(t, got.Graph)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestFailProcess(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, ctx)

	_, err := testDB.FailProcess(ctx, p.ProcessID, "boom")
	assert.ErrorIs(t, err, ErrProcessBusy, "ready processes cannot fail")

	_, err = testDB.ClaimProcess(ctx, p.ProcessID)
	require.NoError(t, err)
	failed, err := testDB.FailProcess(ctx, p.ProcessID, "boom")
	require.NoError(t, err)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "boom", *failed.ErrorMessage)
}

func TestReplaceOutput(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, ctx)

	got, err := testDB.ReplaceOutput(ctx, p.ProcessID, models.KeyNodes, `[]`)
	require.NoError(t, err)
	require.NotNil(t, got.Nodes)
	assert.Equal(t, `[]`, *got.Nodes)

	_, err = testDB.ClaimProcess(ctx, p.ProcessID)
	require.NoError(t, err)
	_, err = testDB.ReplaceOutput(ctx, p.ProcessID, models.KeyNodes, `[1]`)
	assert.ErrorIs(t, err, ErrProcessBusy)
}

func TestMarkInterrupted(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, ctx)
	_, err := testDB.ClaimProcess(ctx, p.ProcessID)
	require.NoError(t, err)

	stale, err := testDB.MarkInterrupted(ctx, "interrupted by restart")
	require.NoError(t, err)

	var found bool
	for _, s := range stale {
		if s.ProcessID == p.ProcessID {
			found = true
			assert.Equal(t, models.StatusFailed, s.Status)
		}
	}
	assert.True(t, found)
}

func TestGetAndDeleteProcess(t *testing.T) {
	ctx := context.Background()

	_, err := testDB.GetProcess(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = testDB.ClaimProcess(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)

	p := newProcess(t, ctx)
	n, err := testDB.DeleteProcess(ctx, p.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = testDB.DeleteProcess(ctx, p.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestListProcesses(t *testing.T) {
	ctx := context.Background()
	a := newProcess(t, ctx)
	b := newProcess(t, ctx)

	list, err := testDB.ListProcesses(ctx, "u-1", 0)
	require.NoError(t, err)

	ids := make([]string, 0, len(list))
	for _, s := range list {
		ids = append(ids, s.ProcessID)
	}
	assert.Contains(t, ids, a.ProcessID)
	assert.Contains(t, ids, b.ProcessID)
}

func TestUploads(t *testing.T) {
	ctx := context.Background()
	up, err := testDB.CreateUpload(ctx, "plates.csv", "file:///tmp/plates.csv", "uploads/plates.csv")
	require.NoError(t, err)

	id, err := models.RecordIDString(up.ID)
	require.NoError(t, err)

	got, err := testDB.GetUpload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "plates.csv", got.Name)
	assert.Equal(t, "uploads/plates.csv", got.BlobKey)

	_, err = testDB.GetUpload(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
