package tasks

import (
	"context"
	"testing"

	"github.com/raphaelgruber/matgraph/internal/db"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func input(id string) models.ProcessInput {
	return models.ProcessInput{ProcessID: id, UserID: "u1", CallbackURL: "http://client.example/cb", FileID: "f1"}
}

func TestRegistryCreate(t *testing.T) {
	store := testutil.NewProcesses()
	reg := NewRegistry(store, discardLogger())

	p, err := reg.Create(context.Background(), input("p1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, p.Status)
	assert.Equal(t, 1, p.Seq)
	assert.Zero(t, store.Repairs)
}

func TestRegistryCreateRepairsSequenceOnce(t *testing.T) {
	store := testutil.NewProcesses()
	store.Conflicts = 1
	reg := NewRegistry(store, discardLogger())

	p, err := reg.Create(context.Background(), input("p1"))
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ProcessID)
	assert.Equal(t, 1, store.Repairs)

	store.Conflicts = 2
	_, err = reg.Create(context.Background(), input("p2"))
	assert.ErrorIs(t, err, db.ErrSequenceConflict)
	assert.Equal(t, 2, store.Repairs)
}

func TestRegistryCreateValidates(t *testing.T) {
	reg := NewRegistry(testutil.NewProcesses(), discardLogger())

	_, err := reg.Create(context.Background(), models.ProcessInput{ProcessID: "p1"})
	assert.ErrorIs(t, err, models.ErrInvalidRecord)

	in := input("p1")
	in.CallbackURL = "not a url"
	_, err = reg.Create(context.Background(), in)
	assert.ErrorIs(t, err, models.ErrInvalidRecord)
}

func TestRegistryReport(t *testing.T) {
	store := testutil.NewProcesses()
	reg := NewRegistry(store, discardLogger())
	store.Put(models.Process{ProcessID: "done", Status: models.StatusCompleted, Labels: models.Ptr(`[{"header":"a"}]`)})
	store.Put(models.Process{ProcessID: "busy", Status: models.StatusProcessing, Labels: models.Ptr(`[{"header":"a"}]`)})
	store.Put(models.Process{ProcessID: "failed", Status: models.StatusFailed, ErrorMessage: models.Ptr("boom")})

	tests := []struct {
		id      string
		status  models.Status
		output  string
		errText string
	}{
		{id: "done", status: models.StatusCompleted, output: `[{"header":"a"}]`},
		{id: "busy", status: models.StatusProcessing},
		{id: "failed", status: models.StatusFailed, errText: "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			rep, err := reg.Report(context.Background(), tt.id, models.KeyLabels)
			require.NoError(t, err)
			assert.Equal(t, tt.status, rep.Status)
			assert.Equal(t, tt.output, string(rep.Output))
			if tt.errText != "" {
				require.NotNil(t, rep.Error)
				assert.Equal(t, tt.errText, *rep.Error)
			}
		})
	}

	_, err := reg.Report(context.Background(), "ghost", models.KeyLabels)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestRegistryReplaceAndDelete(t *testing.T) {
	store := testutil.NewProcesses()
	reg := NewRegistry(store, discardLogger())
	store.Put(models.Process{ProcessID: "p1", Status: models.StatusCompleted})
	store.Put(models.Process{ProcessID: "p2", Status: models.StatusPending})

	p, err := reg.Replace(context.Background(), "p1", models.KeyLabels, `[]`)
	require.NoError(t, err)
	assert.Equal(t, `[]`, *p.Labels)

	_, err = reg.Replace(context.Background(), "p2", models.KeyLabels, `[]`)
	assert.ErrorIs(t, err, ErrAlreadyProcessing)

	require.NoError(t, reg.Delete(context.Background(), "p1"))
	assert.ErrorIs(t, reg.Delete(context.Background(), "p1"), db.ErrNotFound)
}
