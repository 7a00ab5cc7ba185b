package tasks

import (
	"context"
	"strconv"
	"testing"

	"github.com/raphaelgruber/matgraph/internal/metrics"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyJSON(t *testing.T) {
	sink := newCallbackSink(t)
	collector := metrics.NewCollector()
	n := NewNotifier(sink.Client(), "k", collector, discardLogger())

	p := &models.Process{ProcessID: "p1", UserID: "u1", CallbackURL: sink.URL,
		Status: models.StatusCompleted, Labels: models.Ptr(`[{"header":"a","label":"matter"}]`)}
	n.Notify(context.Background(), p, models.KeyLabels, "ok")

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, "application/json", got[0].Header.Get("Content-Type"))
	assert.Equal(t, "k", got[0].Header.Get("X-API-KEY"))
	cb := got[0].Callback
	assert.Equal(t, "u1", cb.UserID)
	assert.Equal(t, "p1", cb.ProcessID)
	assert.Equal(t, models.KeyLabels, cb.Key)
	assert.JSONEq(t, *p.Labels, string(cb.Results))
	assert.Equal(t, int64(1), collector.Snapshot().Callback.Count)
}

func TestNotifyOmitsResultsUnlessCompleted(t *testing.T) {
	sink := newCallbackSink(t)
	n := NewNotifier(sink.Client(), "k", nil, discardLogger())

	p := &models.Process{ProcessID: "p1", CallbackURL: sink.URL, Status: models.StatusFailed,
		Labels: models.Ptr(`[]`), ErrorMessage: models.Ptr("bad")}
	n.Notify(context.Background(), p, models.KeyLabels, "bad")

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, "null", string(got[0].Callback.Results))
	assert.Equal(t, "bad", got[0].Callback.Message)
}

func TestNotifyDatasetMultipart(t *testing.T) {
	sink := newCallbackSink(t)
	n := NewNotifier(sink.Client(), "k", nil, discardLogger())

	summary := models.ImportSummary{Rows: 1, Mappings: []models.NameMapping{{
		NodeID: "m1", Label: models.LabelMatter, Name: "Platinum", Kind: models.KindMatter, OntologyUID: "c1",
	}}}
	raw, err := models.EncodeOutput(summary)
	require.NoError(t, err)
	p := &models.Process{ProcessID: "p1", UserID: "u1", CallbackURL: sink.URL,
		Status: models.StatusCompleted, Dataset: &raw}
	n.Notify(context.Background(), p, models.KeyDataset, "imported")

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, DatasetFilename, got[0].Filename)
	assert.Contains(t, got[0].File, "Platinum")
	assert.Equal(t, "p1", got[0].Fields["process_id"])
	assert.Equal(t, "dataset", got[0].Fields["key"])
	assert.Equal(t, strconv.Itoa(int(models.StatusCompleted)), got[0].Fields["status"])
	assert.Equal(t, "imported", got[0].Fields["message"])
}

func TestNotifySkipsWithoutURL(t *testing.T) {
	n := NewNotifier(nil, "k", nil, discardLogger())
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), &models.Process{ProcessID: "p1", Status: models.StatusCompleted}, models.KeyLabels, "")
	})
}

func TestNotifyIgnoresUnreachableClient(t *testing.T) {
	sink := newCallbackSink(t)
	url := sink.URL
	sink.Close()
	n := NewNotifier(nil, "k", nil, discardLogger())
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), &models.Process{ProcessID: "p1", CallbackURL: url, Status: models.StatusFailed}, models.KeyNodes, "x")
	})
}
