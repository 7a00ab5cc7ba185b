package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpGraphRead, 10*time.Millisecond)
	c.RecordTiming(OpGraphRead, 30*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.GraphRead)
	assert.Equal(t, int64(2), snap.GraphRead.Count)
	assert.Equal(t, int64(10), snap.GraphRead.MinTimeMs)
	assert.Equal(t, int64(30), snap.GraphRead.MaxTimeMs)
	assert.InDelta(t, 20.0, snap.GraphRead.AvgTimeMs, 0.001)
	assert.Nil(t, snap.GraphWrite)
}

func TestRecordLLMUsage(t *testing.T) {
	c := NewCollector()
	c.RecordLLMUsage(OpLLMChat, time.Second, 100, 20)
	c.RecordLLMUsage(OpLLMChat, time.Second, 300, 40)

	snap := c.Snapshot().LLMChat
	require.NotNil(t, snap)
	require.NotNil(t, snap.TotalInputTokens)
	assert.Equal(t, int64(400), *snap.TotalInputTokens)
	assert.Equal(t, int64(100), *snap.MinInputTokens)
	assert.Equal(t, int64(40), *snap.MaxOutputTokens)
}

func TestRecordStage(t *testing.T) {
	c := NewCollector()
	c.RecordStage("labels", "completed", 5*time.Millisecond)
	c.RecordStage("labels", "failed", 7*time.Millisecond)

	snap := c.Snapshot()
	require.Contains(t, snap.Stages, "labels")
	assert.Equal(t, int64(2), snap.Stages["labels"].Count)
}

func TestSinceNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() { c.Since(OpCallback, time.Now()) })
}

func TestHandlerExposesOperations(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpRegistry, time.Millisecond)
	c.RecordStage("graph", "completed", time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `matgraph_operation_duration_seconds_count{op="registry"} 1`)
	assert.Contains(t, string(body), `matgraph_pipeline_stage_runs_total{outcome="completed",stage="graph"} 1`)
}
