package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, "7", string(data))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`3`), &s))
	assert.Equal(t, StatusProcessing, s)

	require.NoError(t, json.Unmarshal([]byte(`"failed"`), &s))
	assert.Equal(t, StatusFailed, s)

	assert.Error(t, json.Unmarshal([]byte(`42`), &s))
	assert.Error(t, json.Unmarshal([]byte(`"exploded"`), &s))
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
		active   bool
	}{
		{StatusReady, false, false},
		{StatusPending, false, true},
		{StatusProcessing, false, true},
		{StatusCompleted, true, false},
		{StatusFailed, true, false},
		{StatusCancelled, true, false},
		{StatusPaused, false, false},
		{StatusTimedOut, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.active, tt.status.IsActive())
		})
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("4")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s)

	s, err = ParseStatus(" Timed_Out ")
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, s)

	_, err = ParseStatus("0")
	assert.Error(t, err)
}

func TestStageKeys(t *testing.T) {
	k, err := ParseReportKey("import")
	require.NoError(t, err)
	assert.Equal(t, KeyDataset, k)

	_, err = ParseReportKey("bogus")
	assert.Error(t, err)

	prev, ok := KeyNodes.Previous()
	assert.True(t, ok)
	assert.Equal(t, KeyAttributes, prev)

	_, ok = KeyLabels.Previous()
	assert.False(t, ok)
	_, ok = KeyMatch.Previous()
	assert.False(t, ok)

	assert.Equal(t, 5, KeyDataset.Index())
	assert.Equal(t, 0, KeyMatch.Index())
}
