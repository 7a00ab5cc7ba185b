package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"underscores", "Al_2O_3", "Al 2O 3"},
		{"collapse spaces", "  Tensile   strength ", "Tensile strength"},
		{"mixed", "heat_treatment  temp", "heat treatment temp"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestRecordIDString(t *testing.T) {
	s, err := RecordIDString(surrealmodels.RecordID{Table: "process", ID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", s)

	_, err = RecordIDString(surrealmodels.RecordID{Table: "process", ID: 42})
	assert.Error(t, err)
}
