package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTable(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		header  []string
		rows    int
		wantErr bool
	}{
		{name: "simple", in: "a,b\n1,2\n3,4\n", header: []string{"a", "b"}, rows: 2},
		{name: "bom and spaces", in: "\xef\xbb\xbf a , b\n1,2\n", header: []string{"a", "b"}, rows: 1},
		{name: "blank rows skipped", in: "a,b\n\n1,2\n,\n", header: []string{"a", "b"}, rows: 1},
		{name: "header only", in: "a,b\n", header: []string{"a", "b"}, rows: 0},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ParseTable([]byte(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.header, table.Header)
			assert.Len(t, table.Rows, tt.rows)
		})
	}
}

func TestParseTablePadsShortRows(t *testing.T) {
	table, err := ParseTable([]byte("a,b,c\n1\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "", ""}, table.Rows[0])
}

func TestSamples(t *testing.T) {
	table, err := ParseTable([]byte("x\nA\nA\n\nB\nC\nD\nE\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, table.Samples(0))

	cols := table.Columns()
	require.Len(t, cols, 1)
	assert.Equal(t, "x", cols[0].Header)
	assert.Equal(t, "A", cols[0].FirstSample())
}

func TestFingerprintIgnoresCaseAndSpacing(t *testing.T) {
	a, err := ParseTable([]byte("Material, Density\n"))
	require.NoError(t, err)
	b, err := ParseTable([]byte("material ,density\n"))
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Equal(t, "material,density", a.Fingerprint())
}

func TestFirstRowOfEmptyTable(t *testing.T) {
	table, err := ParseTable([]byte("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"", ""}, table.FirstRow())
}
