package stages

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/raphaelgruber/matgraph/internal/models"
)

// MaxSamples is the number of non-empty sample values shown per column.
const MaxSamples = 4

// ErrInvalidTable indicates an upload that is not a usable CSV table.
var ErrInvalidTable = errors.New("invalid table")

// Table is a decoded CSV upload.
type Table struct {
	Header []string
	Rows   [][]string
}

// ParseTable decodes CSV bytes. The first record is the header; blank rows
// are skipped and short rows are padded.
func ParseTable(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidTable)
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	if len(header) == 1 && header[0] == "" {
		return nil, fmt.Errorf("%w: empty header", ErrInvalidTable)
	}

	t := &Table{Header: header}
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		row := make([]string, len(header))
		for i := range row {
			if i < len(rec) {
				row[i] = strings.TrimSpace(rec[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Samples returns up to MaxSamples distinct non-empty values of column i.
func (t *Table) Samples(i int) []string {
	out := []string{}
	for _, row := range t.Rows {
		v := row[i]
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
		if len(out) == MaxSamples {
			break
		}
	}
	return out
}

// FirstRow returns the first data row, or an empty row.
func (t *Table) FirstRow() []string {
	if len(t.Rows) == 0 {
		return make([]string, len(t.Header))
	}
	return t.Rows[0]
}

// Columns returns one unlabelled descriptor per column.
func (t *Table) Columns() []models.ColumnDescriptor {
	cols := make([]models.ColumnDescriptor, len(t.Header))
	for i, h := range t.Header {
		cols[i] = models.ColumnDescriptor{Header: h, Index: i, ColumnValues: t.Samples(i)}
	}
	return cols
}

// Fingerprint is the lowercased, trimmed header line.
func (t *Table) Fingerprint() string {
	parts := make([]string, len(t.Header))
	for i, h := range t.Header {
		parts[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return strings.Join(parts, ",")
}
