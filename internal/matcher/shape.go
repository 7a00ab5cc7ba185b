package matcher

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/raphaelgruber/matgraph/internal/graphdb"
	"github.com/raphaelgruber/matgraph/internal/models"
)

// Shape pivots raw match rows into the client table. Each query node
// contributes its instance name, class, value and unit, plus one column per
// attached reading. Rows are merged on their instance uids, which never
// reach the table, and all-null columns are dropped.
func (q *Query) Shape(rows []graphdb.Row) *models.ResultTable {
	if len(rows) == 0 {
		return models.EmptyResult()
	}

	var order []string
	merged := map[string]map[string]any{}
	readingCols := make([]map[string]bool, len(q.nodes))
	for i := range readingCols {
		readingCols[i] = map[string]bool{}
	}

	for _, row := range rows {
		var uids []string
		for _, n := range q.nodes {
			uids = append(uids, row.String(n.col("uid")))
		}
		key := strings.Join(uids, "\x00")
		out, ok := merged[key]
		if !ok {
			out = map[string]any{}
			merged[key] = out
			order = append(order, key)
		}

		for i, n := range q.nodes {
			out[n.id] = flatten(row[n.col("name")])
			if n.class {
				out[n.id+"_class"] = row[n.col("class")]
			}
			if n.quantity || n.label == models.LabelMetadata {
				out[n.id+"_value"] = flatten(row[n.col("value")])
			}
			if n.quantity {
				out[n.id+"_unit"] = flatten(row[n.col("unit")])
			}
			if n.readings {
				for name, val := range readings(row[n.col("readings")]) {
					col := n.id + "." + name
					out[col] = val
					readingCols[i][col] = true
				}
			}
		}
	}

	var columns []string
	for i, n := range q.nodes {
		columns = append(columns, n.id)
		if n.class {
			columns = append(columns, n.id+"_class")
		}
		if n.quantity || n.label == models.LabelMetadata {
			columns = append(columns, n.id+"_value")
		}
		if n.quantity {
			columns = append(columns, n.id+"_unit")
		}
		extra := make([]string, 0, len(readingCols[i]))
		for c := range readingCols[i] {
			extra = append(extra, c)
		}
		sort.Strings(extra)
		columns = append(columns, extra...)
	}

	table := &models.ResultTable{}
	for _, key := range order {
		table.Rows = append(table.Rows, merged[key])
	}
	for _, c := range columns {
		if slices.ContainsFunc(table.Rows, func(r map[string]any) bool { return r[c] != nil }) {
			table.Columns = append(table.Columns, c)
		}
	}
	for _, r := range table.Rows {
		for k := range r {
			if !slices.Contains(table.Columns, k) {
				delete(r, k)
			}
		}
	}
	return table
}

// readings turns a list of {name, value, unit} maps into name -> "value unit".
func readings(v any) map[string]any {
	list, _ := v.([]any)
	out := make(map[string]any, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := flatten(m["name"]).(string)
		if name == "" {
			continue
		}
		val := flatten(m["value"])
		if val == nil {
			continue
		}
		text := fmt.Sprint(val)
		if unit, _ := flatten(m["unit"]).(string); unit != "" {
			text += " " + unit
		}
		out[name] = text
	}
	return out
}

// flatten joins list values so every cell is a scalar.
func flatten(v any) any {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, x := range t {
			if x != nil {
				parts = append(parts, fmt.Sprint(x))
			}
		}
		if len(parts) == 0 {
			return nil
		}
		return strings.Join(parts, ", ")
	case []string:
		if len(t) == 0 {
			return nil
		}
		return strings.Join(t, ", ")
	default:
		return v
	}
}
