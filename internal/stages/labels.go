package stages

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/matgraph/internal/cache"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/prompts"
)

type columnLabel struct {
	Index int    `json:"index" validate:"gte=0"`
	Label string `json:"label" validate:"required"`
}

type labelAnswer struct {
	Columns []columnLabel `json:"columns" validate:"required,dive"`
}

// Labels classifies every column of the uploaded table (stage 1).
func (w *Workers) Labels(ctx context.Context, cp Checkpoint, p *models.Process) (*Result, error) {
	table, _, err := w.loadTable(ctx, cp, p)
	if err != nil {
		return nil, err
	}
	res := &Result{}

	if err := cp.Checkpoint(); err != nil {
		return nil, err
	}
	if doc, ok := w.deps.Cache.Table(ctx, table.Fingerprint()); ok {
		res.CachedGraph = doc
		res.Message = "table matches a previous import; cached graph attached"
		w.logger.Info("full-table cache hit", "process_id", p.ProcessID, "fingerprint", table.Fingerprint())
	}

	cols := table.Columns()
	var misses []models.ColumnDescriptor
	for i, col := range cols {
		if e, ok := w.deps.Cache.Column(ctx, col.Header, col.FirstSample(), cache.EntryLabel); ok {
			cols[i].Label = e.Label
			continue
		}
		misses = append(misses, col)
	}

	if len(misses) > 0 {
		var ans labelAnswer
		labels := map[int]models.NodeLabel{}
		err := w.chatChecked(ctx, cp, prompts.Label, prompts.TableData{
			Context:  p.Context,
			Header:   table.Header,
			FirstRow: table.FirstRow(),
			Columns:  misses,
		}, &ans, func() error {
			var err error
			labels, err = ans.resolve(misses)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("label columns: %w", err)
		}
		for i := range cols {
			if l, ok := labels[cols[i].Index]; ok {
				cols[i].Label = l
				w.deps.Cache.PutColumn(ctx, cols[i].Header, cols[i].FirstSample(), cache.EntryLabel, cache.ColumnEntry{Label: l})
			}
		}
	}

	w.logger.Debug("labelled columns", "process_id", p.ProcessID, "columns", len(cols), "cached", len(cols)-len(misses))
	res.Output = cols
	return res, nil
}

// resolve checks that every requested column received exactly one known label.
func (a labelAnswer) resolve(want []models.ColumnDescriptor) (map[int]models.NodeLabel, error) {
	requested := make(map[int]bool, len(want))
	for _, c := range want {
		requested[c.Index] = true
	}
	out := make(map[int]models.NodeLabel, len(want))
	for _, c := range a.Columns {
		if !requested[c.Index] {
			return nil, fmt.Errorf("label for unknown column %d", c.Index)
		}
		if _, dup := out[c.Index]; dup {
			return nil, fmt.Errorf("column %d labelled twice", c.Index)
		}
		l, err := models.ParseNodeLabel(c.Label)
		if err != nil {
			return nil, err
		}
		out[c.Index] = l
	}
	for idx := range requested {
		if _, ok := out[idx]; !ok {
			return nil, fmt.Errorf("column %d not labelled", idx)
		}
	}
	return out, nil
}
