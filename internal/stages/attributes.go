package stages

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/raphaelgruber/matgraph/internal/cache"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/prompts"
)

type columnAttribute struct {
	Index     int    `json:"index" validate:"gte=0"`
	Attribute string `json:"attribute" validate:"required"`
}

type attributeAnswer struct {
	Columns []columnAttribute `json:"columns" validate:"required,dive"`
}

// Attributes assigns each labelled column an attribute from its label's set (stage 2).
func (w *Workers) Attributes(ctx context.Context, cp Checkpoint, p *models.Process) (*Result, error) {
	cols, err := p.DecodeColumns(models.KeyLabels)
	if err != nil {
		return nil, err
	}
	for _, c := range cols {
		if !c.Label.Valid() {
			return nil, fmt.Errorf("%w: column %q has no label", models.ErrInvalidRecord, c.Header)
		}
	}

	var misses []models.ColumnDescriptor
	for i, col := range cols {
		e, ok := w.deps.Cache.Column(ctx, col.Header, col.FirstSample(), cache.EntryAttribute)
		if ok && e.Label == col.Label && slices.Contains(col.Label.AllowedAttributes(), e.Attribute) {
			cols[i].Attribute = e.Attribute
			continue
		}
		misses = append(misses, col)
	}

	if len(misses) > 0 {
		var ans attributeAnswer
		attrs := map[int]string{}
		err := w.chatChecked(ctx, cp, prompts.Attribute, prompts.TableData{
			Context: p.Context,
			Columns: misses,
		}, &ans, func() error {
			var err error
			attrs, err = ans.resolve(misses)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("classify attributes: %w", err)
		}
		for i := range cols {
			if a, ok := attrs[cols[i].Index]; ok {
				cols[i].Attribute = a
				w.deps.Cache.PutColumn(ctx, cols[i].Header, cols[i].FirstSample(), cache.EntryAttribute,
					cache.ColumnEntry{Label: cols[i].Label, Attribute: a})
			}
		}
	}

	for _, c := range cols {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return &Result{Output: cols}, nil
}

// resolve checks that every requested column received one allowed attribute.
func (a attributeAnswer) resolve(want []models.ColumnDescriptor) (map[int]string, error) {
	byIndex := make(map[int]models.ColumnDescriptor, len(want))
	for _, c := range want {
		byIndex[c.Index] = c
	}
	out := make(map[int]string, len(want))
	for _, c := range a.Columns {
		col, ok := byIndex[c.Index]
		if !ok {
			return nil, fmt.Errorf("attribute for unknown column %d", c.Index)
		}
		attr := strings.ToLower(strings.TrimSpace(c.Attribute))
		if !slices.Contains(col.Label.AllowedAttributes(), attr) {
			return nil, fmt.Errorf("attribute %q not allowed for %s column %q", c.Attribute, col.Label, col.Header)
		}
		out[c.Index] = attr
	}
	for idx := range byIndex {
		if _, ok := out[idx]; !ok {
			return nil, fmt.Errorf("column %d has no attribute", idx)
		}
	}
	return out, nil
}
