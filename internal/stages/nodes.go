package stages

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/prompts"
)

type nodesAnswer struct {
	Nodes []models.ExtractedNode `json:"nodes" validate:"required"`
}

// Nodes extracts typed nodes from the attributed columns (stage 3).
func (w *Workers) Nodes(ctx context.Context, cp Checkpoint, p *models.Process) (*Result, error) {
	cols, err := p.DecodeColumns(models.KeyAttributes)
	if err != nil {
		return nil, err
	}
	table, _, err := w.loadTable(ctx, cp, p)
	if err != nil {
		return nil, err
	}

	var ans nodesAnswer
	var nodes []models.ExtractedNode
	err = w.chatChecked(ctx, cp, prompts.Nodes, prompts.TableData{
		Context:  p.Context,
		Header:   table.Header,
		FirstRow: table.FirstRow(),
		Columns:  cols,
	}, &ans, func() error {
		nodes = NormalizeNodes(ans.Nodes, len(table.Header))
		if len(nodes) == 0 {
			return fmt.Errorf("no usable nodes extracted")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("extract nodes: %w", err)
	}

	for _, n := range nodes {
		if err := n.Validate(len(table.Header)); err != nil {
			return nil, err
		}
	}
	return &Result{Output: nodes}, nil
}

// NormalizeNodes repairs raw extractor output: unknown labels and attribute
// keys are dropped, out-of-range column indices are discarded, sentinel
// values become missing, duplicate (label, name) nodes are merged, ids are
// made unique, and absent required attributes get a missing entry.
func NormalizeNodes(raw []models.ExtractedNode, columns int) []models.ExtractedNode {
	var out []models.ExtractedNode
	merged := map[string]int{}
	usedIDs := map[string]bool{}

	for _, n := range raw {
		label, err := models.ParseNodeLabel(string(n.Label))
		if err != nil {
			continue
		}
		n.Label = label
		n.Attributes = cleanAttributes(n, columns)

		// Quantities stay per column: one parameter node per measured column
		// keeps the one-process-per-parameter rule of stage 4 satisfiable.
		if !label.IsQuantity() {
			if name := strings.ToLower(n.Name()); name != "" {
				key := string(label) + "\x00" + name
				if i, ok := merged[key]; ok {
					out[i].Attributes = mergeAttributes(out[i].Attributes, n.Attributes)
					continue
				}
				merged[key] = len(out)
			}
		}

		n.ID = strings.TrimSpace(n.ID)
		if n.ID == "" || usedIDs[n.ID] {
			n.ID = nextID(label, usedIDs)
		}
		usedIDs[n.ID] = true
		out = append(out, n)
	}

	for i := range out {
		for _, key := range out[i].Label.RequiredFields() {
			if len(out[i].Attributes[key]) == 0 {
				out[i].Attributes[key] = []models.AttributeValue{{Index: models.Missing}}
			}
		}
	}
	return out
}

func cleanAttributes(n models.ExtractedNode, columns int) map[string][]models.AttributeValue {
	allowed := n.Label.NodeAttributeKeys()
	out := make(map[string][]models.AttributeValue, len(n.Attributes))
	for key, vals := range n.Attributes {
		key = strings.ToLower(strings.TrimSpace(key))
		if !slices.Contains(allowed, key) {
			continue
		}
		var kept []models.AttributeValue
		for _, v := range vals {
			if v.Index.Kind == models.OriginColumn && (v.Index.Column < 0 || v.Index.Column >= columns) {
				continue
			}
			if string(v.Value) == models.MissingValueSentinel {
				v = models.AttributeValue{Index: models.Missing}
			}
			if !slices.Contains(kept, v) {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			out[key] = append(out[key], kept...)
		}
	}
	return out
}

func mergeAttributes(dst, src map[string][]models.AttributeValue) map[string][]models.AttributeValue {
	for key, vals := range src {
		for _, v := range vals {
			if v.IsMissing() && hasPresent(dst[key]) {
				continue
			}
			if !slices.Contains(dst[key], v) {
				dst[key] = append(dst[key], v)
			}
		}
		if hasPresent(dst[key]) {
			dst[key] = slices.DeleteFunc(dst[key], models.AttributeValue.IsMissing)
		}
	}
	return dst
}

func hasPresent(vals []models.AttributeValue) bool {
	return slices.ContainsFunc(vals, func(v models.AttributeValue) bool { return !v.IsMissing() })
}

func nextID(label models.NodeLabel, used map[string]bool) string {
	for i := 1; ; i++ {
		id := fmt.Sprintf("%s_%d", label, i)
		if !used[id] {
			return id
		}
	}
}
