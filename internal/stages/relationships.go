package stages

import (
	"context"
	"fmt"
	"slices"

	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/prompts"
	"golang.org/x/sync/errgroup"
)

type proposedEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

type relationshipAnswer struct {
	Relationships []proposedEdge `json:"relationships"`
}

// extractorLabels lists the (source, target) labels each extractor needs.
var extractorLabels = map[string][2][]models.NodeLabel{
	prompts.ExtractHasProperty:          {{models.LabelMatter}, {models.LabelProperty}},
	prompts.ExtractHasParameter:         {{models.LabelManufacturing, models.LabelMeasurement}, {models.LabelParameter}},
	prompts.ExtractHasMeasurementOutput: {{models.LabelMeasurement}, {models.LabelProperty}},
	prompts.ExtractMatterManufacturing:  {{models.LabelMatter}, {models.LabelManufacturing}},
}

// Relationships runs the four edge extractors concurrently and corrects
// their merged output (stage 4).
func (w *Workers) Relationships(ctx context.Context, cp Checkpoint, p *models.Process) (*Result, error) {
	nodes, err := p.DecodeNodes()
	if err != nil {
		return nil, err
	}
	table, _, err := w.loadTable(ctx, cp, p)
	if err != nil {
		return nil, err
	}

	data := prompts.GraphData{
		Context:  p.Context,
		Header:   table.Header,
		FirstRow: table.FirstRow(),
		Nodes:    nodes,
	}

	proposals := make([][]proposedEdge, len(prompts.Extractors))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range prompts.Extractors {
		if !applicable(name, nodes) {
			continue
		}
		g.Go(func() error {
			var ans relationshipAnswer
			if err := w.chat(gctx, cp, prompts.Relationships(name), data, &ans); err != nil {
				return fmt.Errorf("%s extractor: %w", name, err)
			}
			proposals[i] = ans.Relationships
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []proposedEdge
	for _, edges := range proposals {
		all = append(all, edges...)
	}
	doc := models.GraphDocument{Nodes: nodes, Relationships: CorrectRelationships(nodes, all)}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	w.logger.Debug("extracted relationships", "process_id", p.ProcessID, "proposed", len(all), "kept", len(doc.Relationships))
	return &Result{Output: doc}, nil
}

func applicable(extractor string, nodes []models.ExtractedNode) bool {
	want := extractorLabels[extractor]
	hasLabel := func(labels []models.NodeLabel) bool {
		return slices.ContainsFunc(nodes, func(n models.ExtractedNode) bool { return slices.Contains(labels, n.Label) })
	}
	return hasLabel(want[0]) && hasLabel(want[1])
}

// CorrectRelationships validates proposed edges against the node list:
// unknown types and endpoints are dropped, reversed edges are flipped,
// duplicates are removed, and each parameter keeps exactly one incoming
// HAS_PARAMETER (the first proposed, or the first process node when none was).
func CorrectRelationships(nodes []models.ExtractedNode, proposed []proposedEdge) []models.Relationship {
	byID := make(map[string]models.ExtractedNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	out := []models.Relationship{}
	seen := map[models.Relationship]bool{}
	paramOwner := map[string]string{}

	add := func(r models.Relationship) {
		if seen[r] {
			return
		}
		if r.RelType == models.RelHasParameter {
			if _, owned := paramOwner[r.Target()]; owned {
				return
			}
			paramOwner[r.Target()] = r.Source()
		}
		seen[r] = true
		out = append(out, r)
	}

	for _, e := range proposed {
		rt, err := models.ParseRelType(e.Type)
		if err != nil {
			continue
		}
		src, okSrc := byID[e.Source]
		tgt, okTgt := byID[e.Target]
		if !okSrc || !okTgt || e.Source == e.Target {
			continue
		}
		switch {
		case rt.Allows(src.Label, tgt.Label):
			add(models.Relationship{RelType: rt, Connection: [2]string{e.Source, e.Target}})
		case rt.Allows(tgt.Label, src.Label):
			add(models.Relationship{RelType: rt, Connection: [2]string{e.Target, e.Source}})
		}
	}

	var firstProcess string
	for _, n := range nodes {
		if n.Label.IsProcess() {
			firstProcess = n.ID
			break
		}
	}
	if firstProcess != "" {
		for _, n := range nodes {
			if n.Label == models.LabelParameter {
				if _, owned := paramOwner[n.ID]; !owned {
					add(models.Relationship{RelType: models.RelHasParameter, Connection: [2]string{firstProcess, n.ID}})
				}
			}
		}
	}
	return out
}
