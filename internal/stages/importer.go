package stages

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/raphaelgruber/matgraph/internal/graphdb"
	"github.com/raphaelgruber/matgraph/internal/models"
	"golang.org/x/sync/errgroup"
)

type nameKey struct {
	kind models.OntologyKind
	name string
}

// Import resolves every extracted name to an ontology class and writes one
// instance subgraph per table row in a single transaction (stage 5).
func (w *Workers) Import(ctx context.Context, cp Checkpoint, p *models.Process) (*Result, error) {
	doc, err := p.DecodeGraph()
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	table, link, err := w.loadTable(ctx, cp, p)
	if err != nil {
		return nil, err
	}
	if len(table.Rows) == 0 {
		return nil, fmt.Errorf("%w: no data rows", ErrInvalidTable)
	}

	rows := make([]map[string]map[string]any, len(table.Rows))
	for r, row := range table.Rows {
		rows[r] = make(map[string]map[string]any, len(doc.Nodes))
		for _, n := range doc.Nodes {
			if props := instanceProps(n, row); props != nil {
				rows[r][n.ID] = props
			}
		}
	}

	classes, err := w.resolveNames(ctx, cp, p, doc.Nodes, rows)
	if err != nil {
		return nil, err
	}

	var batch graphdb.ImportBatch
	var mappings []models.NameMapping
	mapped := map[[2]string]bool{}
	for r, instances := range rows {
		created := make(map[string]graphdb.Instance, len(instances))
		for _, n := range doc.Nodes {
			props, ok := instances[n.ID]
			if !ok {
				continue
			}
			props["file_link"] = link
			props["process_id"] = p.ProcessID
			props["node_id"] = n.ID
			props["row"] = int64(r)

			inst := graphdb.Instance{UID: uuid.NewString(), Label: n.Label, Props: props}
			if kind, ok := models.KindForLabel(n.Label); ok {
				name := firstName(props)
				inst.ClassUID = classes[nameKey{kind, name}]
				if k := [2]string{n.ID, name}; inst.ClassUID != "" && !mapped[k] {
					mapped[k] = true
					mappings = append(mappings, models.NameMapping{
						NodeID: n.ID, Label: n.Label, Name: name, Kind: kind, OntologyUID: inst.ClassUID,
					})
				}
			}
			created[n.ID] = inst
			batch.Instances = append(batch.Instances, inst)
		}
		for _, rel := range doc.Relationships {
			src, okSrc := created[rel.Source()]
			tgt, okTgt := created[rel.Target()]
			if okSrc && okTgt {
				batch.Edges = append(batch.Edges, graphdb.Edge{Type: rel.RelType, Source: src, Target: tgt})
			}
		}
	}
	if len(batch.Instances) == 0 {
		return nil, fmt.Errorf("%w: no instance values in any row", ErrInvalidTable)
	}

	if err := cp.Checkpoint(); err != nil {
		return nil, err
	}
	res, err := w.deps.Importer.Import(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}

	w.deps.Cache.PutTable(ctx, table.Fingerprint(), *doc)

	sort.SliceStable(mappings, func(i, j int) bool { return mappings[i].NodeID < mappings[j].NodeID })
	summary := models.ImportSummary{
		FileLink:             link,
		Rows:                 len(table.Rows),
		NodesCreated:         res.Nodes,
		RelationshipsCreated: res.Relationships,
		Mappings:             mappings,
	}
	w.logger.Info("imported graph", "process_id", p.ProcessID, "rows", summary.Rows,
		"nodes", summary.NodesCreated, "relationships", summary.RelationshipsCreated, "names", len(classes))
	return &Result{Output: summary}, nil
}

// resolveNames maps every distinct (kind, name) with bounded concurrency.
func (w *Workers) resolveNames(ctx context.Context, cp Checkpoint, p *models.Process, nodes []models.ExtractedNode, rows []map[string]map[string]any) (map[nameKey]string, error) {
	var keys []nameKey
	seen := map[nameKey]bool{}
	for _, instances := range rows {
		for _, n := range nodes {
			kind, ok := models.KindForLabel(n.Label)
			props, present := instances[n.ID]
			if !ok || !present {
				continue
			}
			k := nameKey{kind, firstName(props)}
			if k.name != "" && !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	var mu sync.Mutex
	out := make(map[nameKey]string, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.deps.ResolveConcurrency)
	for _, k := range keys {
		g.Go(func() error {
			if err := cp.Checkpoint(); err != nil {
				return err
			}
			uid, err := w.deps.Mapper.MapName(gctx, k.name, k.kind, p.Context)
			if err != nil {
				return fmt.Errorf("map %s %q: %w", k.kind, k.name, err)
			}
			mu.Lock()
			out[k] = uid
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// instanceProps evaluates a node's attributes against one table row.
// Column values are read from the row, inferred values are taken literally,
// and missing or empty values are dropped. It returns nil when nothing
// identifying remains.
func instanceProps(n models.ExtractedNode, row []string) map[string]any {
	props := map[string]any{}
	for key, vals := range n.Attributes {
		var collected []string
		for _, v := range vals {
			if v.IsMissing() {
				continue
			}
			var s string
			switch v.Index.Kind {
			case models.OriginColumn:
				if v.Index.Column < len(row) {
					s = row[v.Index.Column]
				}
			case models.OriginInferred:
				s = string(v.Value)
			}
			if s == "" || s == models.MissingValueSentinel || slices.Contains(collected, s) {
				continue
			}
			collected = append(collected, s)
		}
		switch len(collected) {
		case 0:
		case 1:
			props[key] = collected[0]
		default:
			props[key] = collected
		}
	}
	identifying := "name"
	if n.Label == models.LabelMetadata {
		identifying = "metadata_type"
	}
	if _, ok := props[identifying]; !ok {
		return nil
	}
	return props
}

func firstName(props map[string]any) string {
	switch v := props["name"].(type) {
	case string:
		return models.NormalizeName(v)
	case []string:
		if len(v) > 0 {
			return models.NormalizeName(v[0])
		}
	}
	return ""
}
