package graphdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/matgraph/internal/models"
)

// Instance is one instance node to create.
type Instance struct {
	UID   string
	Label models.NodeLabel
	// ClassUID is the ontology class the node IS_A; empty for metadata.
	ClassUID string
	Props    map[string]any
}

// Edge connects two instances by uid.
type Edge struct {
	Type   models.RelType
	Source Instance
	Target Instance
}

// ImportBatch is everything one graph import creates.
type ImportBatch struct {
	Instances []Instance
	Edges     []Edge
}

// ImportResult counts what an import created.
type ImportResult struct {
	Nodes         int
	Relationships int
	Classified    int
}

type edgeGroup struct {
	rel, src, tgt string
}

// BuildImport compiles batch into one statement of CALL subqueries: node
// creation per label, typed edges per (type, source label, target label) and
// IS_A links per ontology kind.
func BuildImport(batch ImportBatch) (string, map[string]any, error) {
	b := NewBuilder()
	var nodeVars, relVars, isaVars []string

	byLabel := map[models.NodeLabel][]any{}
	isa := map[models.NodeLabel][]any{}
	for _, inst := range batch.Instances {
		props := make(map[string]any, len(inst.Props)+1)
		for k, v := range inst.Props {
			props[k] = v
		}
		props["uid"] = inst.UID
		byLabel[inst.Label] = append(byLabel[inst.Label], props)
		if inst.ClassUID != "" {
			isa[inst.Label] = append(isa[inst.Label], map[string]any{"uid": inst.UID, "class": inst.ClassUID})
		}
	}

	for _, l := range models.NodeLabels {
		rows := byLabel[l]
		if len(rows) == 0 {
			continue
		}
		label, err := Label(l)
		if err != nil {
			return "", nil, err
		}
		v := fmt.Sprintf("n%d", len(nodeVars))
		nodeVars = append(nodeVars, v)
		b.Line("CALL {").
			Line("  UNWIND %s AS row", b.Param(rows)).
			Line("  CREATE (n:%s)", label).
			Line("  SET n = row").
			Line("  RETURN count(n) AS %s", v).
			Line("}")
	}

	groups := map[edgeGroup][]any{}
	var order []edgeGroup
	for _, e := range batch.Edges {
		rel, err := RelType(e.Type)
		if err != nil {
			return "", nil, err
		}
		src, err := Label(e.Source.Label)
		if err != nil {
			return "", nil, err
		}
		tgt, err := Label(e.Target.Label)
		if err != nil {
			return "", nil, err
		}
		g := edgeGroup{rel: rel, src: src, tgt: tgt}
		if _, ok := groups[g]; !ok {
			order = append(order, g)
		}
		groups[g] = append(groups[g], map[string]any{"src": e.Source.UID, "tgt": e.Target.UID})
	}
	for _, g := range order {
		v := fmt.Sprintf("r%d", len(relVars))
		relVars = append(relVars, v)
		b.Line("CALL {").
			Line("  UNWIND %s AS e", b.Param(groups[g])).
			Line("  MATCH (a:%s {uid: e.src}), (t:%s {uid: e.tgt})", g.src, g.tgt).
			Line("  CREATE (a)-[:%s]->(t)", g.rel).
			Line("  RETURN count(*) AS %s", v).
			Line("}")
	}

	for _, l := range models.NodeLabels {
		rows := isa[l]
		if len(rows) == 0 {
			continue
		}
		kind, ok := models.KindForLabel(l)
		if !ok {
			continue
		}
		spec, err := SpecFor(kind)
		if err != nil {
			return "", nil, err
		}
		label, err := Label(l)
		if err != nil {
			return "", nil, err
		}
		v := fmt.Sprintf("c%d", len(isaVars))
		isaVars = append(isaVars, v)
		b.Line("CALL {").
			Line("  UNWIND %s AS row", b.Param(rows)).
			Line("  MATCH (n:%s {uid: row.uid}), (c:%s {uid: row.class})", label, spec.ClassLabel).
			Line("  MERGE (n)-[:IS_A]->(c)").
			Line("  RETURN count(*) AS %s", v).
			Line("}")
	}

	if len(nodeVars) == 0 {
		return "", nil, fmt.Errorf("import batch has no instances")
	}
	b.Line("RETURN %s AS nodes, %s AS relationships, %s AS classified",
		sum(nodeVars), sum(relVars), sum(isaVars))
	cypher, params := b.Build()
	return cypher, params, nil
}

func sum(vars []string) string {
	if len(vars) == 0 {
		return "0"
	}
	return strings.Join(vars, " + ")
}

// Import creates batch in a single write transaction.
func (c *Client) Import(ctx context.Context, batch ImportBatch) (ImportResult, error) {
	cypher, params, err := BuildImport(batch)
	if err != nil {
		return ImportResult{}, err
	}
	var res ImportResult
	err = c.Write(ctx, func(tx Tx) error {
		rows, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return fmt.Errorf("import graph: %w", err)
		}
		if len(rows) == 1 {
			res = ImportResult{
				Nodes:         rows[0].Int("nodes"),
				Relationships: rows[0].Int("relationships"),
				Classified:    rows[0].Int("classified"),
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	c.logger.Info("graph import committed", "nodes", res.Nodes, "relationships", res.Relationships, "classified", res.Classified)
	return res, nil
}
