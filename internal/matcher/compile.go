package matcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/raphaelgruber/matgraph/internal/graphdb"
	"github.com/raphaelgruber/matgraph/internal/models"
)

// MaxPathLength bounds the instance paths searched per query edge.
const MaxPathLength = 8

// MaxRows caps the combinations returned by one match.
const MaxRows = 1000

// compiledNode remembers which variables and columns belong to a query node.
type compiledNode struct {
	id       string
	label    models.NodeLabel
	v        string
	class    bool
	quantity bool
	readings bool
}

func (n compiledNode) col(suffix string) string { return n.v + "_" + suffix }

// Query is a compiled match statement.
type Query struct {
	Cypher string
	Params map[string]any
	nodes  []compiledNode
}

// Compile turns a resolved query graph into one parameterized MATCH.
// closures holds the accepted class uids per query node id; nodes without
// an ontology kind are matched on their metadata type instead. Query nodes
// map to exactly one variable, so edges sharing an endpoint must agree on it.
func Compile(q models.QueryGraph, closures map[string][]string) (*Query, error) {
	b := graphdb.NewBuilder()
	nodes := make([]compiledNode, len(q.Nodes))
	byID := make(map[string]int, len(q.Nodes))

	for i, n := range q.Nodes {
		label, err := graphdb.InstanceLabel(n.Label)
		if err != nil {
			return nil, err
		}
		cn := compiledNode{
			id:       n.ID,
			label:    n.Label,
			v:        "n" + strconv.Itoa(i),
			quantity: n.Label.IsQuantity(),
			readings: n.Label == models.LabelMatter || n.Label.IsProcess(),
		}
		byID[n.ID] = i

		var conds []string
		if kind, ok := models.KindForLabel(n.Label); ok {
			spec, err := graphdb.SpecFor(kind)
			if err != nil {
				return nil, err
			}
			cn.class = true
			uids := closures[n.ID]
			if uids == nil {
				uids = []string{}
			}
			b.Line("MATCH (%s:%s)-[:IS_A]->(%s:%s)", cn.v, label, cn.col("c"), spec.ClassLabel)
			conds = append(conds, fmt.Sprintf("%s.uid IN %s", cn.col("c"), b.Param(uids)))
		} else {
			b.Line("MATCH (%s:%s)", cn.v, label)
			conds = append(conds, fmt.Sprintf("toLower(toString(%s.metadata_type)) = toLower(%s)", cn.v, b.Param(n.Attributes.Name)))
		}
		if pred := n.Attributes.Value; pred != nil && cn.quantity {
			op, err := graphdb.Operator(pred.Operator)
			if err != nil {
				return nil, err
			}
			conds = append(conds, fmt.Sprintf("toFloatOrNull(%s.value) %s %s", cn.v, op, b.Param(pred.Value)))
		}
		b.Line("WHERE %s", strings.Join(conds, " AND "))
		nodes[i] = cn
	}

	for _, r := range q.Relationships {
		si, okS := byID[r.Connection[0]]
		ti, okT := byID[r.Connection[1]]
		if !okS || !okT {
			return nil, fmt.Errorf("%w: relationship %v references unknown node", models.ErrInvalidRecord, r.Connection)
		}
		rt, swap, err := edgeType(r.RelType, q.Nodes[si].Label, q.Nodes[ti].Label)
		if err != nil {
			return nil, err
		}
		if swap {
			si, ti = ti, si
		}
		typ, err := graphdb.RelType(rt)
		if err != nil {
			return nil, err
		}
		b.Line("MATCH (%s)-[:%s*1..%d]->(%s)", nodes[si].v, typ, MaxPathLength, nodes[ti].v)
	}

	var cols []string
	for _, cn := range nodes {
		cols = append(cols,
			fmt.Sprintf("%s.uid AS %s", cn.v, cn.col("uid")),
			fmt.Sprintf("coalesce(%s.name, %s.metadata_type) AS %s", cn.v, cn.v, cn.col("name")))
		if cn.class {
			cols = append(cols, fmt.Sprintf("%s.name AS %s", cn.col("c"), cn.col("class")))
		}
		if cn.quantity || cn.label == models.LabelMetadata {
			cols = append(cols, fmt.Sprintf("%s.value AS %s", cn.v, cn.col("value")))
		}
		if cn.quantity {
			cols = append(cols, fmt.Sprintf("%s.unit AS %s", cn.v, cn.col("unit")))
		}
		if cn.readings {
			cols = append(cols, fmt.Sprintf("[(%s)-[:%s]->(r) | {name: r.name, value: r.value, unit: r.unit}] AS %s",
				cn.v, readingTypes(cn.label), cn.col("readings")))
		}
	}
	b.Line("RETURN DISTINCT %s", strings.Join(cols, ", "))
	b.Line("LIMIT %s", b.Param(MaxRows))

	cypher, params := b.Build()
	return &Query{Cypher: cypher, Params: params, nodes: nodes}, nil
}

// edgeType resolves the edge type of a query relationship. It reports
// swap when the edge runs from target to source in the graph.
func edgeType(given models.RelType, src, tgt models.NodeLabel) (models.RelType, bool, error) {
	if given == "" {
		if t, ok := models.InferRelType(src, tgt); ok {
			return t, false, nil
		}
		if t, ok := models.InferRelType(tgt, src); ok {
			return t, true, nil
		}
		return "", false, fmt.Errorf("%w: no relationship type between %s and %s", models.ErrInvalidRecord, src, tgt)
	}
	rt, err := models.ParseRelType(string(given))
	if err != nil {
		return "", false, err
	}
	switch {
	case rt.Allows(src, tgt):
		return rt, false, nil
	case rt.Allows(tgt, src):
		return rt, true, nil
	default:
		return "", false, fmt.Errorf("%w: %s cannot connect %s and %s", models.ErrInvalidRecord, rt, src, tgt)
	}
}

func readingTypes(l models.NodeLabel) string {
	switch l {
	case models.LabelMatter:
		return string(models.RelHasProperty)
	case models.LabelMeasurement:
		return string(models.RelHasParameter) + "|" + string(models.RelHasMeasurementOutput)
	default:
		return string(models.RelHasParameter)
	}
}
