package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryGraphValidate(t *testing.T) {
	raw := `{
		"nodes": [
			{"id": "a", "label": "matter", "attributes": {"name": "Ceramic"}},
			{"id": "b", "label": "property", "attributes": {"name": "Tensile strength", "value": {"value": 400, "operator": ">"}}}
		],
		"relationships": [{"connection": ["a", "b"]}]
	}`
	var q QueryGraph
	require.NoError(t, json.Unmarshal([]byte(raw), &q))
	require.NoError(t, q.Validate())
	assert.Equal(t, 400.0, q.Nodes[1].Attributes.Value.Value)

	t.Run("bad operator", func(t *testing.T) {
		bad := q
		bad.Nodes = append([]QueryNode(nil), q.Nodes...)
		bad.Nodes[1].Attributes.Value = &ValuePredicate{Value: 1, Operator: "LIKE"}
		assert.ErrorIs(t, bad.Validate(), ErrInvalidRecord)
	})

	t.Run("dangling edge", func(t *testing.T) {
		bad := q
		bad.Relationships = []QueryRelationship{{Connection: [2]string{"a", "z"}}}
		assert.ErrorIs(t, bad.Validate(), ErrInvalidRecord)
	})

	t.Run("empty", func(t *testing.T) {
		assert.ErrorIs(t, QueryGraph{}.Validate(), ErrInvalidRecord)
	})

	// Ids prefix the result columns, so separators used there are refused.
	for _, id := range []string{"m_class", "m.x", "p_uid", "a b"} {
		t.Run("id "+id, func(t *testing.T) {
			bad := QueryGraph{Nodes: []QueryNode{{ID: id, Label: LabelMatter, Attributes: QueryAttributes{Name: "Pt"}}}}
			assert.ErrorIs(t, bad.Validate(), ErrInvalidRecord)
		})
	}
	t.Run("hyphenated id", func(t *testing.T) {
		ok := QueryGraph{Nodes: []QueryNode{{ID: "pt-1", Label: LabelMatter, Attributes: QueryAttributes{Name: "Pt"}}}}
		assert.NoError(t, ok.Validate())
	})
}

func TestEmptyResult(t *testing.T) {
	r := EmptyResult()
	assert.Equal(t, []string{"Message"}, r.Columns)
	assert.Equal(t, NoWorkflowsMessage, r.Rows[0]["Message"])
}

func TestImportSummaryCSV(t *testing.T) {
	s := ImportSummary{Rows: 3, Mappings: []NameMapping{
		{NodeID: "n1", Label: LabelMatter, Name: "Al2O3", Kind: KindMatter, OntologyUID: "u-1"},
	}}
	data, err := s.CSV()
	require.NoError(t, err)
	assert.Equal(t, "node_id,label,name,kind,ontology_uid,rows\nn1,matter,Al2O3,Matter,u-1,3\n", string(data))
}

func TestProcessOutputs(t *testing.T) {
	var p Process
	_, err := p.DecodeNodes()
	assert.ErrorIs(t, err, ErrOutputMissing)

	raw, err := EncodeOutput([]ExtractedNode{propertyNode()})
	require.NoError(t, err)
	p.SetOutput(KeyNodes, &raw)

	nodes, err := p.DecodeNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Tensile strength", nodes[0].Name())
}
