package graphdb

import (
	"strings"
	"testing"

	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildImport(t *testing.T) {
	matter := Instance{UID: "i-1", Label: models.LabelMatter, ClassUID: "c-pt", Props: map[string]any{"name": "Platinum"}}
	prop := Instance{UID: "i-2", Label: models.LabelProperty, ClassUID: "c-cond", Props: map[string]any{"name": "conductivity", "value": "9.4e6", "unit": "S/cm"}}
	meta := Instance{UID: "i-3", Label: models.LabelMetadata, Props: map[string]any{"metadata_type": "operator"}}

	cypher, params, err := BuildImport(ImportBatch{
		Instances: []Instance{matter, prop, meta},
		Edges:     []Edge{{Type: models.RelHasProperty, Source: matter, Target: prop}},
	})
	require.NoError(t, err)

	assert.Contains(t, cypher, "CREATE (n:Matter)")
	assert.Contains(t, cypher, "CREATE (n:Property)")
	assert.Contains(t, cypher, "CREATE (n:Metadata)")
	assert.Contains(t, cypher, "MATCH (a:Matter {uid: e.src}), (t:Property {uid: e.tgt})")
	assert.Contains(t, cypher, "CREATE (a)-[:HAS_PROPERTY]->(t)")
	assert.Contains(t, cypher, "(c:EMMOMatter {uid: row.class})")
	assert.Contains(t, cypher, "(c:EMMOQuantity {uid: row.class})")
	assert.NotContains(t, cypher, "Platinum", "values travel as parameters")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(cypher),
		"RETURN n0 + n1 + n2 AS nodes, r0 AS relationships, c0 + c1 AS classified"))

	// 3 node groups, 1 edge group, 2 IS_A groups.
	assert.Len(t, params, 6)
	rows := params["p0"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "i-1", rows[0].(map[string]any)["uid"])
	assert.Equal(t, "Platinum", rows[0].(map[string]any)["name"])
}

func TestBuildImportRejectsUnknownTypes(t *testing.T) {
	a := Instance{UID: "a", Label: models.LabelMatter}
	b := Instance{UID: "b", Label: models.LabelMatter}

	_, _, err := BuildImport(ImportBatch{
		Instances: []Instance{a, b},
		Edges:     []Edge{{Type: models.RelType("DETACH_DELETE"), Source: a, Target: b}},
	})
	assert.Error(t, err)

	_, _, err = BuildImport(ImportBatch{})
	assert.Error(t, err)
}
