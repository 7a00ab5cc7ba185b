package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedPackComplete(t *testing.T) {
	p := MustDefault()

	names := []string{Label, Attribute, Nodes, OntologyCandidates, OntologyChain}
	for _, e := range Extractors {
		names = append(names, Relationships(e))
	}
	for _, k := range models.OntologyKinds {
		names = append(names, Synonym(k))
	}
	for _, n := range names {
		assert.True(t, p.Has(n), n)
	}
}

func TestRenderLabel(t *testing.T) {
	p := MustDefault()
	sys, user, err := p.Render(Label, TableData{
		Context: "fuel cell plates",
		Columns: []models.ColumnDescriptor{
			{Header: "material", Index: 0, ColumnValues: []string{"Platinum", "Gold"}},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, sys, "exactly one label")
	assert.Contains(t, user, "fuel cell plates")
	assert.Contains(t, user, `header "material", samples: Platinum | Gold`)
}

func TestRenderSharedUserTemplate(t *testing.T) {
	p := MustDefault()
	data := OntologyData{Input: "Ni-DLC BPP", Context: "fuel cell", Kind: models.KindMatter, Candidates: []string{"Bipolar Plate"}}

	_, a, err := p.Render(Synonym(models.KindMatter), data)
	require.NoError(t, err)
	_, b, err := p.Render(Synonym(models.KindQuantity), data)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "Candidates: Bipolar Plate")
}

func TestRenderUnknown(t *testing.T) {
	_, _, err := MustDefault().Render("missing", TableData{})
	assert.Error(t, err)
}

func TestRenderRelationships(t *testing.T) {
	p := MustDefault()
	_, user, err := p.Render(Relationships(ExtractHasProperty), GraphData{
		Header:   []string{"material", "conductivity_S_per_cm"},
		FirstRow: []string{"Platinum", "9.4e6"},
		Nodes: []models.ExtractedNode{{
			ID:    "m1",
			Label: models.LabelMatter,
			Attributes: map[string][]models.AttributeValue{
				"name": {{Value: "Platinum", Index: models.ColumnOrigin(0)}},
			},
		}},
	})
	require.NoError(t, err)
	assert.Contains(t, user, "- m1 (matter): Platinum")
	assert.Contains(t, user, "First row: Platinum, 9.4e6")
}

func TestLoadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("label:\n  system: custom {{.Context}}\n"), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	sys, user, err := p.Render(Label, TableData{Context: "ctx"})
	require.NoError(t, err)
	assert.Equal(t, "custom ctx", sys)
	assert.Contains(t, user, "Context: ctx")

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
