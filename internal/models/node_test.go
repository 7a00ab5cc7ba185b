package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginJSON(t *testing.T) {
	tests := []struct {
		in   string
		want Origin
	}{
		{`2`, ColumnOrigin(2)},
		{`"5"`, ColumnOrigin(5)},
		{`"inferred"`, Inferred},
		{`"Missing"`, Missing},
		{`""`, Missing},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var o Origin
			require.NoError(t, json.Unmarshal([]byte(tt.in), &o))
			assert.Equal(t, tt.want, o)
		})
	}

	var o Origin
	assert.Error(t, json.Unmarshal([]byte(`"left"`), &o))

	data, err := json.Marshal([]Origin{ColumnOrigin(1), Inferred, Missing})
	require.NoError(t, err)
	assert.JSONEq(t, `[1,"inferred","missing"]`, string(data))
}

func TestFlexString(t *testing.T) {
	var v AttributeValue
	require.NoError(t, json.Unmarshal([]byte(`{"value": 12.5, "index": 1}`), &v))
	assert.Equal(t, FlexString("12.5"), v.Value)

	require.NoError(t, json.Unmarshal([]byte(`{"value": "MPa", "index": "inferred"}`), &v))
	assert.Equal(t, FlexString("MPa"), v.Value)
	assert.Equal(t, Inferred, v.Index)

	require.NoError(t, json.Unmarshal([]byte(`{"value": null, "index": "missing"}`), &v))
	assert.True(t, v.IsMissing())
}

func propertyNode() ExtractedNode {
	return ExtractedNode{
		ID:    "n2",
		Label: LabelProperty,
		Attributes: map[string][]AttributeValue{
			"name":  {{Value: "Tensile strength", Index: Inferred}},
			"value": {{Value: "450", Index: ColumnOrigin(1)}},
			"unit":  {{Value: "MPa", Index: Inferred}},
		},
	}
}

func TestExtractedNodeValidate(t *testing.T) {
	n := propertyNode()
	require.NoError(t, n.Validate(2))
	assert.Equal(t, "Tensile strength", n.Name())
	assert.True(t, n.Has("unit"))

	t.Run("index out of range", func(t *testing.T) {
		assert.ErrorIs(t, n.Validate(1), ErrInvalidRecord)
	})

	t.Run("missing required", func(t *testing.T) {
		bad := propertyNode()
		delete(bad.Attributes, "unit")
		assert.ErrorIs(t, bad.Validate(2), ErrInvalidRecord)
	})

	t.Run("placeholder satisfies required", func(t *testing.T) {
		ok := propertyNode()
		ok.Attributes["unit"] = []AttributeValue{{Value: MissingValueSentinel, Index: Missing}}
		require.NoError(t, ok.Validate(2))
		assert.False(t, ok.Has("unit"))
	})

	t.Run("attribute not in label set", func(t *testing.T) {
		bad := propertyNode()
		bad.Attributes["batch_number"] = []AttributeValue{{Value: "B1", Index: ColumnOrigin(0)}}
		assert.ErrorIs(t, bad.Validate(2), ErrInvalidRecord)
	})
}

func TestColumnDescriptorValidate(t *testing.T) {
	c := ColumnDescriptor{Header: "Material", Index: 0, ColumnValues: []string{"Al2O3"}, Label: LabelMatter, Attribute: "name"}
	require.NoError(t, c.Validate())
	assert.Equal(t, "Al2O3", c.FirstSample())

	c.Attribute = "unit"
	assert.ErrorIs(t, c.Validate(), ErrInvalidRecord)

	c = ColumnDescriptor{Header: "x", ColumnValues: []string{"1", "2", "3", "4", "5"}}
	assert.ErrorIs(t, c.Validate(), ErrInvalidRecord)
}

func TestMetadataRequiresType(t *testing.T) {
	assert.Equal(t, []string{"metadata_type"}, LabelMetadata.RequiredFields())
	assert.Contains(t, LabelMetadata.NodeAttributeKeys(), "metadata_type")
	_, ok := KindForLabel(LabelMetadata)
	assert.False(t, ok)
}
