package graphdb

import (
	"fmt"

	"github.com/raphaelgruber/matgraph/internal/models"
)

// KindSpec names the graph artifacts of one ontology kind.
type KindSpec struct {
	Kind           models.OntologyKind
	ClassLabel     string
	EmbeddingLabel string
	VectorIndex    string
}

var kindSpecs = map[models.OntologyKind]KindSpec{
	models.KindMatter: {
		Kind:           models.KindMatter,
		ClassLabel:     "EMMOMatter",
		EmbeddingLabel: "EMMOMatterEmbedding",
		VectorIndex:    "emmo_matter_embedding",
	},
	models.KindProcess: {
		Kind:           models.KindProcess,
		ClassLabel:     "EMMOProcess",
		EmbeddingLabel: "EMMOProcessEmbedding",
		VectorIndex:    "emmo_process_embedding",
	},
	models.KindQuantity: {
		Kind:           models.KindQuantity,
		ClassLabel:     "EMMOQuantity",
		EmbeddingLabel: "EMMOQuantityEmbedding",
		VectorIndex:    "emmo_quantity_embedding",
	},
}

// SpecFor returns the graph artifacts of kind.
func SpecFor(kind models.OntologyKind) (KindSpec, error) {
	spec, ok := kindSpecs[kind]
	if !ok {
		return KindSpec{}, fmt.Errorf("unknown ontology kind %q", kind)
	}
	return spec, nil
}

// instanceLabels maps node labels to instance node labels in the graph.
var instanceLabels = map[models.NodeLabel]string{
	models.LabelMatter:        "Matter",
	models.LabelManufacturing: "Manufacturing",
	models.LabelMeasurement:   "Measurement",
	models.LabelParameter:     "Parameter",
	models.LabelProperty:      "Property",
	models.LabelMetadata:      "Metadata",
}

// InstanceLabel returns the graph label for instance nodes of l.
func InstanceLabel(l models.NodeLabel) (string, error) {
	label, ok := instanceLabels[l]
	if !ok {
		return "", fmt.Errorf("unknown node label %q", l)
	}
	return label, nil
}
