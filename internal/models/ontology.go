package models

import (
	"fmt"
	"strings"
)

// OntologyKind is one of the three disjoint ontology class families.
type OntologyKind string

const (
	KindMatter   OntologyKind = "Matter"
	KindProcess  OntologyKind = "Process"
	KindQuantity OntologyKind = "Quantity"
)

// OntologyKinds lists every kind.
var OntologyKinds = []OntologyKind{KindMatter, KindProcess, KindQuantity}

// ParseOntologyKind accepts the kind name in any case.
func ParseOntologyKind(s string) (OntologyKind, error) {
	for _, k := range OntologyKinds {
		if strings.EqualFold(string(k), strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown ontology kind %q", ErrInvalidRecord, s)
}

// KindForLabel maps a node label to the ontology kind its names resolve in.
// Metadata nodes have no ontology kind.
func KindForLabel(l NodeLabel) (OntologyKind, bool) {
	switch l {
	case LabelMatter:
		return KindMatter, true
	case LabelManufacturing, LabelMeasurement:
		return KindProcess, true
	case LabelParameter, LabelProperty:
		return KindQuantity, true
	default:
		return "", false
	}
}

// OntologyClass is a canonical, deduplicated concept.
type OntologyClass struct {
	UID               string       `json:"uid"`
	Kind              OntologyKind `json:"kind"`
	Name              string       `json:"name"`
	Description       string       `json:"description,omitempty"`
	AlternativeLabels []string     `json:"alternative_labels,omitempty"`
}

// Candidate is a nearest-neighbor hit on an ontology class.
type Candidate struct {
	UID   string  `json:"uid"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// EmbeddingInput is a vector to attach to an ontology class.
type EmbeddingInput struct {
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
}
