package models

import (
	"fmt"
	"slices"
	"strings"
)

// RelType is the closed set of edge types between instance nodes.
type RelType string

const (
	RelIsManufacturingInput   RelType = "IS_MANUFACTURING_INPUT"
	RelHasManufacturingOutput RelType = "HAS_MANUFACTURING_OUTPUT"
	RelIsMeasurementInput     RelType = "IS_MEASUREMENT_INPUT"
	RelHasMeasurementOutput   RelType = "HAS_MEASUREMENT_OUTPUT"
	RelHasProperty            RelType = "HAS_PROPERTY"
	RelHasParameter           RelType = "HAS_PARAMETER"
	RelHasMetadata            RelType = "HAS_METADATA"
	RelHasPart                RelType = "HAS_PART"

	// RelIsManufacturingOutput is accepted in match queries only and
	// resolves to HAS_MANUFACTURING_OUTPUT.
	RelIsManufacturingOutput RelType = "IS_MANUFACTURING_OUTPUT"
)

// RelTypes lists every edge type that can exist in the graph.
var RelTypes = []RelType{
	RelIsManufacturingInput, RelHasManufacturingOutput, RelIsMeasurementInput,
	RelHasMeasurementOutput, RelHasProperty, RelHasParameter, RelHasMetadata, RelHasPart,
}

// ParseRelType normalizes a relationship type, resolving the query alias.
func ParseRelType(s string) (RelType, error) {
	r := RelType(strings.ToUpper(strings.TrimSpace(s)))
	if r == RelIsManufacturingOutput {
		return RelHasManufacturingOutput, nil
	}
	if !slices.Contains(RelTypes, r) {
		return "", fmt.Errorf("%w: unknown relationship type %q", ErrInvalidRecord, s)
	}
	return r, nil
}

// Allows reports whether an edge of type r may run from src to tgt.
func (r RelType) Allows(src, tgt NodeLabel) bool {
	switch r {
	case RelHasProperty:
		return src == LabelMatter && tgt == LabelProperty
	case RelHasParameter:
		return src.IsProcess() && tgt == LabelParameter
	case RelHasMeasurementOutput:
		return src == LabelMeasurement && tgt == LabelProperty
	case RelIsManufacturingInput:
		return src == LabelMatter && tgt == LabelManufacturing
	case RelHasManufacturingOutput:
		return src == LabelManufacturing && tgt == LabelMatter
	case RelIsMeasurementInput:
		return src == LabelMatter && tgt == LabelMeasurement
	case RelHasMetadata:
		return src.IsProcess() && tgt == LabelMetadata
	case RelHasPart:
		return src == tgt && (src == LabelMatter || src.IsProcess())
	default:
		return false
	}
}

// InferRelType picks the edge type for a (source, target) label pair.
func InferRelType(src, tgt NodeLabel) (RelType, bool) {
	switch {
	case src == LabelMatter && tgt == LabelManufacturing:
		return RelIsManufacturingInput, true
	case src == LabelManufacturing && tgt == LabelMatter:
		return RelHasManufacturingOutput, true
	case src == LabelMatter && tgt == LabelMeasurement:
		return RelIsMeasurementInput, true
	case src == LabelMatter && tgt == LabelProperty:
		return RelHasProperty, true
	case src.IsProcess() && tgt == LabelParameter:
		return RelHasParameter, true
	case src == LabelMeasurement && tgt == LabelProperty:
		return RelHasMeasurementOutput, true
	case src.IsProcess() && tgt == LabelMetadata:
		return RelHasMetadata, true
	case src == tgt && (src == LabelMatter || src.IsProcess()):
		return RelHasPart, true
	default:
		return "", false
	}
}

// Relationship is an extracted edge between two node ids.
type Relationship struct {
	RelType    RelType   `json:"rel_type"`
	Connection [2]string `json:"connection"`
}

// Source returns the source node id.
func (r Relationship) Source() string { return r.Connection[0] }

// Target returns the target node id.
func (r Relationship) Target() string { return r.Connection[1] }

// GraphDocument is the stage 4 output: nodes plus typed edges.
type GraphDocument struct {
	Nodes         []ExtractedNode `json:"nodes"`
	Relationships []Relationship  `json:"relationships"`
}

// NodeByID indexes the document's nodes.
func (g GraphDocument) NodeByID() map[string]ExtractedNode {
	out := make(map[string]ExtractedNode, len(g.Nodes))
	for _, n := range g.Nodes {
		out[n.ID] = n
	}
	return out
}

// Validate checks that every edge references existing nodes with allowed labels.
func (g GraphDocument) Validate() error {
	byID := g.NodeByID()
	for _, r := range g.Relationships {
		src, ok := byID[r.Source()]
		if !ok {
			return fmt.Errorf("%w: relationship source %q not in node list", ErrInvalidRecord, r.Source())
		}
		tgt, ok := byID[r.Target()]
		if !ok {
			return fmt.Errorf("%w: relationship target %q not in node list", ErrInvalidRecord, r.Target())
		}
		if !r.RelType.Allows(src.Label, tgt.Label) {
			return fmt.Errorf("%w: %s not allowed from %s to %s", ErrInvalidRecord, r.RelType, src.Label, tgt.Label)
		}
	}
	return nil
}
