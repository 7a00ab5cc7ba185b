package models

import (
	"fmt"
	"slices"
	"strings"
)

// NodeLabel is the role a column or extracted node plays in the graph.
type NodeLabel string

const (
	LabelMatter        NodeLabel = "matter"
	LabelManufacturing NodeLabel = "manufacturing"
	LabelMeasurement   NodeLabel = "measurement"
	LabelParameter     NodeLabel = "parameter"
	LabelProperty      NodeLabel = "property"
	LabelMetadata      NodeLabel = "metadata"
)

// NodeLabels lists every label in prompt order.
var NodeLabels = []NodeLabel{
	LabelMatter, LabelManufacturing, LabelMeasurement,
	LabelParameter, LabelProperty, LabelMetadata,
}

// ParseNodeLabel normalizes and validates a label.
func ParseNodeLabel(s string) (NodeLabel, error) {
	l := NodeLabel(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(NodeLabels, l) {
		return "", fmt.Errorf("%w: unknown label %q", ErrInvalidRecord, s)
	}
	return l, nil
}

// Valid reports whether l is a known label.
func (l NodeLabel) Valid() bool {
	return slices.Contains(NodeLabels, l)
}

// IsQuantity reports whether nodes with this label carry value/unit.
func (l NodeLabel) IsQuantity() bool {
	return l == LabelParameter || l == LabelProperty
}

// IsProcess reports whether the label denotes a process step.
func (l NodeLabel) IsProcess() bool {
	return l == LabelManufacturing || l == LabelMeasurement
}

// AllowedAttributes is the closed attribute set for columns of this label.
func (l NodeLabel) AllowedAttributes() []string {
	switch l {
	case LabelMatter:
		return []string{"name", "ratio", "concentration", "batch_number", "identifier"}
	case LabelParameter, LabelProperty:
		return []string{"name", "value", "unit", "average", "std", "error"}
	case LabelManufacturing, LabelMeasurement, LabelMetadata:
		return []string{"name", "identifier"}
	default:
		return nil
	}
}

// RequiredFields lists the node attributes that must be present after extraction.
func (l NodeLabel) RequiredFields() []string {
	switch l {
	case LabelMatter, LabelManufacturing, LabelMeasurement:
		return []string{"name"}
	case LabelParameter, LabelProperty:
		return []string{"name", "value", "unit"}
	case LabelMetadata:
		return []string{"metadata_type"}
	default:
		return nil
	}
}

// NodeAttributeKeys lists every attribute key a node of this label may carry.
func (l NodeLabel) NodeAttributeKeys() []string {
	keys := slices.Clone(l.AllowedAttributes())
	for _, k := range l.RequiredFields() {
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	if l == LabelMetadata {
		keys = append(keys, "value")
	}
	return keys
}

// ColumnDescriptor describes one CSV column as it moves through stages 1 and 2.
type ColumnDescriptor struct {
	Header       string    `json:"header" validate:"required"`
	Index        int       `json:"index" validate:"gte=0"`
	ColumnValues []string  `json:"column_values" validate:"max=4"`
	Label        NodeLabel `json:"label,omitempty"`
	Attribute    string    `json:"attribute,omitempty"`
}

// Validate checks the descriptor against its label's attribute set.
func (c ColumnDescriptor) Validate() error {
	if err := Validate.Struct(c); err != nil {
		return fmt.Errorf("%w: column %q: %v", ErrInvalidRecord, c.Header, err)
	}
	if c.Label != "" && !c.Label.Valid() {
		return fmt.Errorf("%w: column %q has unknown label %q", ErrInvalidRecord, c.Header, c.Label)
	}
	if c.Attribute != "" && !slices.Contains(c.Label.AllowedAttributes(), c.Attribute) {
		return fmt.Errorf("%w: column %q: attribute %q not allowed for %s", ErrInvalidRecord, c.Header, c.Attribute, c.Label)
	}
	return nil
}

// FirstSample returns the first sample value, or "".
func (c ColumnDescriptor) FirstSample() string {
	if len(c.ColumnValues) == 0 {
		return ""
	}
	return c.ColumnValues[0]
}
