package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// MissingValueSentinel is emitted by the extractor for values it could not fill.
const MissingValueSentinel = "MISSING_VALUE_OR_OPERATOR"

// OriginKind says where an attribute value comes from.
type OriginKind int

const (
	OriginColumn OriginKind = iota
	OriginInferred
	OriginMissing
)

// Origin is an attribute's "index": a column index, "inferred" or "missing".
type Origin struct {
	Kind   OriginKind
	Column int
}

// ColumnOrigin returns an origin pointing at column i.
func ColumnOrigin(i int) Origin { return Origin{Kind: OriginColumn, Column: i} }

// Inferred is the origin of values derived from the header or context.
var Inferred = Origin{Kind: OriginInferred}

// Missing is the origin of required values that could not be found.
var Missing = Origin{Kind: OriginMissing}

func (o Origin) String() string {
	switch o.Kind {
	case OriginInferred:
		return "inferred"
	case OriginMissing:
		return "missing"
	default:
		return strconv.Itoa(o.Column)
	}
}

// MarshalJSON encodes column origins as numbers and the rest as strings.
func (o Origin) MarshalJSON() ([]byte, error) {
	if o.Kind == OriginColumn {
		return json.Marshal(o.Column)
	}
	return json.Marshal(o.String())
}

// UnmarshalJSON accepts a number, a numeric string, "inferred" or "missing".
func (o *Origin) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*o = ColumnOrigin(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inferred":
		*o = Inferred
	case "missing", "":
		*o = Missing
	default:
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("origin: unknown index %q", s)
		}
		*o = ColumnOrigin(n)
	}
	return nil
}

// FlexString accepts any JSON scalar and keeps its text form.
type FlexString string

// UnmarshalJSON stores strings verbatim and other scalars as their literal text.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	*f = FlexString(data)
	return nil
}

// AttributeValue is one value of a node attribute with its origin.
type AttributeValue struct {
	Value FlexString `json:"value"`
	Index Origin     `json:"index"`
}

// IsMissing reports whether the value is a placeholder.
func (v AttributeValue) IsMissing() bool {
	return v.Index.Kind == OriginMissing || string(v.Value) == MissingValueSentinel
}

// ExtractedNode is a typed node produced by stage 3.
type ExtractedNode struct {
	ID         string                      `json:"id"`
	Label      NodeLabel                   `json:"label"`
	Attributes map[string][]AttributeValue `json:"attributes"`
}

// Values returns the attribute values stored under key.
func (n ExtractedNode) Values(key string) []AttributeValue {
	return n.Attributes[key]
}

// Name returns the first non-missing name value.
func (n ExtractedNode) Name() string {
	for _, v := range n.Attributes["name"] {
		if !v.IsMissing() {
			return strings.TrimSpace(string(v.Value))
		}
	}
	return ""
}

// Has reports whether key holds at least one non-missing value.
func (n ExtractedNode) Has(key string) bool {
	for _, v := range n.Attributes[key] {
		if !v.IsMissing() {
			return true
		}
	}
	return false
}

// Validate checks the node against its label schema and the table width.
func (n ExtractedNode) Validate(columns int) error {
	if n.ID == "" {
		return fmt.Errorf("%w: node without id", ErrInvalidRecord)
	}
	if !n.Label.Valid() {
		return fmt.Errorf("%w: node %s has unknown label %q", ErrInvalidRecord, n.ID, n.Label)
	}
	allowed := n.Label.NodeAttributeKeys()
	for key, vals := range n.Attributes {
		if !slices.Contains(allowed, key) {
			return fmt.Errorf("%w: node %s: attribute %q not allowed for %s", ErrInvalidRecord, n.ID, key, n.Label)
		}
		for _, v := range vals {
			if v.Index.Kind == OriginColumn && (v.Index.Column < 0 || v.Index.Column >= columns) {
				return fmt.Errorf("%w: node %s: column index %d out of range [0,%d)", ErrInvalidRecord, n.ID, v.Index.Column, columns)
			}
		}
	}
	for _, key := range n.Label.RequiredFields() {
		if len(n.Attributes[key]) == 0 {
			return fmt.Errorf("%w: node %s: required attribute %q absent", ErrInvalidRecord, n.ID, key)
		}
	}
	return nil
}
