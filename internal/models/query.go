package models

import (
	"fmt"
	"slices"
	"strings"
)

// Comparison operators accepted in value predicates.
var Operators = []string{"=", "!=", ">", ">=", "<", "<="}

// UnresolvedUID marks a query node whose name matched no ontology class.
const UnresolvedUID = "nope"

// ValuePredicate constrains the numeric value of a quantity instance.
type ValuePredicate struct {
	Value    float64 `json:"value"`
	Operator string  `json:"operator"`
}

// QueryAttributes holds the query-side attributes of a node.
type QueryAttributes struct {
	Name  string          `json:"name" validate:"required"`
	Value *ValuePredicate `json:"value,omitempty"`
}

// QueryNode is a node in a fabrication workflow query.
type QueryNode struct {
	ID         string          `json:"id" validate:"required"`
	Label      NodeLabel       `json:"label" validate:"required"`
	Attributes QueryAttributes `json:"attributes"`
	UID        string          `json:"uid,omitempty"`
}

// QueryRelationship connects two query nodes; RelType may be empty.
type QueryRelationship struct {
	Connection [2]string `json:"connection"`
	RelType    RelType   `json:"rel_type,omitempty"`
}

// QueryGraph is the workflow shape to match against instance data.
type QueryGraph struct {
	Nodes         []QueryNode         `json:"nodes" validate:"required,min=1,dive"`
	Relationships []QueryRelationship `json:"relationships"`
}

// Validate checks labels, operators and edge endpoints.
func (q QueryGraph) Validate() error {
	if err := Validate.Struct(q); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	ids := make(map[string]bool, len(q.Nodes))
	for _, n := range q.Nodes {
		if !n.Label.Valid() {
			return fmt.Errorf("%w: query node %s has unknown label %q", ErrInvalidRecord, n.ID, n.Label)
		}
		if !validQueryID(n.ID) {
			return fmt.Errorf("%w: query node id %q may only hold letters, digits and '-'", ErrInvalidRecord, n.ID)
		}
		if ids[n.ID] {
			return fmt.Errorf("%w: duplicate query node id %s", ErrInvalidRecord, n.ID)
		}
		ids[n.ID] = true
		if p := n.Attributes.Value; p != nil && !slices.Contains(Operators, p.Operator) {
			return fmt.Errorf("%w: query node %s: unsupported operator %q", ErrInvalidRecord, n.ID, p.Operator)
		}
	}
	for _, r := range q.Relationships {
		for _, end := range r.Connection {
			if !ids[end] {
				return fmt.Errorf("%w: relationship endpoint %q not in query nodes", ErrInvalidRecord, end)
			}
		}
	}
	return nil
}

// validQueryID reports whether id is safe as a result column prefix. Result
// columns append "_class", "_value", "_unit" or ".<reading>" to the id, so
// ids must not contain '_' or '.'.
func validQueryID(id string) bool {
	return id != "" && !strings.ContainsFunc(id, func(r rune) bool {
		return !(r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})
}

// ResultTable is a flattened, column-ordered result.
type ResultTable struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// NoWorkflowsMessage is the single-row answer for an empty match.
const NoWorkflowsMessage = "No workflows found for your query"

// EmptyResult returns the table reported when nothing matched.
func EmptyResult() *ResultTable {
	return &ResultTable{
		Columns: []string{"Message"},
		Rows:    []map[string]any{{"Message": NoWorkflowsMessage}},
	}
}
