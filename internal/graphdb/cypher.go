package graphdb

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/raphaelgruber/matgraph/internal/models"
)

// Builder assembles a Cypher statement. Values always travel as parameters;
// labels and relationship types are only accepted from closed sets.
type Builder struct {
	sb     strings.Builder
	params map[string]any
	next   int
}

// NewBuilder returns an empty statement builder.
func NewBuilder() *Builder {
	return &Builder{params: make(map[string]any)}
}

// Param registers v and returns its placeholder.
func (b *Builder) Param(v any) string {
	name := "p" + strconv.Itoa(b.next)
	b.next++
	b.params[name] = v
	return "$" + name
}

// Line appends a formatted line. Format arguments must be placeholders,
// variables, or values returned by Label and RelType.
func (b *Builder) Line(format string, args ...any) *Builder {
	fmt.Fprintf(&b.sb, format, args...)
	b.sb.WriteByte('\n')
	return b
}

// Build returns the statement and its parameters.
func (b *Builder) Build() (string, map[string]any) {
	return b.sb.String(), b.params
}

// Label returns the instance label for l, or an error for labels outside the schema.
func Label(l models.NodeLabel) (string, error) {
	return InstanceLabel(l)
}

// RelType returns r for use in a pattern, or an error for types outside the schema.
func RelType(r models.RelType) (string, error) {
	if !slices.Contains(models.RelTypes, r) {
		return "", fmt.Errorf("relationship type %q not allowed", r)
	}
	return string(r), nil
}

// Operator validates a comparison operator; "!=" is rendered as "<>".
func Operator(op string) (string, error) {
	if !slices.Contains(models.Operators, op) {
		return "", fmt.Errorf("operator %q not allowed", op)
	}
	if op == "!=" {
		return "<>", nil
	}
	return op, nil
}
