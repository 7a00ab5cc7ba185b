package ontology

import (
	"fmt"
	"strings"
)

type synonymAnswer struct {
	Name              string   `json:"name" validate:"required"`
	AlternativeLabels []string `json:"alternative_labels"`
	Description       string   `json:"description"`
}

func (a synonymAnswer) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("synonym name empty")
	}
	return nil
}

// Relations of the input to a candidate class.
const (
	RelationChild     = "child"
	RelationParent    = "parent"
	RelationUnrelated = "unrelated"
)

type candidateRelation struct {
	Name     string `json:"name" validate:"required"`
	Relation string `json:"relation" validate:"oneof=child parent unrelated"`
}

type candidatesAnswer struct {
	Candidates []candidateRelation `json:"candidates" validate:"dive"`
}

type chainAnswer struct {
	Chain []string `json:"chain" validate:"min=2,dive,required"`
}

// Validate rejects chains that revisit a class.
func (a chainAnswer) Validate() error {
	if len(a.Chain) < 2 {
		return fmt.Errorf("chain needs at least two classes, got %d", len(a.Chain))
	}
	seen := make(map[string]bool, len(a.Chain))
	for _, name := range a.Chain {
		k := strings.ToLower(strings.TrimSpace(name))
		if k == "" {
			return fmt.Errorf("chain contains an empty class name")
		}
		if seen[k] {
			return fmt.Errorf("chain repeats class %q", name)
		}
		seen[k] = true
	}
	return nil
}
