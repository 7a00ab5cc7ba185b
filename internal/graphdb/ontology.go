package graphdb

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/matgraph/internal/models"
)

// OntologyStore reads and extends the ontology class hierarchy.
type OntologyStore struct {
	client *Client
}

// NewOntologyStore creates an ontology store over client.
func NewOntologyStore(client *Client) *OntologyStore {
	return &OntologyStore{client: client}
}

// SearchSimilar returns up to k classes of kind nearest to vec, best first.
// Classes in exclude are skipped.
func (s *OntologyStore) SearchSimilar(ctx context.Context, kind models.OntologyKind, vec []float32, k int, exclude ...string) ([]models.Candidate, error) {
	spec, err := SpecFor(kind)
	if err != nil {
		return nil, err
	}
	if exclude == nil {
		exclude = []string{}
	}

	// Over-fetch embeddings: several can point at the same class.
	cypher := fmt.Sprintf(`
CALL db.index.vector.queryNodes($index, $fetch, $vec) YIELD node, score
MATCH (node)-[:FOR]->(c:%s)
WHERE NOT c.uid IN $exclude
WITH c, max(score) AS score
RETURN c.uid AS uid, c.name AS name, score
ORDER BY score DESC
LIMIT $k`, spec.ClassLabel)

	rows, err := s.client.Read(ctx, cypher, map[string]any{
		"index":   spec.VectorIndex,
		"fetch":   int64(k*4 + len(exclude)),
		"vec":     toFloat64s(vec),
		"exclude": exclude,
		"k":       int64(k),
	})
	if err != nil {
		return nil, fmt.Errorf("search similar %s: %w", kind, err)
	}

	out := make([]models.Candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Candidate{UID: r.String("uid"), Name: r.String("name"), Score: r.Float("score")})
	}
	return out, nil
}

// GetClass loads one class. Returns ErrNotFound if it does not exist.
func (s *OntologyStore) GetClass(ctx context.Context, kind models.OntologyKind, uid string) (*models.OntologyClass, error) {
	spec, err := SpecFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.client.Read(ctx, fmt.Sprintf(`
MATCH (c:%s {uid: $uid})
RETURN c.uid AS uid, c.name AS name, c.description AS description, c.alternative_labels AS alternative_labels`,
		spec.ClassLabel), map[string]any{"uid": uid})
	if err != nil {
		return nil, fmt.Errorf("get class: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, uid)
	}
	r := rows[0]
	return &models.OntologyClass{
		UID:               r.String("uid"),
		Kind:              kind,
		Name:              r.String("name"),
		Description:       r.String("description"),
		AlternativeLabels: r.Strings("alternative_labels"),
	}, nil
}

// CreateClass stores a new class with its embedding nodes in one transaction.
func (s *OntologyStore) CreateClass(ctx context.Context, class models.OntologyClass, embeddings []models.EmbeddingInput) error {
	spec, err := SpecFor(class.Kind)
	if err != nil {
		return err
	}
	alt := class.AlternativeLabels
	if alt == nil {
		alt = []string{}
	}
	embs := make([]map[string]any, 0, len(embeddings))
	for _, e := range embeddings {
		embs = append(embs, map[string]any{"text": e.Text, "vector": toFloat64s(e.Vector)})
	}

	cypher := fmt.Sprintf(`
CREATE (c:%s {uid: $uid, name: $name, description: $description, alternative_labels: $alt, created_at: datetime()})
WITH c
UNWIND $embeddings AS e
CREATE (x:%s {text: e.text, embedding: e.vector})-[:FOR]->(c)`, spec.ClassLabel, spec.EmbeddingLabel)

	return s.client.Write(ctx, func(tx Tx) error {
		_, err := tx.Run(ctx, cypher, map[string]any{
			"uid":         class.UID,
			"name":        class.Name,
			"description": class.Description,
			"alt":         alt,
			"embeddings":  embs,
		})
		if err != nil {
			return fmt.Errorf("create class %s: %w", class.Name, err)
		}
		return nil
	})
}

// AddParent links child IS_A parent. Existing links are left untouched.
func (s *OntologyStore) AddParent(ctx context.Context, kind models.OntologyKind, child, parent string) error {
	spec, err := SpecFor(kind)
	if err != nil {
		return err
	}
	cypher := fmt.Sprintf(`
MATCH (c:%[1]s {uid: $child}), (p:%[1]s {uid: $parent})
MERGE (c)-[:IS_A]->(p)`, spec.ClassLabel)
	return s.client.Write(ctx, func(tx Tx) error {
		if _, err := tx.Run(ctx, cypher, map[string]any{"child": child, "parent": parent}); err != nil {
			return fmt.Errorf("add parent: %w", err)
		}
		return nil
	})
}

// Ancestors returns the uids of every class reachable from uid over IS_A.
func (s *OntologyStore) Ancestors(ctx context.Context, kind models.OntologyKind, uid string) ([]string, error) {
	spec, err := SpecFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.client.Read(ctx, fmt.Sprintf(`
MATCH (:%[1]s {uid: $uid})-[:IS_A*1..]->(a:%[1]s)
RETURN DISTINCT a.uid AS uid`, spec.ClassLabel), map[string]any{"uid": uid})
	if err != nil {
		return nil, fmt.Errorf("ancestors: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.String("uid"))
	}
	return out, nil
}

// Descendants returns uid and every class that reaches it over IS_A.
func (s *OntologyStore) Descendants(ctx context.Context, kind models.OntologyKind, uid string) ([]string, error) {
	spec, err := SpecFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.client.Read(ctx, fmt.Sprintf(`
MATCH (d:%[1]s)-[:IS_A*0..]->(:%[1]s {uid: $uid})
RETURN DISTINCT d.uid AS uid`, spec.ClassLabel), map[string]any{"uid": uid})
	if err != nil {
		return nil, fmt.Errorf("descendants: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.String("uid"))
	}
	return out, nil
}

// IsConnected reports whether the class has at least one parent or child.
func (s *OntologyStore) IsConnected(ctx context.Context, kind models.OntologyKind, uid string) (bool, error) {
	spec, err := SpecFor(kind)
	if err != nil {
		return false, err
	}
	rows, err := s.client.Read(ctx, fmt.Sprintf(`
MATCH (c:%[1]s {uid: $uid})
RETURN EXISTS { (c)-[:IS_A]-(:%[1]s) } AS connected`, spec.ClassLabel), map[string]any{"uid": uid})
	if err != nil {
		return false, fmt.Errorf("is connected: %w", err)
	}
	if len(rows) == 0 {
		return false, fmt.Errorf("%w: %s %s", ErrNotFound, kind, uid)
	}
	connected, _ := rows[0]["connected"].(bool)
	return connected, nil
}

func toFloat64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
