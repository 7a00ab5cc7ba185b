package testutil

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/raphaelgruber/matgraph/internal/models"
)

type storedClass struct {
	class      models.OntologyClass
	embeddings []models.EmbeddingInput
	parents    []string
}

// Ontology is an in-memory ontology store.
type Ontology struct {
	mu      sync.RWMutex
	classes map[string]*storedClass
}

// NewOntology creates an empty store.
func NewOntology() *Ontology {
	return &Ontology{classes: make(map[string]*storedClass)}
}

// Seed adds a class named name with one embedding and the given parents.
func (o *Ontology) Seed(kind models.OntologyKind, name string, parents ...string) string {
	uid := uuid.NewString()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.classes[uid] = &storedClass{
		class:      models.OntologyClass{UID: uid, Kind: kind, Name: name, AlternativeLabels: []string{name}},
		embeddings: []models.EmbeddingInput{{Text: name, Vector: Vector(name)}},
		parents:    slices.Clone(parents),
	}
	return uid
}

// SearchSimilar implements ontology.Store.
func (o *Ontology) SearchSimilar(_ context.Context, kind models.OntologyKind, vec []float32, k int, exclude ...string) ([]models.Candidate, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []models.Candidate
	for uid, c := range o.classes {
		if c.class.Kind != kind || slices.Contains(exclude, uid) {
			continue
		}
		best := -1.0
		for _, e := range c.embeddings {
			if s := Cosine(vec, e.Vector); s > best {
				best = s
			}
		}
		out = append(out, models.Candidate{UID: uid, Name: c.class.Name, Score: best})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// CreateClass implements ontology.Store.
func (o *Ontology) CreateClass(_ context.Context, class models.OntologyClass, embeddings []models.EmbeddingInput) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.classes[class.UID]; ok {
		return fmt.Errorf("class %s exists", class.UID)
	}
	o.classes[class.UID] = &storedClass{class: class, embeddings: slices.Clone(embeddings)}
	return nil
}

// AddParent implements ontology.Store.
func (o *Ontology) AddParent(_ context.Context, _ models.OntologyKind, child, parent string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.classes[child]
	if !ok {
		return fmt.Errorf("unknown class %s", child)
	}
	if _, ok := o.classes[parent]; !ok {
		return fmt.Errorf("unknown class %s", parent)
	}
	if !slices.Contains(c.parents, parent) {
		c.parents = append(c.parents, parent)
	}
	return nil
}

// Ancestors implements ontology.Store.
func (o *Ontology) Ancestors(_ context.Context, _ models.OntologyKind, uid string) ([]string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.ancestors(uid), nil
}

func (o *Ontology) ancestors(uid string) []string {
	var out []string
	seen := map[string]bool{}
	queue := []string{uid}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, ok := o.classes[cur]
		if !ok {
			continue
		}
		for _, p := range c.parents {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
				queue = append(queue, p)
			}
		}
	}
	return out
}

// Descendants returns uid and every class below it.
func (o *Ontology) Descendants(_ context.Context, _ models.OntologyKind, uid string) ([]string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := []string{uid}
	for id := range o.classes {
		if id != uid && slices.Contains(o.ancestors(id), uid) {
			out = append(out, id)
		}
	}
	return out, nil
}

// IsConnected implements ontology.Store.
func (o *Ontology) IsConnected(_ context.Context, _ models.OntologyKind, uid string) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.classes[uid]
	if !ok {
		return false, fmt.Errorf("unknown class %s", uid)
	}
	if len(c.parents) > 0 {
		return true, nil
	}
	for _, other := range o.classes {
		if slices.Contains(other.parents, uid) {
			return true, nil
		}
	}
	return false, nil
}

// Class returns a stored class.
func (o *Ontology) Class(uid string) (models.OntologyClass, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.classes[uid]
	if !ok {
		return models.OntologyClass{}, false
	}
	return c.class, true
}

// Embeddings returns the embedding count of a class.
func (o *Ontology) Embeddings(uid string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if c, ok := o.classes[uid]; ok {
		return len(c.embeddings)
	}
	return 0
}

// Len returns the number of classes.
func (o *Ontology) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.classes)
}

// FindByName returns the uid of the class called name.
func (o *Ontology) FindByName(kind models.OntologyKind, name string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for uid, c := range o.classes {
		if c.class.Kind == kind && c.class.Name == name {
			return uid, true
		}
	}
	return "", false
}

// HasCycle reports whether the parent graph contains a cycle.
func (o *Ontology) HasCycle() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for uid := range o.classes {
		if slices.Contains(o.ancestors(uid), uid) {
			return true
		}
	}
	return false
}
