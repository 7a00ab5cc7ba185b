// Package matcher answers fabrication workflow queries against the
// instance graph, expanding each query node to its ontology subclasses.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/matgraph/internal/graphdb"
	"github.com/raphaelgruber/matgraph/internal/models"
	"golang.org/x/sync/errgroup"
)

// Resolver finds the closest ontology class for a name without creating one.
type Resolver interface {
	Lookup(ctx context.Context, name string, kind models.OntologyKind) (models.Candidate, bool, error)
}

// Closure expands a class to itself and all of its subclasses.
type Closure interface {
	Descendants(ctx context.Context, kind models.OntologyKind, uid string) ([]string, error)
}

// GraphReader runs read-only Cypher.
type GraphReader interface {
	Read(ctx context.Context, cypher string, params map[string]any) ([]graphdb.Row, error)
}

// Checkpoint returns an error once the running match has been cancelled.
type Checkpoint interface {
	Checkpoint() error
}

// Matcher compiles and runs workflow queries.
type Matcher struct {
	resolver    Resolver
	closure     Closure
	graph       GraphReader
	logger      *slog.Logger
	concurrency int
}

// New creates a matcher.
func New(resolver Resolver, closure Closure, graph GraphReader, logger *slog.Logger) *Matcher {
	return &Matcher{
		resolver:    resolver,
		closure:     closure,
		graph:       graph,
		logger:      logger.With("component", "matcher"),
		concurrency: 4,
	}
}

// Match resolves the query, runs it and shapes the result. A node whose
// name resolves to nothing keeps the uid "nope" and the result is empty.
func (m *Matcher) Match(ctx context.Context, cp Checkpoint, q models.QueryGraph) (*models.ResultTable, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	resolved, closures, err := m.Resolve(ctx, cp, q)
	if err != nil {
		return nil, err
	}
	for _, n := range resolved.Nodes {
		if n.UID == models.UnresolvedUID {
			m.logger.Info("query node unresolved", "node", n.ID, "name", n.Attributes.Name)
			return models.EmptyResult(), nil
		}
	}

	query, err := Compile(resolved, closures)
	if err != nil {
		return nil, err
	}
	if err := cp.Checkpoint(); err != nil {
		return nil, err
	}
	rows, err := m.graph.Read(ctx, query.Cypher, query.Params)
	if err != nil {
		return nil, fmt.Errorf("run match: %w", err)
	}
	m.logger.Debug("match executed", "nodes", len(q.Nodes), "edges", len(q.Relationships), "rows", len(rows))
	return query.Shape(rows), nil
}

// Resolve stores the top ontology class on every query node and returns
// the subclass closure accepted for each node id.
func (m *Matcher) Resolve(ctx context.Context, cp Checkpoint, q models.QueryGraph) (models.QueryGraph, map[string][]string, error) {
	out := q
	out.Nodes = make([]models.QueryNode, len(q.Nodes))
	copy(out.Nodes, q.Nodes)

	var mu sync.Mutex
	closures := make(map[string][]string, len(q.Nodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i := range out.Nodes {
		n := &out.Nodes[i]
		kind, ok := models.KindForLabel(n.Label)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := cp.Checkpoint(); err != nil {
				return err
			}
			cand, found, err := m.resolver.Lookup(gctx, n.Attributes.Name, kind)
			if err != nil {
				return fmt.Errorf("resolve %q: %w", n.Attributes.Name, err)
			}
			if !found {
				n.UID = models.UnresolvedUID
				return nil
			}
			n.UID = cand.UID
			if err := cp.Checkpoint(); err != nil {
				return err
			}
			uids, err := m.closure.Descendants(gctx, kind, cand.UID)
			if err != nil {
				return fmt.Errorf("expand %s: %w", cand.Name, err)
			}
			mu.Lock()
			closures[n.ID] = uids
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.QueryGraph{}, nil, err
	}
	return out, closures, nil
}
