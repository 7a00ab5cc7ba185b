package ontology

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/prompts"
)

// stitch places a freshly minted class into the hierarchy. The chain runs
// from the new class up to the best child-relation candidate, or up to the
// kind's anchor class when no candidate contains the input.
func (m *Mapper) stitch(ctx context.Context, input string, kind models.OntologyKind, sciContext string, res Resolution) error {
	connected, err := m.store.IsConnected(ctx, kind, res.UID)
	if err != nil {
		return err
	}
	if connected {
		return nil
	}

	cands, err := m.search(ctx, res.Name, kind, stitchK, res.UID)
	if err != nil {
		return err
	}

	var relations candidatesAnswer
	if len(cands) > 0 {
		sys, user, err := m.prompts.Render(prompts.OntologyCandidates, prompts.OntologyData{
			Input:      res.Name,
			Context:    sciContext,
			Kind:       kind,
			Candidates: names(cands),
		})
		if err != nil {
			return err
		}
		if err := m.chat.Chat(ctx, sys, user, &relations); err != nil {
			return fmt.Errorf("select candidates: %w", err)
		}
	}

	byName := make(map[string]models.Candidate, len(cands))
	for _, c := range cands {
		byName[strings.ToLower(c.Name)] = c
	}

	// Candidates are ordered by similarity, so the first child relation is the best parent.
	var best *models.Candidate
	for _, r := range relations.Candidates {
		c, ok := byName[strings.ToLower(strings.TrimSpace(r.Name))]
		if !ok {
			continue
		}
		switch r.Relation {
		case RelationChild:
			if best == nil || c.Score > best.Score {
				picked := c
				best = &picked
			}
		case RelationParent:
			if err := m.link(ctx, kind, c.UID, res.UID); err != nil {
				m.logger.Warn("skipped child link", "kind", kind, "child", c.Name, "parent", res.Name, "error", err)
			}
		}
	}

	bestName := string(kind)
	if best != nil {
		bestName = best.Name
	}

	sys, user, err := m.prompts.Render(prompts.OntologyChain, prompts.OntologyData{
		Input:      res.Name,
		Context:    sciContext,
		Kind:       kind,
		Best:       bestName,
		Candidates: names(cands),
	})
	if err != nil {
		return err
	}
	var chain chainAnswer
	if err := m.chat.Chat(ctx, sys, user, &chain); err != nil {
		return fmt.Errorf("connect chain: %w", err)
	}

	chainNames := normalizeChain(chain.Chain, res.Name, bestName)
	uids := make([]string, len(chainNames))
	uids[0] = res.UID
	for i := 1; i < len(chainNames); i++ {
		if i == len(chainNames)-1 && best != nil {
			uids[i] = best.UID
			continue
		}
		uid, err := m.attachOrStub(ctx, kind, chainNames[i], res.UID)
		if err != nil {
			return err
		}
		uids[i] = uid
	}

	for i := 0; i+1 < len(uids); i++ {
		if err := m.link(ctx, kind, uids[i], uids[i+1]); err != nil {
			m.logger.Warn("stopped chain", "kind", kind, "child", chainNames[i], "parent", chainNames[i+1], "error", err)
			break
		}
	}
	m.logger.Debug("stitched class", "kind", kind, "uid", res.UID, "chain", strings.Join(chainNames, " -> "), "input", input)
	return nil
}

// attachOrStub returns an existing class whose name is at least the reuse
// threshold close to name, or creates a stub class.
func (m *Mapper) attachOrStub(ctx context.Context, kind models.OntologyKind, name, self string) (string, error) {
	m.mintMu.Lock()
	defer m.mintMu.Unlock()

	cands, err := m.search(ctx, name, kind, 1, self)
	if err != nil {
		return "", err
	}
	if len(cands) > 0 && cands[0].Score >= m.reuse {
		return cands[0].UID, nil
	}
	stub := models.OntologyClass{
		UID:               uuid.NewString(),
		Kind:              kind,
		Name:              name,
		AlternativeLabels: []string{name},
	}
	if err := m.createClass(ctx, stub); err != nil {
		return "", err
	}
	m.logger.Info("created stub class", "kind", kind, "uid", stub.UID, "name", name)
	return stub.UID, nil
}

// link adds child IS_A parent unless that would close a cycle.
func (m *Mapper) link(ctx context.Context, kind models.OntologyKind, child, parent string) error {
	if child == parent {
		return fmt.Errorf("self link on %s", child)
	}
	ancestors, err := m.store.Ancestors(ctx, kind, parent)
	if err != nil {
		return err
	}
	if slices.Contains(ancestors, child) {
		return fmt.Errorf("link %s -> %s would create a cycle", child, parent)
	}
	return m.store.AddParent(ctx, kind, child, parent)
}

// normalizeChain pins the chain to start at the new class and end at the target.
func normalizeChain(chain []string, self, target string) []string {
	out := []string{self}
	if strings.EqualFold(self, target) {
		return out
	}
	for _, name := range chain {
		name = models.NormalizeName(name)
		if name == "" || containsFold(out, name) || strings.EqualFold(name, target) {
			continue
		}
		out = append(out, name)
	}
	return append(out, target)
}
