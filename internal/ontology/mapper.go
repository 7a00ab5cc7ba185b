// Package ontology resolves free-text names to ontology classes, minting and
// stitching new classes into the hierarchy when nothing close enough exists.
package ontology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/raphaelgruber/matgraph/internal/llm"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/prompts"
	"golang.org/x/sync/singleflight"
)

// Default thresholds and fan-outs.
const (
	DefaultMatchThreshold = 0.97
	DefaultReuseThreshold = 0.98
	lookupK               = 5
	stitchK               = 8
)

// ErrResolution indicates a name could not be resolved to a class.
var ErrResolution = errors.New("ontology resolution failed")

// Store is the ontology persistence the mapper needs.
type Store interface {
	SearchSimilar(ctx context.Context, kind models.OntologyKind, vec []float32, k int, exclude ...string) ([]models.Candidate, error)
	CreateClass(ctx context.Context, class models.OntologyClass, embeddings []models.EmbeddingInput) error
	AddParent(ctx context.Context, kind models.OntologyKind, child, parent string) error
	Ancestors(ctx context.Context, kind models.OntologyKind, uid string) ([]string, error)
	IsConnected(ctx context.Context, kind models.OntologyKind, uid string) (bool, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Resolution is the outcome of mapping one name.
type Resolution struct {
	UID     string
	Name    string
	Score   float64
	Created bool
}

// Mapper maps names to ontology class UIDs.
type Mapper struct {
	store     Store
	embedder  Embedder
	chat      llm.Chatter
	prompts   *prompts.Pack
	logger    *slog.Logger
	threshold float64
	reuse     float64

	inflight singleflight.Group
	// mintMu serializes the second-chance lookup with class creation so
	// concurrent resolutions of the same synonym mint it once.
	mintMu sync.Mutex
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithThresholds overrides the match and chain reuse thresholds.
func WithThresholds(match, reuse float64) Option {
	return func(m *Mapper) {
		m.threshold = match
		m.reuse = reuse
	}
}

// NewMapper creates a mapper.
func NewMapper(store Store, embedder Embedder, chat llm.Chatter, pack *prompts.Pack, logger *slog.Logger, opts ...Option) *Mapper {
	m := &Mapper{
		store:     store,
		embedder:  embedder,
		chat:      chat,
		prompts:   pack,
		logger:    logger.With("component", "ontology"),
		threshold: DefaultMatchThreshold,
		reuse:     DefaultReuseThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MapName returns the UID of the class name resolves to in kind.
func (m *Mapper) MapName(ctx context.Context, name string, kind models.OntologyKind, sciContext string) (string, error) {
	res, err := m.Resolve(ctx, name, kind, sciContext)
	if err != nil {
		return "", err
	}
	return res.UID, nil
}

// Resolve maps name like MapName and reports how it was resolved.
// Concurrent calls for the same (kind, name) share one resolution.
func (m *Mapper) Resolve(ctx context.Context, name string, kind models.OntologyKind, sciContext string) (Resolution, error) {
	if !slices.Contains(models.OntologyKinds, kind) {
		return Resolution{}, fmt.Errorf("%w: unknown kind %q", ErrResolution, kind)
	}
	input := models.NormalizeName(name)
	if input == "" {
		return Resolution{}, fmt.Errorf("%w: empty name", ErrResolution)
	}

	key := string(kind) + "\x00" + strings.ToLower(input)
	v, err, _ := m.inflight.Do(key, func() (any, error) {
		return m.resolve(ctx, input, kind, sciContext)
	})
	if err != nil {
		return Resolution{}, err
	}
	return v.(Resolution), nil
}

// Lookup returns the nearest class to name without minting. ok is false
// when the kind holds no classes.
func (m *Mapper) Lookup(ctx context.Context, name string, kind models.OntologyKind) (models.Candidate, bool, error) {
	cands, err := m.search(ctx, models.NormalizeName(name), kind, 1)
	if err != nil {
		return models.Candidate{}, false, err
	}
	if len(cands) == 0 {
		return models.Candidate{}, false, nil
	}
	return cands[0], true, nil
}

func (m *Mapper) resolve(ctx context.Context, input string, kind models.OntologyKind, sciContext string) (Resolution, error) {
	cands, err := m.search(ctx, input, kind, lookupK)
	if err != nil {
		return Resolution{}, err
	}
	if len(cands) > 0 && cands[0].Score >= m.threshold {
		return Resolution{UID: cands[0].UID, Name: cands[0].Name, Score: cands[0].Score}, nil
	}

	syn, err := m.proposeSynonym(ctx, input, kind, sciContext, cands)
	if err != nil {
		return Resolution{}, err
	}

	m.mintMu.Lock()
	res, err := m.secondChanceOrMint(ctx, input, kind, syn)
	m.mintMu.Unlock()
	if err != nil || !res.Created {
		return res, err
	}

	if err := m.stitch(ctx, input, kind, sciContext, res); err != nil {
		if ctx.Err() != nil {
			return Resolution{}, ctx.Err()
		}
		m.logger.Warn("class left unstitched", "kind", kind, "uid", res.UID, "name", res.Name, "error", err)
	}
	return res, nil
}

func (m *Mapper) secondChanceOrMint(ctx context.Context, input string, kind models.OntologyKind, syn synonymAnswer) (Resolution, error) {
	cands, err := m.search(ctx, syn.Name, kind, 1)
	if err != nil {
		return Resolution{}, err
	}
	if len(cands) > 0 && cands[0].Score >= m.threshold {
		m.logger.Debug("resolved via synonym", "kind", kind, "input", input, "synonym", syn.Name, "uid", cands[0].UID)
		return Resolution{UID: cands[0].UID, Name: cands[0].Name, Score: cands[0].Score}, nil
	}

	class := models.OntologyClass{
		UID:               uuid.NewString(),
		Kind:              kind,
		Name:              syn.Name,
		Description:       syn.Description,
		AlternativeLabels: dedupe(append([]string{input}, syn.AlternativeLabels...)),
	}
	if err := m.createClass(ctx, class); err != nil {
		return Resolution{}, err
	}
	m.logger.Info("minted ontology class", "kind", kind, "uid", class.UID, "name", class.Name, "input", input)
	return Resolution{UID: class.UID, Name: class.Name, Score: 1, Created: true}, nil
}

// createClass embeds the name, every alternative label and the description.
func (m *Mapper) createClass(ctx context.Context, class models.OntologyClass) error {
	texts := dedupe(append([]string{class.Name}, class.AlternativeLabels...))
	if d := strings.TrimSpace(class.Description); d != "" && !containsFold(texts, d) {
		texts = append(texts, d)
	}
	vecs, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed class %s: %w", class.Name, err)
	}
	embs := make([]models.EmbeddingInput, len(texts))
	for i, t := range texts {
		embs[i] = models.EmbeddingInput{Text: t, Vector: vecs[i]}
	}
	if err := m.store.CreateClass(ctx, class, embs); err != nil {
		return fmt.Errorf("create class %s: %w", class.Name, err)
	}
	return nil
}

func (m *Mapper) search(ctx context.Context, text string, kind models.OntologyKind, k int, exclude ...string) ([]models.Candidate, error) {
	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed %q: %w", text, err)
	}
	cands, err := m.store.SearchSimilar(ctx, kind, vec, k, exclude...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", kind, err)
	}
	return cands, nil
}

func (m *Mapper) proposeSynonym(ctx context.Context, input string, kind models.OntologyKind, sciContext string, cands []models.Candidate) (synonymAnswer, error) {
	sys, user, err := m.prompts.Render(prompts.Synonym(kind), prompts.OntologyData{
		Input:      input,
		Context:    sciContext,
		Kind:       kind,
		Candidates: names(cands),
	})
	if err != nil {
		return synonymAnswer{}, err
	}
	var ans synonymAnswer
	if err := m.chat.Chat(ctx, sys, user, &ans); err != nil {
		return synonymAnswer{}, fmt.Errorf("%w: synonym for %q: %w", ErrResolution, input, err)
	}
	ans.Name = models.NormalizeName(ans.Name)
	return ans, nil
}

func names(cands []models.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Name
	}
	return out
}

func dedupe(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = models.NormalizeName(l)
		if l != "" && !containsFold(out, l) {
			out = append(out, l)
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(x string) bool { return strings.EqualFold(x, s) })
}
