// Package prompts renders the LLM prompt table used by the stages and the ontology mapper.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/raphaelgruber/matgraph/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompt names.
const (
	Label               = "label"
	Attribute           = "attribute"
	Nodes               = "nodes"
	OntologyCandidates  = "ontology.candidates"
	OntologyChain       = "ontology.chain"
	relationshipsPrefix = "relationships."
	synonymPrefix       = "ontology.synonym."
)

// Relationship extractor names.
const (
	ExtractHasProperty          = "has_property"
	ExtractHasParameter         = "has_parameter"
	ExtractHasMeasurementOutput = "has_measurement_output"
	ExtractMatterManufacturing  = "matter_manufacturing"
)

// Extractors lists the relationship extractors in run order.
var Extractors = []string{
	ExtractHasProperty, ExtractHasParameter,
	ExtractHasMeasurementOutput, ExtractMatterManufacturing,
}

// Relationships returns the prompt name of a relationship extractor.
func Relationships(extractor string) string {
	return relationshipsPrefix + extractor
}

// Synonym returns the synonym prompt name for an ontology kind.
func Synonym(kind models.OntologyKind) string {
	return synonymPrefix + strings.ToLower(string(kind))
}

type entry struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type compiled struct {
	system *template.Template
	user   *template.Template
}

// Pack is a compiled prompt table. It is safe for concurrent use.
type Pack struct {
	prompts map[string]compiled
}

var funcs = template.FuncMap{
	"join": strings.Join,
}

// Load compiles the embedded prompts, replacing entries with those found in
// overrideFile when it is set.
func Load(overrideFile string) (*Pack, error) {
	entries, err := parse(defaultPrompts)
	if err != nil {
		return nil, fmt.Errorf("parse embedded prompts: %w", err)
	}
	if overrideFile != "" {
		data, err := os.ReadFile(overrideFile)
		if err != nil {
			return nil, fmt.Errorf("read prompt overrides: %w", err)
		}
		overrides, err := parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse prompt overrides: %w", err)
		}
		for name, e := range overrides {
			base := entries[name]
			if e.System != "" {
				base.System = e.System
			}
			if e.User != "" {
				base.User = e.User
			}
			entries[name] = base
		}
	}

	pack := &Pack{prompts: make(map[string]compiled, len(entries))}
	for name, e := range entries {
		sys, err := template.New(name + ".system").Funcs(funcs).Option("missingkey=zero").Parse(e.System)
		if err != nil {
			return nil, fmt.Errorf("%s system template: %w", name, err)
		}
		user, err := template.New(name + ".user").Funcs(funcs).Option("missingkey=zero").Parse(e.User)
		if err != nil {
			return nil, fmt.Errorf("%s user template: %w", name, err)
		}
		pack.prompts[name] = compiled{system: sys, user: user}
	}
	return pack, nil
}

// MustDefault returns the embedded pack and panics if it does not compile.
func MustDefault() *Pack {
	p, err := Load("")
	if err != nil {
		panic(err)
	}
	return p
}

func parse(data []byte) (map[string]entry, error) {
	var entries map[string]entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = map[string]entry{}
	}
	return entries, nil
}

// Render executes the named prompt with data.
func (p *Pack) Render(name string, data any) (system, user string, err error) {
	c, ok := p.prompts[name]
	if !ok {
		return "", "", fmt.Errorf("unknown prompt %q", name)
	}
	var sb, ub bytes.Buffer
	if err := c.system.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render %s system: %w", name, err)
	}
	if err := c.user.Execute(&ub, data); err != nil {
		return "", "", fmt.Errorf("render %s user: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), strings.TrimSpace(ub.String()), nil
}

// Has reports whether the pack defines name.
func (p *Pack) Has(name string) bool {
	_, ok := p.prompts[name]
	return ok
}
