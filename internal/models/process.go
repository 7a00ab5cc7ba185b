package models

import (
	"encoding/json"
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Process is the persisted state of one client-initiated ingestion or match.
// Stage outputs are stored as JSON text and decoded on demand.
type Process struct {
	ID           surrealmodels.RecordID `json:"id"`
	ProcessID    string                 `json:"process_id"`
	Seq          int                    `json:"seq"`
	UserID       string                 `json:"user_id"`
	CallbackURL  string                 `json:"callback_url"`
	Status       Status                 `json:"status"`
	ErrorMessage *string                `json:"error_message,omitempty"`
	FileID       string                 `json:"file_id"`
	Context      string                 `json:"context"`

	Labels     *string `json:"labels,omitempty"`
	Attributes *string `json:"attributes,omitempty"`
	Nodes      *string `json:"nodes,omitempty"`
	Graph      *string `json:"graph,omitempty"`
	Dataset    *string `json:"dataset,omitempty"`
	Match      *string `json:"match,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProcessInput carries the fields needed to create a process.
type ProcessInput struct {
	ProcessID   string `validate:"required"`
	UserID      string `validate:"required"`
	CallbackURL string `validate:"omitempty,url"`
	FileID      string
	Context     string
}

// Output returns the raw JSON stored for key, or nil.
func (p *Process) Output(key StageKey) *string {
	switch key {
	case KeyLabels:
		return p.Labels
	case KeyAttributes:
		return p.Attributes
	case KeyNodes:
		return p.Nodes
	case KeyGraph:
		return p.Graph
	case KeyDataset:
		return p.Dataset
	case KeyMatch:
		return p.Match
	default:
		return nil
	}
}

// SetOutput stores raw JSON for key on the in-memory record.
func (p *Process) SetOutput(key StageKey, raw *string) {
	switch key {
	case KeyLabels:
		p.Labels = raw
	case KeyAttributes:
		p.Attributes = raw
	case KeyNodes:
		p.Nodes = raw
	case KeyGraph:
		p.Graph = raw
	case KeyDataset:
		p.Dataset = raw
	case KeyMatch:
		p.Match = raw
	}
}

// DecodeOutput unmarshals the output stored for key into v.
// Returns ErrOutputMissing when the field is null.
func (p *Process) DecodeOutput(key StageKey, v any) error {
	raw := p.Output(key)
	if raw == nil {
		return fmt.Errorf("%w: %s", ErrOutputMissing, key)
	}
	if err := json.Unmarshal([]byte(*raw), v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// DecodeColumns decodes the labels or attributes output.
func (p *Process) DecodeColumns(key StageKey) ([]ColumnDescriptor, error) {
	var cols []ColumnDescriptor
	if err := p.DecodeOutput(key, &cols); err != nil {
		return nil, err
	}
	return cols, nil
}

// DecodeNodes decodes the nodes output.
func (p *Process) DecodeNodes() ([]ExtractedNode, error) {
	var nodes []ExtractedNode
	if err := p.DecodeOutput(KeyNodes, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// DecodeGraph decodes the graph output.
func (p *Process) DecodeGraph() (*GraphDocument, error) {
	var doc GraphDocument
	if err := p.DecodeOutput(KeyGraph, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// EncodeOutput marshals v into the JSON text form stored on a process.
func EncodeOutput(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode output: %w", err)
	}
	return string(data), nil
}

// ProcessSummary is the listing view of a process.
type ProcessSummary struct {
	ProcessID string    `json:"process_id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
