package models

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

// NameMapping records which ontology class an extracted name resolved to.
type NameMapping struct {
	NodeID      string       `json:"node_id"`
	Label       NodeLabel    `json:"label"`
	Name        string       `json:"name"`
	Kind        OntologyKind `json:"kind"`
	OntologyUID string       `json:"ontology_uid"`
}

// ImportSummary is the stage 5 output.
type ImportSummary struct {
	FileLink             string        `json:"file_link"`
	Rows                 int           `json:"rows"`
	NodesCreated         int           `json:"nodes_created"`
	RelationshipsCreated int           `json:"relationships_created"`
	Mappings             []NameMapping `json:"mappings"`
}

// CSV renders the name mappings as the dataset callback attachment.
func (s ImportSummary) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"node_id", "label", "name", "kind", "ontology_uid", "rows"}); err != nil {
		return nil, err
	}
	for _, m := range s.Mappings {
		if err := w.Write([]string{m.NodeID, string(m.Label), m.Name, string(m.Kind), m.OntologyUID, strconv.Itoa(s.Rows)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
