package prompts

import "github.com/raphaelgruber/matgraph/internal/models"

// TableData feeds the label, attribute and nodes prompts.
type TableData struct {
	Context  string
	Header   []string
	FirstRow []string
	Columns  []models.ColumnDescriptor
}

// GraphData feeds the relationship extractor prompts.
type GraphData struct {
	Context  string
	Header   []string
	FirstRow []string
	Nodes    []models.ExtractedNode
}

// OntologyData feeds the synonym, candidate and chain prompts.
type OntologyData struct {
	Input      string
	Context    string
	Kind       models.OntologyKind
	Best       string
	Candidates []string
}
