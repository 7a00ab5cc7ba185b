package graphdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/matgraph/internal/models"
)

// InitSchema creates constraints and vector indexes. Safe to call repeatedly.
func (c *Client) InitSchema(ctx context.Context, dimension int) error {
	c.logger.Info("initializing graph schema", "dimension", dimension)
	for _, stmt := range SchemaStatements(dimension) {
		if err := c.Exec(ctx, stmt, nil); err != nil {
			return fmt.Errorf("init graph schema: %w", err)
		}
	}
	c.logger.Info("graph schema initialization complete")
	return nil
}

// SchemaStatements lists the schema commands for the given embedding dimension.
func SchemaStatements(dimension int) []string {
	var stmts []string
	for _, kind := range models.OntologyKinds {
		spec := kindSpecs[kind]
		stmts = append(stmts,
			fmt.Sprintf("CREATE CONSTRAINT %s_uid IF NOT EXISTS FOR (c:%s) REQUIRE c.uid IS UNIQUE",
				strings.ToLower(spec.ClassLabel), spec.ClassLabel),
			fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS FOR (e:%s) ON (e.embedding) "+
				"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
				spec.VectorIndex, spec.EmbeddingLabel, dimension),
		)
	}
	for _, l := range models.NodeLabels {
		label := instanceLabels[l]
		stmts = append(stmts, fmt.Sprintf(
			"CREATE CONSTRAINT instance_%s_uid IF NOT EXISTS FOR (n:%s) REQUIRE n.uid IS UNIQUE", l, label))
	}
	stmts = append(stmts, "CREATE INDEX instance_file_link IF NOT EXISTS FOR (n:Matter) ON (n.file_link)")
	return stmts
}
