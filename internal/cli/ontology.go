package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/spf13/cobra"
)

var (
	mapKind    string
	mapContext string
	mapLookup  bool

	matchRemote   bool
	matchCallback string
)

var mapCmd = &cobra.Command{
	Use:   "map <name>",
	Short: "Map a name to an ontology class",
	Long: `Resolve a name to the UID of an ontology class.

Without --lookup the name goes through the full resolution: an existing
class or synonym is reused, otherwise a new class is minted and stitched
into the hierarchy. --lookup only reports the nearest existing class.

Examples:
  matgraph map "Pt foil" --kind matter
  matgraph map "anneal" --kind process --context "thin film growth"
  matgraph map "sheet resistance" --kind quantity --lookup`,
	Args: cobra.ExactArgs(1),
	RunE: runMap,
}

var matchCmd = &cobra.Command{
	Use:   "match <query.json>",
	Short: "Find fabrication workflows matching a query graph",
	Long: `Match a query graph against the imported instance data.

The query file holds {"nodes": [...], "relationships": [...]}. By default
the query runs locally against Neo4j and the result table is printed.
--remote queues it on the server as a match process instead.

Examples:
  matgraph match query.json
  matgraph match query.json --remote --user alice`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	mapCmd.Flags().StringVarP(&mapKind, "kind", "k", string(models.KindMatter), "ontology kind: matter, process or quantity")
	mapCmd.Flags().StringVarP(&mapContext, "context", "c", "", "scientific context for disambiguation")
	mapCmd.Flags().BoolVar(&mapLookup, "lookup", false, "report the nearest class without minting")

	matchCmd.Flags().BoolVar(&matchRemote, "remote", false, "queue the query on the server")
	matchCmd.Flags().StringVar(&matchCallback, "callback", "", "URL notified when a remote match settles")
}

func runMap(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseOntologyKind(mapKind)
	if err != nil {
		return err
	}
	ctx := context.Background()

	o, err := getOntology(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if mapLookup {
		cand, ok, err := o.Mapper.Lookup(ctx, args[0], kind)
		if err != nil {
			return fmt.Errorf("lookup: %w", err)
		}
		if !ok {
			fmt.Fprintf(out, "No %s classes yet\n", kind)
			return nil
		}
		fmt.Fprintf(out, "%s  %s (score %.3f)\n", cand.UID, cand.Name, cand.Score)
		return nil
	}

	res, err := o.Mapper.Resolve(ctx, args[0], kind, mapContext)
	if err != nil {
		return fmt.Errorf("map %q: %w", args[0], err)
	}

	how := "matched"
	if res.Created {
		how = "created"
	}
	fmt.Fprintf(out, "%s  %s (%s)\n", res.UID, res.Name, how)
	if verbose && !res.Created {
		fmt.Fprintf(out, "  Score: %.3f\n", res.Score)
	}
	return nil
}

func runMatch(cmd *cobra.Command, args []string) error {
	q, err := readQuery(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	out := cmd.OutOrStdout()

	if matchRemote {
		user, err := requireUser()
		if err != nil {
			return err
		}
		sub, err := getClient().Match(ctx, user, matchCallback, q)
		if err != nil {
			return fmt.Errorf("submit match: %w", err)
		}
		fmt.Fprintf(out, "Match %s [%s]\nUse 'matgraph report %s --key match' for the result.\n",
			sub.ProcessID, sub.Status, sub.ProcessID)
		return nil
	}

	o, err := getOntology(ctx)
	if err != nil {
		return err
	}
	table, err := o.Matcher.Match(ctx, ctxCheckpoint{ctx}, q)
	if err != nil {
		return fmt.Errorf("match: %w", err)
	}
	fmt.Fprintln(out, renderTable(table, terminalWidth(out)))
	return nil
}

func readQuery(path string) (models.QueryGraph, error) {
	var q models.QueryGraph
	data, err := os.ReadFile(path)
	if err != nil {
		return q, fmt.Errorf("read query: %w", err)
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return q, fmt.Errorf("parse query: %w", err)
	}
	if err := q.Validate(); err != nil {
		return q, err
	}
	return q, nil
}

// ctxCheckpoint stops a local match when ctx is done.
type ctxCheckpoint struct {
	ctx context.Context
}

func (c ctxCheckpoint) Checkpoint() error {
	return c.ctx.Err()
}
