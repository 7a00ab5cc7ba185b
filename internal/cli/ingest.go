package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/raphaelgruber/matgraph/internal/client"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/spf13/cobra"
)

var (
	uploadContext   string
	uploadProcessID string
	uploadCallback  string
	uploadWatch     bool

	stageOverride string
	stageForce    bool
	stageWatch    bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a table and start label extraction",
	Long: `Upload a CSV table and start stage 1 (label extraction).

The context describes the experiment and is passed to every stage.

Examples:
  matgraph upload samples.csv --user alice --context "sputtered Pt thin films"
  matgraph upload batch7.csv --process-id batch-7 --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var stageCmd = &cobra.Command{
	Use:   "stage <attributes|nodes|graph|import> <process-id>",
	Short: "Run the next ingestion stage of a process",
	Long: `Submit one of stages 2 to 5 for a process.

--override replaces the stage's input (the previous stage's output) with the
JSON in the given file before the stage runs. --force allows a second graph
import of the same process.

Examples:
  matgraph stage attributes 6f1c...
  matgraph stage nodes 6f1c... --override attributes.json
  matgraph stage import 6f1c... --force --watch`,
	Args: cobra.ExactArgs(2),
	RunE: runStage,
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadContext, "context", "c", "", "experiment context for the LLM stages")
	uploadCmd.Flags().StringVar(&uploadProcessID, "process-id", "", "process id (generated if empty)")
	uploadCmd.Flags().StringVar(&uploadCallback, "callback", "", "URL notified when the stage settles")
	uploadCmd.Flags().BoolVarP(&uploadWatch, "watch", "w", false, "follow the stage until it settles")

	stageCmd.Flags().StringVarP(&stageOverride, "override", "o", "", "JSON file replacing the stage input")
	stageCmd.Flags().BoolVar(&stageForce, "force", false, "allow a second graph import")
	stageCmd.Flags().BoolVarP(&stageWatch, "watch", "w", false, "follow the stage until it settles")
}

func runUpload(cmd *cobra.Command, args []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sub, err := getClient().Upload(ctx, client.UploadInput{
		UserID:      user,
		ProcessID:   uploadProcessID,
		CallbackURL: uploadCallback,
		Context:     uploadContext,
		Path:        args[0],
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Process %s: labels [%s]\n", sub.ProcessID, sub.Status)
	if uploadWatch {
		return watchProcess(ctx, cmd.OutOrStdout(), getClient(), user, sub.ProcessID)
	}
	return nil
}

func runStage(cmd *cobra.Command, args []string) error {
	key, err := models.ParseReportKey(args[0])
	if err != nil {
		return err
	}
	if _, ok := key.Previous(); !ok {
		return fmt.Errorf("%s cannot be submitted as a stage", args[0])
	}
	user, err := requireUser()
	if err != nil {
		return err
	}
	processID := args[1]

	var override json.RawMessage
	if stageOverride != "" {
		data, err := os.ReadFile(stageOverride)
		if err != nil {
			return fmt.Errorf("read override: %w", err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("override %s is not valid JSON", stageOverride)
		}
		override = data
	}

	ctx := context.Background()
	status, err := getClient().SubmitStage(ctx, key, user, processID, override, stageForce)
	if err != nil {
		return fmt.Errorf("submit %s: %w", key, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Process %s: %s [%s]\n", processID, key, status)
	if stageWatch {
		return watchProcess(ctx, cmd.OutOrStdout(), getClient(), user, processID)
	}
	return nil
}
