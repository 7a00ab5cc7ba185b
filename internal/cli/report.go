package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/spf13/cobra"
)

var (
	reportKey      string
	processesLimit int
)

var reportCmd = &cobra.Command{
	Use:   "report <process-id>",
	Short: "Print one output of a process",
	Long: `Print the output a process stored under a stage key.

Keys: labels, attributes, nodes, graph, dataset (or import), match.
The output is only available once the process is no longer queued or running.

Examples:
  matgraph report 6f1c... --key labels
  matgraph report 6f1c... --key match`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

var processesCmd = &cobra.Command{
	Use:   "processes",
	Short: "List processes",
	Long: `List the processes of a user, most recently updated first.

Examples:
  matgraph processes --user alice
  matgraph processes -n 10`,
	Args: cobra.NoArgs,
	RunE: runProcesses,
}

func init() {
	reportCmd.Flags().StringVarP(&reportKey, "key", "k", string(models.KeyLabels), "stage output to print")
	processesCmd.Flags().IntVarP(&processesLimit, "limit", "n", 50, "max results")
}

func runReport(cmd *cobra.Command, args []string) error {
	key, err := models.ParseReportKey(reportKey)
	if err != nil {
		return err
	}
	user, err := requireUser()
	if err != nil {
		return err
	}

	rep, err := getClient().Report(context.Background(), user, args[0], reportKey)
	if err != nil {
		return fmt.Errorf("get report: %w", err)
	}
	return printReport(cmd.OutOrStdout(), args[0], key, rep.Status, rep.Error, rep.Output)
}

func printReport(w io.Writer, processID string, key models.StageKey, status models.Status, errMsg *string, output json.RawMessage) error {
	fmt.Fprintf(w, "Process: %s\n", processID)
	fmt.Fprintf(w, "  Status: %s\n", status)
	if errMsg != nil && *errMsg != "" {
		fmt.Fprintf(w, "  Error: %s\n", *errMsg)
	}

	if len(output) == 0 || string(output) == "null" {
		if status.IsActive() {
			fmt.Fprintf(w, "\n%s is not available while the process is %s\n", key, status)
		} else {
			fmt.Fprintf(w, "\nNo %s output\n", key)
		}
		return nil
	}

	fmt.Fprintf(w, "\n%s:\n", key)
	if key == models.KeyMatch {
		var table models.ResultTable
		if err := json.Unmarshal(output, &table); err == nil {
			fmt.Fprintln(w, renderTable(&table, terminalWidth(w)))
			return nil
		}
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, output, "", "  "); err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	fmt.Fprintln(w, buf.String())
	return nil
}

func runProcesses(cmd *cobra.Command, args []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}

	list, err := getClient().ListProcesses(context.Background(), user, processesLimit)
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}
	printProcesses(cmd.OutOrStdout(), list)
	return nil
}

func printProcesses(w io.Writer, list []models.ProcessSummary) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No processes found")
		return
	}

	fmt.Fprintf(w, "%-38s %-12s %s\n", "PROCESS", "STATUS", "UPDATED")
	fmt.Fprintln(w, "------------------------------------------------------------------------")
	for _, p := range list {
		fmt.Fprintf(w, "%-38s %-12s %s\n", p.ProcessID, p.Status, p.UpdatedAt.Local().Format(time.DateTime))
	}
}
