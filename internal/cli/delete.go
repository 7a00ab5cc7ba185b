package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var (
	deleteForce bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete <process-id>",
	Short: "Delete a process and its stage outputs",
	Long: `Delete a process from the registry.

A running stage is cancelled first. Instance nodes already imported into
the graph are kept. Requires confirmation unless --force is used.

Examples:
  matgraph delete 6f1c... --user alice
  matgraph delete 6f1c... --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <process-id>",
	Short: "Cancel the running stage of a process",
	Long: `Request cancellation of the queued or running stage of a process.

The stage stops at its next checkpoint and the process becomes cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	processID := args[0]
	ctx := context.Background()

	user, err := requireUser()
	if err != nil {
		return err
	}

	// Show what is about to go
	st, err := getClient().Status(ctx, user, processID)
	if err != nil {
		return fmt.Errorf("get process: %w", err)
	}

	if !deleteForce {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "About to delete: %s [%s]\n", st.ProcessID, st.Status)
		fmt.Fprint(out, "\nContinue? [y/N]: ")

		ok, err := confirm(cmd.InOrStdin())
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := getClient().Delete(ctx, user, processID); err != nil {
		return fmt.Errorf("delete process: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted: %s\n", processID)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	status, err := getClient().Cancel(context.Background(), user, args[0])
	if err != nil {
		return fmt.Errorf("cancel process: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s (was %s)\n", args[0], status)
	return nil
}

// confirm reads a y/yes answer.
func confirm(in io.Reader) (bool, error) {
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read input: %w", err)
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}
