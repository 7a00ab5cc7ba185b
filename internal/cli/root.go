// Package cli provides the command-line interface for matgraph.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/matgraph/internal/app"
	"github.com/raphaelgruber/matgraph/internal/client"
	"github.com/raphaelgruber/matgraph/internal/config"
	"github.com/raphaelgruber/matgraph/internal/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string
	userID    string

	cfg    config.Config
	logger *slog.Logger

	// Lazy-initialized backends
	onto      *app.Ontology
	apiClient *client.Client
	closeLog  func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "matgraph",
	Short: "Materials science knowledge graph pipeline",
	Long: `Matgraph turns tabular materials science data into a knowledge graph
linked to a self-growing ontology, and finds fabrication workflows in it.

Ontology commands (map, match) talk to Neo4j directly. Process commands
(upload, stage, watch, report, processes, cancel, delete) go through the
matgraph server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if !verbose {
			cfg.LogLevel = slog.LevelWarn
		}
		logger, closeLog = config.SetupLogger(cfg)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if onto != nil {
			if err := onto.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close graph connection: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// getOntology connects to Neo4j and builds the mapper and matcher on first use.
func getOntology(ctx context.Context) (*app.Ontology, error) {
	if onto != nil {
		return onto, nil
	}
	o, err := app.NewOntology(ctx, cfg, logger, metrics.NewCollector())
	if err != nil {
		return nil, fmt.Errorf("connect to ontology: %w", err)
	}
	onto = o
	return onto, nil
}

// getClient returns the REST client for the configured server.
func getClient() *client.Client {
	if apiClient == nil {
		apiClient = client.New(serverURL)
	}
	return apiClient
}

// requireUser returns the --user flag or fails with a hint.
func requireUser() (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id required: pass --user or set MATGRAPH_USER")
	}
	return userID, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $MATGRAPH_SERVER_URL or http://localhost:8484)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("MATGRAPH_USER"), "user id owning the processes")

	// Add subcommands
	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(processesCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(deleteCmd)
}
