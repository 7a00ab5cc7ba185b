// Package main provides the HTTP server for matgraph.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/matgraph/internal/app"
	"github.com/raphaelgruber/matgraph/internal/config"
)

const version = "0.1.0"

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe the process registry on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg)
	defer cleanup()

	logger.Info("matgraph-server starting",
		"version", version,
		"port", cfg.ServerPort,
		"surrealdb_url", cfg.SurrealDBURL,
		"neo4j_uri", cfg.Neo4jURI,
		"llm", cfg.LLMProvider+"/"+cfg.LLMModel,
		"workers", cfg.Workers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := app.New(initCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	if *wipeDB || os.Getenv("MATGRAPH_WIPE_DB") == "true" {
		if err := a.DB.WipeData(ctx); err != nil {
			logger.Error("failed to wipe registry", "error", err)
			_ = a.Close(context.Background())
			os.Exit(1)
		}
	}

	a.Start(ctx)

	runErr := a.Server.Run(ctx, ":"+cfg.ServerPort)
	if runErr != nil {
		logger.Error("server error", "error", runErr)
	}

	// Running stages get a bounded window to reach a checkpoint.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
	if runErr != nil {
		os.Exit(1)
	}
}
