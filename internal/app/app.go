// Package app builds every matgraph component from an explicit Config.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/raphaelgruber/matgraph/internal/blob"
	"github.com/raphaelgruber/matgraph/internal/cache"
	"github.com/raphaelgruber/matgraph/internal/config"
	"github.com/raphaelgruber/matgraph/internal/db"
	"github.com/raphaelgruber/matgraph/internal/graphdb"
	"github.com/raphaelgruber/matgraph/internal/llm"
	"github.com/raphaelgruber/matgraph/internal/matcher"
	"github.com/raphaelgruber/matgraph/internal/metrics"
	"github.com/raphaelgruber/matgraph/internal/ontology"
	"github.com/raphaelgruber/matgraph/internal/prompts"
	"github.com/raphaelgruber/matgraph/internal/server"
	"github.com/raphaelgruber/matgraph/internal/service"
	"github.com/raphaelgruber/matgraph/internal/stages"
	"github.com/raphaelgruber/matgraph/internal/tasks"
)

// Ontology is the graph side of matgraph: the Neo4j client, the ontology
// mapper and the workflow matcher. The CLI uses it without the registry.
type Ontology struct {
	Graph   *graphdb.Client
	Store   *graphdb.OntologyStore
	Model   *llm.Model
	Mapper  *ontology.Mapper
	Matcher *matcher.Matcher
	Prompts *prompts.Pack
}

// NewOntology connects to Neo4j and builds the mapper and matcher.
func NewOntology(ctx context.Context, cfg config.Config, logger *slog.Logger, mc *metrics.Collector) (*Ontology, error) {
	pack, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return nil, err
	}

	graph, err := graphdb.NewClient(ctx, graphdb.Config{
		URI:         cfg.Neo4jURI,
		User:        cfg.Neo4jUser,
		Password:    cfg.Neo4jPassword,
		Database:    cfg.Neo4jDatabase,
		MaxPoolSize: cfg.Neo4jMaxPoolSize,
		Timeout:     cfg.Neo4jTimeout,
	}, logger, mc)
	if err != nil {
		return nil, err
	}
	if err := graph.InitSchema(ctx, cfg.EmbedDimension); err != nil {
		_ = graph.Close(ctx)
		return nil, err
	}

	embedder, err := llm.NewEmbedder(cfg, mc)
	if err != nil {
		_ = graph.Close(ctx)
		return nil, err
	}
	model, err := llm.NewModel(ctx, cfg, llm.WithMetrics(mc))
	if err != nil {
		_ = graph.Close(ctx)
		return nil, err
	}

	store := graphdb.NewOntologyStore(graph)
	mapper := ontology.NewMapper(store, embedder, model, pack, logger)
	return &Ontology{
		Graph:   graph,
		Store:   store,
		Model:   model,
		Mapper:  mapper,
		Matcher: matcher.New(mapper, store, graph, logger),
		Prompts: pack,
	}, nil
}

// Close closes the Neo4j driver.
func (o *Ontology) Close(ctx context.Context) error {
	return o.Graph.Close(ctx)
}

// App is the full server: registry, runner, stages and HTTP adapter.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Collector
	DB       *db.Client
	Ontology *Ontology
	Runner   *tasks.Runner
	Pipeline *service.PipelineService
	Match    *service.MatchService
	Server   *server.Server

	closers []io.Closer
}

// New connects every backend and wires the services. Redis is optional:
// when it is unconfigured or unreachable the caches live in memory.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	mc := metrics.NewCollector()

	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger, mc)
	if err != nil {
		return nil, err
	}
	if err := dbClient.InitSchema(ctx); err != nil {
		_ = dbClient.Close(ctx)
		return nil, err
	}

	onto, err := NewOntology(ctx, cfg, logger, mc)
	if err != nil {
		_ = dbClient.Close(ctx)
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Metrics: mc, DB: dbClient, Ontology: onto}

	blobs, err := blob.New(ctx, cfg, mc)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if c, ok := blobs.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	c := cache.New(a.cacheBackend(ctx), cfg.CacheTTL, logger)
	files := service.NewFiles(dbClient, blobs)

	workers := stages.NewWorkers(stages.Deps{
		Chat:     onto.Model,
		Prompts:  onto.Prompts,
		Cache:    c,
		Files:    files,
		Mapper:   onto.Mapper,
		Importer: onto.Graph,
		Logger:   logger,
	})

	notifier := tasks.NewNotifier(&http.Client{Timeout: cfg.CallbackTimeout}, cfg.CallbackAPIKey, mc, logger)
	a.Runner = tasks.NewRunner(dbClient, notifier, mc, tasks.Config{Workers: cfg.Workers, QueueSize: cfg.QueueSize}, logger)
	registry := tasks.NewRegistry(dbClient, logger)

	a.Pipeline = service.NewPipelineService(registry, a.Runner, workers, files, c, logger)
	a.Match = service.NewMatchService(registry, a.Runner, onto.Matcher, logger)
	a.Server = server.New(a.Pipeline, a.Match, mc, logger)
	return a, nil
}

func (a *App) cacheBackend(ctx context.Context) cache.Backend {
	if a.Config.RedisAddr == "" {
		a.Logger.Info("redis not configured, using in-memory cache")
		return cache.NewMemory()
	}
	r, err := cache.NewRedis(ctx, cache.RedisConfig{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	})
	if err != nil {
		a.Logger.Warn("redis unavailable, using in-memory cache", "addr", a.Config.RedisAddr, "error", err)
		return cache.NewMemory()
	}
	a.closers = append(a.closers, r)
	return r
}

// Start launches the workers and settles processes a crash left active.
func (a *App) Start(ctx context.Context) {
	if err := a.Runner.ResumeInterrupted(ctx); err != nil {
		// Log warning but don't fail startup
		a.Logger.Warn("failed to settle interrupted processes", "error", err)
	}
	// Stages outlive ctx; Close stops them through their tokens.
	a.Runner.Start(context.WithoutCancel(ctx))
}

// Close stops the runner and closes every connection.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Runner != nil {
		if err := a.Runner.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Ontology != nil {
		if err := a.Ontology.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
