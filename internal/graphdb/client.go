// Package graphdb provides the Neo4j-backed ontology and instance graph.
package graphdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/raphaelgruber/matgraph/internal/metrics"
	"github.com/raphaelgruber/matgraph/internal/retry"
)

// ErrNotFound indicates the requested graph node does not exist.
var ErrNotFound = errors.New("graph node not found")

// Config holds Neo4j connection configuration.
type Config struct {
	URI         string
	User        string
	Password    string
	Database    string
	MaxPoolSize int
	Timeout     time.Duration
}

// Row is one result record keyed by column name.
type Row map[string]any

// Tx runs statements inside a write transaction.
type Tx interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]Row, error)
}

// Client wraps a Neo4j driver with timing and error classification.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// NewClient connects to Neo4j and verifies connectivity.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger, collector *metrics.Collector) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 50
	}

	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("init neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	logger.Info("connecting to Neo4j", "uri", cfg.URI, "database", cfg.Database)
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	logger.Info("Neo4j connection established")
	return &Client{
		driver:   driver,
		database: cfg.Database,
		logger:   logger.With("component", "graphdb"),
		metrics:  collector,
	}, nil
}

// Close closes the driver.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.driver == nil {
		return nil
	}
	c.logger.Info("closing Neo4j connection")
	return c.driver.Close(ctx)
}

// Read runs a read-only statement and returns all rows.
func (c *Client) Read(ctx context.Context, cypher string, params map[string]any) ([]Row, error) {
	defer c.metrics.Since(metrics.OpGraphRead, time.Now())

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return runCollect(ctx, tx, cypher, params)
	})
	if err != nil {
		return nil, classify(err)
	}
	return out.([]Row), nil
}

// Write runs fn in a single write transaction. Everything fn runs commits
// together or not at all.
func (c *Client) Write(ctx context.Context, fn func(tx Tx) error) error {
	defer c.metrics.Since(metrics.OpGraphWrite, time.Now())

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(managedTx{tx: tx})
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Exec runs a single statement outside an explicit transaction.
// Used for schema commands, which cannot share a transaction with writes.
func (c *Client) Exec(ctx context.Context, cypher string, params map[string]any) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	res, err := session.Run(ctx, cypher, params)
	if err != nil {
		return classify(err)
	}
	if _, err := res.Consume(ctx); err != nil {
		return classify(err)
	}
	return nil
}

type managedTx struct {
	tx neo4j.ManagedTransaction
}

func (m managedTx) Run(ctx context.Context, cypher string, params map[string]any) ([]Row, error) {
	return runCollect(ctx, m.tx, cypher, params)
}

func runCollect(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]Row, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, Row(rec.AsMap()))
	}
	return rows, nil
}

// classify tags driver errors the retry loop should retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if neo4j.IsRetryable(err) || neo4j.IsConnectivityError(err) {
		return retry.MarkTransient(err)
	}
	return err
}
