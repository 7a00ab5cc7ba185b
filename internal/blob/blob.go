// Package blob stores uploaded files on GCS or the local filesystem.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/raphaelgruber/matgraph/internal/config"
	"github.com/raphaelgruber/matgraph/internal/metrics"
)

// ErrNotFound indicates the blob does not exist.
var ErrNotFound = errors.New("blob not found")

// Store reads and writes opaque blobs by key.
type Store interface {
	// Put stores r under key and returns a link to the stored object.
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	// Get returns the full content stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// New creates the store selected by cfg.BlobBackend.
func New(ctx context.Context, cfg config.Config, collector *metrics.Collector) (Store, error) {
	var store Store
	switch cfg.BlobBackend {
	case config.BlobGCS:
		gcs, err := NewGCS(ctx, cfg.GCSBucket, cfg.GCSCredFile)
		if err != nil {
			return nil, err
		}
		store = gcs
	case config.BlobLocal, "":
		local, err := NewLocal(cfg.BlobDir)
		if err != nil {
			return nil, err
		}
		store = local
	default:
		return nil, fmt.Errorf("unsupported blob backend: %s", cfg.BlobBackend)
	}
	return &timedStore{Store: store, metrics: collector}, nil
}

type timedStore struct {
	Store
	metrics *metrics.Collector
}

func (t *timedStore) Get(ctx context.Context, key string) ([]byte, error) {
	defer t.metrics.Since(metrics.OpBlobFetch, time.Now())
	return t.Store.Get(ctx, key)
}

// Close releases the underlying store when it holds a connection.
func (t *timedStore) Close() error {
	if c, ok := t.Store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
