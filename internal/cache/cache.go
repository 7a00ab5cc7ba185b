package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/matgraph/internal/models"
)

const keyPrefix = "matgraph:"

// EntryType selects which column classification an entry stores.
type EntryType string

const (
	EntryLabel     EntryType = "label"
	EntryAttribute EntryType = "attribute"
)

// ColumnEntry is a cached classification for one (header, sample) pair.
type ColumnEntry struct {
	Label     models.NodeLabel `json:"label"`
	Attribute string           `json:"attribute,omitempty"`
}

// Cache wraps a Backend with typed, best-effort accessors.
// Backend failures are logged and reported as misses. A nil *Cache always misses.
type Cache struct {
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger
}

// New creates a cache. ttl=0 stores entries without expiry.
func New(backend Backend, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{backend: backend, ttl: ttl, logger: logger.With("component", "cache")}
}

// ColumnKey builds the column-label key for (header, sample, type).
func ColumnKey(header, sample string, t EntryType) string {
	return keyPrefix + "col:" + string(t) + ":" + digest(normalize(header)+"\x00"+normalize(sample))
}

// TableKey builds the full-table key for a first-row fingerprint.
func TableKey(fingerprint string) string {
	return keyPrefix + "table:" + digest(fingerprint)
}

// Column looks up a cached column classification.
func (c *Cache) Column(ctx context.Context, header, sample string, t EntryType) (ColumnEntry, bool) {
	var e ColumnEntry
	if !c.get(ctx, ColumnKey(header, sample, t), &e) {
		return ColumnEntry{}, false
	}
	if !e.Label.Valid() {
		return ColumnEntry{}, false
	}
	if t == EntryAttribute && e.Attribute == "" {
		return ColumnEntry{}, false
	}
	return e, true
}

// PutColumn stores a column classification.
func (c *Cache) PutColumn(ctx context.Context, header, sample string, t EntryType, e ColumnEntry) {
	c.set(ctx, ColumnKey(header, sample, t), e)
}

// PutColumns stores the label and, when set, attribute of every descriptor.
func (c *Cache) PutColumns(ctx context.Context, cols []models.ColumnDescriptor) {
	for _, col := range cols {
		if !col.Label.Valid() {
			continue
		}
		entry := ColumnEntry{Label: col.Label, Attribute: col.Attribute}
		c.PutColumn(ctx, col.Header, col.FirstSample(), EntryLabel, entry)
		if col.Attribute != "" {
			c.PutColumn(ctx, col.Header, col.FirstSample(), EntryAttribute, entry)
		}
	}
}

// Table looks up the graph document cached for a fingerprint.
func (c *Cache) Table(ctx context.Context, fingerprint string) (*models.GraphDocument, bool) {
	var doc models.GraphDocument
	if !c.get(ctx, TableKey(fingerprint), &doc) {
		return nil, false
	}
	return &doc, true
}

// PutTable stores the final graph document for a fingerprint.
func (c *Cache) PutTable(ctx context.Context, fingerprint string, doc models.GraphDocument) {
	c.set(ctx, TableKey(fingerprint), doc)
}

func (c *Cache) get(ctx context.Context, key string, v any) bool {
	if c == nil || c.backend == nil {
		return false
	}
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.logger.Warn("cache entry undecodable", "key", key, "error", err)
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, v any) {
	if c == nil || c.backend == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache entry unencodable", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}
