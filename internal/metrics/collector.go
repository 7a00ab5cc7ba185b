// Package metrics keeps per-operation timing and token statistics for the
// server's /stats endpoint and mirrors them into Prometheus.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation names for the collector.
const (
	OpEmbedding  = "embedding"
	OpLLMChat    = "llm_chat"
	OpGraphRead  = "graph_read"
	OpGraphWrite = "graph_write"
	OpRegistry   = "registry"
	OpBlobFetch  = "blob_fetch"
	OpCallback   = "callback"
)

// stagePrefix namespaces per-stage timings in the ops map.
const stagePrefix = "stage:"

// span accumulates the sum and extremes of a series.
type span[T int64 | time.Duration] struct {
	total, min, max T
	seen            bool
}

func (s *span[T]) add(v T) {
	s.total += v
	if !s.seen || v < s.min {
		s.min = v
	}
	if !s.seen || v > s.max {
		s.max = v
	}
	s.seen = true
}

type opStats struct {
	count     int64
	latency   span[time.Duration]
	in, out   span[int64]
	hasTokens bool
}

// OperationSnapshot is the reported view of one operation.
// Token fields are nil for operations that never recorded usage.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	TotalInputTokens  *int64   `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64   `json:"total_output_tokens,omitempty"`
	AvgInputTokens    *float64 `json:"avg_input_tokens,omitempty"`
	AvgOutputTokens   *float64 `json:"avg_output_tokens,omitempty"`
	MinInputTokens    *int64   `json:"min_input_tokens,omitempty"`
	MaxInputTokens    *int64   `json:"max_input_tokens,omitempty"`
	MinOutputTokens   *int64   `json:"min_output_tokens,omitempty"`
	MaxOutputTokens   *int64   `json:"max_output_tokens,omitempty"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64                       `json:"uptime_seconds"`
	Embedding     *OperationSnapshot            `json:"embedding,omitempty"`
	LLMChat       *OperationSnapshot            `json:"llm_chat,omitempty"`
	GraphRead     *OperationSnapshot            `json:"graph_read,omitempty"`
	GraphWrite    *OperationSnapshot            `json:"graph_write,omitempty"`
	Registry      *OperationSnapshot            `json:"registry,omitempty"`
	BlobFetch     *OperationSnapshot            `json:"blob_fetch,omitempty"`
	Callback      *OperationSnapshot            `json:"callback,omitempty"`
	Stages        map[string]*OperationSnapshot `json:"stages,omitempty"`
}

// Collector is safe for concurrent use. A nil *Collector accepts Since
// calls and drops them.
type Collector struct {
	mu      sync.RWMutex
	started time.Time
	ops     map[string]*opStats
	prom    *promMetrics
}

func NewCollector() *Collector {
	return &Collector{
		started: time.Now(),
		ops:     make(map[string]*opStats),
		prom:    newPromMetrics(prometheus.NewRegistry()),
	}
}

// record adds one sample under the write lock. Caller passes nil tokens for
// operations without usage.
func (c *Collector) record(op string, d time.Duration, tokens *[2]int64) {
	c.mu.Lock()
	s, ok := c.ops[op]
	if !ok {
		s = &opStats{}
		c.ops[op] = s
	}
	s.count++
	s.latency.add(d)
	if tokens != nil {
		s.hasTokens = true
		s.in.add(tokens[0])
		s.out.add(tokens[1])
	}
	c.mu.Unlock()

	c.prom.observe(op, d)
}

// RecordTiming records one timed call of op.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.record(op, duration, nil)
}

// RecordLLMUsage records one LLM call with its token usage.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	c.record(op, duration, &[2]int64{inputTokens, outputTokens})
	c.prom.tokens.WithLabelValues("input").Add(float64(inputTokens))
	c.prom.tokens.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordStage records the duration and outcome of one stage run.
func (c *Collector) RecordStage(stage, outcome string, duration time.Duration) {
	c.record(stagePrefix+stage, duration, nil)
	c.prom.stageOutcomes.WithLabelValues(stage, outcome).Inc()
}

// Since records the time elapsed since start under op.
//
//	defer c.Since(metrics.OpGraphRead, time.Now())
func (c *Collector) Since(op string, start time.Time) {
	if c == nil {
		return
	}
	c.RecordTiming(op, time.Since(start))
}

func (s *opStats) snapshot() *OperationSnapshot {
	if s == nil || s.count == 0 {
		return nil
	}
	snap := &OperationSnapshot{
		Count:       s.count,
		TotalTimeMs: s.latency.total.Milliseconds(),
		AvgTimeMs:   float64(s.latency.total.Milliseconds()) / float64(s.count),
		MinTimeMs:   s.latency.min.Milliseconds(),
		MaxTimeMs:   s.latency.max.Milliseconds(),
	}
	if !s.hasTokens {
		return snap
	}

	in, out := s.in, s.out
	avgIn := float64(in.total) / float64(s.count)
	avgOut := float64(out.total) / float64(s.count)
	snap.TotalInputTokens, snap.MinInputTokens, snap.MaxInputTokens = &in.total, &in.min, &in.max
	snap.TotalOutputTokens, snap.MinOutputTokens, snap.MaxOutputTokens = &out.total, &out.min, &out.max
	snap.AvgInputTokens, snap.AvgOutputTokens = &avgIn, &avgOut
	return snap
}

// Snapshot returns a point-in-time copy of all statistics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.started).Seconds(),
		Embedding:     c.ops[OpEmbedding].snapshot(),
		LLMChat:       c.ops[OpLLMChat].snapshot(),
		GraphRead:     c.ops[OpGraphRead].snapshot(),
		GraphWrite:    c.ops[OpGraphWrite].snapshot(),
		Registry:      c.ops[OpRegistry].snapshot(),
		BlobFetch:     c.ops[OpBlobFetch].snapshot(),
		Callback:      c.ops[OpCallback].snapshot(),
	}
	for op, s := range c.ops {
		if stage, ok := strings.CutPrefix(op, stagePrefix); ok {
			if snap.Stages == nil {
				snap.Stages = make(map[string]*OperationSnapshot)
			}
			snap.Stages[stage] = s.snapshot()
		}
	}
	return snap
}
