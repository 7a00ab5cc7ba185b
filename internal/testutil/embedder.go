// Package testutil provides in-memory stand-ins for the external services.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
)

// EmbedDimension is the vector size produced by Embedder.
const EmbedDimension = 64

// Embedder produces bag-of-words vectors: identical texts score 1.0 and
// texts without shared words score 0.
type Embedder struct {
	Calls atomic.Int64
	// Err, when set, is returned by every call.
	Err error
}

// Embed returns the vector for text.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.Calls.Add(1)
	if e.Err != nil {
		return nil, e.Err
	}
	return Vector(text), nil
}

// EmbedBatch returns one vector per text.
func (e *Embedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.Calls.Add(1)
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t)
	}
	return out, nil
}

// Vector hashes the lowercase words of text into a unit vector.
func Vector(text string) []float32 {
	v := make([]float32, EmbedDimension)
	for _, w := range strings.Fields(strings.ToLower(strings.ReplaceAll(text, "_", " "))) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%EmbedDimension]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// Cosine returns the cosine similarity of two unit vectors.
func Cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		if i < len(b) {
			dot += float64(a[i] * b[i])
		}
	}
	return dot
}
