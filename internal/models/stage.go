package models

import (
	"fmt"
	"strings"
)

// StageKey names a process output field.
type StageKey string

const (
	KeyLabels     StageKey = "labels"
	KeyAttributes StageKey = "attributes"
	KeyNodes      StageKey = "nodes"
	KeyGraph      StageKey = "graph"
	KeyDataset    StageKey = "dataset"
	KeyMatch      StageKey = "match"
)

// StageKeys lists the ingestion stage outputs in execution order.
var StageKeys = []StageKey{KeyLabels, KeyAttributes, KeyNodes, KeyGraph, KeyDataset}

// ParseReportKey resolves a report key. "import" is accepted for the dataset.
func ParseReportKey(s string) (StageKey, error) {
	switch k := StageKey(strings.ToLower(strings.TrimSpace(s))); k {
	case KeyLabels, KeyAttributes, KeyNodes, KeyGraph, KeyDataset, KeyMatch:
		return k, nil
	case "import":
		return KeyDataset, nil
	default:
		return "", fmt.Errorf("unknown report key %q", s)
	}
}

// Previous returns the output the stage producing k reads from.
// The first stage and the match key have no predecessor.
func (k StageKey) Previous() (StageKey, bool) {
	for i, key := range StageKeys {
		if key == k && i > 0 {
			return StageKeys[i-1], true
		}
	}
	return "", false
}

// Index returns the 1-based position of k in the ingestion pipeline, or 0.
func (k StageKey) Index() int {
	for i, key := range StageKeys {
		if key == k {
			return i + 1
		}
	}
	return 0
}
