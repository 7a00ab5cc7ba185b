package models

import "errors"

// Sentinel errors for record validation and decoding.
var (
	// ErrOutputMissing indicates a stage output that has not been produced yet.
	ErrOutputMissing = errors.New("stage output missing")

	// ErrInvalidRecord indicates a record that violates its schema.
	ErrInvalidRecord = errors.New("invalid record")
)
