// Package models defines the records shared by the matgraph pipeline.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the wire-visible state of a process.
type Status int

const (
	StatusReady      Status = 1
	StatusPending    Status = 2
	StatusProcessing Status = 3
	StatusCompleted  Status = 4
	StatusFailed     Status = 5
	StatusPaused     Status = 6
	StatusCancelled  Status = 7
	StatusSkipped    Status = 8
	StatusTimedOut   Status = 9
)

var statusNames = map[Status]string{
	StatusReady:      "ready",
	StatusPending:    "pending",
	StatusProcessing: "processing",
	StatusCompleted:  "completed",
	StatusFailed:     "failed",
	StatusPaused:     "paused",
	StatusCancelled:  "cancelled",
	StatusSkipped:    "skipped",
	StatusTimedOut:   "timed_out",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Valid reports whether s is one of the defined codes.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsTerminal reports whether a callback is due after entering s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether a stage is queued or running.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusProcessing
}

// ParseStatus accepts either the integer code or the lowercase name.
func ParseStatus(v string) (Status, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for s, name := range statusNames {
		if name == v || fmt.Sprint(int(s)) == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", v)
}

// MarshalJSON encodes the status as its integer code.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(s))
}

// UnmarshalJSON accepts the integer code or the name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err == nil {
		if !Status(code).Valid() {
			return fmt.Errorf("unknown status code %d", code)
		}
		*s = Status(code)
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
