// Package models defines the data types shared by the tracker packages:
// upload records, decoded progress events, and the cloth REST payloads.
package models

import (
	"encoding/json"
	"fmt"
)

// Status is the processing state of a tracked upload.
type Status string

const (
	StatusProcessing     Status = "PROCESSING"
	StatusReadyForReview Status = "READY_FOR_REVIEW"
	StatusFailed         Status = "FAILED"
)

// ParseStatus validates s against the known statuses.
// The backend also knows UPLOADING and COMPLETED; those are not tracked here.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusProcessing, StatusReadyForReview, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// IsTerminal reports whether no further progress is expected.
func (s Status) IsTerminal() bool {
	return s == StatusReadyForReview || s == StatusFailed
}

// CanTransition reports whether a record in state s may move to next.
// PROCESSING may go anywhere; READY_FOR_REVIEW and FAILED are final.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusProcessing:
		return true
	case StatusReadyForReview:
		return next == StatusReadyForReview
	case StatusFailed:
		return next == StatusFailed
	}
	return false
}

// Label returns a short human label for terminal output.
func (s Status) Label() string {
	switch s {
	case StatusProcessing:
		return "processing"
	case StatusReadyForReview:
		return "ready for review"
	case StatusFailed:
		return "failed"
	}
	return string(s)
}

// UnmarshalJSON rejects unknown statuses.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
