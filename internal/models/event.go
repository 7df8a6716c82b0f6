package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// ProgressEvent is a decoded server push message for one upload.
// Optional fields are nil when the payload omitted them.
type ProgressEvent struct {
	ClothID            int64
	UserID             int64
	Status             Status
	CurrentStep        *string
	ProgressPercentage *int
	ErrorMessage       *string
	Timestamp          int64
}

// Patch converts the event into a registry patch.
func (e ProgressEvent) Patch() UploadPatch {
	status := e.Status
	return UploadPatch{
		Status:             &status,
		CurrentStep:        e.CurrentStep,
		ProgressPercentage: e.ProgressPercentage,
		ErrorMessage:       e.ErrorMessage,
	}
}

type wireProgressEvent struct {
	ClothID            *int64   `json:"clothId"`
	UserID             *int64   `json:"userId"`
	Status             *string  `json:"status"`
	CurrentStep        *string  `json:"currentStep"`
	ProgressPercentage *float64 `json:"progressPercentage"`
	ErrorMessage       *string  `json:"errorMessage"`
	Timestamp          *int64   `json:"timestamp"`
}

// DecodeProgressEvent parses and validates a push payload. clothId,
// userId and status are required; anything else that fails validation
// yields an error wrapping ErrInvalidEvent.
func DecodeProgressEvent(data []byte) (ProgressEvent, error) {
	var w wireProgressEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return ProgressEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if w.ClothID == nil || *w.ClothID <= 0 {
		return ProgressEvent{}, fmt.Errorf("%w: missing clothId", ErrInvalidEvent)
	}
	if w.UserID == nil || *w.UserID <= 0 {
		return ProgressEvent{}, fmt.Errorf("%w: missing userId", ErrInvalidEvent)
	}
	if w.Status == nil {
		return ProgressEvent{}, fmt.Errorf("%w: missing status", ErrInvalidEvent)
	}
	status, err := ParseStatus(*w.Status)
	if err != nil {
		return ProgressEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	ev := ProgressEvent{
		ClothID:      *w.ClothID,
		UserID:       *w.UserID,
		Status:       status,
		CurrentStep:  w.CurrentStep,
		ErrorMessage: w.ErrorMessage,
	}
	if w.ProgressPercentage != nil {
		if math.IsNaN(*w.ProgressPercentage) {
			return ProgressEvent{}, fmt.Errorf("%w: progressPercentage is NaN", ErrInvalidEvent)
		}
		pct := ClampPercentage(int(math.Round(*w.ProgressPercentage)))
		ev.ProgressPercentage = &pct
	}
	if w.Timestamp != nil {
		ev.Timestamp = *w.Timestamp
	}
	return ev, nil
}

// Encode renders the event in the push wire format.
func (e ProgressEvent) Encode() ([]byte, error) {
	w := map[string]interface{}{
		"clothId": e.ClothID,
		"userId":  e.UserID,
		"status":  string(e.Status),
	}
	if e.CurrentStep != nil {
		w["currentStep"] = *e.CurrentStep
	}
	if e.ProgressPercentage != nil {
		w["progressPercentage"] = *e.ProgressPercentage
	}
	if e.ErrorMessage != nil {
		w["errorMessage"] = *e.ErrorMessage
	}
	if e.Timestamp != 0 {
		w["timestamp"] = e.Timestamp
	}
	return json.Marshal(w)
}
