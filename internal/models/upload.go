package models

import "time"

// UploadRecord is one tracked upload. The JSON names are the persisted
// storage format and must stay stable.
type UploadRecord struct {
	ClothID            int64  `json:"clothId"`
	UserID             int64  `json:"userId"`
	Status             Status `json:"status"`
	CurrentStep        string `json:"currentStep"`
	ProgressPercentage int    `json:"progressPercentage"`
	ErrorMessage       string `json:"errorMessage,omitempty"`
	Timestamp          int64  `json:"timestamp"`
}

// CreatedAt returns the record timestamp as a time.Time.
func (r UploadRecord) CreatedAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// UploadPatch is a partial update. Nil fields leave the record unchanged.
type UploadPatch struct {
	Status             *Status
	CurrentStep        *string
	ProgressPercentage *int
	ErrorMessage       *string
}

// IsEmpty reports whether the patch changes nothing.
func (p UploadPatch) IsEmpty() bool {
	return p.Status == nil && p.CurrentStep == nil && p.ProgressPercentage == nil && p.ErrorMessage == nil
}

// Apply merges the patch into r and returns the result.
func (p UploadPatch) Apply(r UploadRecord) UploadRecord {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.CurrentStep != nil {
		r.CurrentStep = *p.CurrentStep
	}
	if p.ProgressPercentage != nil {
		r.ProgressPercentage = ClampPercentage(*p.ProgressPercentage)
	}
	if p.ErrorMessage != nil {
		r.ErrorMessage = *p.ErrorMessage
	}
	if r.Status != StatusFailed {
		r.ErrorMessage = ""
	}
	return r
}

// ClampPercentage bounds v to 0..100.
func ClampPercentage(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
