// Package review drives the image selection that follows a finished
// upload: list the variants, then confirm one or reject the result.
package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/closetconnect/closet-tracker/internal/http"
	"github.com/closetconnect/closet-tracker/internal/logging"
	"github.com/closetconnect/closet-tracker/internal/models"
)

var (
	ErrNotTracked = errors.New("upload is not tracked")
	ErrNotReady   = errors.New("upload is not ready for review")
)

// Backend is the subset of the REST client the review needs.
type Backend interface {
	GetCloth(ctx context.Context, clothID int64) (*models.ClothDetail, error)
	GetStatus(ctx context.Context, clothID int64) (*models.ClothStatus, error)
	ConfirmImage(ctx context.Context, clothID int64, req models.ConfirmImageRequest) (*models.ClothSummary, error)
	Reject(ctx context.Context, clothID int64) error
}

// Uploads is the subset of the registry the review needs.
type Uploads interface {
	Get(clothID int64) (models.UploadRecord, bool)
	Remove(clothID int64, dismiss bool) bool
}

// Option is one selectable image. Type is empty for additional items.
type Option struct {
	Type  models.ImageType `json:"type,omitempty"`
	URL   string           `json:"url"`
	Label string           `json:"label,omitempty"`
}

// Request turns the option into a confirmation payload.
func (o Option) Request(category models.Category) models.ConfirmImageRequest {
	if o.Type != "" {
		return models.ConfirmImageRequest{SelectedImageType: o.Type, Category: category}
	}
	return models.ConfirmImageRequest{SelectedImageURL: o.URL, Category: category}
}

// Review is what the user chooses from.
type Review struct {
	ClothID           int64           `json:"clothId"`
	Name              string          `json:"name"`
	SuggestedCategory models.Category `json:"suggestedCategory"`
	SegmentationLabel string          `json:"segmentationLabel,omitempty"`
	Options           []Option        `json:"options"`
}

// ActionError is a failed confirm or reject. The upload stays tracked so
// the user can try again.
type ActionError struct {
	Action  string
	ClothID int64
	Err     error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("failed to %s cloth %d: %v", e.Action, e.ClothID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Retryable reports whether trying again may succeed.
func (e *ActionError) Retryable() bool {
	return http.IsRetryable(e.Err)
}

// Workflow runs reviews against the backend and the local registry.
type Workflow struct {
	backend Backend
	uploads Uploads
	logger  *logging.Logger
}

// NewWorkflow creates a Workflow.
func NewWorkflow(backend Backend, uploads Uploads, logger *logging.Logger) *Workflow {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Workflow{backend: backend, uploads: uploads, logger: logger.With("review")}
}

// Open loads the options for a READY_FOR_REVIEW upload. An upload this
// process does not track qualifies when the backend reports it ready.
func (w *Workflow) Open(ctx context.Context, clothID int64) (*Review, error) {
	rec, ok := w.uploads.Get(clothID)
	switch {
	case !ok:
		// Ready uploads are not restored after a restart; ask the backend.
		status, err := w.backend.GetStatus(ctx, clothID)
		if err != nil || models.Status(status.ProcessingStatus) != models.StatusReadyForReview {
			return nil, ErrNotTracked
		}
	case rec.Status != models.StatusReadyForReview:
		return nil, fmt.Errorf("%w: status is %s", ErrNotReady, rec.Status)
	}

	detail, err := w.detail(ctx, clothID)
	if err != nil {
		return nil, err
	}

	r := &Review{
		ClothID:           clothID,
		Name:              detail.Name,
		SuggestedCategory: detail.EffectiveCategory(),
		SegmentationLabel: detail.SegmentationLabel,
	}
	for _, t := range models.ImageTypes {
		if url := detail.VariantURL(t); url != "" {
			r.Options = append(r.Options, Option{Type: t, URL: url, Label: t.Label()})
		}
	}
	for _, item := range detail.AdditionalItems {
		if item.ImageURL == "" {
			continue
		}
		r.Options = append(r.Options, Option{URL: item.ImageURL, Label: item.Label})
	}
	return r, nil
}

// detail fetches the cloth and fills in what only the status view has.
// The status call is best effort.
func (w *Workflow) detail(ctx context.Context, clothID int64) (*models.ClothDetail, error) {
	detail, err := w.backend.GetCloth(ctx, clothID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cloth %d: %w", clothID, err)
	}

	status, err := w.backend.GetStatus(ctx, clothID)
	if err != nil {
		w.logger.Debug().Err(err).Int64("cloth_id", clothID).Msg("Status view unavailable")
		return detail, nil
	}
	if detail.SegmentedImageURL == "" {
		detail.SegmentedImageURL = status.SegmentedImageURL
	}
	if detail.InpaintedImageURL == "" {
		detail.InpaintedImageURL = status.InpaintedImageURL
	}
	if detail.SuggestedCategory == "" {
		detail.SuggestedCategory = status.SuggestedCategory
	}
	if detail.SegmentationLabel == "" {
		detail.SegmentationLabel = status.SegmentationLabel
	}
	return detail, nil
}

// Confirm finalizes the cloth and stops tracking it.
func (w *Workflow) Confirm(ctx context.Context, clothID int64, req models.ConfirmImageRequest) (*models.ClothSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	out, err := w.backend.ConfirmImage(ctx, clothID, req)
	if err != nil {
		return nil, &ActionError{Action: "confirm", ClothID: clothID, Err: err}
	}

	w.uploads.Remove(clothID, false)
	w.logger.Info().
		Int64("cloth_id", clothID).
		Str("image_type", string(req.SelectedImageType)).
		Str("category", string(req.Category)).
		Msg("Cloth confirmed")
	return out, nil
}

// ConfirmDefault is what closing the review without a choice does: keep
// the segmented image under the suggested category.
func (w *Workflow) ConfirmDefault(ctx context.Context, clothID int64) (*models.ClothSummary, error) {
	category := models.CategoryTop
	if detail, err := w.detail(ctx, clothID); err == nil {
		category = detail.EffectiveCategory()
	} else {
		w.logger.Debug().Err(err).Int64("cloth_id", clothID).Msg("Using default category")
	}

	return w.Confirm(ctx, clothID, models.ConfirmImageRequest{
		SelectedImageType: models.ImageSegmented,
		Category:          category,
	})
}

// Reject deletes the cloth on the backend, stops tracking it and keeps
// late progress events from registering it again.
func (w *Workflow) Reject(ctx context.Context, clothID int64) error {
	if err := w.backend.Reject(ctx, clothID); err != nil {
		return &ActionError{Action: "reject", ClothID: clothID, Err: err}
	}

	w.uploads.Remove(clothID, true)
	w.logger.Info().Int64("cloth_id", clothID).Msg("Cloth rejected")
	return nil
}
