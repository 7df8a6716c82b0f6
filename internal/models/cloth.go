package models

import (
	"fmt"
	"strings"
)

// Category is a wardrobe category.
type Category string

const (
	CategoryTop       Category = "TOP"
	CategoryBottom    Category = "BOTTOM"
	CategoryOuter     Category = "OUTER"
	CategoryOnepiece  Category = "ONEPIECE"
	CategoryShoes     Category = "SHOES"
	CategoryBag       Category = "BAG"
	CategoryAccessory Category = "ACCESSORY"
	CategoryEtc       Category = "ETC"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryTop, CategoryBottom, CategoryOuter, CategoryOnepiece,
	CategoryShoes, CategoryBag, CategoryAccessory, CategoryEtc,
}

// ParseCategory accepts a category name in any case.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// ImageType selects one of the processed image variants at review time.
type ImageType string

const (
	ImageOriginal  ImageType = "ORIGINAL"
	ImageRemovedBG ImageType = "REMOVED_BG"
	ImageSegmented ImageType = "SEGMENTED"
	ImageInpainted ImageType = "INPAINTED"
)

// ImageTypes lists the standard variants in display order.
var ImageTypes = []ImageType{ImageOriginal, ImageRemovedBG, ImageSegmented, ImageInpainted}

// ParseImageType accepts an image type name in any case.
func ParseImageType(s string) (ImageType, error) {
	t := ImageType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range ImageTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownImageType, s)
}

// Label is the display name of a variant.
func (t ImageType) Label() string {
	switch t {
	case ImageOriginal:
		return "Original"
	case ImageRemovedBG:
		return "Background removed"
	case ImageSegmented:
		return "Segmented"
	case ImageInpainted:
		return "Inpainted"
	}
	return string(t)
}

// UploadImageType is the hint sent with an upload telling the backend
// which segmentation model to use.
type UploadImageType string

const (
	UploadFullBody   UploadImageType = "FULL_BODY"
	UploadSingleItem UploadImageType = "SINGLE_ITEM"
)

// AdditionalItem is an extra garment detected in the same photo.
type AdditionalItem struct {
	ImageURL string `json:"imageUrl"`
	Label    string `json:"label"`
}

// ClothDetail is the review view of a cloth returned by the backend.
type ClothDetail struct {
	ID                int64            `json:"id"`
	Name              string           `json:"name"`
	Category          Category         `json:"category,omitempty"`
	SuggestedCategory Category         `json:"suggestedCategory,omitempty"`
	SegmentationLabel string           `json:"segmentationLabel,omitempty"`
	ImageURL          string           `json:"imageUrl,omitempty"`
	OriginalImageURL  string           `json:"originalImageUrl,omitempty"`
	RemovedBgImageURL string           `json:"removedBgImageUrl,omitempty"`
	SegmentedImageURL string           `json:"segmentedImageUrl,omitempty"`
	InpaintedImageURL string           `json:"inpaintedImageUrl,omitempty"`
	ProcessingStatus  string           `json:"processingStatus,omitempty"`
	AdditionalItems   []AdditionalItem `json:"additionalItems,omitempty"`
}

// VariantURL returns the URL for a standard variant, or "" if the
// backend did not produce it.
func (c ClothDetail) VariantURL(t ImageType) string {
	switch t {
	case ImageOriginal:
		if c.OriginalImageURL != "" {
			return c.OriginalImageURL
		}
		return c.ImageURL
	case ImageRemovedBG:
		return c.RemovedBgImageURL
	case ImageSegmented:
		return c.SegmentedImageURL
	case ImageInpainted:
		return c.InpaintedImageURL
	}
	return ""
}

// EffectiveCategory returns the AI suggestion, then the stored category,
// then TOP.
func (c ClothDetail) EffectiveCategory() Category {
	if c.SuggestedCategory != "" {
		return c.SuggestedCategory
	}
	if c.Category != "" {
		return c.Category
	}
	return CategoryTop
}

// ClothStatus is the backend status view of a cloth.
type ClothStatus struct {
	ID                 int64    `json:"id"`
	ProcessingStatus   string   `json:"processingStatus"`
	CurrentStep        string   `json:"currentStep,omitempty"`
	ProgressPercentage *int     `json:"progressPercentage,omitempty"`
	SuggestedCategory  Category `json:"suggestedCategory,omitempty"`
	SegmentationLabel  string   `json:"segmentationLabel,omitempty"`
	SegmentedImageURL  string   `json:"segmentedImageUrl,omitempty"`
	InpaintedImageURL  string   `json:"inpaintedImageUrl,omitempty"`
	ErrorMessage       string   `json:"errorMessage,omitempty"`
}

// ClothSummary is the short cloth view returned by upload and confirm.
type ClothSummary struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Category Category `json:"category,omitempty"`
	Color    string   `json:"color,omitempty"`
	Brand    string   `json:"brand,omitempty"`
	ImageURL string   `json:"imageUrl,omitempty"`
}

// ConfirmImageRequest is the review confirmation payload.
type ConfirmImageRequest struct {
	SelectedImageType ImageType `json:"selectedImageType,omitempty"`
	SelectedImageURL  string    `json:"selectedImageUrl,omitempty"`
	Category          Category  `json:"category,omitempty"`
}

// Validate requires a variant type or a non-blank image URL.
func (r ConfirmImageRequest) Validate() error {
	if r.SelectedImageType == "" && strings.TrimSpace(r.SelectedImageURL) == "" {
		return ErrNoImageSelected
	}
	return nil
}

// UploadRequest describes a new cloth upload.
type UploadRequest struct {
	ImagePath string
	Name      string
	Category  Category
	ImageType UploadImageType
}
