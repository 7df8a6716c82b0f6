package models

import (
	"errors"
	"testing"
)

func TestConfirmImageRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  ConfirmImageRequest
		want error
	}{
		{"type only", ConfirmImageRequest{SelectedImageType: ImageSegmented}, nil},
		{"url only", ConfirmImageRequest{SelectedImageURL: "https://cdn/x.png"}, nil},
		{"blank url", ConfirmImageRequest{SelectedImageURL: "   "}, ErrNoImageSelected},
		{"empty", ConfirmImageRequest{Category: CategoryTop}, ErrNoImageSelected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestClothDetailDefaults(t *testing.T) {
	c := ClothDetail{ImageURL: "https://cdn/orig.png"}
	if got := c.VariantURL(ImageOriginal); got != "https://cdn/orig.png" {
		t.Errorf("Expected fallback to imageUrl, got %q", got)
	}
	if got := c.EffectiveCategory(); got != CategoryTop {
		t.Errorf("Expected TOP, got %s", got)
	}
	c.Category = CategoryShoes
	c.SuggestedCategory = CategoryBag
	if got := c.EffectiveCategory(); got != CategoryBag {
		t.Errorf("Expected suggested category BAG, got %s", got)
	}
}

func TestParseCategory(t *testing.T) {
	if c, err := ParseCategory("outer"); err != nil || c != CategoryOuter {
		t.Errorf("Expected OUTER, got %s (%v)", c, err)
	}
	if _, err := ParseCategory("hat"); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("Expected ErrUnknownCategory, got %v", err)
	}
}
