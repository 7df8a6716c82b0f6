package models

import "errors"

var (
	// ErrInvalidEvent is returned when a push payload cannot be decoded
	// into a progress event.
	ErrInvalidEvent = errors.New("invalid progress event")

	// ErrUnknownStatus is returned for status strings outside the tracked set.
	ErrUnknownStatus = errors.New("unknown status")

	// ErrNoImageSelected is returned when a confirm request names neither
	// an image type nor an image URL.
	ErrNoImageSelected = errors.New("no image selected")

	// ErrUnknownCategory is returned for category strings outside the catalog.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrUnknownImageType is returned for image type strings outside the catalog.
	ErrUnknownImageType = errors.New("unknown image type")
)
