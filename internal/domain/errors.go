package domain

import "errors"

var (
	// ErrClassificationFailed marks any classifier failure; the entry is skipped.
	ErrClassificationFailed = errors.New("analysis failed")
	// ErrDuplicate is returned when an item with the same URL already exists.
	ErrDuplicate = errors.New("item already exists")
	// ErrNoContent is returned when no usable text could be extracted.
	ErrNoContent = errors.New("no usable content")
)
