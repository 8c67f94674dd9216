package experiment

import "errors"

// Sentinel errors for the experiment service layer.
var (
	ErrNotFound          = errors.New("experiment not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotDraft          = errors.New("experiment configuration is frozen after draft")
	ErrInvalidConfig     = errors.New("invalid experiment configuration")
)
