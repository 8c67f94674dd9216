package funnel

import "errors"

// Sentinel errors for the funnel service layer.
var (
	ErrInvalidEvent = errors.New("invalid event")
)
