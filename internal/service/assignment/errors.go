package assignment

import "errors"

// Sentinel errors for the assignment service layer.
var (
	ErrNotFound  = errors.New("assignment not found")
	ErrDuplicate = errors.New("assignment already exists")
)
