package repository

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrClosed             = errors.New("store closed")
)
