package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrGenerationFailed    = errors.New("generation failed")
	ErrUploadFailed        = errors.New("upload failed")
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrSubmissionFailed    = errors.New("submission failed")
)
