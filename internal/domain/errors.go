package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrArtifactMissing is returned when a task's artifact is no longer on disk.
	ErrArtifactMissing = errors.New("artifact missing")

	// ErrEmptyArtifact is returned when an ingested artifact has no content.
	ErrEmptyArtifact = errors.New("artifact cannot be empty")

	// ErrUnauthorized is returned when an operation is not permitted.
	ErrUnauthorized = errors.New("unauthorized operation")
)
