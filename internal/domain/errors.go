package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Task errors
	ErrTaskNotFound        = errors.New("task not found")
	ErrSampleNotFound      = errors.New("sample not found")
	ErrInvalidPrompt       = errors.New("prompt must not be empty")
	ErrInvalidSampleCount  = errors.New("sample count must be at least 1")
	ErrSampleCountExceeded = errors.New("sample count exceeds configured maximum")
	ErrInvalidPages        = errors.New(`pages must be "auto" or a positive number`)
	ErrNoSamples           = errors.New("task has no samples")
	ErrTaskCancelled       = errors.New("task cancelled")

	// Generation errors
	ErrNoFileGenerated        = errors.New("no file generated")
	ErrGenerationUnavailable  = errors.New("generation service is unreachable")
	ErrGenerationFileNotFound = errors.New("generated file not found")

	// Upload errors
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrUploadNotFound      = errors.New("uploaded file not found")

	// Queue errors
	ErrQueueClosed = errors.New("task queue is closed")
)
