package analysis

import (
	"errors"

	"procodus.dev/emovision/internal/classifier"
)

// Error categories surfaced by the pipeline. Callers match them with
// errors.Is; the HTTP layer maps each category to a distinct status.
var (
	// ErrValidation marks a missing or blank required upload field.
	// Surfaced before any side effect, including audit logging.
	ErrValidation = errors.New("validation failed")

	// ErrServiceUnavailable marks an unreachable or unusable external
	// classifier. Alias of the classifier sentinel so errors.Is
	// matches regardless of which package the caller imports.
	ErrServiceUnavailable = classifier.ErrUnavailable

	// ErrClassificationData marks a classifier response that decoded
	// but carried no usable emotion label.
	ErrClassificationData = classifier.ErrInvalidResponse

	// ErrNotFound marks a missing analysis or image record.
	ErrNotFound = errors.New("record not found")
)
