package domain

import (
	"errors"
	"fmt"
)

// Errors returned across the ingestion and query paths. Callers match them
// with errors.Is; lower layers wrap them with context.
var (
	// ErrValidation marks bad caller input: empty text, unsupported file
	// type, empty question. Never retried.
	ErrValidation = errors.New("validation failed")

	ErrDocumentNotFound = errors.New("document not found")
	ErrSessionNotFound  = errors.New("session not found")

	// ErrSessionMismatch is returned when a session bound to one document
	// is used to query another.
	ErrSessionMismatch = errors.New("session bound to a different document")

	// ErrBackendUnavailable covers transport failures, timeouts, rate
	// limiting and 5xx responses from the embedding or generation backend.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBackendRejected is a 4xx-class refusal (bad request, auth). Not transient.
	ErrBackendRejected = errors.New("backend rejected request")

	ErrEmbeddingFailed  = errors.New("embedding failed")
	ErrGenerationFailed = errors.New("generation failed")

	// ErrIndexInconsistency means a stored document has no live index
	// partition. The request fails and the document is rebuilt from storage.
	ErrIndexInconsistency = errors.New("index inconsistent with storage")

	// ErrReconciliation means an answer was generated but the turn could not
	// be recorded.
	ErrReconciliation = errors.New("turn not recorded")
)

// BackendError is the single failure surfaced after a backend call has been
// given up on, either because retries ran out or the error was not retryable.
type BackendError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Invalid builds an ErrValidation with a message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrBackendRejected) {
		return false
	}
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrEmbeddingFailed) ||
		errors.Is(err, ErrGenerationFailed)
}
