package apperrors

import "errors"

// Classification errors shared by adapters and services. Domain errors wrap one of these
// so the transport layer can map them without knowing the domain.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrExternalServiceFailure = errors.New("external service failure")
	ErrTimeout                = errors.New("timed out")
	ErrInternal               = errors.New("internal error")

	// ErrConflict reports an operation that is already in progress or already done.
	ErrConflict = errors.New("conflicts with current state")
)

// IsAny reports whether err matches any of targets.
func IsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
