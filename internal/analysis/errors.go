package analysis

import "errors"

var (
	ErrServiceUnavailable = errors.New("analysis service unavailable")
	ErrServiceTimeout     = errors.New("analysis service timeout")
	ErrInvalidResponse    = errors.New("analysis service returned invalid response")
	// ErrRejected wraps an explicit failure answer from the service.
	ErrRejected = errors.New("analysis service rejected request")
)
