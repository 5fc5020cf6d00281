package agent

import "errors"

// Error classes surfaced to the transport layer. Handlers map these to
// HTTP status codes; everything else is an internal error.
var (
	// ErrValidation marks bad input the client must fix.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a referenced session that does not exist.
	ErrNotFound = errors.New("not found")
)
