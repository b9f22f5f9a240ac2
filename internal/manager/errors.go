package manager

// requestNotFoundError signals an unknown or expired request id for 404
// mapping.
type requestNotFoundError struct{ id string }

func (e requestNotFoundError) Error() string { return "request not found: " + e.id }

// ErrRequestNotFound constructs a requestNotFoundError.
func ErrRequestNotFound(id string) error { return requestNotFoundError{id: id} }

// IsRequestNotFound reports whether the error indicates a missing request id.
func IsRequestNotFound(err error) bool {
	_, ok := err.(requestNotFoundError)
	return ok
}

// invalidPayloadError signals an unresolvable submission for 400 mapping.
type invalidPayloadError struct{ msg string }

func (e invalidPayloadError) Error() string { return e.msg }

// ErrInvalidPayload constructs an invalidPayloadError.
func ErrInvalidPayload(msg string) error { return invalidPayloadError{msg: msg} }

// IsInvalidPayload reports whether the error indicates a bad submission
// payload (unknown service kind, missing service field).
func IsInvalidPayload(err error) bool {
	_, ok := err.(invalidPayloadError)
	return ok
}

// shuttingDownError signals that intake has stopped so the HTTP layer can
// return 503 Service Unavailable instead of 500.
type shuttingDownError struct{}

func (shuttingDownError) Error() string { return "manager is shutting down" }

// ErrShuttingDown constructs a shuttingDownError.
func ErrShuttingDown() error { return shuttingDownError{} }

// IsShuttingDown reports whether err indicates the manager no longer
// accepts work.
func IsShuttingDown(err error) bool {
	_, ok := err.(shuttingDownError)
	return ok
}
