package jobs

import "errors"

type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "job not found: " + e.id }

// IsNotFound reports whether err means the job id is unknown, expired, or
// unreachable through the broker.
func IsNotFound(err error) bool {
	var t notFoundError
	return errors.As(err, &t)
}
