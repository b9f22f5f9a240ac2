package pool

// stillLoadingError signals a non-blocking Acquire hit an in-flight load.
type stillLoadingError struct{ id string }

func (e stillLoadingError) Error() string { return "resource still loading: " + e.id }

// IsStillLoading reports whether err indicates an in-flight load.
func IsStillLoading(err error) bool {
	_, ok := err.(stillLoadingError)
	return ok
}

// loadWaitTimeoutError signals a blocking Acquire gave up waiting on a load
// that continues in the background.
type loadWaitTimeoutError struct{ id string }

func (e loadWaitTimeoutError) Error() string {
	return "timeout waiting for resource load: " + e.id
}

// IsLoadWaitTimeout reports whether err indicates the caller gave up on an
// in-flight load.
func IsLoadWaitTimeout(err error) bool {
	_, ok := err.(loadWaitTimeoutError)
	return ok
}
