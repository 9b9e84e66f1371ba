package remotedesktop

// StartedError indicates a configuration or start call on a session whose
// start is already underway or done.
type StartedError struct{}

func (e *StartedError) Error() string {
	return "session already started"
}
