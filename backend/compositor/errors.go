package compositor

// UnavailableError indicates the compositor service is not reachable on the
// session bus.
type UnavailableError struct {
	Service string
	Reason  string
}

func (e *UnavailableError) Error() string {
	return "compositor service " + e.Service + " unavailable: " + e.Reason
}

// SessionClosedError indicates an operation on a compositor session that has
// already been torn down.
type SessionClosedError struct{}

func (e *SessionClosedError) Error() string {
	return "compositor session is closed"
}
