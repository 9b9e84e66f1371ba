package portal

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Response codes shared by every Request-style completion in the backend.
// Callers distinguish "the user said no" from "something went wrong".
const (
	ResponseSuccess   uint32 = 0
	ResponseCancelled uint32 = 1
	ResponseOther     uint32 = 2
)

const (
	RequestIface = "org.freedesktop.impl.portal.Request"
	SessionIface = "org.freedesktop.impl.portal.Session"

	// ObjectPath is the shared object every portal interface is exported on.
	ObjectPath = dbus.ObjectPath("/org/freedesktop/portal/desktop")
)

// Portal-facing D-Bus error names.
const (
	errNotFound        = "org.freedesktop.portal.Error.NotFound"
	errInvalidArgument = "org.freedesktop.portal.Error.InvalidArgument"
	errExists          = "org.freedesktop.portal.Error.Exists"
	errNotAllowed      = "org.freedesktop.portal.Error.NotAllowed"
	errFailed          = "org.freedesktop.portal.Error.Failed"
)

// ErrNotFound is returned for unknown handles and for handles the caller is
// not authorized to see; the two cases are deliberately indistinguishable.
func ErrNotFound(handle dbus.ObjectPath) *dbus.Error {
	return dbus.NewError(errNotFound, []interface{}{fmt.Sprintf("no such handle: %s", handle)})
}

// ErrInvalidArgument reports a malformed client argument.
func ErrInvalidArgument(format string, args ...interface{}) *dbus.Error {
	return dbus.NewError(errInvalidArgument, []interface{}{fmt.Sprintf(format, args...)})
}

// ErrExists reports a conflicting live object, e.g. a second Start on a
// session whose coordinator is still active.
func ErrExists(format string, args ...interface{}) *dbus.Error {
	return dbus.NewError(errExists, []interface{}{fmt.Sprintf(format, args...)})
}

// ErrNotAllowed reports a caller identity mismatch on a direct object call.
func ErrNotAllowed(msg string) *dbus.Error {
	return dbus.NewError(errNotAllowed, []interface{}{msg})
}

// ErrFailed wraps an internal failure for the bus.
func ErrFailed(err error) *dbus.Error {
	return dbus.NewError(errFailed, []interface{}{err.Error()})
}

// ValidToken reports whether a client-supplied handle token is usable as an
// object path element: non-empty, [A-Za-z0-9_] only.
func ValidToken(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}
