package events

const (
	TypeSessionCreated   = "session.created"
	TypeSessionClosed    = "session.closed"
	TypeRequestCompleted = "request.completed"
	TypeStartResolved    = "start.resolved"
	TypeTokenRevoked     = "token.revoked"
	TypeLoginState       = "login.state"
)

// ComponentTypes maps a component name to the event types it emits.
var ComponentTypes = map[string][]string{
	"portal":  {TypeSessionCreated, TypeSessionClosed, TypeRequestCompleted, TypeStartResolved},
	"store":   {TypeTokenRevoked},
	"inhibit": {TypeLoginState},
}

type Event struct {
	Type string
	Data any
}

// Filter decides whether an event is delivered to a subscriber.
// A nil Filter passes everything.
type Filter func(Event) bool

// FilterTypes builds a filter passing only the listed event types.
// Returns nil (pass-all) for an empty list.
func FilterTypes(types []string) Filter {
	if len(types) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := allowed[e.Type]
		return ok
	}
}

// FilterComponent builds a filter passing the event types of the named
// components. Unknown names contribute nothing; if nothing matches, the
// result is nil (pass-all).
func FilterComponent(names []string) Filter {
	var types []string
	for _, name := range names {
		types = append(types, ComponentTypes[name]...)
	}
	return FilterTypes(types)
}
