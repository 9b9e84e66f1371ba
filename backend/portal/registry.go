package portal

import (
	"errors"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/b0bbywan/go-portal-backend/events"
	"github.com/b0bbywan/go-portal-backend/logger"
)

// ErrAlreadyExists is returned when registering a handle that is currently
// owned by a live object.
var ErrAlreadyExists = errors.New("portal: handle already registered")

// Owner is an object addressable by a bus handle: a Request or a Session.
type Owner interface {
	Handle() dbus.ObjectPath
	Sender() string
	AppID() string
}

// Registry maps live object handles to their owners. It is the only mutable
// structure shared by all call paths; owners unregister themselves as the
// first step of teardown, so a lookup racing a close observes either the
// full live object or nothing.
type Registry struct {
	mu      sync.Mutex
	owners  map[dbus.ObjectPath]Owner
	eventsC chan events.Event
}

func NewRegistry() *Registry {
	return &Registry{
		owners:  make(map[dbus.ObjectPath]Owner),
		eventsC: make(chan events.Event, 16),
	}
}

// Events exposes lifecycle events emitted by registered objects.
func (r *Registry) Events() <-chan events.Event {
	return r.eventsC
}

// Register stores the owner under its handle. Fails with ErrAlreadyExists if
// the handle is in use by a live owner.
func (r *Registry) Register(o Owner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owners[o.Handle()]; ok {
		return ErrAlreadyExists
	}
	r.owners[o.Handle()] = o
	return nil
}

// Unregister removes the mapping. Not an error if absent: racing close paths
// may both unregister.
func (r *Registry) Unregister(handle dbus.ObjectPath) {
	r.mu.Lock()
	delete(r.owners, handle)
	r.mu.Unlock()
}

// Lookup returns the owner of handle only when the caller may see it: an
// unconfined caller (empty app id) always may, a confined caller only when
// its app id matches the recorded one. Authorization failures read exactly
// like missing handles.
func (r *Registry) Lookup(handle dbus.ObjectPath, appID string) (Owner, bool) {
	r.mu.Lock()
	o, ok := r.owners[handle]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	if appID != "" && appID != o.AppID() {
		return nil, false
	}
	return o, true
}

// LookupAs narrows a Lookup to the expected concrete kind. A kind mismatch
// reads like a missing handle.
func LookupAs[T Owner](r *Registry, handle dbus.ObjectPath, appID string) (T, bool) {
	var zero T
	o, ok := r.Lookup(handle, appID)
	if !ok {
		return zero, false
	}
	t, ok := o.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// OwnedBy returns all live owners recorded for a bus sender. Used to tear
// down objects whose peer vanished from the bus.
func (r *Registry) OwnedBy(sender string) []Owner {
	r.mu.Lock()
	defer r.mu.Unlock()
	var owned []Owner
	for _, o := range r.owners {
		if o.Sender() == sender {
			owned = append(owned, o)
		}
	}
	return owned
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}

// notify publishes a lifecycle event, dropping it if nobody keeps up.
func (r *Registry) notify(eventType string, data any) {
	select {
	case r.eventsC <- events.Event{Type: eventType, Data: data}:
	default:
		logger.Warn("[portal] event channel full, dropping %s event", eventType)
	}
}
