package portal

import (
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	idbus "github.com/b0bbywan/go-portal-backend/backend/internal/dbus"
	"github.com/b0bbywan/go-portal-backend/events"
	"github.com/b0bbywan/go-portal-backend/logger"
)

// Session is a long-lived, multi-call client resource. Concrete kinds
// (screen cast, remote desktop, inhibit monitor) attach their own teardown;
// holders of the interface close a session without knowing its kind.
type Session interface {
	Owner
	// Close tears the session down. Idempotent: the underlying teardown runs
	// at most once even when a client close races a compositor close.
	Close()
	// CloseAndNotify is Close plus a Closed signal to the session's peer,
	// used when the closure originates server-side.
	CloseAndNotify()
	// Active reports whether the session survived teardown so far.
	Active() bool
}

// SourceConfigurer is implemented by session kinds that accept a
// SelectSources configuration call.
type SourceConfigurer interface {
	SetSources(types uint32, multiple bool, cursorMode uint32) error
}

// DeviceConfigurer is implemented by session kinds that accept a
// SelectDevices configuration call.
type DeviceConfigurer interface {
	SetDevices(types uint32) error
}

// BaseSession carries the state shared by all session kinds: identity,
// handle, bus export and once-only close. The session handle is chosen by
// the client, unlike request handles.
type BaseSession struct {
	conn     *dbus.Conn
	registry *Registry
	handle   dbus.ObjectPath
	sender   string
	appID    string

	closeOnce sync.Once
	mu        sync.Mutex
	active    bool
	teardown  func()
}

func NewBaseSession(conn *dbus.Conn, registry *Registry, handle dbus.ObjectPath, sender, appID string) *BaseSession {
	return &BaseSession{
		conn:     conn,
		registry: registry,
		handle:   handle,
		sender:   sender,
		appID:    appID,
	}
}

func (s *BaseSession) Handle() dbus.ObjectPath { return s.handle }
func (s *BaseSession) Sender() string          { return s.sender }
func (s *BaseSession) AppID() string           { return s.appID }

// SetTeardown installs the kind-specific close hook. Must be set before the
// session can be closed from two directions.
func (s *BaseSession) SetTeardown(fn func()) {
	s.mu.Lock()
	s.teardown = fn
	s.mu.Unlock()
}

func (s *BaseSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Export registers the session under its concrete kind and exports its
// Close method on the bus. Kinds pass themselves so registry lookups recover
// the full session, not just the base.
func (s *BaseSession) Export(as Session) error {
	if err := s.registry.Register(as); err != nil {
		return err
	}
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	if s.conn != nil {
		if err := idbus.ExportInterface(s.conn, &sessionHandler{s}, s.handle, sessionIntrospection()); err != nil {
			s.registry.Unregister(s.handle)
			return err
		}
	}
	s.registry.notify(events.TypeSessionCreated, string(s.handle))
	logger.Debug("[portal] session %s exported for %s", s.handle, s.appID)
	return nil
}

func (s *BaseSession) Close() {
	s.close(false)
}

func (s *BaseSession) CloseAndNotify() {
	s.close(true)
}

func (s *BaseSession) close(notifyPeer bool) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.active = false
		fn := s.teardown
		s.mu.Unlock()

		// Unregister first: lookups racing this close see "not found",
		// never a half-destroyed session.
		s.registry.Unregister(s.handle)
		if fn != nil {
			fn()
		}
		if s.conn != nil {
			if notifyPeer {
				if err := s.conn.Emit(s.handle, SessionIface+".Closed"); err != nil {
					logger.Warn("[portal] failed to emit Closed for %s: %v", s.handle, err)
				}
			}
			if err := idbus.UnexportInterface(s.conn, s.handle, SessionIface); err != nil {
				logger.Warn("[portal] failed to unexport session %s: %v", s.handle, err)
			}
		}
		s.registry.notify(events.TypeSessionClosed, string(s.handle))
		logger.Debug("[portal] session %s closed", s.handle)
	})
}

// sessionHandler is the bus-facing shape of a session.
type sessionHandler struct {
	s *BaseSession
}

func (h *sessionHandler) Close(sender dbus.Sender) *dbus.Error {
	if string(sender) != h.s.sender {
		return ErrNotAllowed("session owned by another caller")
	}
	h.s.Close()
	return nil
}

func sessionIntrospection() introspect.Interface {
	return introspect.Interface{
		Name: SessionIface,
		Methods: []introspect.Method{
			{Name: "Close"},
		},
		Signals: []introspect.Signal{
			{Name: "Closed"},
		},
	}
}
