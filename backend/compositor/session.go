package compositor

import (
	"github.com/godbus/dbus/v5"

	idbus "github.com/b0bbywan/go-portal-backend/backend/internal/dbus"
	"github.com/b0bbywan/go-portal-backend/backend/portal"
	"github.com/b0bbywan/go-portal-backend/logger"
)

func (s *Session) Path() dbus.ObjectPath { return s.path }

func (s *Session) obj() dbus.BusObject {
	return s.client.screenCastObj(s.path)
}

// Start asks the compositor to start pushing frames for the recorded streams.
func (s *Session) Start() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return &SessionClosedError{}
	}
	return idbus.CallMethod(s.obj(), SC_SESSION_START)
}

// Stop tears the compositor session down, together with its streams.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	streams := s.streams
	s.streams = nil
	s.mu.Unlock()

	for _, st := range streams {
		s.client.unsubscribePath(st.path)
	}
	s.client.unsubscribePath(s.path)
	return idbus.CallMethod(s.obj(), SC_SESSION_STOP)
}

// RecordMonitor opens a stream for one monitor. An empty connector lets the
// compositor pick its default output.
func (s *Session) RecordMonitor(connector string, props map[string]dbus.Variant) (portal.CaptureStream, error) {
	return s.record(SC_RECORD_MONITOR, connector, props)
}

// RecordWindow opens a stream for one toplevel window.
func (s *Session) RecordWindow(windowID uint64, props map[string]dbus.Variant) (portal.CaptureStream, error) {
	if props == nil {
		props = map[string]dbus.Variant{}
	}
	props["window-id"] = dbus.MakeVariant(windowID)
	var path dbus.ObjectPath
	call := s.obj().Call(SC_RECORD_WINDOW, 0, props)
	if err := idbus.CallWithTimeout(call); err != nil {
		return nil, err
	}
	if err := call.Store(&path); err != nil {
		return nil, err
	}
	return s.addStream(path), nil
}

func (s *Session) record(method, connector string, props map[string]dbus.Variant) (portal.CaptureStream, error) {
	if props == nil {
		props = map[string]dbus.Variant{}
	}
	var path dbus.ObjectPath
	call := s.obj().Call(method, 0, connector, props)
	if err := idbus.CallWithTimeout(call); err != nil {
		return nil, err
	}
	if err := call.Store(&path); err != nil {
		return nil, err
	}
	return s.addStream(path), nil
}

func (s *Session) addStream(path dbus.ObjectPath) *Stream {
	st := &Stream{client: s.client, path: path}
	s.mu.Lock()
	s.streams = append(s.streams, st)
	s.mu.Unlock()
	logger.Debug("[compositor] stream recorded at %s", path)
	return st
}

// OnClosed registers fn for the compositor-initiated Closed signal. The
// handler fires when the compositor tears the session down on its own, for
// example on logout.
func (s *Session) OnClosed(fn func()) {
	s.client.subscribe(s.path, SC_SESSION_CLOSED_SIGNAL, func(*dbus.Signal) {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		fn()
	})
}
