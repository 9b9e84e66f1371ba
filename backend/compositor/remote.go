package compositor

import (
	"github.com/godbus/dbus/v5"

	idbus "github.com/b0bbywan/go-portal-backend/backend/internal/dbus"
	"github.com/b0bbywan/go-portal-backend/backend/portal"
)

func (s *RemoteSession) Path() dbus.ObjectPath { return s.path }

// SessionID is the compositor-assigned id used to link a screencast session
// to this remote desktop session.
func (s *RemoteSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *RemoteSession) obj() dbus.BusObject {
	return s.client.remoteObj(s.path)
}

// Start starts the remote desktop session and any linked screencast session.
func (s *RemoteSession) Start() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return &SessionClosedError{}
	}
	return idbus.CallMethod(s.obj(), RD_SESSION_START)
}

// Stop tears the remote desktop session down. The compositor stops the linked
// screencast session with it.
func (s *RemoteSession) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.client.unsubscribePath(s.path)
	return idbus.CallMethod(s.obj(), RD_SESSION_STOP)
}

// OnClosed registers fn for the compositor-initiated Closed signal.
func (s *RemoteSession) OnClosed(fn func()) {
	s.client.subscribe(s.path, RD_SESSION_CLOSED_SIGNAL, func(*dbus.Signal) {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		fn()
	})
}

// NewCombinedSession links a fresh screencast session to remote and pairs
// them. The remote side drives the pair's lifecycle.
func (c *Client) NewCombinedSession(remote *RemoteSession, props map[string]dbus.Variant) (*CombinedSession, error) {
	if props == nil {
		props = map[string]dbus.Variant{}
	}
	props[PROP_RD_SESSION_LINK] = dbus.MakeVariant(remote.SessionID())
	screen, err := c.CreateScreenCastSession(props)
	if err != nil {
		return nil, err
	}
	return &CombinedSession{Remote: remote, Screen: screen}, nil
}

func (s *CombinedSession) Start() error {
	return s.Remote.Start()
}

func (s *CombinedSession) Stop() error {
	// Stopping the remote side stops the linked screencast session too; the
	// screen side only needs its handlers dropped.
	s.Screen.mu.Lock()
	s.Screen.closed = true
	streams := s.Screen.streams
	s.Screen.streams = nil
	s.Screen.mu.Unlock()
	for _, st := range streams {
		s.Screen.client.unsubscribePath(st.path)
	}
	s.Screen.client.unsubscribePath(s.Screen.path)
	return s.Remote.Stop()
}

func (s *CombinedSession) RecordMonitor(connector string, props map[string]dbus.Variant) (portal.CaptureStream, error) {
	return s.Screen.RecordMonitor(connector, props)
}

func (s *CombinedSession) RecordWindow(windowID uint64, props map[string]dbus.Variant) (portal.CaptureStream, error) {
	return s.Screen.RecordWindow(windowID, props)
}

// OnClosed watches both halves; fn runs on whichever closes first.
func (s *CombinedSession) OnClosed(fn func()) {
	s.Remote.OnClosed(fn)
	s.Screen.OnClosed(fn)
}
