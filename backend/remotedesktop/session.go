package remotedesktop

import (
	"sync"

	"github.com/b0bbywan/go-portal-backend/backend/portal"
	"github.com/b0bbywan/go-portal-backend/consent"
	"github.com/b0bbywan/go-portal-backend/logger"
)

type sessionState int

const (
	stateCreated sessionState = iota
	stateConfigured
	stateStarting
	stateActive
)

// Session is one remote desktop session kind. It takes device selection
// directly and source selection through the screencast portal, so a single
// session can share input and screens.
type Session struct {
	*portal.BaseSession

	mu           sync.Mutex
	state        sessionState
	deviceTypes  uint32
	sourceTypes  uint32
	multiple     bool
	cursorMode   uint32
	persistMode  uint32
	restoreToken string
	capture      portal.CaptureSession
	coordinator  *portal.StartCoordinator
}

func newSession(base *portal.BaseSession, capture portal.CaptureSession) *Session {
	s := &Session{
		BaseSession: base,
		capture:     capture,
	}
	s.SetTeardown(s.teardown)
	return s
}

func (s *Session) teardown() {
	s.mu.Lock()
	c := s.coordinator
	capture := s.capture
	s.mu.Unlock()

	if c != nil {
		c.Cancel()
	}
	if capture != nil {
		if err := capture.Stop(); err != nil {
			logger.Warn("[remotedesktop] stopping capture for %s: %v", s.Handle(), err)
		}
	}
}

// SetDevices records the device selection. Rejected once a start is underway.
func (s *Session) SetDevices(types uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= stateStarting {
		return &StartedError{}
	}
	s.deviceTypes = types
	s.state = stateConfigured
	return nil
}

// SetSources lets the screencast portal attach screens to this session.
func (s *Session) SetSources(types uint32, multiple bool, cursorMode uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= stateStarting {
		return &StartedError{}
	}
	s.sourceTypes = types
	s.multiple = multiple
	s.cursorMode = cursorMode
	s.state = stateConfigured
	return nil
}

func (s *Session) SetRestore(persistMode uint32, token string) {
	s.mu.Lock()
	s.persistMode = persistMode
	s.restoreToken = token
	s.mu.Unlock()
}

func (s *Session) restore() (uint32, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistMode, s.restoreToken
}

func (s *Session) beginStart(c *portal.StartCoordinator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= stateStarting {
		return &StartedError{}
	}
	s.state = stateStarting
	s.coordinator = c
	return nil
}

func (s *Session) finishStart(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coordinator = nil
	if success {
		s.state = stateActive
	} else {
		s.state = stateConfigured
	}
}

// query assembles the consent ask. Sources stay empty unless SelectSources
// attached screens; devices default to everything available, matching a
// client that never called SelectDevices.
func (s *Session) query(appID, parentWindow string) consent.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices := s.deviceTypes
	if devices == 0 {
		devices = AVAILABLE_DEVICE_TYPES
	}
	return consent.Query{
		AppID:        appID,
		ParentWindow: parentWindow,
		SourceTypes:  s.sourceTypes,
		DeviceTypes:  devices,
		Multiple:     s.multiple,
		CursorMode:   s.cursorMode,
		PersistMode:  s.persistMode,
	}
}
