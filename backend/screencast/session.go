package screencast

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

// Session is one screencast session kind. The base carries identity and
// close-once; this layer carries the source selection and the start state.
type Session struct {
	*portal.BaseSession

	mu           sync.Mutex
	state        sessionState
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

// teardown runs at most once, from whichever close direction fires first. A
// coordinator still in flight sees the close as a client cancellation.
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
			logger.Warn("[screencast] stopping capture for %s: %v", s.Handle(), err)
		}
	}
}

// SetSources records the source selection. Rejected once a start is underway.
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

// SetRestore records the persistence ask alongside the source selection.
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

// beginStart claims the session for one start attempt. A session already
// starting or active refuses a second one.
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

// query assembles the consent ask from the recorded selection. A session
// started without SelectSources defaults to a single monitor.
func (s *Session) query(appID, parentWindow string) consent.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := s.sourceTypes
	if types == 0 {
		types = uint32(consent.SourceMonitor)
	}
	cursorMode := s.cursorMode
	if cursorMode == 0 {
		cursorMode = CursorHidden
	}
	return consent.Query{
		AppID:        appID,
		ParentWindow: parentWindow,
		SourceTypes:  types,
		Multiple:     s.multiple,
		CursorMode:   cursorMode,
		PersistMode:  s.persistMode,
	}
}
