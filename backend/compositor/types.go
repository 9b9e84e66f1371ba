package compositor

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/b0bbywan/go-portal-backend/config"
)

// signalHandler receives one routed compositor signal.
type signalHandler func(sig *dbus.Signal)

// Client talks to the compositor's ScreenCast and RemoteDesktop services and
// routes their signals to the sessions and streams that subscribed for them.
type Client struct {
	conn *dbus.Conn
	cfg  *config.CompositorConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	// handlers routes signals by emitting object path and full signal name.
	handlers map[dbus.ObjectPath]map[string]signalHandler
}

// Session is one compositor-side screencast session.
type Session struct {
	client *Client
	path   dbus.ObjectPath

	mu      sync.Mutex
	streams []*Stream
	closed  bool
}

// Stream is one compositor-side stream awaiting pipewire readiness.
type Stream struct {
	client *Client
	path   dbus.ObjectPath
}

// RemoteSession is one compositor-side remote desktop session. Input
// injection goes through it; the paired screencast session carries video.
type RemoteSession struct {
	client *Client
	path   dbus.ObjectPath

	mu        sync.Mutex
	sessionID string
	closed    bool
}

// CombinedSession pairs a remote desktop session with its linked screencast
// session. Start and Stop drive the remote desktop side, which owns the pair;
// stream recording goes to the screencast side.
type CombinedSession struct {
	Remote *RemoteSession
	Screen *Session
}
