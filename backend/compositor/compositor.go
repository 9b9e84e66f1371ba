package compositor

import (
	"context"

	"github.com/godbus/dbus/v5"

	idbus "github.com/b0bbywan/go-portal-backend/backend/internal/dbus"
	"github.com/b0bbywan/go-portal-backend/config"
	"github.com/b0bbywan/go-portal-backend/logger"
)

// NewClient connects to the compositor services and starts the signal
// dispatcher. The conn is shared with the rest of the backend.
func NewClient(ctx context.Context, conn *dbus.Conn, cfg *config.CompositorConfig) (*Client, error) {
	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		conn:     conn,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[dbus.ObjectPath]map[string]signalHandler),
	}

	if err := c.addMatchRules(); err != nil {
		cancel()
		return nil, err
	}

	ch := make(chan *dbus.Signal, 32)
	conn.Signal(ch)
	go c.listen(ch)

	logger.Info("[compositor] client started for %s", cfg.Service)
	return c, nil
}

func (c *Client) addMatchRules() error {
	rules := []string{
		"type='signal',interface='" + SC_SESSION_IFACE + "',member='Closed'",
		"type='signal',interface='" + SC_STREAM_IFACE + "',member='PipeWireStreamAdded'",
		"type='signal',interface='" + RD_SESSION_IFACE + "',member='Closed'",
	}
	for _, rule := range rules {
		if err := idbus.AddMatchRule(c.conn, rule); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) listen(ch <-chan *dbus.Signal) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			c.routeSignal(sig)
		}
	}
}

// routeSignal delivers a signal to the handler subscribed for its emitting
// path and name. Signals nobody subscribed for are dropped silently: the
// shared connection carries traffic for other listeners too.
func (c *Client) routeSignal(sig *dbus.Signal) {
	if sig == nil {
		return
	}
	c.mu.Lock()
	var h signalHandler
	if byName, ok := c.handlers[sig.Path]; ok {
		h = byName[sig.Name]
	}
	c.mu.Unlock()
	if h == nil {
		return
	}
	logger.Debug("[compositor] signal %s from %s", sig.Name, sig.Path)
	h(sig)
}

func (c *Client) subscribe(path dbus.ObjectPath, name string, h signalHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byName, ok := c.handlers[path]
	if !ok {
		byName = make(map[string]signalHandler)
		c.handlers[path] = byName
	}
	byName[name] = h
}

// unsubscribePath drops all handlers for one emitting object.
func (c *Client) unsubscribePath(path dbus.ObjectPath) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, path)
}

func (c *Client) screenCastObj(path dbus.ObjectPath) dbus.BusObject {
	return idbus.GetObject(c.conn, c.cfg.Service, string(path))
}

func (c *Client) remoteObj(path dbus.ObjectPath) dbus.BusObject {
	return idbus.GetObject(c.conn, c.cfg.RemoteService, string(path))
}

// CreateScreenCastSession asks the compositor for a new screencast session.
// Link it to a remote desktop session by passing PROP_RD_SESSION_LINK in
// props.
func (c *Client) CreateScreenCastSession(props map[string]dbus.Variant) (*Session, error) {
	if props == nil {
		props = map[string]dbus.Variant{}
	}
	var path dbus.ObjectPath
	call := c.screenCastObj(dbus.ObjectPath(c.cfg.Path)).Call(SC_CREATE_SESSION, 0, props)
	if err := idbus.CallWithTimeout(call); err != nil {
		return nil, &UnavailableError{Service: c.cfg.Service, Reason: err.Error()}
	}
	if err := call.Store(&path); err != nil {
		return nil, err
	}
	logger.Debug("[compositor] screencast session created at %s", path)
	return &Session{client: c, path: path}, nil
}

// CreateRemoteSession asks the compositor for a new remote desktop session.
func (c *Client) CreateRemoteSession() (*RemoteSession, error) {
	var path dbus.ObjectPath
	call := c.remoteObj(dbus.ObjectPath(c.cfg.RemotePath)).Call(RD_CREATE_SESSION, 0)
	if err := idbus.CallWithTimeout(call); err != nil {
		return nil, &UnavailableError{Service: c.cfg.RemoteService, Reason: err.Error()}
	}
	if err := call.Store(&path); err != nil {
		return nil, err
	}

	s := &RemoteSession{client: c, path: path}
	v, err := idbus.GetProperty(c.remoteObj(path), RD_SESSION_IFACE, PROP_RD_SESSION_ID)
	if err != nil {
		return nil, err
	}
	if id, ok := idbus.ExtractString(v); ok {
		s.sessionID = id
	}
	logger.Debug("[compositor] remote desktop session created at %s (id %s)", path, s.sessionID)
	return s, nil
}

// Close stops the dispatcher. Live compositor sessions are stopped by their
// owning portal sessions, not here.
func (c *Client) Close() {
	c.cancel()
	logger.Debug("[compositor] client stopped")
}
