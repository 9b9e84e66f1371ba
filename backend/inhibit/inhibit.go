package inhibit

import (
	"context"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	idbus "github.com/b0bbywan/go-portal-backend/backend/internal/dbus"
	"github.com/b0bbywan/go-portal-backend/backend/portal"
	"github.com/b0bbywan/go-portal-backend/config"
	"github.com/b0bbywan/go-portal-backend/events"
	"github.com/b0bbywan/go-portal-backend/logger"
)

func New(ctx context.Context, conn *dbus.Conn, registry *portal.Registry, locker Locker, cfg *config.InhibitConfig) *Portal {
	return &Portal{
		ctx:          ctx,
		conn:         conn,
		registry:     registry,
		locker:       locker,
		cfg:          cfg,
		monitors:     make(map[dbus.ObjectPath]*monitorSession),
		sessionState: SessionRunning,
		eventsC:      make(chan events.Event, 4),
	}
}

// Events exposes login state transitions for the broadcaster.
func (p *Portal) Events() <-chan events.Event {
	return p.eventsC
}

func (p *Portal) Export() error {
	return p.conn.ExportMethodTable(p.methodTable(), portal.ObjectPath, INHIBIT_IFACE)
}

func (p *Portal) methodTable() map[string]interface{} {
	h := &handler{p}
	return map[string]interface{}{
		"Inhibit":          h.Inhibit,
		"CreateMonitor":    h.CreateMonitor,
		"QueryEndResponse": h.QueryEndResponse,
	}
}

func (p *Portal) Introspection() introspect.Interface {
	return introspect.Interface{
		Name: INHIBIT_IFACE,
		Methods: []introspect.Method{
			{Name: "Inhibit", Args: []introspect.Arg{
				{Name: "handle", Type: "o", Direction: "in"},
				{Name: "app_id", Type: "s", Direction: "in"},
				{Name: "window", Type: "s", Direction: "in"},
				{Name: "flags", Type: "u", Direction: "in"},
				{Name: "options", Type: "a{sv}", Direction: "in"},
			}},
			{Name: "CreateMonitor", Args: []introspect.Arg{
				{Name: "handle", Type: "o", Direction: "in"},
				{Name: "session_handle", Type: "o", Direction: "in"},
				{Name: "app_id", Type: "s", Direction: "in"},
				{Name: "window", Type: "s", Direction: "in"},
				{Name: "response", Type: "u", Direction: "out"},
			}},
			{Name: "QueryEndResponse", Args: []introspect.Arg{
				{Name: "handle", Type: "o", Direction: "in"},
				{Name: "session_handle", Type: "o", Direction: "in"},
			}},
		},
		Signals: []introspect.Signal{
			{Name: "StateChanged", Args: []introspect.Arg{
				{Name: "session_handle", Type: "o"},
				{Name: "state", Type: "a{sv}"},
			}},
		},
		Properties: []introspect.Property{
			{Name: "version", Type: "u", Access: "read"},
		},
	}
}

func (p *Portal) Properties() map[string]*prop.Prop {
	return map[string]*prop.Prop{
		"version": {Value: PORTAL_VERSION, Emit: prop.EmitFalse},
	}
}

// flagsToWhat maps portal inhibit flags onto logind lock names.
func flagsToWhat(flags uint32) string {
	var what []string
	if flags&(FlagLogout|FlagUserSwitch) != 0 {
		what = append(what, "shutdown")
	}
	if flags&FlagSuspend != 0 {
		what = append(what, "sleep")
	}
	if flags&FlagIdle != 0 {
		what = append(what, "idle")
	}
	return strings.Join(what, ":")
}

type handler struct {
	p *Portal
}

// Inhibit takes a logind lock held for the lifetime of the request: the
// caller keeps the inhibition by keeping the request open and drops it with
// Close.
func (h *handler) Inhibit(sender dbus.Sender, handle dbus.ObjectPath, appID, window string, flags uint32, options map[string]dbus.Variant) *dbus.Error {
	p := h.p
	if flags == 0 || flags&^ALL_FLAGS != 0 {
		return portal.ErrInvalidArgument("invalid inhibit flags: %d", flags)
	}
	what := flagsToWhat(flags)
	if what == "" {
		return portal.ErrInvalidArgument("no lockable flags in: %d", flags)
	}

	req := portal.NewRequest(p.conn, p.registry, handle, string(sender), appID)
	if err := req.Export(); err != nil {
		return portal.ErrExists("request handle %s in use", handle)
	}

	reason := idbus.MapString(options, OPT_REASON)
	if reason == "" {
		reason = "requested by application"
	}
	who := appID
	if who == "" {
		who = string(sender)
	}

	lock, err := p.locker.Inhibit(what, who, reason, "block")
	if err != nil {
		req.Complete()
		logger.Error("[inhibit] taking %s lock for %s: %v", what, who, err)
		return portal.ErrFailed(err)
	}

	req.OnClose(func() {
		if err := lock.Close(); err != nil {
			logger.Warn("[inhibit] releasing lock for %s: %v", who, err)
		}
		logger.Info("[inhibit] lock released for %s", who)
	})
	logger.Info("[inhibit] holding %s for %s (%s)", what, who, reason)
	return nil
}

func (h *handler) CreateMonitor(sender dbus.Sender, handle, sessionHandle dbus.ObjectPath, appID, window string) (uint32, *dbus.Error) {
	p := h.p
	req := portal.NewRequest(p.conn, p.registry, handle, string(sender), appID)
	if err := req.Export(); err != nil {
		return 0, portal.ErrExists("request handle %s in use", handle)
	}
	defer req.Complete()

	if !sessionHandle.IsValid() {
		return 0, portal.ErrInvalidArgument("invalid session handle: %s", sessionHandle)
	}

	sess := &monitorSession{
		BaseSession: portal.NewBaseSession(p.conn, p.registry, sessionHandle, string(sender), appID),
	}
	sess.SetTeardown(func() { p.dropMonitor(sessionHandle) })
	if err := sess.Export(sess); err != nil {
		return 0, portal.ErrExists("session handle %s in use", sessionHandle)
	}

	p.mu.Lock()
	p.monitors[sessionHandle] = sess
	state := p.sessionState
	p.mu.Unlock()

	// New monitors hear the current state right away.
	p.emitState(sess, state)
	logger.Info("[inhibit] monitor %s created for %s", sessionHandle, appID)
	return portal.ResponseSuccess, nil
}

// QueryEndResponse acknowledges a query-end state. Callers that saw the
// session entering query-end confirm they are done saving state.
func (h *handler) QueryEndResponse(sender dbus.Sender, handle, sessionHandle dbus.ObjectPath) *dbus.Error {
	p := h.p
	sess, ok := portal.LookupAs[*monitorSession](p.registry, sessionHandle, "")
	if !ok {
		return portal.ErrNotFound(sessionHandle)
	}
	if string(sender) != sess.Sender() {
		return portal.ErrNotAllowed("session owned by another caller")
	}
	sess.mu.Lock()
	sess.acked = true
	sess.mu.Unlock()
	logger.Debug("[inhibit] query-end acknowledged for %s", sessionHandle)
	return nil
}

func (p *Portal) dropMonitor(handle dbus.ObjectPath) {
	p.mu.Lock()
	delete(p.monitors, handle)
	p.mu.Unlock()
}

// SetSessionState broadcasts a state transition to every live monitor.
// Driven by the logind watcher.
func (p *Portal) SetSessionState(state uint32) {
	p.mu.Lock()
	if p.sessionState == state {
		p.mu.Unlock()
		return
	}
	p.sessionState = state
	monitors := make([]*monitorSession, 0, len(p.monitors))
	for _, m := range p.monitors {
		m.mu.Lock()
		m.acked = false
		m.mu.Unlock()
		monitors = append(monitors, m)
	}
	p.mu.Unlock()

	logger.Info("[inhibit] session state -> %d (%d monitor(s))", state, len(monitors))
	for _, m := range monitors {
		p.emitState(m, state)
	}
	p.notify(state)
}

func (p *Portal) emitState(m *monitorSession, state uint32) {
	if p.conn == nil {
		return
	}
	payload := map[string]dbus.Variant{
		STATE_SCREENSAVER: dbus.MakeVariant(false),
		STATE_SESSION:     dbus.MakeVariant(state),
	}
	if err := p.conn.Emit(portal.ObjectPath, STATE_CHANGED_SIGNAL, m.Handle(), payload); err != nil {
		logger.Warn("[inhibit] emitting StateChanged to %s: %v", m.Handle(), err)
	}
}

func (p *Portal) notify(state uint32) {
	select {
	case p.eventsC <- events.Event{Type: events.TypeLoginState, Data: state}:
	default:
		logger.Warn("[inhibit] event channel full, dropping %s", events.TypeLoginState)
	}
}
