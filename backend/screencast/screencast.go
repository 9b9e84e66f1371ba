package screencast

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	idbus "github.com/b0bbywan/go-portal-backend/backend/internal/dbus"
	"github.com/b0bbywan/go-portal-backend/backend/portal"
	"github.com/b0bbywan/go-portal-backend/config"
	"github.com/b0bbywan/go-portal-backend/consent"
	"github.com/b0bbywan/go-portal-backend/logger"
	"github.com/b0bbywan/go-portal-backend/store"
)

// AVAILABLE_SOURCE_TYPES advertises what the compositor side can record.
const AVAILABLE_SOURCE_TYPES = uint32(consent.SourceMonitor) | uint32(consent.SourceWindow)

// Portal implements org.freedesktop.impl.portal.ScreenCast.
type Portal struct {
	ctx      context.Context
	conn     *dbus.Conn
	registry *portal.Registry
	capture  portal.CaptureFactory
	prompter consent.Prompter
	// tokens is nil when persistence is disabled.
	tokens *store.Store
	cfg    *config.ScreenCastConfig
}

func New(ctx context.Context, conn *dbus.Conn, registry *portal.Registry, capture portal.CaptureFactory, prompter consent.Prompter, tokens *store.Store, cfg *config.ScreenCastConfig) *Portal {
	return &Portal{
		ctx:      ctx,
		conn:     conn,
		registry: registry,
		capture:  capture,
		prompter: prompter,
		tokens:   tokens,
		cfg:      cfg,
	}
}

// Export puts the portal interface on the bus. Introspection and properties
// for the shared portal object are assembled by the backend.
func (p *Portal) Export() error {
	return p.conn.ExportMethodTable(p.methodTable(), portal.ObjectPath, SCREENCAST_IFACE)
}

func (p *Portal) methodTable() map[string]interface{} {
	h := &handler{p}
	return map[string]interface{}{
		"CreateSession": h.CreateSession,
		"SelectSources": h.SelectSources,
		"Start":         h.Start,
	}
}

// Introspection describes the exported interface for the shared object node.
func (p *Portal) Introspection() introspect.Interface {
	return introspect.Interface{
		Name: SCREENCAST_IFACE,
		Methods: []introspect.Method{
			{Name: "CreateSession", Args: []introspect.Arg{
				{Name: "handle", Type: "o", Direction: "in"},
				{Name: "session_handle", Type: "o", Direction: "in"},
				{Name: "app_id", Type: "s", Direction: "in"},
				{Name: "options", Type: "a{sv}", Direction: "in"},
				{Name: "response", Type: "u", Direction: "out"},
				{Name: "results", Type: "a{sv}", Direction: "out"},
			}},
			{Name: "SelectSources", Args: []introspect.Arg{
				{Name: "handle", Type: "o", Direction: "in"},
				{Name: "session_handle", Type: "o", Direction: "in"},
				{Name: "app_id", Type: "s", Direction: "in"},
				{Name: "options", Type: "a{sv}", Direction: "in"},
				{Name: "response", Type: "u", Direction: "out"},
				{Name: "results", Type: "a{sv}", Direction: "out"},
			}},
			{Name: "Start", Args: []introspect.Arg{
				{Name: "handle", Type: "o", Direction: "in"},
				{Name: "session_handle", Type: "o", Direction: "in"},
				{Name: "app_id", Type: "s", Direction: "in"},
				{Name: "parent_window", Type: "s", Direction: "in"},
				{Name: "options", Type: "a{sv}", Direction: "in"},
				{Name: "response", Type: "u", Direction: "out"},
				{Name: "results", Type: "a{sv}", Direction: "out"},
			}},
		},
		Properties: []introspect.Property{
			{Name: "AvailableSourceTypes", Type: "u", Access: "read"},
			{Name: "AvailableCursorModes", Type: "u", Access: "read"},
			{Name: "version", Type: "u", Access: "read"},
		},
	}
}

// Properties returns the interface properties for the shared prop export.
func (p *Portal) Properties() map[string]*prop.Prop {
	return map[string]*prop.Prop{
		"AvailableSourceTypes": {Value: AVAILABLE_SOURCE_TYPES, Emit: prop.EmitFalse},
		"AvailableCursorModes": {Value: AVAILABLE_CURSOR_MODES, Emit: prop.EmitFalse},
		"version":              {Value: PORTAL_VERSION, Emit: prop.EmitFalse},
	}
}

// handler carries the bus-facing methods so only those get exported.
type handler struct {
	p *Portal
}

func (h *handler) CreateSession(sender dbus.Sender, handle, sessionHandle dbus.ObjectPath, appID string, options map[string]dbus.Variant) (uint32, map[string]dbus.Variant, *dbus.Error) {
	p := h.p
	req := portal.NewRequest(p.conn, p.registry, handle, string(sender), appID)
	if err := req.Export(); err != nil {
		return 0, nil, portal.ErrExists("request handle %s in use", handle)
	}
	defer req.Complete()

	if !sessionHandle.IsValid() {
		return 0, nil, portal.ErrInvalidArgument("invalid session handle: %s", sessionHandle)
	}

	capture, err := p.capture()
	if err != nil {
		logger.Error("[screencast] compositor session for %s failed: %v", appID, err)
		return portal.ResponseOther, map[string]dbus.Variant{}, nil
	}

	sess := newSession(portal.NewBaseSession(p.conn, p.registry, sessionHandle, string(sender), appID), capture)
	if err := sess.Export(sess); err != nil {
		if stopErr := capture.Stop(); stopErr != nil {
			logger.Warn("[screencast] stopping orphaned capture: %v", stopErr)
		}
		return 0, nil, portal.ErrExists("session handle %s in use", sessionHandle)
	}
	capture.OnClosed(sess.CloseAndNotify)

	logger.Info("[screencast] session %s created for %s", sessionHandle, appID)
	return portal.ResponseSuccess, map[string]dbus.Variant{}, nil
}

func (h *handler) SelectSources(sender dbus.Sender, handle, sessionHandle dbus.ObjectPath, appID string, options map[string]dbus.Variant) (uint32, map[string]dbus.Variant, *dbus.Error) {
	p := h.p
	req := portal.NewRequest(p.conn, p.registry, handle, string(sender), appID)
	if err := req.Export(); err != nil {
		return 0, nil, portal.ErrExists("request handle %s in use", handle)
	}
	defer req.Complete()

	owner, ok := p.registry.Lookup(sessionHandle, appID)
	if !ok {
		return 0, nil, portal.ErrNotFound(sessionHandle)
	}
	configurer, ok := owner.(portal.SourceConfigurer)
	if !ok {
		return 0, nil, portal.ErrInvalidArgument("session %s does not take source selection", sessionHandle)
	}

	types := idbus.MapUint32(options, OPT_TYPES)
	if types == 0 {
		types = uint32(consent.SourceMonitor)
	}
	if types&^AVAILABLE_SOURCE_TYPES != 0 {
		return 0, nil, portal.ErrInvalidArgument("unsupported source types: %d", types)
	}
	cursorMode := idbus.MapUint32(options, OPT_CURSOR_MODE)
	if cursorMode == 0 {
		cursorMode = CursorHidden
	}
	if cursorMode&^AVAILABLE_CURSOR_MODES != 0 || cursorMode&(cursorMode-1) != 0 {
		return 0, nil, portal.ErrInvalidArgument("unsupported cursor mode: %d", cursorMode)
	}

	if err := configurer.SetSources(types, idbus.MapBool(options, OPT_MULTIPLE), cursorMode); err != nil {
		return 0, nil, portal.ErrExists("session %s already started", sessionHandle)
	}

	if restorer, ok := owner.(interface{ SetRestore(uint32, string) }); ok {
		restorer.SetRestore(idbus.MapUint32(options, OPT_PERSIST_MODE), idbus.MapString(options, OPT_RESTORE_TOKEN))
	}
	return portal.ResponseSuccess, map[string]dbus.Variant{}, nil
}

func (h *handler) Start(sender dbus.Sender, handle, sessionHandle dbus.ObjectPath, appID, parentWindow string, options map[string]dbus.Variant) (uint32, map[string]dbus.Variant, *dbus.Error) {
	p := h.p
	req := portal.NewRequest(p.conn, p.registry, handle, string(sender), appID)
	if err := req.Export(); err != nil {
		return 0, nil, portal.ErrExists("request handle %s in use", handle)
	}

	sess, ok := portal.LookupAs[*Session](p.registry, sessionHandle, appID)
	if !ok {
		req.Complete()
		return 0, nil, portal.ErrNotFound(sessionHandle)
	}

	prompter := p.prompter
	persistMode, restoreToken := sess.restore()
	if restoreToken != "" && p.tokens != nil {
		if rec, ok := p.tokens.Lookup(appID, PortalKind, restoreToken); ok {
			logger.Info("[screencast] restoring grant for %s without dialog", appID)
			prompter = restoredGrant(rec)
		}
	}

	coordinator := portal.NewStartCoordinator(portal.CoordinatorConfig{
		Component: PortalKind,
		Prompter:  prompter,
		Capture:   sess.capture,
		Query:     sess.query(appID, parentWindow),
		Timeout:   p.cfg.StartTimeout,
		Registry:  p.registry,
	})
	if err := sess.beginStart(coordinator); err != nil {
		req.Complete()
		return 0, nil, portal.ErrExists("session %s already started", sessionHandle)
	}
	req.OnClose(coordinator.Cancel)

	go coordinator.Run(p.ctx)
	out := coordinator.Wait(p.ctx)
	sess.finishStart(out.Response == portal.ResponseSuccess)
	req.Complete()

	if out.Response != portal.ResponseSuccess {
		// A failed start leaves the session unusable; close it server-side.
		sess.CloseAndNotify()
		return out.Response, map[string]dbus.Variant{}, nil
	}

	results := map[string]dbus.Variant{
		RESULT_STREAMS: dbus.MakeVariant(streamInfos(out.Streams)),
	}
	if persistMode != consent.PersistNone && p.tokens != nil {
		token, err := p.tokens.Issue(appID, PortalKind, out.Selection.Sources, 0)
		if err != nil {
			logger.Warn("[screencast] issuing restore token for %s: %v", appID, err)
		} else {
			results[RESULT_RESTORE_TOKEN] = dbus.MakeVariant(token)
			results[RESULT_PERSIST_MODE] = dbus.MakeVariant(persistMode)
		}
	}
	logger.Info("[screencast] session %s started with %d stream(s)", sessionHandle, len(out.Streams))
	return portal.ResponseSuccess, results, nil
}

// restoredGrant replays a stored selection instead of prompting.
func restoredGrant(rec store.Record) consent.Prompter {
	return consent.PrompterFunc(func(ctx context.Context, q consent.Query) (consent.Result, error) {
		return consent.Result{
			Response: portal.ResponseSuccess,
			Sources:  rec.Sources,
			Devices:  rec.Devices,
		}, nil
	})
}

// streamInfo marshals as (ua{sv}) in the streams result entry.
type streamInfo struct {
	NodeID uint32
	Props  map[string]dbus.Variant
}

func streamInfos(streams []portal.StreamResult) []streamInfo {
	infos := make([]streamInfo, 0, len(streams))
	for _, st := range streams {
		props := map[string]dbus.Variant{
			"source_type": dbus.MakeVariant(uint32(st.Source.Kind)),
		}
		if st.Geometry.HasPosition {
			props["position"] = dbus.MakeVariant(struct{ X, Y int32 }{st.Geometry.Position[0], st.Geometry.Position[1]})
		}
		if st.Geometry.HasSize {
			props["size"] = dbus.MakeVariant(struct{ W, H int32 }{st.Geometry.Size[0], st.Geometry.Size[1]})
		}
		infos = append(infos, streamInfo{NodeID: st.NodeID, Props: props})
	}
	return infos
}
