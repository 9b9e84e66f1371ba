package remotedesktop

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

// Portal implements org.freedesktop.impl.portal.RemoteDesktop.
type Portal struct {
	ctx      context.Context
	conn     *dbus.Conn
	registry *portal.Registry
	capture  portal.CaptureFactory
	prompter consent.Prompter
	// tokens is nil when persistence is disabled.
	tokens *store.Store
	cfg    *config.RemoteDesktopConfig
}

func New(ctx context.Context, conn *dbus.Conn, registry *portal.Registry, capture portal.CaptureFactory, prompter consent.Prompter, tokens *store.Store, cfg *config.RemoteDesktopConfig) *Portal {
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

func (p *Portal) Export() error {
	return p.conn.ExportMethodTable(p.methodTable(), portal.ObjectPath, REMOTEDESKTOP_IFACE)
}

func (p *Portal) methodTable() map[string]interface{} {
	h := &handler{p}
	return map[string]interface{}{
		"CreateSession": h.CreateSession,
		"SelectDevices": h.SelectDevices,
		"Start":         h.Start,
	}
}

func (p *Portal) Introspection() introspect.Interface {
	sessionArgs := []introspect.Arg{
		{Name: "handle", Type: "o", Direction: "in"},
		{Name: "session_handle", Type: "o", Direction: "in"},
		{Name: "app_id", Type: "s", Direction: "in"},
		{Name: "options", Type: "a{sv}", Direction: "in"},
		{Name: "response", Type: "u", Direction: "out"},
		{Name: "results", Type: "a{sv}", Direction: "out"},
	}
	return introspect.Interface{
		Name: REMOTEDESKTOP_IFACE,
		Methods: []introspect.Method{
			{Name: "CreateSession", Args: sessionArgs},
			{Name: "SelectDevices", Args: sessionArgs},
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
			{Name: "AvailableDeviceTypes", Type: "u", Access: "read"},
			{Name: "version", Type: "u", Access: "read"},
		},
	}
}

func (p *Portal) Properties() map[string]*prop.Prop {
	return map[string]*prop.Prop{
		"AvailableDeviceTypes": {Value: AVAILABLE_DEVICE_TYPES, Emit: prop.EmitFalse},
		"version":              {Value: PORTAL_VERSION, Emit: prop.EmitFalse},
	}
}

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
		logger.Error("[remotedesktop] compositor session for %s failed: %v", appID, err)
		return portal.ResponseOther, map[string]dbus.Variant{}, nil
	}

	sess := newSession(portal.NewBaseSession(p.conn, p.registry, sessionHandle, string(sender), appID), capture)
	if err := sess.Export(sess); err != nil {
		if stopErr := capture.Stop(); stopErr != nil {
			logger.Warn("[remotedesktop] stopping orphaned capture: %v", stopErr)
		}
		return 0, nil, portal.ErrExists("session handle %s in use", sessionHandle)
	}
	capture.OnClosed(sess.CloseAndNotify)

	logger.Info("[remotedesktop] session %s created for %s", sessionHandle, appID)
	return portal.ResponseSuccess, map[string]dbus.Variant{}, nil
}

func (h *handler) SelectDevices(sender dbus.Sender, handle, sessionHandle dbus.ObjectPath, appID string, options map[string]dbus.Variant) (uint32, map[string]dbus.Variant, *dbus.Error) {
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
	configurer, ok := owner.(portal.DeviceConfigurer)
	if !ok {
		return 0, nil, portal.ErrInvalidArgument("session %s does not take device selection", sessionHandle)
	}

	types := idbus.MapUint32(options, OPT_TYPES)
	if types == 0 {
		types = AVAILABLE_DEVICE_TYPES
	}
	if types&^AVAILABLE_DEVICE_TYPES != 0 {
		return 0, nil, portal.ErrInvalidArgument("unsupported device types: %d", types)
	}

	if err := configurer.SetDevices(types); err != nil {
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
			logger.Info("[remotedesktop] restoring grant for %s without dialog", appID)
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
		sess.CloseAndNotify()
		return out.Response, map[string]dbus.Variant{}, nil
	}

	results := map[string]dbus.Variant{
		RESULT_DEVICES: dbus.MakeVariant(out.Selection.Devices),
	}
	if len(out.Streams) > 0 {
		results[RESULT_STREAMS] = dbus.MakeVariant(streamInfos(out.Streams))
	}
	if persistMode != consent.PersistNone && p.tokens != nil {
		token, err := p.tokens.Issue(appID, PortalKind, out.Selection.Sources, out.Selection.Devices)
		if err != nil {
			logger.Warn("[remotedesktop] issuing restore token for %s: %v", appID, err)
		} else {
			results[RESULT_RESTORE_TOKEN] = dbus.MakeVariant(token)
			results[RESULT_PERSIST_MODE] = dbus.MakeVariant(persistMode)
		}
	}
	logger.Info("[remotedesktop] session %s started, devices %d, %d stream(s)", sessionHandle, out.Selection.Devices, len(out.Streams))
	return portal.ResponseSuccess, results, nil
}

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
