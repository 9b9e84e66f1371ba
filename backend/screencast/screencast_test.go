package screencast

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/b0bbywan/go-portal-backend/backend/portal"
	"github.com/b0bbywan/go-portal-backend/config"
	"github.com/b0bbywan/go-portal-backend/consent"
	"github.com/b0bbywan/go-portal-backend/store"
)

// instantStream reports readiness as soon as anyone subscribes.
type instantStream struct {
	nodeID uint32
}

func (s *instantStream) Path() dbus.ObjectPath { return "/stream/instant" }
func (s *instantStream) OnReady(fn func(nodeID uint32)) error {
	fn(s.nodeID)
	return nil
}
func (s *instantStream) Geometry() portal.StreamGeometry {
	return portal.StreamGeometry{Size: [2]int32{1920, 1080}, HasSize: true}
}

type fakeCapture struct {
	nextNode uint32
	stopped  int
	onClosed func()
}

func (c *fakeCapture) Start() error { return nil }
func (c *fakeCapture) Stop() error {
	c.stopped++
	return nil
}
func (c *fakeCapture) RecordMonitor(connector string, props map[string]dbus.Variant) (portal.CaptureStream, error) {
	c.nextNode++
	return &instantStream{nodeID: c.nextNode}, nil
}
func (c *fakeCapture) RecordWindow(windowID uint64, props map[string]dbus.Variant) (portal.CaptureStream, error) {
	c.nextNode++
	return &instantStream{nodeID: c.nextNode}, nil
}
func (c *fakeCapture) OnClosed(fn func()) { c.onClosed = fn }

func newTestPortal(t *testing.T, prompter consent.Prompter, tokens *store.Store) (*handler, *portal.Registry, *fakeCapture) {
	t.Helper()
	capture := &fakeCapture{}
	registry := portal.NewRegistry()
	p := New(context.Background(), nil, registry,
		func() (portal.CaptureSession, error) { return capture, nil },
		prompter, tokens, &config.ScreenCastConfig{Enabled: true})
	return &handler{p}, registry, capture
}

func acceptAll() consent.Prompter {
	return consent.PrompterFunc(func(ctx context.Context, q consent.Query) (consent.Result, error) {
		return consent.Result{
			Response: portal.ResponseSuccess,
			Sources:  []consent.Source{{Kind: consent.SourceMonitor, Connector: "DP-1"}},
		}, nil
	})
}

func declineAll() consent.Prompter {
	return consent.PrompterFunc(func(ctx context.Context, q consent.Query) (consent.Result, error) {
		return consent.Declined(portal.ResponseCancelled), nil
	})
}

func TestCreateSession(t *testing.T) {
	h, registry, _ := newTestPortal(t, acceptAll(), nil)

	resp, _, derr := h.CreateSession(":1.7", "/req/1", "/sess/1", "org.foo.App", nil)
	if derr != nil {
		t.Fatalf("CreateSession failed: %v", derr)
	}
	if resp != portal.ResponseSuccess {
		t.Fatalf("response = %d, want 0", resp)
	}
	if _, ok := portal.LookupAs[*Session](registry, "/sess/1", "org.foo.App"); !ok {
		t.Error("session should be registered under its handle")
	}

	// Client-chosen handle collision is an error, not a response code.
	if _, _, derr := h.CreateSession(":1.9", "/req/2", "/sess/1", "org.bar.Other", nil); derr == nil {
		t.Error("duplicate session handle should be rejected")
	}
}

func TestSelectSources_Validation(t *testing.T) {
	h, _, _ := newTestPortal(t, acceptAll(), nil)
	if _, _, derr := h.CreateSession(":1.7", "/req/1", "/sess/1", "org.foo.App", nil); derr != nil {
		t.Fatalf("CreateSession failed: %v", derr)
	}

	if _, _, derr := h.SelectSources(":1.7", "/req/2", "/sess/missing", "org.foo.App", nil); derr == nil {
		t.Error("unknown session handle should be an error")
	}

	badTypes := map[string]dbus.Variant{OPT_TYPES: dbus.MakeVariant(uint32(64))}
	if _, _, derr := h.SelectSources(":1.7", "/req/3", "/sess/1", "org.foo.App", badTypes); derr == nil {
		t.Error("out-of-range source types should be an error")
	}

	badCursor := map[string]dbus.Variant{OPT_CURSOR_MODE: dbus.MakeVariant(CursorHidden | CursorEmbedded)}
	if _, _, derr := h.SelectSources(":1.7", "/req/4", "/sess/1", "org.foo.App", badCursor); derr == nil {
		t.Error("multi-bit cursor mode should be an error")
	}

	good := map[string]dbus.Variant{
		OPT_TYPES:       dbus.MakeVariant(uint32(consent.SourceMonitor)),
		OPT_CURSOR_MODE: dbus.MakeVariant(CursorEmbedded),
	}
	resp, _, derr := h.SelectSources(":1.7", "/req/5", "/sess/1", "org.foo.App", good)
	if derr != nil || resp != portal.ResponseSuccess {
		t.Errorf("valid selection = (%d, %v), want (0, nil)", resp, derr)
	}
}

func TestStart_Success(t *testing.T) {
	h, _, _ := newTestPortal(t, acceptAll(), nil)
	if _, _, derr := h.CreateSession(":1.7", "/req/1", "/sess/1", "org.foo.App", nil); derr != nil {
		t.Fatalf("CreateSession failed: %v", derr)
	}

	resp, results, derr := h.Start(":1.7", "/req/2", "/sess/1", "org.foo.App", "", nil)
	if derr != nil {
		t.Fatalf("Start failed: %v", derr)
	}
	if resp != portal.ResponseSuccess {
		t.Fatalf("response = %d, want 0", resp)
	}

	streams, ok := results[RESULT_STREAMS].Value().([]streamInfo)
	if !ok {
		t.Fatalf("streams result missing or wrong type: %v", results[RESULT_STREAMS])
	}
	if len(streams) != 1 || streams[0].NodeID == 0 {
		t.Errorf("streams = %+v, want one entry with a node id", streams)
	}
}

func TestStart_SecondStartRejected(t *testing.T) {
	h, _, _ := newTestPortal(t, acceptAll(), nil)
	if _, _, derr := h.CreateSession(":1.7", "/req/1", "/sess/1", "org.foo.App", nil); derr != nil {
		t.Fatalf("CreateSession failed: %v", derr)
	}
	if resp, _, derr := h.Start(":1.7", "/req/2", "/sess/1", "org.foo.App", "", nil); derr != nil || resp != 0 {
		t.Fatalf("first Start = (%d, %v)", resp, derr)
	}

	if _, _, derr := h.Start(":1.7", "/req/3", "/sess/1", "org.foo.App", "", nil); derr == nil {
		t.Error("second Start on an active session should be an error")
	}
}

func TestStart_DeclineClosesSession(t *testing.T) {
	h, registry, capture := newTestPortal(t, declineAll(), nil)
	if _, _, derr := h.CreateSession(":1.7", "/req/1", "/sess/1", "org.foo.App", nil); derr != nil {
		t.Fatalf("CreateSession failed: %v", derr)
	}

	resp, _, derr := h.Start(":1.7", "/req/2", "/sess/1", "org.foo.App", "", nil)
	if derr != nil {
		t.Fatalf("Start failed: %v", derr)
	}
	if resp != portal.ResponseCancelled {
		t.Errorf("response = %d, want 1", resp)
	}
	if _, ok := registry.Lookup("/sess/1", "org.foo.App"); ok {
		t.Error("declined session should be closed and unregistered")
	}
	if capture.stopped == 0 {
		t.Error("capture should be stopped with the session")
	}
}

func TestStart_RestoreTokenSkipsDialog(t *testing.T) {
	tokens, err := store.New(context.Background(), &config.StoreConfig{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	defer tokens.Close()

	token, err := tokens.Issue("org.foo.App", PortalKind,
		[]consent.Source{{Kind: consent.SourceMonitor, Connector: "DP-1"}}, 0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// The dialog would decline; a valid token must bypass it entirely.
	h, _, _ := newTestPortal(t, declineAll(), tokens)
	if _, _, derr := h.CreateSession(":1.7", "/req/1", "/sess/1", "org.foo.App", nil); derr != nil {
		t.Fatalf("CreateSession failed: %v", derr)
	}
	opts := map[string]dbus.Variant{
		OPT_PERSIST_MODE:  dbus.MakeVariant(consent.PersistPermanent),
		OPT_RESTORE_TOKEN: dbus.MakeVariant(token),
	}
	if _, _, derr := h.SelectSources(":1.7", "/req/2", "/sess/1", "org.foo.App", opts); derr != nil {
		t.Fatalf("SelectSources failed: %v", derr)
	}

	resp, results, derr := h.Start(":1.7", "/req/3", "/sess/1", "org.foo.App", "", nil)
	if derr != nil {
		t.Fatalf("Start failed: %v", derr)
	}
	if resp != portal.ResponseSuccess {
		t.Fatalf("response = %d, want 0 via restored grant", resp)
	}
	if _, ok := results[RESULT_RESTORE_TOKEN]; !ok {
		t.Error("persisting start should hand back a fresh token")
	}
}

func TestStart_UnknownSession(t *testing.T) {
	h, _, _ := newTestPortal(t, acceptAll(), nil)
	if _, _, derr := h.Start(":1.7", "/req/1", "/sess/none", "org.foo.App", "", nil); derr == nil {
		t.Error("Start on unknown session should be an error")
	}
}
