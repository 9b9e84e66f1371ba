package remotedesktop

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/b0bbywan/go-portal-backend/backend/portal"
	"github.com/b0bbywan/go-portal-backend/config"
	"github.com/b0bbywan/go-portal-backend/consent"
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
func (s *instantStream) Geometry() portal.StreamGeometry { return portal.StreamGeometry{} }

type fakeCapture struct {
	nextNode uint32
	started  int
	stopped  int
}

func (c *fakeCapture) Start() error {
	c.started++
	return nil
}
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
func (c *fakeCapture) OnClosed(fn func()) {}

// grantDevices grants the asked devices and echoes any asked sources.
func grantDevices() consent.Prompter {
	return consent.PrompterFunc(func(ctx context.Context, q consent.Query) (consent.Result, error) {
		res := consent.Result{Response: portal.ResponseSuccess, Devices: q.DeviceTypes}
		if q.SourceTypes&uint32(consent.SourceMonitor) != 0 {
			res.Sources = []consent.Source{{Kind: consent.SourceMonitor, Connector: "DP-1"}}
		}
		return res, nil
	})
}

func newTestPortal(t *testing.T) (*handler, *portal.Registry, *fakeCapture) {
	t.Helper()
	capture := &fakeCapture{}
	registry := portal.NewRegistry()
	p := New(context.Background(), nil, registry,
		func() (portal.CaptureSession, error) { return capture, nil },
		grantDevices(), nil, &config.RemoteDesktopConfig{Enabled: true})
	return &handler{p}, registry, capture
}

func TestStart_DeviceOnly(t *testing.T) {
	h, _, capture := newTestPortal(t)
	if _, _, derr := h.CreateSession(":1.7", "/req/1", "/sess/1", "org.foo.App", nil); derr != nil {
		t.Fatalf("CreateSession failed: %v", derr)
	}
	opts := map[string]dbus.Variant{OPT_TYPES: dbus.MakeVariant(consent.DevicePointer | consent.DeviceKeyboard)}
	if _, _, derr := h.SelectDevices(":1.7", "/req/2", "/sess/1", "org.foo.App", opts); derr != nil {
		t.Fatalf("SelectDevices failed: %v", derr)
	}

	// No screens shared: the start must resolve without any stream readiness.
	resp, results, derr := h.Start(":1.7", "/req/3", "/sess/1", "org.foo.App", "", nil)
	if derr != nil {
		t.Fatalf("Start failed: %v", derr)
	}
	if resp != portal.ResponseSuccess {
		t.Fatalf("response = %d, want 0", resp)
	}
	devices, _ := results[RESULT_DEVICES].Value().(uint32)
	if devices != consent.DevicePointer|consent.DeviceKeyboard {
		t.Errorf("devices = %d, want pointer|keyboard", devices)
	}
	if _, ok := results[RESULT_STREAMS]; ok {
		t.Error("device-only start should carry no streams entry")
	}
	if capture.started != 1 {
		t.Errorf("capture started %d times, want 1", capture.started)
	}
}

func TestStart_WithScreens(t *testing.T) {
	h, _, _ := newTestPortal(t)
	if _, _, derr := h.CreateSession(":1.7", "/req/1", "/sess/1", "org.foo.App", nil); derr != nil {
		t.Fatalf("CreateSession failed: %v", derr)
	}

	// The screencast portal routes SelectSources to the same session kind.
	sess, ok := portal.LookupAs[*Session](h.p.registry, "/sess/1", "org.foo.App")
	if !ok {
		t.Fatal("session not registered")
	}
	if err := sess.SetSources(uint32(consent.SourceMonitor), false, 1); err != nil {
		t.Fatalf("SetSources failed: %v", err)
	}

	resp, results, derr := h.Start(":1.7", "/req/2", "/sess/1", "org.foo.App", "", nil)
	if derr != nil || resp != portal.ResponseSuccess {
		t.Fatalf("Start = (%d, %v), want (0, nil)", resp, derr)
	}
	streams, _ := results[RESULT_STREAMS].Value().([]streamInfo)
	if len(streams) != 1 {
		t.Errorf("streams = %+v, want one entry", streams)
	}
}

func TestSelectDevices_Validation(t *testing.T) {
	h, _, _ := newTestPortal(t)
	if _, _, derr := h.CreateSession(":1.7", "/req/1", "/sess/1", "org.foo.App", nil); derr != nil {
		t.Fatalf("CreateSession failed: %v", derr)
	}

	bad := map[string]dbus.Variant{OPT_TYPES: dbus.MakeVariant(uint32(32))}
	if _, _, derr := h.SelectDevices(":1.7", "/req/2", "/sess/1", "org.foo.App", bad); derr == nil {
		t.Error("out-of-range device types should be an error")
	}
	if _, _, derr := h.SelectDevices(":1.7", "/req/3", "/sess/none", "org.foo.App", nil); derr == nil {
		t.Error("unknown session handle should be an error")
	}
}

func TestStart_SecondStartRejected(t *testing.T) {
	h, _, _ := newTestPortal(t)
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
