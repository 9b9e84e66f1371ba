package backend

import (
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/b0bbywan/go-portal-backend/backend/portal"
	"github.com/b0bbywan/go-portal-backend/config"
	"github.com/b0bbywan/go-portal-backend/consent"
)

type fakeSession struct {
	handle dbus.ObjectPath
	sender string
	appID  string
	closed bool
}

func (s *fakeSession) Handle() dbus.ObjectPath { return s.handle }
func (s *fakeSession) Sender() string          { return s.sender }
func (s *fakeSession) AppID() string           { return s.appID }
func (s *fakeSession) Close()                  { s.closed = true }
func (s *fakeSession) CloseAndNotify()         { s.closed = true }
func (s *fakeSession) Active() bool            { return !s.closed }

func ownerChanged(name, oldOwner, newOwner string) *dbus.Signal {
	return &dbus.Signal{
		Name: "org.freedesktop.DBus.NameOwnerChanged",
		Body: []interface{}{name, oldOwner, newOwner},
	}
}

func TestHandleNameOwnerChanged_TearsDownVanishedPeer(t *testing.T) {
	registry := portal.NewRegistry()
	b := &Backend{Registry: registry}

	sess := &fakeSession{handle: "/sess/a", sender: ":1.42", appID: "org.foo.App"}
	if err := registry.Register(sess); err != nil {
		t.Fatalf("Register session failed: %v", err)
	}

	req := portal.NewRequest(nil, registry, "/req/a", ":1.42", "org.foo.App")
	if err := req.Export(); err != nil {
		t.Fatalf("Export request failed: %v", err)
	}

	survivor := &fakeSession{handle: "/sess/b", sender: ":1.99", appID: "org.bar.App"}
	if err := registry.Register(survivor); err != nil {
		t.Fatalf("Register survivor failed: %v", err)
	}

	b.handleNameOwnerChanged(ownerChanged(":1.42", ":1.42", ""))

	if !sess.closed {
		t.Error("session owned by vanished peer should be closed")
	}
	if _, ok := registry.Lookup("/req/a", ""); ok {
		t.Error("request owned by vanished peer should be unregistered")
	}
	if survivor.closed {
		t.Error("session owned by a live peer must not be touched")
	}
	if _, ok := registry.Lookup("/sess/b", ""); !ok {
		t.Error("survivor should still be registered")
	}
}

func TestHandleNameOwnerChanged_IgnoresIrrelevantSignals(t *testing.T) {
	registry := portal.NewRegistry()
	b := &Backend{Registry: registry}

	sess := &fakeSession{handle: "/sess/a", sender: ":1.42", appID: "org.foo.App"}
	if err := registry.Register(sess); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	tests := []struct {
		name string
		sig  *dbus.Signal
	}{
		{"well-known name", ownerChanged("org.foo.App", ":1.42", "")},
		{"name acquired", ownerChanged(":1.42", "", ":1.42")},
		{"owner replaced", ownerChanged(":1.42", ":1.42", ":1.43")},
		{"short body", &dbus.Signal{Body: []interface{}{":1.42"}}},
		{"non-string name", &dbus.Signal{Body: []interface{}{7, ":1.42", ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b.handleNameOwnerChanged(tt.sig)
			if sess.closed {
				t.Error("session should not be closed")
			}
		})
	}
}

func TestHandleNameOwnerChanged_UnknownPeerIsNoop(t *testing.T) {
	b := &Backend{Registry: portal.NewRegistry()}
	// Nothing registered for this sender; must not panic.
	b.handleNameOwnerChanged(ownerChanged(":1.7", ":1.7", ""))
}

func TestNewPrompter_ModeSelection(t *testing.T) {
	cmd := newPrompter(&config.ConsentConfig{Mode: "command", Command: "/usr/bin/true"})
	if _, ok := cmd.(*consent.CommandPrompter); !ok {
		t.Errorf("mode=command: got %T, want *consent.CommandPrompter", cmd)
	}

	auto := newPrompter(&config.ConsentConfig{Mode: "auto"})
	if _, ok := auto.(*consent.AutoPrompter); !ok {
		t.Errorf("mode=auto: got %T, want *consent.AutoPrompter", auto)
	}
}

func TestBackendClose_NilMembers(t *testing.T) {
	b := &Backend{}
	// Should not panic with nothing initialized.
	b.Close()
}
