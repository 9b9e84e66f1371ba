package backend

import (
	"strings"

	"github.com/godbus/dbus/v5"

	idbus "github.com/b0bbywan/go-portal-backend/backend/internal/dbus"
	"github.com/b0bbywan/go-portal-backend/backend/portal"
	"github.com/b0bbywan/go-portal-backend/logger"
)

// watchPeers subscribes to NameOwnerChanged so objects owned by a client that
// crashed or disconnected are torn down instead of leaking.
func (b *Backend) watchPeers() error {
	rule := "type='signal',interface='org.freedesktop.DBus',member='NameOwnerChanged'"
	if err := idbus.AddMatchRule(b.conn, rule); err != nil {
		return err
	}

	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)
	go b.listenPeers(ch)

	logger.Debug("[backend] peer watcher started")
	return nil
}

func (b *Backend) listenPeers(ch <-chan *dbus.Signal) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			if sig.Name == idbus.NAME_OWNER_CHANGED {
				b.handleNameOwnerChanged(sig)
			}
		}
	}
}

// handleNameOwnerChanged reacts to a unique name dropping off the bus.
// Body[0] = bus name, Body[1] = old owner, Body[2] = new owner.
func (b *Backend) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}
	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, ":") {
		return
	}
	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)
	if oldOwner == "" || newOwner != "" {
		return
	}

	owned := b.Registry.OwnedBy(name)
	if len(owned) == 0 {
		return
	}
	logger.Info("[backend] peer %s vanished, closing %d object(s)", name, len(owned))
	for _, o := range owned {
		switch o := o.(type) {
		case portal.Session:
			o.Close()
		case *portal.Request:
			o.Abort()
		default:
			b.Registry.Unregister(o.Handle())
		}
	}
}
