package inhibit

import (
	"context"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/b0bbywan/go-portal-backend/backend/portal"
	"github.com/b0bbywan/go-portal-backend/config"
	"github.com/b0bbywan/go-portal-backend/events"
)

// Locker takes logind inhibitor locks. Satisfied by login1.Conn from
// go-systemd; tests substitute a fake.
type Locker interface {
	Inhibit(what, who, why, mode string) (*os.File, error)
}

// Portal implements org.freedesktop.impl.portal.Inhibit.
type Portal struct {
	ctx      context.Context
	conn     *dbus.Conn
	registry *portal.Registry
	locker   Locker
	cfg      *config.InhibitConfig

	mu sync.Mutex
	// monitors are the live CreateMonitor sessions receiving StateChanged.
	monitors map[dbus.ObjectPath]*monitorSession
	// sessionState is the last state broadcast to monitors.
	sessionState uint32

	eventsC chan events.Event
}

// monitorSession is the session kind behind CreateMonitor. It has no
// compositor side; its lifetime just scopes the StateChanged delivery.
type monitorSession struct {
	*portal.BaseSession

	mu sync.Mutex
	// acked is set by QueryEndResponse during a query-end phase.
	acked bool
}
