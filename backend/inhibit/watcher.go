package inhibit

import (
	"context"

	"github.com/godbus/dbus/v5"

	idbus "github.com/b0bbywan/go-portal-backend/backend/internal/dbus"
	"github.com/b0bbywan/go-portal-backend/logger"
)

// Watcher follows logind on the system bus and feeds session state
// transitions to the portal, so monitors hear about an impending shutdown.
type Watcher struct {
	conn   *dbus.Conn
	portal *Portal
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher connects to the system bus and starts listening for logind
// PrepareForShutdown and PrepareForSleep.
func NewWatcher(ctx context.Context, p *Portal) (*Watcher, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{conn: conn, portal: p, ctx: ctx, cancel: cancel}

	rules := []string{
		"type='signal',interface='" + LOGIN1_MANAGER + "',member='PrepareForShutdown'",
		"type='signal',interface='" + LOGIN1_MANAGER + "',member='PrepareForSleep'",
	}
	for _, rule := range rules {
		if err := idbus.AddMatchRule(conn, rule); err != nil {
			cancel()
			w.close()
			return nil, err
		}
	}

	ch := make(chan *dbus.Signal, 8)
	conn.Signal(ch)
	go w.listen(ch)

	logger.Info("[inhibit] logind watcher started")
	return w, nil
}

func (w *Watcher) listen(ch <-chan *dbus.Signal) {
	for {
		select {
		case <-w.ctx.Done():
			w.close()
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			w.handleSignal(sig)
		}
	}
}

func (w *Watcher) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case SIG_PREP_SHUTOFF:
		starting, ok := prepareArg(sig)
		if !ok {
			return
		}
		if starting {
			w.portal.SetSessionState(SessionQueryEnd)
		} else {
			w.portal.SetSessionState(SessionRunning)
		}
	case SIG_PREP_SLEEP:
		if starting, ok := prepareArg(sig); ok {
			logger.Debug("[inhibit] prepare for sleep: %v", starting)
		}
	default:
		logger.Debug("[inhibit] unhandled signal: %s", sig.Name)
	}
}

func prepareArg(sig *dbus.Signal) (bool, bool) {
	if len(sig.Body) < 1 {
		return false, false
	}
	b, ok := sig.Body[0].(bool)
	return b, ok
}

func (w *Watcher) Stop() {
	w.cancel()
}

func (w *Watcher) close() {
	if err := w.conn.Close(); err != nil {
		logger.Warn("[inhibit] closing system bus connection: %v", err)
	}
}
