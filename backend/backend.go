package backend

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/login1"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/b0bbywan/go-portal-backend/backend/compositor"
	"github.com/b0bbywan/go-portal-backend/backend/inhibit"
	idbus "github.com/b0bbywan/go-portal-backend/backend/internal/dbus"
	"github.com/b0bbywan/go-portal-backend/backend/portal"
	"github.com/b0bbywan/go-portal-backend/backend/remotedesktop"
	"github.com/b0bbywan/go-portal-backend/backend/screencast"
	"github.com/b0bbywan/go-portal-backend/config"
	"github.com/b0bbywan/go-portal-backend/consent"
	"github.com/b0bbywan/go-portal-backend/logger"
	"github.com/b0bbywan/go-portal-backend/store"
)

// Backend owns the session bus connection and the portal implementations
// exported on it.
type Backend struct {
	conn *dbus.Conn
	cfg  *config.Config
	ctx  context.Context

	Registry      *portal.Registry
	Compositor    *compositor.Client
	ScreenCast    *screencast.Portal
	RemoteDesktop *remotedesktop.Portal
	Inhibit       *inhibit.Portal
	Store         *store.Store
	Broadcaster   *Broadcaster

	watcher *inhibit.Watcher
	locker  *login1.Conn
}

func New(ctx context.Context, cfg *config.Config) (*Backend, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connecting session bus: %w", err)
	}

	idbus.DefaultTimeout = cfg.Compositor.Timeout

	b := &Backend{
		conn:     conn,
		cfg:      cfg,
		ctx:      ctx,
		Registry: portal.NewRegistry(),
	}

	comp, err := compositor.NewClient(ctx, conn, cfg.Compositor)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Compositor = comp

	if cfg.Store.Enabled {
		tokens, err := store.New(ctx, cfg.Store)
		if err != nil {
			logger.Warn("[backend] token store unavailable, grants will not persist: %v", err)
		} else {
			b.Store = tokens
		}
	}

	prompter := newPrompter(cfg.Consent)

	if cfg.ScreenCast.Enabled {
		factory := func() (portal.CaptureSession, error) {
			return comp.CreateScreenCastSession(nil)
		}
		b.ScreenCast = screencast.New(ctx, conn, b.Registry, factory, prompter, b.Store, cfg.ScreenCast)
	}

	if cfg.RemoteDesktop.Enabled {
		factory := func() (portal.CaptureSession, error) {
			remote, err := comp.CreateRemoteSession()
			if err != nil {
				return nil, err
			}
			return comp.NewCombinedSession(remote, nil)
		}
		b.RemoteDesktop = remotedesktop.New(ctx, conn, b.Registry, factory, prompter, b.Store, cfg.RemoteDesktop)
	}

	if cfg.Inhibit.Enabled {
		locker, err := login1.New()
		if err != nil {
			logger.Warn("[backend] logind unavailable, disabling inhibit portal: %v", err)
		} else {
			b.locker = locker
			b.Inhibit = inhibit.New(ctx, conn, b.Registry, locker, cfg.Inhibit)
		}
	}

	b.Broadcaster = newBroadcasterFromBackend(ctx, b)

	logger.Info("[backend] initialized: %s", b.Info())
	return b, nil
}

// newPrompter picks the consent implementation from configuration.
func newPrompter(cfg *config.ConsentConfig) consent.Prompter {
	if cfg.Mode == "command" {
		return consent.NewCommandPrompter(cfg.Command, cfg.Timeout)
	}
	return consent.NewAutoPrompter(cfg.AllowedApps, cfg.Sources)
}

// Start exports the portals, claims the bus name and begins watching peers.
func (b *Backend) Start() error {
	var ifaces []introspect.Interface
	props := map[string]map[string]*prop.Prop{}

	if b.ScreenCast != nil {
		if err := b.ScreenCast.Export(); err != nil {
			return err
		}
		ifaces = append(ifaces, b.ScreenCast.Introspection())
		props[screencast.SCREENCAST_IFACE] = b.ScreenCast.Properties()
	}
	if b.RemoteDesktop != nil {
		if err := b.RemoteDesktop.Export(); err != nil {
			return err
		}
		ifaces = append(ifaces, b.RemoteDesktop.Introspection())
		props[remotedesktop.REMOTEDESKTOP_IFACE] = b.RemoteDesktop.Properties()
	}
	if b.Inhibit != nil {
		if err := b.Inhibit.Export(); err != nil {
			return err
		}
		ifaces = append(ifaces, b.Inhibit.Introspection())
		props[inhibit.INHIBIT_IFACE] = b.Inhibit.Properties()

		watcher, err := inhibit.NewWatcher(b.ctx, b.Inhibit)
		if err != nil {
			logger.Warn("[backend] logind watcher unavailable: %v", err)
		} else {
			b.watcher = watcher
		}
	}

	if err := b.exportRoot(ifaces, props); err != nil {
		return err
	}
	if err := b.watchPeers(); err != nil {
		return err
	}

	reply, err := b.conn.RequestName(b.cfg.Bus.Name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("requesting name %s: %w", b.cfg.Bus.Name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s already taken", b.cfg.Bus.Name)
	}

	logger.Info("[backend] serving as %s", b.cfg.Bus.Name)
	return nil
}

// exportRoot publishes introspection and properties for the shared portal
// object carrying all portal interfaces.
func (b *Backend) exportRoot(ifaces []introspect.Interface, props map[string]map[string]*prop.Prop) error {
	if _, err := prop.Export(b.conn, portal.ObjectPath, props); err != nil {
		return err
	}
	node := &introspect.Node{
		Name: string(portal.ObjectPath),
		Interfaces: append([]introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
		}, ifaces...),
	}
	return b.conn.Export(introspect.NewIntrospectable(node), portal.ObjectPath, idbus.INTROSPECTABLE)
}

func (b *Backend) Close() {
	if b.watcher != nil {
		b.watcher.Stop()
	}
	if b.Compositor != nil {
		b.Compositor.Close()
	}
	if b.Store != nil {
		b.Store.Close()
	}
	if b.locker != nil {
		b.locker.Close()
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			logger.Error("[backend] failed to close D-Bus connection: %v", err)
		}
		b.conn = nil
	}
}
