package portal

import (
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	idbus "github.com/b0bbywan/go-portal-backend/backend/internal/dbus"
	"github.com/b0bbywan/go-portal-backend/events"
	"github.com/b0bbywan/go-portal-backend/logger"
)

// Request represents one in-flight, single-response client call that may be
// cancelled before it completes. It is exported on the bus at creation so a
// client racing a Close against the dialog has something to find, and
// unexported exactly once: either when the final reply is sent or when the
// client closes it first.
type Request struct {
	conn     *dbus.Conn
	registry *Registry
	handle   dbus.ObjectPath
	sender   string
	appID    string

	mu       sync.Mutex
	exported bool
	onClose  func()
}

func NewRequest(conn *dbus.Conn, registry *Registry, handle dbus.ObjectPath, sender, appID string) *Request {
	return &Request{
		conn:     conn,
		registry: registry,
		handle:   handle,
		sender:   sender,
		appID:    appID,
	}
}

func (r *Request) Handle() dbus.ObjectPath { return r.handle }
func (r *Request) Sender() string          { return r.sender }
func (r *Request) AppID() string           { return r.appID }

// OnClose registers fn to run when the client closes the request before its
// reply is sent. It is not run on normal completion.
func (r *Request) OnClose(fn func()) {
	r.mu.Lock()
	r.onClose = fn
	r.mu.Unlock()
}

// Export registers the request and exports its Close method on the bus.
func (r *Request) Export() error {
	if err := r.registry.Register(r); err != nil {
		return err
	}
	r.mu.Lock()
	r.exported = true
	r.mu.Unlock()
	if r.conn != nil {
		if err := idbus.ExportInterface(r.conn, &requestHandler{r}, r.handle, requestIntrospection()); err != nil {
			r.registry.Unregister(r.handle)
			return err
		}
	}
	logger.Debug("[portal] request %s exported for %s", r.handle, r.appID)
	return nil
}

// Complete finishes the request after its final reply: unregister, then
// unexport. Returns false when the client's Close got there first.
func (r *Request) Complete() bool {
	if !r.retire() {
		return false
	}
	r.teardown()
	r.registry.notify(events.TypeRequestCompleted, string(r.handle))
	return true
}

// retire flips the exported flag exactly once; the loser of a
// complete-versus-close race sees false and does nothing.
func (r *Request) retire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.exported {
		return false
	}
	r.exported = false
	return true
}

// teardown unregisters before unexporting so concurrent lookups never see a
// half-dead object.
func (r *Request) teardown() {
	r.registry.Unregister(r.handle)
	if r.conn != nil {
		if err := idbus.UnexportInterface(r.conn, r.handle, RequestIface); err != nil {
			logger.Warn("[portal] failed to unexport request %s: %v", r.handle, err)
		}
	}
}

// closeFromClient handles a bus-side Close: a no-op on an already-completed
// request, otherwise it retires the request and fires the cancel hook.
func (r *Request) closeFromClient() {
	r.mu.Lock()
	if !r.exported {
		r.mu.Unlock()
		logger.Debug("[portal] close on completed request %s ignored", r.handle)
		return
	}
	r.exported = false
	fn := r.onClose
	r.onClose = nil
	r.mu.Unlock()

	r.teardown()
	logger.Debug("[portal] request %s closed by client", r.handle)
	if fn != nil {
		fn()
	}
}

// Abort cancels the request server-side, as if the client had closed it.
// Used when the requesting peer vanishes from the bus.
func (r *Request) Abort() {
	r.closeFromClient()
}

// requestHandler is the bus-facing shape of a Request.
type requestHandler struct {
	r *Request
}

func (h *requestHandler) Close(sender dbus.Sender) *dbus.Error {
	if string(sender) != h.r.sender {
		return ErrNotAllowed("request owned by another caller")
	}
	h.r.closeFromClient()
	return nil
}

func requestIntrospection() introspect.Interface {
	return introspect.Interface{
		Name: RequestIface,
		Methods: []introspect.Method{
			{Name: "Close"},
		},
	}
}
