package portal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/b0bbywan/go-portal-backend/consent"
	"github.com/b0bbywan/go-portal-backend/events"
	"github.com/b0bbywan/go-portal-backend/logger"
)

var errReadinessTimeout = errors.New("portal: timed out waiting for stream readiness")

// startEvent is the sum type feeding the coordinator state machine. Every
// asynchronous completion around a Start lands here: the consent outcome,
// each stream readiness notification, a client Close, a collaborator error.
type startEvent interface {
	isStartEvent()
}

type consentResolved struct{ result consent.Result }
type streamReady struct {
	index  int
	nodeID uint32
}
type clientClosed struct{}
type collaboratorFailed struct{ err error }

func (consentResolved) isStartEvent()    {}
func (streamReady) isStartEvent()        {}
func (clientClosed) isStartEvent()       {}
func (collaboratorFailed) isStartEvent() {}

type startState int

const (
	stateAwaitingConsent startState = iota
	stateOpeningStreams
	stateAwaitingReadiness
	stateResolved
	stateCancelled
)

// StartOutcome is the single terminal disposition of a Start call.
type StartOutcome struct {
	Response  uint32
	Selection consent.Result
	Streams   []StreamResult
}

// StartCoordinator ties the consent prompt, the compositor capture session
// and the stream set together to produce exactly one deferred reply for the
// original Start call. All events funnel through one handling function, so
// "resolve at most once" and "ignore late events" are enforced in one place.
type StartCoordinator struct {
	component string
	prompter  consent.Prompter
	capture   CaptureSession
	query     consent.Query
	// timeout bounds the readiness wait; zero waits forever.
	timeout time.Duration

	eventsC chan startEvent
	doneC   chan StartOutcome

	mu       sync.Mutex
	resolved bool

	// Only the Run goroutine touches the fields below.
	state     startState
	streams   *StreamSet
	selection consent.Result

	registry *Registry
}

type CoordinatorConfig struct {
	// Component tags log lines ("screencast", "remotedesktop").
	Component string
	Prompter  consent.Prompter
	Capture   CaptureSession
	Query     consent.Query
	Timeout   time.Duration
	// Registry, when set, receives a start.resolved event on resolution.
	Registry *Registry
}

func NewStartCoordinator(cfg CoordinatorConfig) *StartCoordinator {
	return &StartCoordinator{
		component: cfg.Component,
		prompter:  cfg.Prompter,
		capture:   cfg.Capture,
		query:     cfg.Query,
		timeout:   cfg.Timeout,
		eventsC:   make(chan startEvent, 16),
		doneC:     make(chan StartOutcome, 1),
		state:     stateAwaitingConsent,
		registry:  cfg.Registry,
	}
}

// Run drives the state machine until it resolves or ctx is cancelled.
// Callers run it in its own goroutine and read the outcome through Wait.
func (c *StartCoordinator) Run(ctx context.Context) {
	go c.prompt(ctx)

	var timeoutC <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.resolve(ResponseOther, nil)
			return
		case ev := <-c.eventsC:
			c.handle(ev)
		case <-timeoutC:
			c.handle(collaboratorFailed{errReadinessTimeout})
		}

		if c.isResolved() {
			return
		}
		if c.state == stateAwaitingReadiness && timer == nil && c.timeout > 0 {
			timer = time.NewTimer(c.timeout)
			timeoutC = timer.C
		}
	}
}

// Wait blocks until the coordinator resolves. The outcome is produced
// exactly once; a cancelled ctx yields a generic failure disposition.
func (c *StartCoordinator) Wait(ctx context.Context) StartOutcome {
	select {
	case out := <-c.doneC:
		return out
	case <-ctx.Done():
		return StartOutcome{Response: ResponseOther}
	}
}

// Cancel reports a client-initiated close of the Start request.
func (c *StartCoordinator) Cancel() {
	c.post(clientClosed{})
}

func (c *StartCoordinator) prompt(ctx context.Context) {
	res, err := c.prompter.Prompt(ctx, c.query)
	if err != nil {
		c.post(collaboratorFailed{err})
		return
	}
	c.post(consentResolved{res})
}

// post delivers an event to the Run loop. Events arriving after resolution
// are dropped here or ignored by handle; either way they are no-ops.
func (c *StartCoordinator) post(ev startEvent) {
	c.mu.Lock()
	resolved := c.resolved
	c.mu.Unlock()
	if resolved {
		logger.Debug("[%s] ignoring %T after start resolution", c.component, ev)
		return
	}
	select {
	case c.eventsC <- ev:
	default:
		logger.Warn("[%s] start event queue full, dropping %T", c.component, ev)
	}
}

func (c *StartCoordinator) handle(ev startEvent) {
	if c.isResolved() {
		return
	}
	switch ev := ev.(type) {
	case consentResolved:
		if c.state != stateAwaitingConsent {
			logger.Warn("[%s] consent outcome in state %d ignored", c.component, c.state)
			return
		}
		c.onConsent(ev.result)
	case streamReady:
		if c.state != stateAwaitingReadiness {
			logger.Debug("[%s] stream %d readiness in state %d ignored", c.component, ev.index, c.state)
			return
		}
		c.onStreamReady(ev.index, ev.nodeID)
	case clientClosed:
		logger.Debug("[%s] start cancelled by client in state %d", c.component, c.state)
		c.resolve(ResponseOther, nil)
	case collaboratorFailed:
		logger.Error("[%s] start aborted: %v", c.component, ev.err)
		c.resolve(ResponseOther, nil)
	}
}

// onConsent handles the dialog outcome: declines resolve immediately with
// the dialog's own code, accepts move on to the compositor.
func (c *StartCoordinator) onConsent(res consent.Result) {
	if res.Response != ResponseSuccess {
		c.resolve(res.Response, nil)
		return
	}
	c.selection = res

	if err := c.capture.Start(); err != nil {
		logger.Error("[%s] compositor session start failed: %v", c.component, err)
		c.resolve(ResponseOther, nil)
		return
	}

	c.state = stateOpeningStreams
	opened := make([]CaptureStream, 0, len(res.Sources))
	for _, src := range res.Sources {
		stream, err := c.openStream(src)
		if err != nil {
			// No partial success: streams already opened stay with the
			// compositor session and go away on session close.
			logger.Error("[%s] opening stream for %+v failed: %v", c.component, src, err)
			c.resolve(ResponseOther, nil)
			return
		}
		opened = append(opened, stream)
	}

	c.streams = NewStreamSet(opened, res.Sources)
	c.state = stateAwaitingReadiness

	for i, stream := range opened {
		index := i
		if err := stream.OnReady(func(nodeID uint32) {
			c.post(streamReady{index: index, nodeID: nodeID})
		}); err != nil {
			logger.Error("[%s] subscribing stream %d readiness failed: %v", c.component, i, err)
			c.resolve(ResponseOther, nil)
			return
		}
	}

	// A device-only start has nothing to wait for.
	if c.streams.Pending() == 0 {
		c.resolve(ResponseSuccess, c.streams.Results())
	}
}

func (c *StartCoordinator) openStream(src consent.Source) (CaptureStream, error) {
	props := map[string]dbus.Variant{}
	if c.query.CursorMode != 0 {
		props["cursor-mode"] = dbus.MakeVariant(c.query.CursorMode)
	}
	switch src.Kind {
	case consent.SourceMonitor, consent.SourceVirtual:
		return c.capture.RecordMonitor(src.Connector, props)
	case consent.SourceWindow:
		return c.capture.RecordWindow(src.WindowID, props)
	default:
		return nil, errors.New("portal: unknown source kind")
	}
}

func (c *StartCoordinator) onStreamReady(index int, nodeID uint32) {
	if !c.streams.MarkReady(index, nodeID) {
		logger.Debug("[%s] duplicate readiness for stream %d ignored", c.component, index)
		return
	}
	logger.Debug("[%s] stream %d ready, node %d, %d pending", c.component, index, nodeID, c.streams.Pending())
	if c.streams.Pending() == 0 {
		c.resolve(ResponseSuccess, c.streams.Results())
	}
}

func (c *StartCoordinator) isResolved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved
}

// resolve completes the original Start exactly once. Every path that can
// terminate the machine funnels through here and checks the guard first.
func (c *StartCoordinator) resolve(response uint32, streams []StreamResult) {
	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		return
	}
	c.resolved = true
	c.mu.Unlock()

	if response == ResponseSuccess {
		c.state = stateResolved
	} else {
		c.state = stateCancelled
	}
	out := StartOutcome{
		Response:  response,
		Selection: c.selection,
		Streams:   streams,
	}
	c.doneC <- out
	if c.registry != nil {
		c.registry.notify(events.TypeStartResolved, response)
	}
	logger.Info("[%s] start resolved with response %d (%d stream(s))", c.component, response, len(streams))
}
