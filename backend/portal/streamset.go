package portal

import (
	"github.com/godbus/dbus/v5"

	"github.com/b0bbywan/go-portal-backend/consent"
)

// StreamGeometry is the optional position/size a compositor reports for a
// stream.
type StreamGeometry struct {
	Position    [2]int32
	Size        [2]int32
	HasPosition bool
	HasSize     bool
}

// CaptureSession is the compositor-side session a Start drives. Opening a
// stream is synchronous; readiness arrives later through OnReady.
type CaptureSession interface {
	Start() error
	Stop() error
	RecordMonitor(connector string, props map[string]dbus.Variant) (CaptureStream, error)
	RecordWindow(windowID uint64, props map[string]dbus.Variant) (CaptureStream, error)
	// OnClosed registers fn for a compositor-initiated close of the session.
	OnClosed(fn func())
}

// CaptureFactory opens a fresh compositor-side session.
type CaptureFactory func() (CaptureSession, error)

// CaptureStream is one compositor-side stream awaiting pipewire readiness.
type CaptureStream interface {
	Path() dbus.ObjectPath
	// OnReady registers fn for the stream's readiness notification carrying
	// the backend-assigned pipewire node id. Notifications for different
	// streams arrive in arbitrary order.
	OnReady(fn func(nodeID uint32)) error
	Geometry() StreamGeometry
}

// StreamResult is one ready stream in a successful Start outcome.
type StreamResult struct {
	NodeID   uint32
	Source   consent.Source
	Geometry StreamGeometry
}

type streamSlot struct {
	stream CaptureStream
	source consent.Source
	nodeID uint32
	ready  bool
}

// StreamSet tracks the streams opened for one Start attempt and counts down
// the readiness notifications still missing. The count never goes negative:
// duplicate notifications are ignored.
type StreamSet struct {
	slots   []streamSlot
	pending int
}

func NewStreamSet(streams []CaptureStream, sources []consent.Source) *StreamSet {
	slots := make([]streamSlot, len(streams))
	for i, st := range streams {
		slots[i] = streamSlot{stream: st, source: sources[i]}
	}
	return &StreamSet{slots: slots, pending: len(streams)}
}

func (ss *StreamSet) Len() int     { return len(ss.slots) }
func (ss *StreamSet) Pending() int { return ss.pending }

// MarkReady records a readiness notification for slot i. Returns false for
// out-of-range indexes and for slots already marked, leaving the pending
// count untouched.
func (ss *StreamSet) MarkReady(i int, nodeID uint32) bool {
	if i < 0 || i >= len(ss.slots) {
		return false
	}
	if ss.slots[i].ready {
		return false
	}
	ss.slots[i].ready = true
	ss.slots[i].nodeID = nodeID
	ss.pending--
	return true
}

// Results aggregates the ready streams. Only meaningful once Pending is zero.
func (ss *StreamSet) Results() []StreamResult {
	results := make([]StreamResult, 0, len(ss.slots))
	for _, slot := range ss.slots {
		results = append(results, StreamResult{
			NodeID:   slot.nodeID,
			Source:   slot.source,
			Geometry: slot.stream.Geometry(),
		})
	}
	return results
}
