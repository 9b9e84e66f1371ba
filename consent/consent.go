package consent

import "context"

// SourceKind identifies what a capture source points at.
type SourceKind uint32

const (
	SourceMonitor SourceKind = 1
	SourceWindow  SourceKind = 2
	SourceVirtual SourceKind = 4
)

// Device type bits shareable over remote desktop.
const (
	DeviceKeyboard    uint32 = 1
	DevicePointer     uint32 = 2
	DeviceTouchscreen uint32 = 4
)

// Persist modes requested by the application for its grant.
const (
	PersistNone      uint32 = 0
	PersistTransient uint32 = 1
	PersistPermanent uint32 = 2
)

// Source is one capture source picked in a consent prompt.
type Source struct {
	Kind      SourceKind `json:"kind"`
	Connector string     `json:"connector,omitempty"`
	WindowID  uint64     `json:"window_id,omitempty"`
}

// Query describes what an application is asking to share.
type Query struct {
	AppID        string `json:"app_id"`
	ParentWindow string `json:"parent_window,omitempty"`
	// SourceTypes is a SourceKind bitmask; zero when only devices are shared.
	SourceTypes uint32 `json:"source_types"`
	DeviceTypes uint32 `json:"device_types"`
	Multiple    bool   `json:"multiple"`
	CursorMode  uint32 `json:"cursor_mode"`
	PersistMode uint32 `json:"persist_mode"`
}

// Result is the single terminal outcome of a consent prompt.
// Response follows portal codes: 0 accept, 1 explicit decline, 2 dismissed.
type Result struct {
	Response uint32   `json:"response"`
	Sources  []Source `json:"sources,omitempty"`
	Devices  uint32   `json:"devices,omitempty"`
	// Persist reports whether the user agreed to persist the grant.
	Persist bool `json:"persist,omitempty"`
}

// Prompter collects user consent for a share request. Implementations report
// exactly one terminal outcome per call; an error means the prompt machinery
// failed, not that the user declined.
type Prompter interface {
	Prompt(ctx context.Context, q Query) (Result, error)
}

// PrompterFunc adapts a function to the Prompter interface. Used for grants
// resolved without a dialog, a valid restore token for instance.
type PrompterFunc func(ctx context.Context, q Query) (Result, error)

func (f PrompterFunc) Prompt(ctx context.Context, q Query) (Result, error) {
	return f(ctx, q)
}

// Declined builds a terminal decline result for the given response code.
func Declined(response uint32) Result {
	return Result{Response: response}
}
