package screencast

const (
	SCREENCAST_IFACE = "org.freedesktop.impl.portal.ScreenCast"

	// PortalKind tags tokens in the grant store.
	PortalKind = "screencast"

	PORTAL_VERSION uint32 = 4

	// Cursor mode bits
	CursorHidden   uint32 = 1
	CursorEmbedded uint32 = 2
	CursorMetadata uint32 = 4

	AVAILABLE_CURSOR_MODES = CursorHidden | CursorEmbedded | CursorMetadata

	// Option and result keys
	OPT_TYPES         = "types"
	OPT_MULTIPLE      = "multiple"
	OPT_CURSOR_MODE   = "cursor_mode"
	OPT_PERSIST_MODE  = "persist_mode"
	OPT_RESTORE_TOKEN = "restore_token"

	RESULT_STREAMS       = "streams"
	RESULT_RESTORE_TOKEN = "restore_token"
	RESULT_PERSIST_MODE  = "persist_mode"
)
