package compositor

const (
	// GNOME Mutter ScreenCast constants
	SC_IFACE         = "org.gnome.Mutter.ScreenCast"
	SC_SESSION_IFACE = SC_IFACE + ".Session"
	SC_STREAM_IFACE  = SC_IFACE + ".Stream"

	// GNOME Mutter RemoteDesktop constants
	RD_IFACE         = "org.gnome.Mutter.RemoteDesktop"
	RD_SESSION_IFACE = RD_IFACE + ".Session"

	// ScreenCast methods
	SC_CREATE_SESSION = SC_IFACE + ".CreateSession"
	SC_RECORD_MONITOR = SC_SESSION_IFACE + ".RecordMonitor"
	SC_RECORD_WINDOW  = SC_SESSION_IFACE + ".RecordWindow"
	SC_RECORD_VIRTUAL = SC_SESSION_IFACE + ".RecordVirtual"
	SC_SESSION_START  = SC_SESSION_IFACE + ".Start"
	SC_SESSION_STOP   = SC_SESSION_IFACE + ".Stop"

	// RemoteDesktop methods
	RD_CREATE_SESSION = RD_IFACE + ".CreateSession"
	RD_SESSION_START  = RD_SESSION_IFACE + ".Start"
	RD_SESSION_STOP   = RD_SESSION_IFACE + ".Stop"

	// Signal names
	SC_SESSION_CLOSED_SIGNAL = SC_SESSION_IFACE + ".Closed"
	RD_SESSION_CLOSED_SIGNAL = RD_SESSION_IFACE + ".Closed"
	SC_STREAM_ADDED_SIGNAL   = SC_STREAM_IFACE + ".PipeWireStreamAdded"

	// Properties
	PROP_STREAM_PARAMETERS = "Parameters"
	PROP_RD_SESSION_ID     = "SessionId"

	// CreateSession property linking a screencast to a remote desktop session
	PROP_RD_SESSION_LINK = "remote-desktop-session-id"
)
