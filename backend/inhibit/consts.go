package inhibit

const (
	INHIBIT_IFACE = "org.freedesktop.impl.portal.Inhibit"

	PORTAL_VERSION uint32 = 3

	// Inhibit flag bits
	FlagLogout     uint32 = 1
	FlagUserSwitch uint32 = 2
	FlagSuspend    uint32 = 4
	FlagIdle       uint32 = 8

	ALL_FLAGS = FlagLogout | FlagUserSwitch | FlagSuspend | FlagIdle

	// StateChanged payload keys
	STATE_SCREENSAVER = "screensaver-active"
	STATE_SESSION     = "session-state"

	// Session states carried in StateChanged
	SessionRunning  uint32 = 1
	SessionQueryEnd uint32 = 2
	SessionEnding   uint32 = 3

	STATE_CHANGED_SIGNAL = INHIBIT_IFACE + ".StateChanged"

	OPT_REASON = "reason"

	// logind constants for the system bus watcher
	LOGIN1_SERVICE   = "org.freedesktop.login1"
	LOGIN1_PATH      = "/org/freedesktop/login1"
	LOGIN1_MANAGER   = LOGIN1_SERVICE + ".Manager"
	SIG_PREP_SLEEP   = LOGIN1_MANAGER + ".PrepareForSleep"
	SIG_PREP_SHUTOFF = LOGIN1_MANAGER + ".PrepareForShutdown"
)
