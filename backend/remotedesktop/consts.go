package remotedesktop

import "github.com/b0bbywan/go-portal-backend/consent"

const (
	REMOTEDESKTOP_IFACE = "org.freedesktop.impl.portal.RemoteDesktop"

	// PortalKind tags tokens in the grant store.
	PortalKind = "remotedesktop"

	PORTAL_VERSION uint32 = 2

	AVAILABLE_DEVICE_TYPES = consent.DeviceKeyboard | consent.DevicePointer | consent.DeviceTouchscreen

	// Option and result keys
	OPT_TYPES         = "types"
	OPT_PERSIST_MODE  = "persist_mode"
	OPT_RESTORE_TOKEN = "restore_token"

	RESULT_DEVICES       = "devices"
	RESULT_STREAMS       = "streams"
	RESULT_RESTORE_TOKEN = "restore_token"
	RESULT_PERSIST_MODE  = "persist_mode"
)
