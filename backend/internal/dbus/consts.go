package dbus

// Standard D-Bus method and signal names
const (
	DBUS_INTERFACE = "org.freedesktop.DBus"

	INTROSPECTABLE  = DBUS_INTERFACE + ".Introspectable"
	BUS_ADD_MATCH   = DBUS_INTERFACE + ".AddMatch"
	DBUS_PROP_IFACE = DBUS_INTERFACE + ".Properties"

	PROP_GET = DBUS_PROP_IFACE + ".Get"

	NAME_OWNER_CHANGED = DBUS_INTERFACE + ".NameOwnerChanged"
)
