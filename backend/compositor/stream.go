package compositor

import (
	"github.com/godbus/dbus/v5"

	idbus "github.com/b0bbywan/go-portal-backend/backend/internal/dbus"
	"github.com/b0bbywan/go-portal-backend/backend/portal"
	"github.com/b0bbywan/go-portal-backend/logger"
)

func (st *Stream) Path() dbus.ObjectPath { return st.path }

// OnReady registers fn for the stream's PipeWireStreamAdded signal carrying
// the node id.
func (st *Stream) OnReady(fn func(nodeID uint32)) error {
	st.client.subscribe(st.path, SC_STREAM_ADDED_SIGNAL, func(sig *dbus.Signal) {
		if len(sig.Body) < 1 {
			logger.Warn("[compositor] stream added signal with empty body from %s", sig.Path)
			return
		}
		nodeID, ok := sig.Body[0].(uint32)
		if !ok {
			logger.Warn("[compositor] stream added signal with bad node id from %s", sig.Path)
			return
		}
		fn(nodeID)
	})
	return nil
}

// Geometry reads the stream's Parameters property. Compositors omit position
// or size for streams where they make no sense, window streams for instance.
func (st *Stream) Geometry() portal.StreamGeometry {
	var geo portal.StreamGeometry
	v, err := idbus.GetProperty(st.client.screenCastObj(st.path), SC_STREAM_IFACE, PROP_STREAM_PARAMETERS)
	if err != nil {
		logger.Debug("[compositor] no parameters for stream %s: %v", st.path, err)
		return geo
	}
	params, ok := idbus.ExtractVariantMap(v)
	if !ok {
		return geo
	}
	return parseGeometry(params)
}

// parseGeometry decodes the position and size pairs from a Parameters map.
// Both come over the wire as (ii) structs.
func parseGeometry(params map[string]dbus.Variant) portal.StreamGeometry {
	var geo portal.StreamGeometry
	if pos, ok := extractPair(params, "position"); ok {
		geo.Position = pos
		geo.HasPosition = true
	}
	if size, ok := extractPair(params, "size"); ok {
		geo.Size = size
		geo.HasSize = true
	}
	return geo
}

func extractPair(params map[string]dbus.Variant, key string) ([2]int32, bool) {
	v, ok := params[key]
	if !ok {
		return [2]int32{}, false
	}
	fields, ok := v.Value().([]interface{})
	if !ok || len(fields) != 2 {
		return [2]int32{}, false
	}
	a, aok := fields[0].(int32)
	b, bok := fields[1].(int32)
	if !aok || !bok {
		return [2]int32{}, false
	}
	return [2]int32{a, b}, true
}
