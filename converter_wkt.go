package roadflow

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// PrepareWKTLinestring returns WKT representation of LineString. Empty geometry gives empty string.
func PrepareWKTLinestring(geom orb.LineString) string {
	if len(geom) == 0 {
		return ""
	}
	return wkt.MarshalString(geom)
}

// PrepareWKTPoint returns WKT representation of Point
func PrepareWKTPoint(pt orb.Point) string {
	return wkt.MarshalString(pt)
}
