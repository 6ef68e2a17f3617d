package roadflow

import (
	"github.com/paulmach/orb"
	geojson "github.com/paulmach/go.geojson"
)

// PrepareGeoJSONLinestring returns GeoJSON feature for LineString with given properties
func PrepareGeoJSONLinestring(geom orb.LineString, properties map[string]interface{}) *geojson.Feature {
	pts2d := make([][]float64, len(geom))
	for i := range geom {
		pts2d[i] = []float64{geom[i].Lon(), geom[i].Lat()}
	}
	feature := geojson.NewLineStringFeature(pts2d)
	for k, v := range properties {
		feature.SetProperty(k, v)
	}
	return feature
}

// PrepareGeoJSONPoint returns GeoJSON feature for Point with given properties
func PrepareGeoJSONPoint(pt orb.Point, properties map[string]interface{}) *geojson.Feature {
	feature := geojson.NewPointFeature([]float64{pt.Lon(), pt.Lat()})
	for k, v := range properties {
		feature.SetProperty(k, v)
	}
	return feature
}
