package roadflow

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	earthR = 20037508.34
)

func epsg4326To3857(lon, lat float64) (float64, float64) {
	x := lon * earthR / 180
	y := math.Log(math.Tan((90+lat)*math.Pi/360)) / (math.Pi / 180)
	y = y * earthR / 180
	return x, y
}

func pointToEuclidean(pt orb.Point) orb.Point {
	euclideanX, euclideanY := epsg4326To3857(pt.Lon(), pt.Lat())
	return orb.Point{euclideanX, euclideanY}
}

func lineToEuclidean(line orb.LineString) orb.LineString {
	newLine := make(orb.LineString, len(line))
	for i, pt := range line {
		newLine[i] = pointToEuclidean(pt)
	}
	return newLine
}

// angleBetweenLines returns the turn angle in radians from the first line to the second one, positive to the left
//
// Note: panics if number of points in any line is less than 2
//
func angleBetweenLines(l1 orb.LineString, l2 orb.LineString) float64 {
	angle1 := math.Atan2(l1[len(l1)-1].Y()-l1[len(l1)-2].Y(), l1[len(l1)-1].X()-l1[len(l1)-2].X())
	angle2 := math.Atan2(l2[1].Y()-l2[0].Y(), l2[1].X()-l2[0].X())
	angle := angle2 - angle1
	if angle < -1*math.Pi {
		angle += 2 * math.Pi
	}
	if angle > math.Pi {
		angle -= 2 * math.Pi
	}
	return angle
}

// MovementType classifies a turn by its angle
type MovementType uint16

const (
	MOVEMENT_THRU = MovementType(iota + 1)
	MOVEMENT_RIGHT
	MOVEMENT_LEFT
	MOVEMENT_U_TURN

	MOVEMENT_UNDEFINED = MovementType(0)
)

func (iotaIdx MovementType) String() string {
	return [...]string{"undefined", "thru", "right", "left", "uturn"}[iotaIdx]
}

func movementByAngle(angle float64) MovementType {
	switch {
	case -0.25*math.Pi <= angle && angle <= 0.25*math.Pi:
		return MOVEMENT_THRU
	case angle < -0.75*math.Pi || angle > 0.75*math.Pi:
		return MOVEMENT_U_TURN
	case angle < 0:
		return MOVEMENT_RIGHT
	default:
		return MOVEMENT_LEFT
	}
}
