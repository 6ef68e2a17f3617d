package roadflow

import (
	"log/slog"
	"regexp"
	"strconv"

	"github.com/paulmach/osm"
)

// wayData is a drivable OSM way with its tags flattened
type wayData struct {
	name               string
	highway            string
	junction           string
	area               string
	motorVehicle       string
	access             string
	motorcar           string
	service            string
	nodes              []osm.NodeID
	lanesBackward      int
	lanesForward       int
	lanes              int
	maxSpeed           float64
	ID                 osm.WayID
	linkConnectionType LinkConnectionType
	linkType           LinkType
	oneway             bool
	isReversed         bool
}

var (
	mphRegExp    = regexp.MustCompile(`(\d+\.?\d*)\s*mph`)
	numberRegExp = regexp.MustCompile(`\d+\.?\d*`)
	lanesRegExp  = regexp.MustCompile(`^\d+`)
)

const kmhPerMph = 1.609344

func newWayData(way *osm.Way, logger *slog.Logger) *wayData {
	data := &wayData{
		ID:            way.ID,
		nodes:         make([]osm.NodeID, 0, len(way.Nodes)),
		lanes:         -1,
		lanesForward:  -1,
		lanesBackward: -1,
		maxSpeed:      -1,
	}
	for _, node := range way.Nodes {
		data.nodes = append(data.nodes, node.ID)
	}
	data.processTags(way.Tags, logger)
	return data
}

func (way *wayData) processTags(tags osm.Tags, logger *slog.Logger) {
	way.name = tags.Find("name")
	way.highway = tags.Find("highway")
	way.junction = tags.Find("junction")
	way.area = tags.Find("area")
	way.motorVehicle = tags.Find("motor_vehicle")
	way.access = tags.Find("access")
	way.motorcar = tags.Find("motorcar")
	way.service = tags.Find("service")

	if composition, ok := linkTypeByHighway[getHighwayType(way.highway)]; ok {
		way.linkType = composition.linkType
		way.linkConnectionType = composition.linkConnectionType
	}

	way.lanes = parseLanesTag(tags.Find("lanes"), "lanes", way.ID, logger)
	way.lanesForward = parseLanesTag(tags.Find("lanes:forward"), "lanes:forward", way.ID, logger)
	way.lanesBackward = parseLanesTag(tags.Find("lanes:backward"), "lanes:backward", way.ID, logger)

	maxSpeed := tags.Find("maxspeed")
	if maxSpeed != "" {
		if found := mphRegExp.FindStringSubmatch(maxSpeed); found != nil {
			value, err := strconv.ParseFloat(found[1], 64)
			if err == nil {
				way.maxSpeed = value * kmhPerMph
			}
		} else if found := numberRegExp.FindString(maxSpeed); found != "" {
			value, err := strconv.ParseFloat(found, 64)
			if err == nil {
				way.maxSpeed = value
			}
		}
		if way.maxSpeed <= 0 {
			way.maxSpeed = -1
			logger.Debug("unhandled maxspeed tag", "way", way.ID, "value", maxSpeed)
		}
	}

	onewayText := tags.Find("oneway")
	switch onewayText {
	case "yes", "1", "true":
		way.oneway = true
	case "-1":
		way.oneway = true
		way.isReversed = true
	case "no", "0", "false":
		way.oneway = false
	case "":
		if _, ok := junctionTypes[way.junction]; ok {
			way.oneway = true
		} else if way.linkType == LINK_MOTORWAY {
			way.oneway = true
		}
	default:
		// Time-dependent directions are imported as two-way roads
		if _, ok := onewayReversible[onewayText]; !ok {
			logger.Warn("unhandled oneway tag", "way", way.ID, "value", onewayText)
		}
	}
}

func parseLanesTag(value, tag string, wayID osm.WayID, logger *slog.Logger) int {
	if value == "" {
		return -1
	}
	found := lanesRegExp.FindString(value)
	lanes, err := strconv.Atoi(found)
	if err != nil || lanes < 1 {
		logger.Debug("lanes tag should be a positive integer", "tag", tag, "way", wayID, "value", value)
		return -1
	}
	return lanes
}

// isDrivable returns true when cars may use the way
func (way *wayData) isDrivable() bool {
	if way.linkType == LINK_UNDEFINED || way.area == "yes" || len(way.nodes) < 2 {
		return false
	}
	if _, ok := autoAccessInclude[ACCESS_MOTOR_VEHICLE][way.motorVehicle]; ok {
		return true
	}
	if _, ok := autoAccessInclude[ACCESS_MOTORCAR][way.motorcar]; ok {
		return true
	}
	checks := map[AccessType]string{
		ACCESS_HIGHWAY:       way.highway,
		ACCESS_MOTOR_VEHICLE: way.motorVehicle,
		ACCESS_MOTORCAR:      way.motorcar,
		ACCESS_OSM_ACCESS:    way.access,
		ACCESS_SERVICE:       way.service,
	}
	for accessType, value := range checks {
		if _, ok := autoAccessExclude[accessType][value]; ok {
			return false
		}
	}
	return true
}

// directionLanes returns lanes in forward and backward direction. Zero means
// the direction is not imported.
func (way *wayData) directionLanes() (int, int) {
	if way.oneway {
		lanes := way.lanes
		if lanes < 1 {
			lanes = way.defaultLanes()
		}
		if way.isReversed {
			return 0, lanes
		}
		return lanes, 0
	}
	forward, backward := way.lanesForward, way.lanesBackward
	if way.lanes > 0 {
		if forward < 1 && backward > 0 {
			forward = way.lanes - backward
		}
		if backward < 1 && forward > 0 {
			backward = way.lanes - forward
		}
		if forward < 1 && backward < 1 {
			forward = (way.lanes + 1) / 2
			backward = way.lanes / 2
		}
	}
	if forward < 1 {
		forward = way.defaultLanes()
	}
	if backward < 1 {
		backward = way.defaultLanes()
	}
	return forward, backward
}

// defaultLanes is the lane count of a direction without lanes tags. Ramps get a single lane.
func (way *wayData) defaultLanes() int {
	if way.linkConnectionType == IS_LINK {
		return 1
	}
	return defaultLanes(way.linkType)
}

// freeSpeed returns maxspeed tag when present, link type default otherwise
func (way *wayData) freeSpeed() float64 {
	if way.maxSpeed > 0 {
		return way.maxSpeed
	}
	return defaultSpeed(way.linkType)
}
