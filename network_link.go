package roadflow

import (
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/osm"
	"github.com/pkg/errors"
)

/* Links stuff */
type LinkID int

type ModelType uint16

const (
	MODEL_NONE = ModelType(iota + 1)
	MODEL_CTM
	MODEL_PQ

	MODEL_UNDEFINED = ModelType(0)
)

func (iotaIdx ModelType) String() string {
	return [...]string{"undefined", "none", "ctm", "pq"}[iotaIdx]
}

// ParseModelType converts textual model name into ModelType. Empty string means macroscopic cell model.
func ParseModelType(str string) (ModelType, error) {
	switch strings.ToLower(str) {
	case "", "ctm":
		return MODEL_CTM, nil
	case "pq":
		return MODEL_PQ, nil
	case "none":
		return MODEL_NONE, nil
	default:
		return MODEL_UNDEFINED, errors.Errorf("Unknown link model '%s'", str)
	}
}

// RoadParams are per-lane traffic parameters of a link
type RoadParams struct {
	// Vehicles per hour per lane
	CapacityVPHPL float64
	// Kilometers per hour
	FreeSpeedKPH float64
	// Vehicles per kilometer per lane
	JamDensityVPKPL float64
	// Kilometers per hour, zero means equal to free speed
	WaveSpeedKPH float64
}

var (
	defaultRoadParams = RoadParams{
		CapacityVPHPL:   1800,
		FreeSpeedKPH:    60,
		JamDensityVPKPL: 140,
	}
)

type Link struct {
	name              string
	geom              orb.LineString
	laneGroups        []LaneGroupID
	path2outlink      map[PathID]LinkID
	reachableOutlinks []LinkID
	lengthMeters      float64
	roadParams        RoadParams
	lanes             int
	ID                LinkID
	osmWayID          osm.WayID
	sourceNodeID      NodeID
	targetNodeID      NodeID
	modelType         ModelType
	linkType          LinkType
}

func (link *Link) Name() string {
	return link.name
}

func (link *Link) Lanes() int {
	return link.lanes
}

func (link *Link) LengthMeters() float64 {
	return link.lengthMeters
}

func (link *Link) ModelType() ModelType {
	return link.modelType
}

func (link *Link) IsMacroscopic() bool {
	return link.modelType == MODEL_CTM
}

func (link *Link) LinkType() LinkType {
	return link.linkType
}

func (link *Link) RoadParams() RoadParams {
	return link.roadParams
}

func (link *Link) SourceNodeID() NodeID {
	return link.sourceNodeID
}

func (link *Link) TargetNodeID() NodeID {
	return link.targetNodeID
}

func (link *Link) Geom() orb.LineString {
	return link.geom
}

func (link *Link) OSMWayID() osm.WayID {
	return link.osmWayID
}

// LaneGroups returns identifiers of link's lane groups ordered by their first lane
func (link *Link) LaneGroups() []LaneGroupID {
	return link.laneGroups
}

// ReachableOutlinks returns downstream links this link is connected to
func (link *Link) ReachableOutlinks() []LinkID {
	return link.reachableOutlinks
}

// OutlinkForPath returns the link following this one on the given path
func (link *Link) OutlinkForPath(pathID PathID) (LinkID, bool) {
	next, ok := link.path2outlink[pathID]
	return next, ok
}

// geometryLength returns haversine length of the geometry in meters (zero for degenerate lines)
func geometryLength(geom orb.LineString) float64 {
	if len(geom) < 2 {
		return 0
	}
	return geo.LengthHaversign(geom)
}
