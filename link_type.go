package roadflow

import "strings"

// LinkType is the functional road class a link has been imported with
type LinkType uint16

const (
	LINK_MOTORWAY = LinkType(iota + 1)
	LINK_TRUNK
	LINK_PRIMARY
	LINK_SECONDARY
	LINK_TERTIARY
	LINK_RESIDENTIAL
	LINK_LIVING_STREET
	LINK_SERVICE
	LINK_UNCLASSIFIED
	LINK_CONNECTOR

	LINK_UNDEFINED = LinkType(0)
)

var linkTypeNames = [...]string{"undefined", "motorway", "trunk", "primary", "secondary", "tertiary", "residential", "living_street", "service", "unclassified", "connector"}

func (iotaIdx LinkType) String() string {
	if int(iotaIdx) >= len(linkTypeNames) {
		return linkTypeNames[0]
	}
	return linkTypeNames[iotaIdx]
}

// ParseLinkType returns LINK_UNDEFINED for unknown names
func ParseLinkType(str string) LinkType {
	str = strings.ToLower(str)
	for i, name := range linkTypeNames {
		if name == str {
			return LinkType(i)
		}
	}
	return LINK_UNDEFINED
}

type linkComposition struct {
	linkType           LinkType
	linkConnectionType LinkConnectionType
}

var (
	defaultLanesByLinkType = map[LinkType]int{
		LINK_MOTORWAY:      4,
		LINK_TRUNK:         3,
		LINK_PRIMARY:       3,
		LINK_SECONDARY:     2,
		LINK_TERTIARY:      2,
		LINK_RESIDENTIAL:   1,
		LINK_LIVING_STREET: 1,
		LINK_SERVICE:       1,
		LINK_UNCLASSIFIED:  1,
		LINK_CONNECTOR:     2,
	}
	defaultSpeedByLinkType = map[LinkType]float64{
		LINK_MOTORWAY:      120,
		LINK_TRUNK:         100,
		LINK_PRIMARY:       80,
		LINK_SECONDARY:     60,
		LINK_TERTIARY:      40,
		LINK_RESIDENTIAL:   30,
		LINK_LIVING_STREET: 20,
		LINK_SERVICE:       30,
		LINK_UNCLASSIFIED:  30,
		LINK_CONNECTOR:     120,
	}
	defaultCapacityByLinkType = map[LinkType]float64{
		LINK_MOTORWAY:      2300,
		LINK_TRUNK:         2200,
		LINK_PRIMARY:       1800,
		LINK_SECONDARY:     1600,
		LINK_TERTIARY:      1200,
		LINK_RESIDENTIAL:   1000,
		LINK_LIVING_STREET: 800,
		LINK_SERVICE:       800,
		LINK_UNCLASSIFIED:  800,
		LINK_CONNECTOR:     9999,
	}
)

func defaultLanes(linkType LinkType) int {
	if lanes, ok := defaultLanesByLinkType[linkType]; ok {
		return lanes
	}
	return 1
}

func defaultSpeed(linkType LinkType) float64 {
	if speed, ok := defaultSpeedByLinkType[linkType]; ok {
		return speed
	}
	return defaultRoadParams.FreeSpeedKPH
}

func defaultCapacity(linkType LinkType) float64 {
	if capacity, ok := defaultCapacityByLinkType[linkType]; ok {
		return capacity
	}
	return defaultRoadParams.CapacityVPHPL
}
