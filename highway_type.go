package roadflow

type HighwayType uint16

const (
	HIGHWAY_MOTORWAY = HighwayType(iota + 1)
	HIGHWAY_MOTORWAY_LINK
	HIGHWAY_TRUNK
	HIGHWAY_TRUNK_LINK
	HIGHWAY_PRIMARY
	HIGHWAY_PRIMARY_LINK
	HIGHWAY_SECONDARY
	HIGHWAY_SECONDARY_LINK
	HIGHWAY_TERTIARY
	HIGHWAY_TERTIARY_LINK
	HIGHWAY_RESIDENTIAL
	HIGHWAY_LIVING_STREET
	HIGHWAY_SERVICE
	HIGHWAY_UNCLASSIFIED

	HIGHWAY_UNDEFINED = HighwayType(0)
)

func (iotaIdx HighwayType) String() string {
	return [...]string{"undefined", "motorway", "motorway_link", "trunk", "trunk_link", "primary", "primary_link", "secondary", "secondary_link", "tertiary", "tertiary_link", "residential", "living_street", "service", "unclassified"}[iotaIdx]
}

// getHighwayType returns HIGHWAY_UNDEFINED for highways vehicles can not use
func getHighwayType(str string) HighwayType {
	if found, ok := highwaysTypes[str]; ok {
		return found
	}
	return HIGHWAY_UNDEFINED
}

var (
	linkTypeByHighway = map[HighwayType]linkComposition{
		HIGHWAY_MOTORWAY:       {LINK_MOTORWAY, NOT_A_LINK},
		HIGHWAY_MOTORWAY_LINK:  {LINK_MOTORWAY, IS_LINK},
		HIGHWAY_TRUNK:          {LINK_TRUNK, NOT_A_LINK},
		HIGHWAY_TRUNK_LINK:     {LINK_TRUNK, IS_LINK},
		HIGHWAY_PRIMARY:        {LINK_PRIMARY, NOT_A_LINK},
		HIGHWAY_PRIMARY_LINK:   {LINK_PRIMARY, IS_LINK},
		HIGHWAY_SECONDARY:      {LINK_SECONDARY, NOT_A_LINK},
		HIGHWAY_SECONDARY_LINK: {LINK_SECONDARY, IS_LINK},
		HIGHWAY_TERTIARY:       {LINK_TERTIARY, NOT_A_LINK},
		HIGHWAY_TERTIARY_LINK:  {LINK_TERTIARY, IS_LINK},
		HIGHWAY_RESIDENTIAL:    {LINK_RESIDENTIAL, NOT_A_LINK},
		HIGHWAY_LIVING_STREET:  {LINK_LIVING_STREET, NOT_A_LINK},
		HIGHWAY_SERVICE:        {LINK_SERVICE, NOT_A_LINK},
		HIGHWAY_UNCLASSIFIED:   {LINK_UNCLASSIFIED, NOT_A_LINK},
	}

	highwaysTypes = map[string]HighwayType{
		"motorway":       HIGHWAY_MOTORWAY,
		"motorway_link":  HIGHWAY_MOTORWAY_LINK,
		"trunk":          HIGHWAY_TRUNK,
		"trunk_link":     HIGHWAY_TRUNK_LINK,
		"primary":        HIGHWAY_PRIMARY,
		"primary_link":   HIGHWAY_PRIMARY_LINK,
		"secondary":      HIGHWAY_SECONDARY,
		"secondary_link": HIGHWAY_SECONDARY_LINK,
		"tertiary":       HIGHWAY_TERTIARY,
		"tertiary_link":  HIGHWAY_TERTIARY_LINK,
		"residential":    HIGHWAY_RESIDENTIAL,
		"living_street":  HIGHWAY_LIVING_STREET,
		"service":        HIGHWAY_SERVICE,
		"unclassified":   HIGHWAY_UNCLASSIFIED,
	}
)
