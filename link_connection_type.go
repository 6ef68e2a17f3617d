package roadflow

// LinkConnectionType tells ramps (OSM *_link highways) apart from plain roads
type LinkConnectionType uint16

const (
	// Plain way
	NOT_A_LINK = LinkConnectionType(iota)
	// Ramp between two roads
	IS_LINK
)

func (iotaIdx LinkConnectionType) String() string {
	if iotaIdx == IS_LINK {
		return "ramp"
	}
	return "road"
}
