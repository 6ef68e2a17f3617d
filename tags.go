package roadflow

// AccessType names the OSM tag deciding whether motor vehicles may use a way
type AccessType uint16

const (
	ACCESS_HIGHWAY = AccessType(iota + 1)
	ACCESS_MOTOR_VEHICLE
	ACCESS_MOTORCAR
	ACCESS_OSM_ACCESS
	ACCESS_SERVICE
	ACCESS_UNDEFINED = AccessType(0)
)

func (iotaIdx AccessType) String() string {
	return [...]string{"undefined", "highway", "motor_vehicle", "motorcar", "access", "service"}[iotaIdx]
}

var (
	// Explicit permission overrides any exclusion below
	autoAccessInclude = map[AccessType]map[string]struct{}{
		ACCESS_MOTOR_VEHICLE: {
			"yes": {},
		},
		ACCESS_MOTORCAR: {
			"yes": {},
		},
	}

	autoAccessExclude = map[AccessType]map[string]struct{}{
		ACCESS_HIGHWAY: {
			"cycleway":      {},
			"footway":       {},
			"pedestrian":    {},
			"steps":         {},
			"track":         {},
			"corridor":      {},
			"elevator":      {},
			"escalator":     {},
			"service":       {},
			"living_street": {},
		},
		ACCESS_MOTOR_VEHICLE: {
			"no": {},
		},
		ACCESS_MOTORCAR: {
			"no": {},
		},
		ACCESS_OSM_ACCESS: {
			"private": {},
			"no":      {},
		},
		ACCESS_SERVICE: {
			"parking":          {},
			"parking_aisle":    {},
			"driveway":         {},
			"private":          {},
			"emergency_access": {},
		},
	}

	junctionTypes = map[string]struct{}{
		"circular":   {},
		"roundabout": {},
	}

	// See ref.: https://wiki.openstreetmap.org/wiki/Tag:oneway%3Dreversible
	onewayReversible = map[string]struct{}{
		"reversible":  {},
		"alternating": {},
	}
)
