package roadflow

type CommodityID int

type PathID int

// Commodity is a class of traffic demand. Pathfull commodities follow fixed
// paths, the others are routed at every link by split ratios.
type Commodity struct {
	name     string
	pathIDs  []PathID
	splits   map[LinkID]map[LinkID]float64
	ID       CommodityID
	pathfull bool
}

func (commodity *Commodity) Name() string {
	return commodity.name
}

func (commodity *Commodity) IsPathfull() bool {
	return commodity.pathfull
}

func (commodity *Commodity) Paths() []PathID {
	return commodity.pathIDs
}

// SplitRatio returns the share of the commodity on link which continues to outlink
func (commodity *Commodity) SplitRatio(linkID, outlinkID LinkID) float64 {
	if ratios, ok := commodity.splits[linkID]; ok {
		return ratios[outlinkID]
	}
	return 0
}

// Path is an ordered sequence of consecutive links
type Path struct {
	links []LinkID
	ID    PathID
}

func (path *Path) Links() []LinkID {
	return path.links
}

func (path *Path) Origin() LinkID {
	return path.links[0]
}

func (path *Path) Destination() LinkID {
	return path.links[len(path.links)-1]
}

// Demand describes constant inflow of a commodity at a source link
type Demand struct {
	rateVPH     float64
	startTime   float64
	commodityID CommodityID
	linkID      LinkID
	pathID      PathID
	hasPath     bool
}

func (demand *Demand) RateVPH() float64 {
	return demand.rateVPH
}

// StartTime returns the simulation time in seconds when the demand begins
func (demand *Demand) StartTime() float64 {
	return demand.startTime
}

func (demand *Demand) CommodityID() CommodityID {
	return demand.commodityID
}

func (demand *Demand) LinkID() LinkID {
	return demand.linkID
}

// EntryKey returns the state vehicles have when they appear on the source link
func (demand *Demand) EntryKey() StateKey {
	if demand.hasPath {
		return NewPathStateKey(demand.commodityID, demand.pathID)
	}
	return NewLinkStateKey(demand.commodityID, demand.linkID)
}

// ControlChange sets the control multiplier of a road connection at a given time
type ControlChange struct {
	Time             float64
	Multiplier       float64
	RoadConnectionID RoadConnectionID
}
