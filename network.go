package roadflow

import (
	"sort"

	"github.com/samber/lo"
)

// Network is the arena holding the road graph. Relations between elements are
// kept as identifiers and resolved through the maps below; the topology is
// immutable once BuildNetwork returns.
type Network struct {
	nodes           map[NodeID]*Node
	links           map[LinkID]*Link
	laneGroups      map[LaneGroupID]LaneGroup
	roadConnections map[RoadConnectionID]*RoadConnection
	commodities     map[CommodityID]*Commodity
	paths           map[PathID]*Path
	demands         []*Demand
	controls        []ControlChange

	nodeIDs []NodeID
	linkIDs []LinkID
}

func newNetwork() *Network {
	return &Network{
		nodes:           make(map[NodeID]*Node),
		links:           make(map[LinkID]*Link),
		laneGroups:      make(map[LaneGroupID]LaneGroup),
		roadConnections: make(map[RoadConnectionID]*RoadConnection),
		commodities:     make(map[CommodityID]*Commodity),
		paths:           make(map[PathID]*Path),
		demands:         make([]*Demand, 0),
		controls:        make([]ControlChange, 0),
	}
}

func (net *Network) Node(id NodeID) (*Node, bool) {
	node, ok := net.nodes[id]
	return node, ok
}

func (net *Network) Link(id LinkID) (*Link, bool) {
	link, ok := net.links[id]
	return link, ok
}

func (net *Network) LaneGroup(id LaneGroupID) (LaneGroup, bool) {
	lg, ok := net.laneGroups[id]
	return lg, ok
}

func (net *Network) RoadConnection(id RoadConnectionID) (*RoadConnection, bool) {
	rc, ok := net.roadConnections[id]
	return rc, ok
}

func (net *Network) Commodity(id CommodityID) (*Commodity, bool) {
	commodity, ok := net.commodities[id]
	return commodity, ok
}

func (net *Network) Path(id PathID) (*Path, bool) {
	path, ok := net.paths[id]
	return path, ok
}

// NodeIDs returns node identifiers in ascending order
func (net *Network) NodeIDs() []NodeID {
	return net.nodeIDs
}

// LinkIDs returns link identifiers in ascending order
func (net *Network) LinkIDs() []LinkID {
	return net.linkIDs
}

// LaneGroupIDs returns lane group identifiers in ascending order
func (net *Network) LaneGroupIDs() []LaneGroupID {
	ids := lo.Keys(net.laneGroups)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RoadConnectionIDs returns road connection identifiers in ascending order
func (net *Network) RoadConnectionIDs() []RoadConnectionID {
	ids := lo.Keys(net.roadConnections)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (net *Network) Demands() []*Demand {
	return net.demands
}

func (net *Network) Controls() []ControlChange {
	return net.controls
}

// HasMacroscopicLinks returns true if any link uses the macroscopic cell model
func (net *Network) HasMacroscopicLinks() bool {
	return lo.SomeBy(lo.Values(net.links), func(link *Link) bool { return link.IsMacroscopic() })
}

// LaneGroupsOfLink returns the link's lane groups ordered by their first lane
func (net *Network) LaneGroupsOfLink(link *Link) []LaneGroup {
	lgs := make([]LaneGroup, 0, len(link.laneGroups))
	for _, id := range link.laneGroups {
		lgs = append(lgs, net.laneGroups[id])
	}
	return lgs
}

// TotalVehicles sums vehicles over every lane group
func (net *Network) TotalVehicles() float64 {
	total := 0.0
	for _, id := range net.LaneGroupIDs() {
		total += net.laneGroups[id].TotalVehicles()
	}
	return total
}

// nextLink returns the link a state takes after the given one. False means the
// state leaves the network at the end of the link.
func (net *Network) nextLink(key StateKey, link *Link) (LinkID, bool) {
	if key.IsPath {
		return link.OutlinkForPath(PathID(key.PathOrLinkID))
	}
	next := LinkID(key.PathOrLinkID)
	if next == link.ID {
		return 0, false
	}
	return next, true
}

type weightedState struct {
	key   StateKey
	share float64
}

// entryStates re-keys a state entering link. Path states are kept as they are.
// A link-routed state addressed to this link gets the next link from the
// commodity's split ratios; when the commodity has no ratios here the flow is
// divided evenly among the reachable downstream links.
func (net *Network) entryStates(key StateKey, link *Link) []weightedState {
	if key.IsPath || LinkID(key.PathOrLinkID) != link.ID {
		return []weightedState{{key: key, share: 1}}
	}
	node := net.nodes[link.targetNodeID]
	if node.IsSink() {
		return []weightedState{{key: key, share: 1}}
	}
	outlinks := link.reachableOutlinks
	switch len(outlinks) {
	case 0:
		return []weightedState{{key: key, share: 1}}
	case 1:
		return []weightedState{{key: NewLinkStateKey(key.CommodityID, outlinks[0]), share: 1}}
	}
	ratios := make([]float64, len(outlinks))
	sum := 0.0
	if commodity, ok := net.commodities[key.CommodityID]; ok {
		for i, outlinkID := range outlinks {
			ratios[i] = commodity.SplitRatio(link.ID, outlinkID)
			sum += ratios[i]
		}
	}
	if sum <= 0 {
		for i := range ratios {
			ratios[i] = 1
		}
		sum = float64(len(ratios))
	}
	states := make([]weightedState, 0, len(ratios))
	for i, outlinkID := range outlinks {
		if ratios[i] <= 0 {
			continue
		}
		states = append(states, weightedState{key: NewLinkStateKey(key.CommodityID, outlinkID), share: ratios[i] / sum})
	}
	return states
}
