package roadflow

import (
	"math"

	"github.com/pkg/errors"
)

type LaneGroupID int

var (
	ErrNegativeFlow         = errors.New("negative flow")
	ErrInsufficientVehicles = errors.New("lane group holds fewer vehicles than requested")
)

// LaneGroup is the capability contract shared by every traffic model of a lane
// group. The node solver only talks to lane groups through it.
type LaneGroup interface {
	ID() LaneGroupID
	Link() *Link
	ModelType() ModelType
	// LaneRange returns the inclusive 1-based lanes covered by the lane group
	LaneRange() (int, int)
	NumLanes() int
	LengthMeters() float64
	// MaxVehicles is the number of vehicles the lane group holds at jam density
	MaxVehicles() float64

	// States returns the active states in ascending order
	States() []StateKey
	AddState(key StateKey)
	// RoadConnectionForState returns the connection a state must use to leave the lane group
	RoadConnectionForState(key StateKey) (RoadConnectionID, bool)
	// RoadConnectionForOutlink returns the connection leading to the link; false means
	// an unconstrained passthrough or an unreachable link
	RoadConnectionForOutlink(linkID LinkID) (RoadConnectionID, bool)

	// Demand returns how much of the state may leave the lane group during the current tick
	Demand(key StateKey) float64
	// Supply returns how much flow the lane group may accept during the current tick
	Supply() float64
	TotalVehicles() float64
	VehiclesForCommodity(commodityID CommodityID) float64
	AcceptFlow(timestamp float64, key StateKey, flow float64) error
	ReleaseFlow(timestamp float64, key StateKey, flow float64) error

	FlowAccumulator() *FlowAccumulator
	RequestFlowAccumulator() *FlowAccumulator
	RequestFlowAccumulatorForCommodity(commodityID CommodityID) *FlowAccumulator
	RequestFlowAccumulatorForState(key StateKey) *FlowAccumulator

	initialize(sim *Simulation) error
	base() *laneGroupBase
}

// laneGroupBase holds what every lane group model shares: topology, states and routing
type laneGroupBase struct {
	net                    *Network
	link                   *Link
	outlink2roadconnection map[LinkID]RoadConnectionID
	state2roadconnection   map[StateKey]RoadConnectionID
	states                 []StateKey
	flowAccumulator        *FlowAccumulator
	accumulateCommodities  map[CommodityID]struct{}
	lengthMeters           float64
	maxVehicles            float64
	id                     LaneGroupID
	laneFrom               int
	laneTo                 int
	accumulateAll          bool
}

func newLaneGroupBase(net *Network, link *Link, id LaneGroupID, laneFrom, laneTo int) laneGroupBase {
	lanes := float64(laneTo - laneFrom + 1)
	return laneGroupBase{
		net:                    net,
		link:                   link,
		outlink2roadconnection: make(map[LinkID]RoadConnectionID),
		state2roadconnection:   make(map[StateKey]RoadConnectionID),
		states:                 make([]StateKey, 0),
		lengthMeters:           link.lengthMeters,
		maxVehicles:            link.roadParams.JamDensityVPKPL * link.lengthMeters * lanes / 1000.0,
		id:                     id,
		laneFrom:               laneFrom,
		laneTo:                 laneTo,
	}
}

func (lg *laneGroupBase) base() *laneGroupBase {
	return lg
}

func (lg *laneGroupBase) ID() LaneGroupID {
	return lg.id
}

func (lg *laneGroupBase) Link() *Link {
	return lg.link
}

func (lg *laneGroupBase) LaneRange() (int, int) {
	return lg.laneFrom, lg.laneTo
}

func (lg *laneGroupBase) NumLanes() int {
	return lg.laneTo - lg.laneFrom + 1
}

func (lg *laneGroupBase) LengthMeters() float64 {
	return lg.lengthMeters
}

func (lg *laneGroupBase) MaxVehicles() float64 {
	return lg.maxVehicles
}

func (lg *laneGroupBase) States() []StateKey {
	return lg.states
}

// AddState registers the state and resolves the road connection it has to exit through
func (lg *laneGroupBase) AddState(key StateKey) {
	var added bool
	lg.states, added = insertStateKey(lg.states, key)
	if !added {
		return
	}
	if next, ok := lg.net.nextLink(key, lg.link); ok {
		if rcID, ok := lg.outlink2roadconnection[next]; ok {
			lg.state2roadconnection[key] = rcID
		}
	}
	if lg.flowAccumulator != nil {
		if _, ok := lg.accumulateCommodities[key.CommodityID]; ok || lg.accumulateAll {
			lg.flowAccumulator.AddKey(key)
		}
	}
}

func (lg *laneGroupBase) RoadConnectionForState(key StateKey) (RoadConnectionID, bool) {
	rcID, ok := lg.state2roadconnection[key]
	return rcID, ok
}

func (lg *laneGroupBase) RoadConnectionForOutlink(linkID LinkID) (RoadConnectionID, bool) {
	rcID, ok := lg.outlink2roadconnection[linkID]
	return rcID, ok
}

func (lg *laneGroupBase) FlowAccumulator() *FlowAccumulator {
	return lg.flowAccumulator
}

func (lg *laneGroupBase) ensureFlowAccumulator() *FlowAccumulator {
	if lg.flowAccumulator == nil {
		lg.flowAccumulator = NewFlowAccumulator()
		lg.accumulateCommodities = make(map[CommodityID]struct{})
	}
	return lg.flowAccumulator
}

// RequestFlowAccumulator tracks every state, including the ones added later
func (lg *laneGroupBase) RequestFlowAccumulator() *FlowAccumulator {
	acc := lg.ensureFlowAccumulator()
	lg.accumulateAll = true
	for _, key := range lg.states {
		acc.AddKey(key)
	}
	return acc
}

// RequestFlowAccumulatorForCommodity tracks every state of the commodity, including the ones added later
func (lg *laneGroupBase) RequestFlowAccumulatorForCommodity(commodityID CommodityID) *FlowAccumulator {
	acc := lg.ensureFlowAccumulator()
	lg.accumulateCommodities[commodityID] = struct{}{}
	for _, key := range lg.states {
		if key.CommodityID == commodityID {
			acc.AddKey(key)
		}
	}
	return acc
}

func (lg *laneGroupBase) RequestFlowAccumulatorForState(key StateKey) *FlowAccumulator {
	acc := lg.ensureFlowAccumulator()
	acc.AddKey(key)
	return acc
}

func (lg *laneGroupBase) updateFlowAccumulator(key StateKey, flow float64) {
	if lg.flowAccumulator != nil {
		lg.flowAccumulator.Increment(key, flow)
	}
}

func (lg *laneGroupBase) resetFlowAccumulator() {
	if lg.flowAccumulator != nil {
		lg.flowAccumulator.Reset()
	}
}

// checkFlow rejects negative and non-finite flows
func checkFlow(lgID LaneGroupID, key StateKey, flow float64) error {
	if flow < 0 || math.IsNaN(flow) || math.IsInf(flow, 0) {
		return errors.Wrapf(ErrNegativeFlow, "lane group %d, state %s, flow %f", lgID, key, flow)
	}
	return nil
}
