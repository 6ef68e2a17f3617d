package roadflow

import "math"

// NoneLaneGroup carries no traffic model. It accepts any flow, which leaves
// the simulated network, and never holds vehicles.
type NoneLaneGroup struct {
	laneGroupBase
}

func newNoneLaneGroup(net *Network, link *Link, id LaneGroupID, laneFrom, laneTo int) *NoneLaneGroup {
	return &NoneLaneGroup{
		laneGroupBase: newLaneGroupBase(net, link, id, laneFrom, laneTo),
	}
}

func (lg *NoneLaneGroup) ModelType() ModelType {
	return MODEL_NONE
}

func (lg *NoneLaneGroup) initialize(sim *Simulation) error {
	lg.resetFlowAccumulator()
	return nil
}

func (lg *NoneLaneGroup) Demand(key StateKey) float64 {
	return 0
}

// Supply is unbounded
func (lg *NoneLaneGroup) Supply() float64 {
	return math.Inf(1)
}

func (lg *NoneLaneGroup) TotalVehicles() float64 {
	return 0
}

func (lg *NoneLaneGroup) VehiclesForCommodity(commodityID CommodityID) float64 {
	return 0
}

func (lg *NoneLaneGroup) AcceptFlow(timestamp float64, key StateKey, flow float64) error {
	if err := checkFlow(lg.id, key, flow); err != nil {
		return err
	}
	lg.AddState(key)
	lg.updateFlowAccumulator(key, flow)
	return nil
}

func (lg *NoneLaneGroup) ReleaseFlow(timestamp float64, key StateKey, flow float64) error {
	return checkFlow(lg.id, key, flow)
}
