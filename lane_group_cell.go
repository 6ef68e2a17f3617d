package roadflow

import (
	"math"

	"github.com/pkg/errors"
)

// CellLaneGroup is the macroscopic cell transmission model of a lane group.
// The lane group is split into cells which a vehicle at free flow speed
// crosses in one time step. Vehicles of every state are kept as fractional
// amounts per cell.
type CellLaneGroup struct {
	laneGroupBase
	cells      []map[StateKey]float64
	intraFlows []map[StateKey]float64
	capacityDt float64
	jamPerCell float64
	waveRatio  float64
}

func newCellLaneGroup(net *Network, link *Link, id LaneGroupID, laneFrom, laneTo int) *CellLaneGroup {
	return &CellLaneGroup{
		laneGroupBase: newLaneGroupBase(net, link, id, laneFrom, laneTo),
		cells:         []map[StateKey]float64{make(map[StateKey]float64)},
		waveRatio:     1,
	}
}

func (lg *CellLaneGroup) ModelType() ModelType {
	return MODEL_CTM
}

// NumCells returns number of cells the lane group is split into
func (lg *CellLaneGroup) NumCells() int {
	return len(lg.cells)
}

func (lg *CellLaneGroup) initialize(sim *Simulation) error {
	params := lg.link.roadParams
	if params.FreeSpeedKPH <= 0 {
		return errors.Errorf("Free speed of link %d must be positive", lg.link.ID)
	}
	freeSpeedMPS := params.FreeSpeedKPH / 3.6
	cellsNum := int(math.Round(lg.lengthMeters / (freeSpeedMPS * sim.dt)))
	if cellsNum < 1 {
		cellsNum = 1
	}
	lg.cells = make([]map[StateKey]float64, cellsNum)
	for i := range lg.cells {
		lg.cells[i] = make(map[StateKey]float64)
	}
	lg.intraFlows = make([]map[StateKey]float64, cellsNum-1)
	for i := range lg.intraFlows {
		lg.intraFlows[i] = make(map[StateKey]float64)
	}
	lg.capacityDt = params.CapacityVPHPL * float64(lg.NumLanes()) * sim.dt / 3600.0
	lg.jamPerCell = lg.maxVehicles / float64(cellsNum)
	lg.waveRatio = 1
	if params.WaveSpeedKPH > 0 && params.WaveSpeedKPH < params.FreeSpeedKPH {
		lg.waveRatio = params.WaveSpeedKPH / params.FreeSpeedKPH
	}
	lg.resetFlowAccumulator()
	return nil
}

func (lg *CellLaneGroup) cellVehicles(cell map[StateKey]float64) float64 {
	total := 0.0
	for _, key := range lg.states {
		total += cell[key]
	}
	return total
}

func (lg *CellLaneGroup) cellSupply(cell map[StateKey]float64) float64 {
	supply := math.Min(lg.capacityDt, lg.waveRatio*(lg.jamPerCell-lg.cellVehicles(cell)))
	if supply < 0 {
		return 0
	}
	return supply
}

// Demand is the state's share of what the exit cell is able to send
func (lg *CellLaneGroup) Demand(key StateKey) float64 {
	exit := lg.cells[len(lg.cells)-1]
	vehicles := exit[key]
	if vehicles <= 0 {
		return 0
	}
	total := lg.cellVehicles(exit)
	return vehicles * math.Min(1, lg.capacityDt/total)
}

// Supply is what the entry cell is able to receive
func (lg *CellLaneGroup) Supply() float64 {
	return lg.cellSupply(lg.cells[0])
}

func (lg *CellLaneGroup) TotalVehicles() float64 {
	total := 0.0
	for _, cell := range lg.cells {
		total += lg.cellVehicles(cell)
	}
	return total
}

func (lg *CellLaneGroup) VehiclesForCommodity(commodityID CommodityID) float64 {
	total := 0.0
	for _, cell := range lg.cells {
		for _, key := range lg.states {
			if key.CommodityID == commodityID {
				total += cell[key]
			}
		}
	}
	return total
}

// AcceptFlow places flow into the entry cell. Link-routed states addressed to
// this link are re-keyed with their next link first.
func (lg *CellLaneGroup) AcceptFlow(timestamp float64, key StateKey, flow float64) error {
	if err := checkFlow(lg.id, key, flow); err != nil {
		return err
	}
	if flow == 0 {
		return nil
	}
	for _, ws := range lg.net.entryStates(key, lg.link) {
		target := lg.laneGroupForState(ws.key)
		target.AddState(ws.key)
		target.cells[0][ws.key] += flow * ws.share
	}
	return nil
}

// laneGroupForState returns a lane group of the same link able to exit the
// state. Flow entering a lane group with no exit for it changes lanes on entry.
func (lg *CellLaneGroup) laneGroupForState(key StateKey) *CellLaneGroup {
	if lg.canExit(key) {
		return lg
	}
	for _, id := range lg.link.laneGroups {
		sibling, ok := lg.net.laneGroups[id].(*CellLaneGroup)
		if ok && sibling != lg && sibling.canExit(key) {
			return sibling
		}
	}
	return lg
}

func (lg *CellLaneGroup) canExit(key StateKey) bool {
	next, ok := lg.net.nextLink(key, lg.link)
	if !ok {
		return true
	}
	if _, ok := lg.outlink2roadconnection[next]; ok {
		return true
	}
	return len(lg.net.nodes[lg.link.targetNodeID].roadConnections) == 0
}

// ReleaseFlow removes flow of the state from the exit cell
func (lg *CellLaneGroup) ReleaseFlow(timestamp float64, key StateKey, flow float64) error {
	if err := checkFlow(lg.id, key, flow); err != nil {
		return err
	}
	exit := lg.cells[len(lg.cells)-1]
	have := exit[key]
	if flow > have+solverEps {
		return errors.Wrapf(ErrInsufficientVehicles, "lane group %d, state %s: requested %f, holds %f", lg.id, key, flow, have)
	}
	exit[key] = math.Max(0, have-flow)
	lg.updateFlowAccumulator(key, flow)
	return nil
}

// computeIntraFlows evaluates flows between consecutive cells from the current state
func (lg *CellLaneGroup) computeIntraFlows() {
	for i := range lg.intraFlows {
		flows := lg.intraFlows[i]
		from := lg.cells[i]
		total := lg.cellVehicles(from)
		if total <= 0 {
			clear(flows)
			continue
		}
		send := math.Min(total, lg.capacityDt)
		ratio := math.Min(send, lg.cellSupply(lg.cells[i+1])) / total
		for _, key := range lg.states {
			flows[key] = from[key] * ratio
		}
	}
}

func (lg *CellLaneGroup) applyIntraFlows() {
	for i, flows := range lg.intraFlows {
		from, to := lg.cells[i], lg.cells[i+1]
		for _, key := range lg.states {
			flow := flows[key]
			if flow == 0 {
				continue
			}
			from[key] = math.Max(0, from[key]-flow)
			to[key] += flow
		}
		clear(flows)
	}
}

// dischargeExit releases the whole exit demand of states leaving the network at the end of the link
func (lg *CellLaneGroup) dischargeExit(timestamp float64) (float64, error) {
	demands := make([]float64, len(lg.states))
	for i, key := range lg.states {
		if _, ok := lg.net.nextLink(key, lg.link); ok {
			continue
		}
		demands[i] = lg.Demand(key)
	}
	total := 0.0
	for i, key := range lg.states {
		if demands[i] <= 0 {
			continue
		}
		if err := lg.ReleaseFlow(timestamp, key, demands[i]); err != nil {
			return total, err
		}
		total += demands[i]
	}
	return total, nil
}
