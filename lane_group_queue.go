package roadflow

import (
	"math"

	"github.com/pkg/errors"
)

// Vehicle is a single vehicle of the microscopic queue model
type Vehicle struct {
	ID  int64
	key StateKey
}

func (v *Vehicle) State() StateKey {
	return v.key
}

// QueueLaneGroup is the microscopic point-queue model. A vehicle spends the
// free flow travel time in the transit queue, then joins the waiting queue
// which is served at the saturation headway.
type QueueLaneGroup struct {
	laneGroupBase
	sim              *Simulation
	transit          []*Vehicle
	waiting          []*Vehicle
	partialVehicles  map[StateKey]float64
	partialTotal     float64
	travelTime       float64
	headway          float64
	releaseScheduled bool
}

func newQueueLaneGroup(net *Network, link *Link, id LaneGroupID, laneFrom, laneTo int) *QueueLaneGroup {
	return &QueueLaneGroup{
		laneGroupBase:   newLaneGroupBase(net, link, id, laneFrom, laneTo),
		transit:         make([]*Vehicle, 0),
		waiting:         make([]*Vehicle, 0),
		partialVehicles: make(map[StateKey]float64),
	}
}

func (lg *QueueLaneGroup) ModelType() ModelType {
	return MODEL_PQ
}

func (lg *QueueLaneGroup) initialize(sim *Simulation) error {
	params := lg.link.roadParams
	if params.FreeSpeedKPH <= 0 || params.CapacityVPHPL <= 0 {
		return errors.Errorf("Free speed and capacity of link %d must be positive", lg.link.ID)
	}
	lg.sim = sim
	lg.transit = lg.transit[:0]
	lg.waiting = lg.waiting[:0]
	clear(lg.partialVehicles)
	lg.partialTotal = 0
	lg.travelTime = lg.lengthMeters / (params.FreeSpeedKPH / 3.6)
	lg.headway = 3600.0 / (params.CapacityVPHPL * float64(lg.NumLanes()))
	lg.releaseScheduled = false
	lg.resetFlowAccumulator()
	return nil
}

// TransitQueue returns vehicles still travelling along the lane group
func (lg *QueueLaneGroup) TransitQueue() []*Vehicle {
	return lg.transit
}

// WaitingQueue returns vehicles waiting to leave the lane group
func (lg *QueueLaneGroup) WaitingQueue() []*Vehicle {
	return lg.waiting
}

// Demand is zero: vehicles leave the lane group by their own release events, not through node models
func (lg *QueueLaneGroup) Demand(key StateKey) float64 {
	return 0
}

// Supply counts fractional vehicles not yet materialized as occupied space
func (lg *QueueLaneGroup) Supply() float64 {
	return math.Max(0, lg.maxVehicles-lg.TotalVehicles()-lg.partialTotal)
}

func (lg *QueueLaneGroup) TotalVehicles() float64 {
	return float64(len(lg.transit) + len(lg.waiting))
}

func (lg *QueueLaneGroup) VehiclesForCommodity(commodityID CommodityID) float64 {
	total := 0
	for _, v := range lg.transit {
		if v.key.CommodityID == commodityID {
			total++
		}
	}
	for _, v := range lg.waiting {
		if v.key.CommodityID == commodityID {
			total++
		}
	}
	return float64(total)
}

// AcceptFlow turns macroscopic flow into whole vehicles. The fractional
// remainder is kept per state until it adds up to a vehicle.
func (lg *QueueLaneGroup) AcceptFlow(timestamp float64, key StateKey, flow float64) error {
	if err := checkFlow(lg.id, key, flow); err != nil {
		return err
	}
	amount := lg.partialVehicles[key] + flow
	whole := int(amount + 1e-9)
	remainder := math.Max(0, amount-float64(whole))
	lg.partialTotal = math.Max(0, lg.partialTotal-lg.partialVehicles[key]+remainder)
	lg.partialVehicles[key] = remainder
	for i := 0; i < whole; i++ {
		if err := lg.acceptVehicle(timestamp, lg.sim.newVehicle(key)); err != nil {
			return err
		}
	}
	return nil
}

// acceptVehicle puts the vehicle into the transit queue and schedules its arrival to the waiting queue
func (lg *QueueLaneGroup) acceptVehicle(timestamp float64, v *Vehicle) error {
	states := lg.net.entryStates(v.key, lg.link)
	v.key = states[0].key
	if len(states) > 1 {
		draw := lg.sim.rng.Float64()
		cumulative := 0.0
		for _, ws := range states {
			cumulative += ws.share
			v.key = ws.key
			if draw < cumulative {
				break
			}
		}
	}
	lg.AddState(v.key)
	lg.transit = append(lg.transit, v)
	_, err := lg.sim.dispatcher.RegisterEvent(&EventTransitToWaiting{
		timestamp: timestamp + lg.travelTime,
		laneGroup: lg,
		vehicle:   v,
	})
	if err != nil {
		return errors.Wrap(err, "Can't schedule transit to waiting")
	}
	return nil
}

func (lg *QueueLaneGroup) transitToWaiting(timestamp float64, v *Vehicle) error {
	idx := -1
	for i := range lg.transit {
		if lg.transit[i] == v {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.Errorf("Vehicle %d is not in transit queue of lane group %d", v.ID, lg.id)
	}
	lg.transit = append(lg.transit[:idx], lg.transit[idx+1:]...)
	lg.waiting = append(lg.waiting, v)
	if !lg.releaseScheduled {
		return lg.scheduleRelease(timestamp)
	}
	return nil
}

func (lg *QueueLaneGroup) scheduleRelease(timestamp float64) error {
	_, err := lg.sim.dispatcher.RegisterEvent(&EventReleaseVehicle{
		timestamp: timestamp,
		laneGroup: lg,
	})
	if err != nil {
		return errors.Wrap(err, "Can't schedule vehicle release")
	}
	lg.releaseScheduled = true
	return nil
}

// releaseVehicle tries to move the head of the waiting queue to the next link.
// A blocked head is retried one headway later.
func (lg *QueueLaneGroup) releaseVehicle(timestamp float64) error {
	lg.releaseScheduled = false
	if len(lg.waiting) == 0 {
		return nil
	}
	v := lg.waiting[0]
	headway := lg.headway

	next, ok := lg.net.nextLink(v.key, lg.link)
	if !ok {
		lg.popWaiting()
		lg.sim.vehicleExited(v)
		return lg.scheduleNextRelease(timestamp, headway)
	}

	var candidates []LaneGroupID
	if rcID, ok := lg.outlink2roadconnection[next]; ok {
		rc := lg.net.roadConnections[rcID]
		multiplier := rc.controlMultiplier
		if multiplier == 0 {
			return lg.scheduleRelease(timestamp + headway)
		}
		if !math.IsInf(rc.capacityVPH, 1) {
			headway = math.Max(headway, 3600.0/rc.capacityVPH)
		}
		headway /= multiplier
		candidates = rc.outLaneGroups
	} else if len(lg.net.nodes[lg.link.targetNodeID].roadConnections) == 0 {
		candidates = lg.net.links[next].laneGroups
	} else {
		return errors.Errorf("Vehicle %d on link %d has no road connection to link %d", v.ID, lg.link.ID, next)
	}

	var target LaneGroup
	best := 0.0
	for _, id := range candidates {
		candidate := lg.net.laneGroups[id]
		if supply := candidate.Supply(); supply >= 1 && supply > best {
			target, best = candidate, supply
		}
	}
	if target == nil {
		return lg.scheduleRelease(timestamp + headway)
	}

	lg.popWaiting()
	if queue, ok := target.(*QueueLaneGroup); ok {
		if err := queue.acceptVehicle(timestamp, v); err != nil {
			return err
		}
	} else if err := target.AcceptFlow(timestamp, v.key, 1); err != nil {
		return err
	}
	return lg.scheduleNextRelease(timestamp, headway)
}

func (lg *QueueLaneGroup) popWaiting() {
	v := lg.waiting[0]
	lg.waiting[0] = nil
	lg.waiting = lg.waiting[1:]
	lg.updateFlowAccumulator(v.key, 1)
}

func (lg *QueueLaneGroup) scheduleNextRelease(timestamp, headway float64) error {
	if len(lg.waiting) == 0 {
		return nil
	}
	return lg.scheduleRelease(timestamp + headway)
}

// ReleaseFlow removes whole vehicles of the state from the front of the
// waiting queue. Node models never call it since Demand is zero; vehicles
// normally leave through release events.
func (lg *QueueLaneGroup) ReleaseFlow(timestamp float64, key StateKey, flow float64) error {
	if err := checkFlow(lg.id, key, flow); err != nil {
		return err
	}
	count := int(math.Round(flow))
	kept := lg.waiting[:0]
	removed := 0
	for _, v := range lg.waiting {
		if removed < count && v.key == key {
			removed++
			lg.updateFlowAccumulator(key, 1)
			continue
		}
		kept = append(kept, v)
	}
	lg.waiting = kept
	if removed < count {
		return errors.Wrapf(ErrInsufficientVehicles, "lane group %d, state %s: requested %d, released %d", lg.id, key, count, removed)
	}
	return nil
}
