package roadflow

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

type StreamPolicy uint16

const (
	STREAM_DETERMINISTIC = StreamPolicy(iota + 1)
	STREAM_POISSON

	STREAM_UNDEFINED = StreamPolicy(0)
)

func (iotaIdx StreamPolicy) String() string {
	return [...]string{"undefined", "deterministic", "poisson"}[iotaIdx]
}

// ParseStreamPolicy converts textual policy name into StreamPolicy. Empty string means deterministic.
func ParseStreamPolicy(str string) (StreamPolicy, error) {
	switch strings.ToLower(str) {
	case "", "deterministic":
		return STREAM_DETERMINISTIC, nil
	case "poisson":
		return STREAM_POISSON, nil
	default:
		return STREAM_UNDEFINED, errors.Errorf("Unknown stream policy '%s'", str)
	}
}

// macroSource feeds a macroscopic link. Demand which does not fit into the
// link waits in the backlog.
type macroSource struct {
	demand  *Demand
	link    *Link
	backlog float64
}

func (src *macroSource) inject(net *Network, timestamp, dt float64) error {
	if timestamp < src.demand.startTime {
		return nil
	}
	src.backlog += src.demand.rateVPH * dt / 3600.0
	if src.backlog <= 0 {
		return nil
	}
	lgs := net.LaneGroupsOfLink(src.link)
	totalLanes := 0
	for _, lg := range lgs {
		totalLanes += lg.NumLanes()
	}
	injected := 0.0
	key := src.demand.EntryKey()
	for _, lg := range lgs {
		flow := math.Min(src.backlog*float64(lg.NumLanes())/float64(totalLanes), lg.Supply())
		if flow <= 0 {
			continue
		}
		if err := lg.AcceptFlow(timestamp, key, flow); err != nil {
			return errors.Wrapf(err, "Can't inject demand into link %d", src.link.ID)
		}
		injected += flow
	}
	src.backlog = math.Max(0, src.backlog-injected)
	return nil
}

// vehicleSource creates vehicles on a microscopic link with headways given by the stream policy
type vehicleSource struct {
	sim    *Simulation
	demand *Demand
	link   *Link
}

func (src *vehicleSource) headway() float64 {
	mean := 3600.0 / src.demand.rateVPH
	if src.sim.streamPolicy == STREAM_POISSON {
		return src.sim.rng.ExpFloat64() * mean
	}
	return mean
}

func (src *vehicleSource) start(dispatcher *Dispatcher, now float64) error {
	return src.scheduleNextVehicle(dispatcher, math.Max(now, src.demand.startTime))
}

func (src *vehicleSource) scheduleNextVehicle(dispatcher *Dispatcher, timestamp float64) error {
	if src.demand.rateVPH <= 0 {
		return nil
	}
	_, err := dispatcher.RegisterEvent(&EventCreateVehicle{
		source:    src,
		timestamp: timestamp + src.headway(),
	})
	if err != nil {
		return errors.Wrap(err, "Can't schedule vehicle creation")
	}
	return nil
}

// insertVehicle puts a new vehicle into the lane group with the largest supply
func (src *vehicleSource) insertVehicle(timestamp float64) error {
	var target *QueueLaneGroup
	best := math.Inf(-1)
	for _, lg := range src.sim.net.LaneGroupsOfLink(src.link) {
		queue, ok := lg.(*QueueLaneGroup)
		if !ok {
			continue
		}
		if supply := queue.Supply(); supply > best {
			target, best = queue, supply
		}
	}
	if target == nil {
		return errors.Errorf("Link %d has no queue lane groups for vehicle source", src.link.ID)
	}
	return target.acceptVehicle(timestamp, src.sim.newVehicle(src.demand.EntryKey()))
}
