package roadflow

import (
	"math"

	"github.com/pkg/errors"
)

type RoadConnectionID int

// RoadConnection links a lane range of an upstream link with a lane range of a
// downstream link. Its flow is bounded by a saturation capacity scaled with a
// control multiplier which external control logic may change at any time
// between macroscopic ticks.
type RoadConnection struct {
	inLaneGroups      []LaneGroupID
	outLaneGroups     []LaneGroupID
	capacityVPH       float64
	controlMultiplier float64
	ID                RoadConnectionID
	startLinkID       LinkID
	endLinkID         LinkID
	startLaneFrom     int
	startLaneTo       int
	endLaneFrom       int
	endLaneTo         int
}

func (rc *RoadConnection) StartLinkID() LinkID {
	return rc.startLinkID
}

func (rc *RoadConnection) EndLinkID() LinkID {
	return rc.endLinkID
}

// StartLanes returns the inclusive 1-based lane range on the upstream link
func (rc *RoadConnection) StartLanes() (int, int) {
	return rc.startLaneFrom, rc.startLaneTo
}

// EndLanes returns the inclusive 1-based lane range on the downstream link
func (rc *RoadConnection) EndLanes() (int, int) {
	return rc.endLaneFrom, rc.endLaneTo
}

func (rc *RoadConnection) InLaneGroups() []LaneGroupID {
	return rc.inLaneGroups
}

func (rc *RoadConnection) OutLaneGroups() []LaneGroupID {
	return rc.outLaneGroups
}

// CapacityVPH returns saturation flow of the connection; +Inf means unconstrained
func (rc *RoadConnection) CapacityVPH() float64 {
	return rc.capacityVPH
}

func (rc *RoadConnection) ControlMultiplier() float64 {
	return rc.controlMultiplier
}

// SetControlMultiplier sets the share of capacity available to traffic. Zero blocks the connection.
func (rc *RoadConnection) SetControlMultiplier(multiplier float64) error {
	if multiplier < 0 || multiplier > 1 || math.IsNaN(multiplier) {
		return errors.Errorf("Control multiplier %f for road connection %d is out of [0,1]", multiplier, rc.ID)
	}
	rc.controlMultiplier = multiplier
	return nil
}

// Fbar returns the number of vehicles the connection may pass during dt seconds
func (rc *RoadConnection) Fbar(dt float64) float64 {
	if rc.controlMultiplier == 0 {
		return 0
	}
	if math.IsInf(rc.capacityVPH, 1) {
		return math.Inf(1)
	}
	return rc.capacityVPH * rc.controlMultiplier * dt / 3600.0
}

// overlap returns the number of lanes shared by two inclusive ranges
func overlap(aFrom, aTo, bFrom, bTo int) int {
	from := aFrom
	if bFrom > from {
		from = bFrom
	}
	to := aTo
	if bTo < to {
		to = bTo
	}
	if to < from {
		return 0
	}
	return to - from + 1
}
