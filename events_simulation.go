package roadflow

import (
	"github.com/pkg/errors"
)

// EventStopSimulation ends the dispatch loop
type EventStopSimulation struct {
	timestamp float64
}

func NewEventStopSimulation(timestamp float64) *EventStopSimulation {
	return &EventStopSimulation{timestamp: timestamp}
}

func (ev *EventStopSimulation) Timestamp() float64 { return ev.timestamp }
func (ev *EventStopSimulation) Priority() int      { return PRIORITY_STOP }

func (ev *EventStopSimulation) Action(dispatcher *Dispatcher) error {
	dispatcher.StopSimulation()
	return nil
}

// EventMacroStateUpdate is the macroscopic tick. It updates the network state
// and registers the next tick while it is not later than the stop time.
type EventMacroStateUpdate struct {
	sim       *Simulation
	timestamp float64
}

func (ev *EventMacroStateUpdate) Timestamp() float64 { return ev.timestamp }
func (ev *EventMacroStateUpdate) Priority() int      { return PRIORITY_MACRO_STATE_UPDATE }

func (ev *EventMacroStateUpdate) Action(dispatcher *Dispatcher) error {
	if err := ev.sim.updateMacroState(ev.timestamp); err != nil {
		return err
	}
	next := ev.timestamp + ev.sim.dt
	if next > dispatcher.StopTime()+timeEps {
		return nil
	}
	_, err := dispatcher.RegisterEvent(&EventMacroStateUpdate{sim: ev.sim, timestamp: next})
	return err
}

// EventOutputSample hands the current state to every recorder
type EventOutputSample struct {
	sim       *Simulation
	timestamp float64
}

func (ev *EventOutputSample) Timestamp() float64 { return ev.timestamp }
func (ev *EventOutputSample) Priority() int      { return PRIORITY_OUTPUT }

func (ev *EventOutputSample) Action(dispatcher *Dispatcher) error {
	for _, recorder := range ev.sim.recorders {
		if err := recorder.Record(ev.timestamp, ev.sim); err != nil {
			return errors.Wrap(err, "Can't record output")
		}
	}
	next := ev.timestamp + ev.sim.outputDt
	if next > dispatcher.StopTime()+timeEps {
		return nil
	}
	_, err := dispatcher.RegisterEvent(&EventOutputSample{sim: ev.sim, timestamp: next})
	return err
}

// EventControlChange sets the control multiplier of a road connection
type EventControlChange struct {
	sim       *Simulation
	change    ControlChange
	timestamp float64
}

func (ev *EventControlChange) Timestamp() float64 { return ev.timestamp }
func (ev *EventControlChange) Priority() int      { return PRIORITY_CONTROL }

func (ev *EventControlChange) Action(dispatcher *Dispatcher) error {
	rc, ok := ev.sim.net.RoadConnection(ev.change.RoadConnectionID)
	if !ok {
		return errors.Errorf("Road connection %d not found", ev.change.RoadConnectionID)
	}
	if err := rc.SetControlMultiplier(ev.change.Multiplier); err != nil {
		return err
	}
	ev.sim.logger.Debug("control multiplier changed", "road_connection", rc.ID, "multiplier", ev.change.Multiplier, "t", ev.timestamp)
	return nil
}
