package roadflow

// EventCreateVehicle generates a vehicle at a microscopic source and schedules the next one
type EventCreateVehicle struct {
	source    *vehicleSource
	timestamp float64
}

func (ev *EventCreateVehicle) Timestamp() float64 { return ev.timestamp }
func (ev *EventCreateVehicle) Priority() int      { return PRIORITY_DISCRETE }

func (ev *EventCreateVehicle) Action(dispatcher *Dispatcher) error {
	if err := ev.source.insertVehicle(ev.timestamp); err != nil {
		return err
	}
	return ev.source.scheduleNextVehicle(dispatcher, ev.timestamp)
}

// EventTransitToWaiting moves a vehicle which has travelled the lane group into its waiting queue
type EventTransitToWaiting struct {
	laneGroup *QueueLaneGroup
	vehicle   *Vehicle
	timestamp float64
}

func (ev *EventTransitToWaiting) Timestamp() float64 { return ev.timestamp }
func (ev *EventTransitToWaiting) Priority() int      { return PRIORITY_DISCRETE }

func (ev *EventTransitToWaiting) Action(dispatcher *Dispatcher) error {
	return ev.laneGroup.transitToWaiting(ev.timestamp, ev.vehicle)
}

// EventReleaseVehicle serves the head of a waiting queue
type EventReleaseVehicle struct {
	laneGroup *QueueLaneGroup
	timestamp float64
}

func (ev *EventReleaseVehicle) Timestamp() float64 { return ev.timestamp }
func (ev *EventReleaseVehicle) Priority() int      { return PRIORITY_DISCRETE }

func (ev *EventReleaseVehicle) Action(dispatcher *Dispatcher) error {
	return ev.laneGroup.releaseVehicle(ev.timestamp)
}
