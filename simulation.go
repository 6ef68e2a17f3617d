package roadflow

import (
	"log/slog"
	"math/rand"

	"github.com/pkg/errors"
)

const (
	timeEps = 1e-6
)

var (
	ErrNotInitialized = errors.New("simulation is not initialized")
)

// Simulation owns the dispatcher and everything a run needs beside the
// network topology. It must be used from a single goroutine.
type Simulation struct {
	net            *Network
	dispatcher     *Dispatcher
	logger         *slog.Logger
	rng            *rand.Rand
	optionsErr     error
	recorders      []Recorder
	nodeModels     []*NodeModel
	cellLaneGroups []*CellLaneGroup
	sinkLaneGroups []*CellLaneGroup
	macroSources   []*macroSource
	vehicleSources []*vehicleSource
	dt             float64
	outputDt       float64
	exitedVehicles float64
	seed           int64
	vehicleSeq     int64
	maxIterations  int
	streamPolicy   StreamPolicy
	traceEvents    bool
	initialized    bool
}

// NewSimulation prepares node models, sources and sinks of the network
func NewSimulation(net *Network, options ...func(*Simulation)) (*Simulation, error) {
	sim := &Simulation{
		net:           net,
		logger:        discardLogger(),
		recorders:     make([]Recorder, 0),
		dt:            DefaultTimeStep,
		maxIterations: DefaultMaxIterations,
		streamPolicy:  STREAM_DETERMINISTIC,
		seed:          1,
	}
	for _, option := range options {
		option(sim)
	}
	if sim.optionsErr != nil {
		return nil, errors.Wrap(sim.optionsErr, "Can't apply simulation options")
	}
	if sim.dt <= 0 {
		return nil, errors.Errorf("Time step must be positive, got %f", sim.dt)
	}
	if sim.outputDt <= 0 {
		sim.outputDt = sim.dt
	}

	dispatcherOptions := []func(*Dispatcher){
		WithDispatchHook(func(ev Event) {
			RoadflowEventsDispatched.WithLabelValues(eventName(ev)).Inc()
		}),
	}
	if sim.traceEvents {
		dispatcherOptions = append(dispatcherOptions, WithTrace())
	}
	sim.dispatcher = NewDispatcher(0, dispatcherOptions...)

	for _, nodeID := range net.NodeIDs() {
		node := net.nodes[nodeID]
		if node.IsSource() || node.IsSink() {
			continue
		}
		nm, err := NewNodeModel(net, node, WithNodeLogger(sim.logger), WithNodeMaxIterations(sim.maxIterations))
		if err != nil {
			return nil, errors.Wrapf(err, "Can't build node model for node %d", nodeID)
		}
		if nm.IsEmpty() {
			continue
		}
		sim.nodeModels = append(sim.nodeModels, nm)
	}

	for _, lgID := range net.LaneGroupIDs() {
		cell, ok := net.laneGroups[lgID].(*CellLaneGroup)
		if !ok {
			continue
		}
		sim.cellLaneGroups = append(sim.cellLaneGroups, cell)
		if net.nodes[cell.link.targetNodeID].IsSink() {
			sim.sinkLaneGroups = append(sim.sinkLaneGroups, cell)
		}
	}

	for _, demand := range net.demands {
		link := net.links[demand.linkID]
		switch link.modelType {
		case MODEL_CTM:
			sim.macroSources = append(sim.macroSources, &macroSource{demand: demand, link: link})
		case MODEL_PQ:
			sim.vehicleSources = append(sim.vehicleSources, &vehicleSource{sim: sim, demand: demand, link: link})
		default:
			sim.logger.Warn("demand on link without traffic model is ignored", "link", link.ID, "commodity", demand.commodityID)
		}
	}
	return sim, nil
}

func (sim *Simulation) Network() *Network {
	return sim.net
}

func (sim *Simulation) Dispatcher() *Dispatcher {
	return sim.dispatcher
}

func (sim *Simulation) Logger() *slog.Logger {
	return sim.logger
}

// TimeStep returns duration of the macroscopic time step in seconds
func (sim *Simulation) TimeStep() float64 {
	return sim.dt
}

func (sim *Simulation) CurrentTime() float64 {
	return sim.dispatcher.CurrentTime()
}

func (sim *Simulation) NodeModels() []*NodeModel {
	return sim.nodeModels
}

// ExitedVehicles returns number of vehicles which have left the network through microscopic links
func (sim *Simulation) ExitedVehicles() float64 {
	return sim.exitedVehicles
}

// Initialize resets the whole dynamic state and prepares the run to start at startTime
func (sim *Simulation) Initialize(startTime float64) error {
	sim.dispatcher.Reset(startTime)
	sim.rng = rand.New(rand.NewSource(sim.seed))
	sim.vehicleSeq = 0
	sim.exitedVehicles = 0
	for _, lgID := range sim.net.LaneGroupIDs() {
		if err := sim.net.laneGroups[lgID].initialize(sim); err != nil {
			return errors.Wrapf(err, "Can't initialize lane group %d", lgID)
		}
	}
	for _, rc := range sim.net.roadConnections {
		rc.controlMultiplier = 1
	}
	for _, src := range sim.macroSources {
		src.backlog = 0
	}
	for _, src := range sim.vehicleSources {
		if err := src.start(sim.dispatcher, startTime); err != nil {
			return err
		}
	}
	for _, change := range sim.net.controls {
		if change.Time < startTime {
			continue
		}
		ev := &EventControlChange{sim: sim, change: change, timestamp: change.Time}
		if _, err := sim.dispatcher.RegisterEvent(ev); err != nil {
			return errors.Wrap(err, "Can't register control change")
		}
	}
	for _, recorder := range sim.recorders {
		if err := recorder.Attach(sim); err != nil {
			return errors.Wrap(err, "Can't attach recorder")
		}
	}
	sim.initialized = true
	sim.logger.Info("simulation initialized", "t", startTime, "node_models", len(sim.nodeModels), "lane_groups", len(sim.net.laneGroups))
	return nil
}

// Advance runs the simulation for duration seconds. The macroscopic tick is
// registered only when the network has macroscopic links.
func (sim *Simulation) Advance(duration float64) error {
	if !sim.initialized {
		return ErrNotInitialized
	}
	if duration < 0 {
		return errors.Errorf("Duration must be non-negative, got %f", duration)
	}
	now := sim.dispatcher.CurrentTime()
	stop := now + duration
	sim.dispatcher.SetStopTime(stop)
	if _, err := sim.dispatcher.RegisterEvent(NewEventStopSimulation(stop)); err != nil {
		return err
	}
	if sim.net.HasMacroscopicLinks() && now+sim.dt <= stop+timeEps {
		if _, err := sim.dispatcher.RegisterEvent(&EventMacroStateUpdate{sim: sim, timestamp: now + sim.dt}); err != nil {
			return err
		}
	}
	if len(sim.recorders) > 0 && now+sim.outputDt <= stop+timeEps {
		if _, err := sim.dispatcher.RegisterEvent(&EventOutputSample{sim: sim, timestamp: now + sim.outputDt}); err != nil {
			return err
		}
	}
	if err := sim.dispatcher.DispatchEventsToStop(); err != nil {
		return errors.Wrap(err, "Can't advance simulation")
	}
	return nil
}

// Run initializes the simulation and advances it by duration seconds
func (sim *Simulation) Run(startTime, duration float64) error {
	if err := sim.Initialize(startTime); err != nil {
		return err
	}
	return sim.Advance(duration)
}

// Close releases every recorder
func (sim *Simulation) Close() error {
	var firstErr error
	for _, recorder := range sim.recorders {
		if err := recorder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// updateMacroState advances every macroscopic element by one time step
func (sim *Simulation) updateMacroState(timestamp float64) error {
	for _, nm := range sim.nodeModels {
		nm.UpdateFlow(timestamp, sim.dt)
	}
	for _, lg := range sim.cellLaneGroups {
		lg.computeIntraFlows()
	}
	for _, nm := range sim.nodeModels {
		if err := nm.Commit(timestamp); err != nil {
			return err
		}
	}
	for _, lg := range sim.cellLaneGroups {
		lg.applyIntraFlows()
	}
	for _, src := range sim.macroSources {
		if err := src.inject(sim.net, timestamp, sim.dt); err != nil {
			return err
		}
	}
	for _, lg := range sim.sinkLaneGroups {
		if _, err := lg.dischargeExit(timestamp); err != nil {
			return errors.Wrapf(err, "Can't discharge sink link %d", lg.link.ID)
		}
	}
	RoadflowNetworkVehicles.Set(sim.net.TotalVehicles())
	return nil
}

func (sim *Simulation) newVehicle(key StateKey) *Vehicle {
	sim.vehicleSeq++
	return &Vehicle{ID: sim.vehicleSeq, key: key}
}

func (sim *Simulation) vehicleExited(v *Vehicle) {
	sim.exitedVehicles++
	sim.logger.Debug("vehicle left network", "vehicle", v.ID, "state", v.key.String(), "t", sim.dispatcher.CurrentTime())
}
