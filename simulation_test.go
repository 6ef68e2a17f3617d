package roadflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// corridorScenario is a two link corridor 1 -> 2 -> 3 joined by road connection 1
func corridorScenario(upModel, downModel string, rateVPH float64) *ScenarioConfig {
	return &ScenarioConfig{
		Run: RunConfig{SimDt: 2, Duration: 600},
		Nodes: []NodeConfig{
			{ID: 1, Point: [2]float64{37.60, 55.70}},
			{ID: 2, Point: [2]float64{37.61, 55.70}},
			{ID: 3, Point: [2]float64{37.62, 55.70}},
		},
		Links: []LinkConfig{
			{ID: 1, Source: 1, Target: 2, Lanes: 1, Length: 500, Model: upModel},
			{ID: 2, Source: 2, Target: 3, Lanes: 1, Length: 500, Model: downModel},
		},
		RoadConnections: []RoadConnectionConfig{
			{ID: 1, InLink: 1, OutLink: 2},
		},
		Commodities: []CommodityConfig{
			{ID: 1, Name: "cars"},
		},
		Demands: []DemandConfig{
			{Commodity: 1, Link: 1, Rate: rateVPH},
		},
	}
}

func linkVehicles(net *Network, linkID LinkID) float64 {
	link, _ := net.Link(linkID)
	total := 0.0
	for _, lg := range net.LaneGroupsOfLink(link) {
		total += lg.TotalVehicles()
	}
	return total
}

func TestSimulationMacroConservation(t *testing.T) {
	net, err := BuildNetwork(corridorScenario("ctm", "ctm", 1800))
	require.NoError(t, err)
	rec := NewLinkStateRecorder()
	sim, err := NewSimulation(net, WithTimeStep(2), WithRecorder(rec), WithOutputInterval(60))
	require.NoError(t, err)
	require.Len(t, sim.macroSources, 1)

	require.NoError(t, sim.Run(0, 600))
	assert.InDelta(t, 600.0, sim.CurrentTime(), 1e-9)

	require.Len(t, rec.Times(), 10)
	assert.InDelta(t, 60.0, rec.Times()[0], 1e-9)
	assert.InDelta(t, 600.0, rec.Times()[9], 1e-9)

	// 300 ticks of 1 vehicle each
	injected := 300.0 - sim.macroSources[0].backlog
	exited := rec.Flows(2)[len(rec.Flows(2))-1]
	assert.Greater(t, exited, 0.0)
	assert.InDelta(t, injected, net.TotalVehicles()+exited, 1e-6)

	// Cumulative flows never decrease
	flows := rec.Flows(1)
	for i := 1; i < len(flows); i++ {
		assert.GreaterOrEqual(t, flows[i], flows[i-1])
	}
}

func TestSimulationAdvance(t *testing.T) {
	net, err := BuildNetwork(corridorScenario("ctm", "ctm", 900))
	require.NoError(t, err)
	sim, err := NewSimulation(net)
	require.NoError(t, err)

	err = sim.Advance(10)
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, sim.Initialize(100))
	assert.InDelta(t, 100.0, sim.CurrentTime(), 1e-9)
	require.NoError(t, sim.Advance(50))
	assert.InDelta(t, 150.0, sim.CurrentTime(), 1e-9)
	first := net.TotalVehicles()
	assert.Greater(t, first, 0.0)

	require.NoError(t, sim.Advance(50))
	assert.InDelta(t, 200.0, sim.CurrentTime(), 1e-9)
	assert.GreaterOrEqual(t, net.TotalVehicles(), first)

	assert.Error(t, sim.Advance(-1))

	// Initialize clears the dynamic state
	require.NoError(t, sim.Initialize(0))
	assert.InDelta(t, 0.0, net.TotalVehicles(), 1e-9)
	assert.InDelta(t, 0.0, sim.CurrentTime(), 1e-9)
}

func TestSimulationQueueCorridor(t *testing.T) {
	net, err := BuildNetwork(corridorScenario("pq", "pq", 360))
	require.NoError(t, err)
	assert.False(t, net.HasMacroscopicLinks())
	sim, err := NewSimulation(net)
	require.NoError(t, err)
	assert.Len(t, sim.vehicleSources, 1)
	assert.Empty(t, sim.NodeModels())

	require.NoError(t, sim.Run(0, 600))
	// One vehicle every 10 seconds, first at t=10
	assert.EqualValues(t, 60, sim.vehicleSeq)
	// 30 seconds on every link
	assert.GreaterOrEqual(t, sim.ExitedVehicles(), 53.0)
	assert.LessOrEqual(t, sim.ExitedVehicles(), 54.0)
	assert.InDelta(t, float64(sim.vehicleSeq), sim.ExitedVehicles()+net.TotalVehicles(), 1e-9)
}

type firedEvent struct {
	name      string
	timestamp float64
	priority  int
}

func TestSimulationDeterminism(t *testing.T) {
	type outcome struct {
		rec     *LinkStateRecorder
		fired   []firedEvent
		totals  map[LaneGroupID]float64
		created int64
	}
	runOnce := func(seed int64) outcome {
		net, err := BuildNetwork(corridorScenario("pq", "ctm", 1200))
		require.NoError(t, err)
		rec := NewLinkStateRecorder()
		sim, err := NewSimulation(net,
			WithStreamPolicy(STREAM_POISSON, seed),
			WithRecorder(rec),
			WithOutputInterval(30),
			WithEventTrace(),
		)
		require.NoError(t, err)
		accumulators := make(map[LaneGroupID]*FlowAccumulator)
		for _, lgID := range net.LaneGroupIDs() {
			lg, _ := net.LaneGroup(lgID)
			accumulators[lgID] = lg.RequestFlowAccumulator()
		}
		require.NoError(t, sim.Run(0, 900))

		res := outcome{rec: rec, totals: make(map[LaneGroupID]float64), created: sim.vehicleSeq}
		for _, ev := range sim.Dispatcher().Trace() {
			res.fired = append(res.fired, firedEvent{name: eventName(ev), timestamp: ev.Timestamp(), priority: ev.Priority()})
		}
		for lgID, acc := range accumulators {
			res.totals[lgID] = acc.Total()
		}
		return res
	}
	a := runOnce(42)
	b := runOnce(42)

	assert.Greater(t, a.created, int64(0))
	assert.Equal(t, a.created, b.created)
	require.NotEmpty(t, a.fired)
	assert.Equal(t, a.fired, b.fired)
	assert.Equal(t, a.totals, b.totals)
	assert.Greater(t, a.totals[1], 0.0)
	assert.Equal(t, a.rec.Times(), b.rec.Times())
	for _, linkID := range []LinkID{1, 2} {
		assert.Equal(t, a.rec.Vehicles(linkID), b.rec.Vehicles(linkID), "link %d", linkID)
		assert.Equal(t, a.rec.Flows(linkID), b.rec.Flows(linkID), "link %d", linkID)
	}
}

func TestSimulationControlChange(t *testing.T) {
	cfg := corridorScenario("ctm", "ctm", 1800)
	cfg.Controls = []ControlChangeConfig{
		{Time: 300, RoadConnection: 1, Multiplier: 1},
		{Time: 0, RoadConnection: 1, Multiplier: 0},
	}
	net, err := BuildNetwork(cfg)
	require.NoError(t, err)
	require.Len(t, net.Controls(), 2)
	assert.Equal(t, 0.0, net.Controls()[0].Time)

	sim, err := NewSimulation(net)
	require.NoError(t, err)
	require.NoError(t, sim.Run(0, 298))
	assert.Greater(t, linkVehicles(net, 1), 0.0)
	assert.InDelta(t, 0.0, linkVehicles(net, 2), 1e-9)
	rc, ok := net.RoadConnection(1)
	require.True(t, ok)
	assert.Equal(t, 0.0, rc.ControlMultiplier())
	held := linkVehicles(net, 1)

	require.NoError(t, sim.Advance(302))
	assert.Equal(t, 1.0, rc.ControlMultiplier())
	assert.Greater(t, linkVehicles(net, 2), 0.0)
	assert.Less(t, linkVehicles(net, 1), held+150)

	rc.controlMultiplier = 0.25
	require.NoError(t, sim.Initialize(0))
	assert.Equal(t, 1.0, rc.ControlMultiplier())
}

func TestSimulationOptions(t *testing.T) {
	net, err := BuildNetwork(corridorScenario("ctm", "ctm", 600))
	require.NoError(t, err)

	_, err = NewSimulation(net, WithTimeStep(0))
	assert.Error(t, err)

	_, err = NewSimulation(net, WithRunConfig(RunConfig{StreamPolicy: "bursty"}))
	assert.Error(t, err)

	sim, err := NewSimulation(net, WithRunConfig(RunConfig{SimDt: 5, MaxIterations: 3, StreamPolicy: "poisson", Seed: 7}))
	require.NoError(t, err)
	assert.Equal(t, 5.0, sim.TimeStep())
	assert.Equal(t, STREAM_POISSON, sim.streamPolicy)
	assert.EqualValues(t, 7, sim.seed)
	assert.Equal(t, 3, sim.maxIterations)

	// Zero values keep defaults
	sim, err = NewSimulation(net, WithRunConfig(RunConfig{}))
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeStep, sim.TimeStep())
	assert.Equal(t, STREAM_DETERMINISTIC, sim.streamPolicy)
}
