package roadflow

import (
	"math"
	"testing"

	"github.com/pkg/errors"
)

// fakeLaneGroup has demand and supply set directly by a test
type fakeLaneGroup struct {
	laneGroupBase
	demands  map[StateKey]float64
	accepted map[StateKey]float64
	released map[StateKey]float64
	supply   float64
}

func (lg *fakeLaneGroup) ModelType() ModelType                       { return MODEL_CTM }
func (lg *fakeLaneGroup) Demand(key StateKey) float64                { return lg.demands[key] }
func (lg *fakeLaneGroup) Supply() float64                            { return lg.supply }
func (lg *fakeLaneGroup) TotalVehicles() float64                     { return 0 }
func (lg *fakeLaneGroup) VehiclesForCommodity(_ CommodityID) float64 { return 0 }
func (lg *fakeLaneGroup) initialize(_ *Simulation) error             { return nil }

func (lg *fakeLaneGroup) AcceptFlow(timestamp float64, key StateKey, flow float64) error {
	lg.accepted[key] += flow
	return nil
}

func (lg *fakeLaneGroup) ReleaseFlow(timestamp float64, key StateKey, flow float64) error {
	lg.released[key] += flow
	return nil
}

func (lg *fakeLaneGroup) setDemand(key StateKey, demand float64) {
	lg.AddState(key)
	lg.demands[key] = demand
}

// withFakeLaneGroups replaces every lane group of the network with a fake having unlimited supply
func withFakeLaneGroups(net *Network) map[LaneGroupID]*fakeLaneGroup {
	fakes := make(map[LaneGroupID]*fakeLaneGroup)
	for _, id := range net.LaneGroupIDs() {
		fake := &fakeLaneGroup{
			laneGroupBase: *net.laneGroups[id].base(),
			demands:       make(map[StateKey]float64),
			accepted:      make(map[StateKey]float64),
			released:      make(map[StateKey]float64),
			supply:        math.Inf(1),
		}
		net.laneGroups[id] = fake
		fakes[id] = fake
	}
	return fakes
}

func testNodes(n int) []NodeConfig {
	nodes := make([]NodeConfig, n)
	for i := range nodes {
		nodes[i] = NodeConfig{ID: i + 1}
	}
	return nodes
}

func testLink(id, source, target int) LinkConfig {
	return LinkConfig{ID: id, Source: source, Target: target, Lanes: 1, Length: 500}
}

func buildTestNetwork(t *testing.T, cfg *ScenarioConfig) *Network {
	t.Helper()
	net, err := BuildNetwork(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return net
}

func buildTestNodeModel(t *testing.T, net *Network, nodeID NodeID, options ...func(*NodeModel)) *NodeModel {
	t.Helper()
	nm, err := NewNodeModel(net, net.nodes[nodeID], options...)
	if err != nil {
		t.Fatal(err)
	}
	return nm
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// checkConservation compares flow released upstream with flow admitted downstream
func checkConservation(t *testing.T, nm *NodeModel, res Resolution) {
	t.Helper()
	admitted := 0.0
	for _, dlg := range nm.dlgs {
		admitted += nm.AdmittedFlow(dlg.lg.ID())
	}
	if !almostEqual(admitted, res.Flow) {
		t.Errorf("Admitted flow must be %f, but got %f", res.Flow, admitted)
	}
}

func oneToOneScenario() *ScenarioConfig {
	return &ScenarioConfig{
		Nodes: testNodes(3),
		Links: []LinkConfig{testLink(1, 1, 2), testLink(2, 2, 3)},
	}
}

func TestNodeModelOneToOne(t *testing.T) {
	net := buildTestNetwork(t, oneToOneScenario())
	fakes := withFakeLaneGroups(net)
	key := NewLinkStateKey(1, 2)
	fakes[1].setDemand(key, 10)
	fakes[2].supply = 100

	nm := buildTestNodeModel(t, net, 2)
	if !nm.implicit {
		t.Errorf("Node without road connections must get implicit connection")
	}
	res := nm.UpdateFlow(0, 2)
	if !almostEqual(res.Flow, 10) {
		t.Errorf("Flow must be %f, but got %f", 10.0, res.Flow)
	}
	if res.Iterations > 2 {
		t.Errorf("One-to-one node must stop by iteration %d, but got %d", 2, res.Iterations)
	}
	if res.Capped {
		t.Errorf("Resolution must not be capped")
	}
	if flow := nm.RoadConnectionFlow(implicitConnectionID, key); !almostEqual(flow, 10) {
		t.Errorf("Implicit connection flow must be %f, but got %f", 10.0, flow)
	}
	checkConservation(t, nm, res)
}

func TestNodeModelOneToOneSupplyLimited(t *testing.T) {
	net := buildTestNetwork(t, oneToOneScenario())
	fakes := withFakeLaneGroups(net)
	key := NewLinkStateKey(1, 2)
	fakes[1].setDemand(key, 10)
	fakes[2].supply = 4

	nm := buildTestNodeModel(t, net, 2)
	res := nm.UpdateFlow(0, 2)
	if !almostEqual(res.Flow, 4) {
		t.Errorf("Flow must be %f, but got %f", 4.0, res.Flow)
	}
	if res.Iterations > 2 {
		t.Errorf("One-to-one node must stop by iteration %d, but got %d", 2, res.Iterations)
	}
	checkConservation(t, nm, res)

	err := nm.Commit(0)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(fakes[1].released[key], 4) {
		t.Errorf("Released flow must be %f, but got %f", 4.0, fakes[1].released[key])
	}
	if !almostEqual(fakes[2].accepted[key], 4) {
		t.Errorf("Accepted flow must be %f, but got %f", 4.0, fakes[2].accepted[key])
	}
}

func TestNodeModelRoadConnectionCapacity(t *testing.T) {
	cfg := oneToOneScenario()
	cfg.RoadConnections = []RoadConnectionConfig{{ID: 1, InLink: 1, OutLink: 2, Capacity: 1800}}
	net := buildTestNetwork(t, cfg)
	fakes := withFakeLaneGroups(net)
	key := NewLinkStateKey(1, 2)
	fakes[1].setDemand(key, 10)

	nm := buildTestNodeModel(t, net, 2)
	// 1800 vph during 2 seconds
	res := nm.UpdateFlow(0, 2)
	if !almostEqual(res.Flow, 1) {
		t.Errorf("Flow must be bounded by capacity %f, but got %f", 1.0, res.Flow)
	}
	if flow := nm.RoadConnectionTotalFlow(1); !almostEqual(flow, 1) {
		t.Errorf("Road connection flow must be %f, but got %f", 1.0, flow)
	}
	checkConservation(t, nm, res)
}

func TestNodeModelControlBlocking(t *testing.T) {
	cfg := oneToOneScenario()
	cfg.RoadConnections = []RoadConnectionConfig{{ID: 1, InLink: 1, OutLink: 2}}
	net := buildTestNetwork(t, cfg)
	fakes := withFakeLaneGroups(net)
	fakes[1].setDemand(NewLinkStateKey(1, 2), 10)

	err := net.roadConnections[1].SetControlMultiplier(0)
	if err != nil {
		t.Fatal(err)
	}
	nm := buildTestNodeModel(t, net, 2)
	res := nm.UpdateFlow(0, 2)
	if res.Flow != 0 {
		t.Errorf("Flow through closed connection must be 0, but got %f", res.Flow)
	}
	if res.Iterations != 1 {
		t.Errorf("Blocked node must stop on iteration %d, but got %d", 1, res.Iterations)
	}
	err = net.roadConnections[1].SetControlMultiplier(1.5)
	if err == nil {
		t.Errorf("Multiplier out of [0,1] must be rejected")
	}
}

func mergeScenario() *ScenarioConfig {
	return &ScenarioConfig{
		Nodes: testNodes(5),
		Links: []LinkConfig{testLink(1, 1, 4), testLink(2, 2, 4), testLink(3, 3, 4), testLink(4, 4, 5)},
		RoadConnections: []RoadConnectionConfig{
			{ID: 1, InLink: 1, OutLink: 4},
			{ID: 2, InLink: 2, OutLink: 4},
			{ID: 3, InLink: 3, OutLink: 4},
		},
	}
}

func TestNodeModelMergeSharesSupply(t *testing.T) {
	net := buildTestNetwork(t, mergeScenario())
	fakes := withFakeLaneGroups(net)
	key := NewLinkStateKey(1, 4)
	for _, lgID := range []LaneGroupID{1, 2, 3} {
		fakes[lgID].setDemand(key, 8)
	}
	fakes[4].supply = 10

	nm := buildTestNodeModel(t, net, 4)
	nm.reset(2)
	nm.step0()
	nm.step1()
	nm.step2()
	gammaJ := nm.dlgs[0].gammaJ
	if !almostEqual(gammaJ, 1-10.0/24.0) {
		t.Errorf("Downstream discount must be %f, but got %f", 1-10.0/24.0, gammaJ)
	}

	res := nm.UpdateFlow(0, 2)
	for _, lgID := range []LaneGroupID{1, 2, 3} {
		flow := nm.ReleasedFlow(lgID, key)
		if !almostEqual(flow, 10.0/3.0) {
			t.Errorf("Lane group %d must release %f, but got %f", lgID, 10.0/3.0, flow)
		}
	}
	if !almostEqual(res.Flow, 10) {
		t.Errorf("Total flow must be %f, but got %f", 10.0, res.Flow)
	}
	if res.Flow > fakes[4].supply+solverEps {
		t.Errorf("Flow %f exceeds supply %f", res.Flow, fakes[4].supply)
	}
	checkConservation(t, nm, res)
}

func TestNodeModelManyToOnePassthrough(t *testing.T) {
	net := buildTestNetwork(t, oneToOneScenario())
	fakes := withFakeLaneGroups(net)
	key := NewLinkStateKey(1, 2)
	fakes[1].setDemand(key, 7)
	fakes[2].supply = 5

	nm := buildTestNodeModel(t, net, 2)
	res := nm.UpdateFlow(0, 2)
	if !almostEqual(res.Flow, 5) {
		t.Errorf("Passthrough flow must be min(demand, supply) = %f, but got %f", 5.0, res.Flow)
	}
}

func divergeScenario() *ScenarioConfig {
	return &ScenarioConfig{
		Nodes: testNodes(4),
		Links: []LinkConfig{testLink(1, 1, 2), testLink(2, 2, 3), testLink(3, 2, 4)},
		RoadConnections: []RoadConnectionConfig{
			{ID: 1, InLink: 1, OutLink: 2},
			{ID: 2, InLink: 1, OutLink: 3},
		},
	}
}

func TestNodeModelBlockedDownstream(t *testing.T) {
	net := buildTestNetwork(t, divergeScenario())
	fakes := withFakeLaneGroups(net)
	toBlocked := NewLinkStateKey(1, 2)
	toOpen := NewLinkStateKey(1, 3)
	fakes[1].setDemand(toBlocked, 5)
	fakes[1].setDemand(toOpen, 5)
	fakes[2].supply = 0

	nm := buildTestNodeModel(t, net, 2)
	nm.reset(2)
	nm.step0()
	if !nm.rcIndex[1].blocked {
		t.Errorf("Connection into full lane group must be blocked")
	}
	if nm.rcIndex[2].blocked {
		t.Errorf("Connection into free lane group must not be blocked")
	}
	nm.step1()
	nm.step2()
	for _, dlg := range nm.dlgs {
		if dlg.lg.ID() == 2 && dlg.gammaJ != 1 {
			t.Errorf("Discount of blocked lane group must be %f, but got %f", 1.0, dlg.gammaJ)
		}
	}

	res := nm.UpdateFlow(0, 2)
	if flow := nm.ReleasedFlow(1, toBlocked); flow != 0 {
		t.Errorf("State heading to blocked lane group must be held, but %f released", flow)
	}
	if flow := nm.ReleasedFlow(1, toOpen); !almostEqual(flow, 5) {
		t.Errorf("State heading to free lane group must release %f, but got %f", 5.0, flow)
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations must be %d, but got %d", 2, res.Iterations)
	}
	checkConservation(t, nm, res)
}

func TestNodeModelIterationCap(t *testing.T) {
	toLimited := NewLinkStateKey(1, 2)
	toFree := NewLinkStateKey(1, 3)
	prepare := func() *Network {
		net := buildTestNetwork(t, divergeScenario())
		fakes := withFakeLaneGroups(net)
		fakes[1].setDemand(toLimited, 10)
		fakes[1].setDemand(toFree, 10)
		fakes[2].supply = 2
		return net
	}

	// Limited downstream slows the first iteration, the second one releases the rest
	net := prepare()
	nm := buildTestNodeModel(t, net, 2)
	res := nm.UpdateFlow(0, 2)
	if res.Capped {
		t.Errorf("Resolution must converge")
	}
	if res.Iterations != 3 {
		t.Errorf("Iterations must be %d, but got %d", 3, res.Iterations)
	}
	if flow := nm.ReleasedFlow(1, toLimited); !almostEqual(flow, 2) {
		t.Errorf("Flow to limited lane group must be %f, but got %f", 2.0, flow)
	}
	if flow := nm.ReleasedFlow(1, toFree); !almostEqual(flow, 10) {
		t.Errorf("Flow to free lane group must be %f, but got %f", 10.0, flow)
	}
	checkConservation(t, nm, res)

	net = prepare()
	nm = buildTestNodeModel(t, net, 2, WithNodeMaxIterations(1))
	res = nm.UpdateFlow(0, 2)
	if !res.Capped {
		t.Errorf("Resolution must be capped")
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations must be %d, but got %d", 2, res.Iterations)
	}
	if flow := nm.ReleasedFlow(1, toFree); !almostEqual(flow, 2) {
		t.Errorf("Flow to free lane group must be %f, but got %f", 2.0, flow)
	}
	checkConservation(t, nm, res)
}

func TestNodeModelHeldState(t *testing.T) {
	net := buildTestNetwork(t, divergeScenario())
	fakes := withFakeLaneGroups(net)
	// Link 4 is not reachable from link 1, the state has no connection to exit through
	held := NewLinkStateKey(1, 4)
	fakes[1].setDemand(held, 5)

	nm := buildTestNodeModel(t, net, 2)
	res := nm.UpdateFlow(0, 2)
	if res.Flow != 0 {
		t.Errorf("State without connection must be held, but %f released", res.Flow)
	}
	if res.Iterations != 1 {
		t.Errorf("Iterations must be %d, but got %d", 1, res.Iterations)
	}
}

func TestNodeModelManyToOneError(t *testing.T) {
	net := buildTestNetwork(t, oneToOneScenario())
	node := net.nodes[2]
	node.outcomingLinks = append(node.outcomingLinks, LinkID(1))
	_, err := NewNodeModel(net, node)
	if !errors.Is(err, ErrManyToOne) {
		t.Errorf("Error must be %v, but got %v", ErrManyToOne, err)
	}
}

func TestNodeModelSourceAndSinkAreEmpty(t *testing.T) {
	net := buildTestNetwork(t, oneToOneScenario())
	for _, nodeID := range []NodeID{1, 3} {
		nm := buildTestNodeModel(t, net, nodeID)
		if !nm.IsEmpty() {
			t.Errorf("Node model of node %d must be empty", nodeID)
		}
	}
}

// weaveScenario merges links 1 and 2 into link 3 whose lanes are split into
// lane groups 10 and 20. Link 1 reaches both lane groups, link 2 only lane group 10.
func weaveScenario() *ScenarioConfig {
	return &ScenarioConfig{
		Nodes: testNodes(4),
		Links: []LinkConfig{
			testLink(1, 1, 3),
			testLink(2, 2, 3),
			{ID: 3, Source: 3, Target: 4, Lanes: 2, Length: 500, LaneGroups: []LaneGroupConfig{
				{ID: 10, Lanes: [2]int{1, 1}},
				{ID: 20, Lanes: [2]int{2, 2}},
			}},
		},
		RoadConnections: []RoadConnectionConfig{
			{ID: 1, InLink: 1, OutLink: 3},
			{ID: 2, InLink: 2, OutLink: 3, OutLanes: [2]int{1, 1}},
		},
	}
}

func TestNodeModelConnectionDiscountKeepsLaneGroupSupply(t *testing.T) {
	net := buildTestNetwork(t, weaveScenario())
	fakes := withFakeLaneGroups(net)
	key := NewLinkStateKey(1, 3)
	link1, _ := net.Link(1)
	link2, _ := net.Link(2)
	fakes[link1.LaneGroups()[0]].setDemand(key, 10)
	fakes[link2.LaneGroups()[0]].setDemand(key, 10)
	fakes[10].supply = 4
	fakes[20].supply = 4

	nm := buildTestNodeModel(t, net, 3)
	nm.reset(2)
	nm.step0()
	nm.step1()
	nm.step2()
	nm.step3()

	// Lane group 10 sees 0.5*10 + 10 = 15 against supply 4
	gamma10 := 1 - 4.0/15.0
	rc1 := nm.rcIndex[1]
	weighted := 0.0
	for _, info := range rc1.dnInfos {
		weighted += info.dlg.gammaJ * info.alpha
	}
	if !almostEqual(weighted, gamma10/2) {
		t.Errorf("Weighted discount must be %f, but got %f", gamma10/2, weighted)
	}
	if !almostEqual(rc1.gammaR, gamma10) {
		t.Errorf("Discount of connection 1 must be %f, but got %f", gamma10, rc1.gammaR)
	}
	if !almostEqual(nm.rcIndex[2].gammaR, gamma10) {
		t.Errorf("Discount of connection 2 must be %f, but got %f", gamma10, nm.rcIndex[2].gammaR)
	}

	res := nm.UpdateFlow(0, 2)
	for _, lgID := range []LaneGroupID{10, 20} {
		if admitted := nm.AdmittedFlow(lgID); admitted > 4+1e-9 {
			t.Errorf("Lane group %d must admit at most %f, but got %f", lgID, 4.0, admitted)
		}
	}
	if admitted := nm.AdmittedFlow(10); !almostEqual(admitted, 4) {
		t.Errorf("Lane group 10 must be filled up to %f, but got %f", 4.0, admitted)
	}
	checkConservation(t, nm, res)
}
