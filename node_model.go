package roadflow

import (
	"log/slog"
	"math"
	"sort"

	"github.com/pkg/errors"
)

const (
	// DefaultMaxIterations bounds the fixed point iteration of a node model
	DefaultMaxIterations = 10
	solverEps            = 1e-3
	implicitConnectionID = RoadConnectionID(0)
)

var (
	ErrManyToOne = errors.New("node without road connections must join exactly one lane group to one lane group")
)

// Resolution describes the outcome of a single UpdateFlow call
type Resolution struct {
	// Iterations is the value of the iteration counter when the loop stopped
	Iterations int
	// Capped is true when the loop stopped on the iteration limit instead of converging
	Capped bool
	// Flow is the total flow released by the upstream lane groups
	Flow float64
}

// NodeModel resolves flows through the road connections of one node. Its
// working structures are allocated once and every scalar in them is reset at
// the start of UpdateFlow.
type NodeModel struct {
	node          *Node
	logger        *slog.Logger
	ulgs          []*upLaneGroup
	rcs           []*nodeRoadConnection
	dlgs          []*dnLaneGroup
	rcIndex       map[RoadConnectionID]*nodeRoadConnection
	maxIterations int
	implicit      bool
	last          Resolution
}

type upLaneGroup struct {
	lg             LaneGroup
	rcInfos        []*upRoadConnectionInfo
	states         []upStateInfo
	gammaI         float64
	emptyOrBlocked bool
}

type upRoadConnectionInfo struct {
	rc  *nodeRoadConnection
	dIR float64
}

type upStateInfo struct {
	key StateKey
	// index in rcInfos
	rcIdx   int
	dIS     float64
	deltaIS float64
	fIS     float64
}

type nodeRoadConnection struct {
	rc      *RoadConnection
	id      RoadConnectionID
	ulgs    []*upLaneGroup
	dnInfos []*dnLaneGroupInfo
	states  []StateKey
	deltaRS map[StateKey]float64
	fRS     map[StateKey]float64
	fbar    float64
	dR      float64
	gammaR  float64
	blocked bool
}

type dnLaneGroupInfo struct {
	dlg    *dnLaneGroup
	lambda float64
	alpha  float64
}

type dnLaneGroup struct {
	lg             LaneGroup
	rcs            []*nodeRoadConnection
	admittedStates []StateKey
	admitted       map[StateKey]float64
	sJ             float64
	initialSupply  float64
	gammaJ         float64
	blocked        bool
}

// NewNodeModel builds the solver of a node. Connections starting on links
// which are not macroscopic or having no lane groups on either end are
// skipped. A node without road connections gets a single implicit connection
// joining its only upstream lane group to its only downstream lane group.
func NewNodeModel(net *Network, node *Node, options ...func(*NodeModel)) (*NodeModel, error) {
	nm := &NodeModel{
		node:          node,
		logger:        discardLogger(),
		ulgs:          make([]*upLaneGroup, 0),
		rcs:           make([]*nodeRoadConnection, 0),
		dlgs:          make([]*dnLaneGroup, 0),
		rcIndex:       make(map[RoadConnectionID]*nodeRoadConnection),
		maxIterations: DefaultMaxIterations,
	}
	for _, option := range options {
		option(nm)
	}

	upByID := make(map[LaneGroupID]*upLaneGroup)
	dnByID := make(map[LaneGroupID]*dnLaneGroup)
	up := func(lg LaneGroup) *upLaneGroup {
		if ulg, ok := upByID[lg.ID()]; ok {
			return ulg
		}
		ulg := &upLaneGroup{lg: lg, rcInfos: make([]*upRoadConnectionInfo, 0), states: make([]upStateInfo, 0)}
		upByID[lg.ID()] = ulg
		nm.ulgs = append(nm.ulgs, ulg)
		return ulg
	}
	dn := func(lg LaneGroup) *dnLaneGroup {
		if dlg, ok := dnByID[lg.ID()]; ok {
			return dlg
		}
		dlg := &dnLaneGroup{lg: lg, rcs: make([]*nodeRoadConnection, 0), admitted: make(map[StateKey]float64)}
		dnByID[lg.ID()] = dlg
		nm.dlgs = append(nm.dlgs, dlg)
		return dlg
	}

	if len(node.roadConnections) == 0 {
		if node.IsSource() || node.IsSink() {
			return nm, nil
		}
		if len(node.incomingLinks) != 1 || len(node.outcomingLinks) != 1 {
			return nil, errors.Wrapf(ErrManyToOne, "node %d has %d incoming and %d outcoming links", node.ID, len(node.incomingLinks), len(node.outcomingLinks))
		}
		upLink := net.links[node.incomingLinks[0]]
		dnLink := net.links[node.outcomingLinks[0]]
		if !upLink.IsMacroscopic() {
			return nm, nil
		}
		if len(upLink.laneGroups) != 1 || len(dnLink.laneGroups) != 1 {
			return nil, errors.Wrapf(ErrManyToOne, "node %d joins %d upstream and %d downstream lane groups", node.ID, len(upLink.laneGroups), len(dnLink.laneGroups))
		}
		nm.implicit = true
		rc := newNodeRoadConnection(nil, implicitConnectionID)
		nm.rcs = append(nm.rcs, rc)
		nm.rcIndex[rc.id] = rc
		ulg := up(net.laneGroups[upLink.laneGroups[0]])
		dlg := dn(net.laneGroups[dnLink.laneGroups[0]])
		nm.join(ulg, rc, dlg, 1)
		return nm, nil
	}

	rcIDs := make([]RoadConnectionID, len(node.roadConnections))
	copy(rcIDs, node.roadConnections)
	sort.Slice(rcIDs, func(i, j int) bool { return rcIDs[i] < rcIDs[j] })
	for _, rcID := range rcIDs {
		xrc, ok := net.roadConnections[rcID]
		if !ok {
			return nil, errors.Errorf("Node %d references unknown road connection %d", node.ID, rcID)
		}
		if !net.links[xrc.startLinkID].IsMacroscopic() {
			continue
		}
		if len(xrc.inLaneGroups) == 0 || len(xrc.outLaneGroups) == 0 {
			continue
		}
		rc := newNodeRoadConnection(xrc, xrc.ID)
		nm.rcs = append(nm.rcs, rc)
		nm.rcIndex[rc.id] = rc
		for _, lgID := range xrc.inLaneGroups {
			ulg := up(net.laneGroups[lgID])
			ulg.rcInfos = append(ulg.rcInfos, &upRoadConnectionInfo{rc: rc})
			rc.ulgs = append(rc.ulgs, ulg)
		}
		for _, lgID := range xrc.outLaneGroups {
			lg := net.laneGroups[lgID]
			from, to := lg.LaneRange()
			lambda := float64(overlap(from, to, xrc.endLaneFrom, xrc.endLaneTo)) / float64(lg.NumLanes())
			dlg := dn(lg)
			rc.dnInfos = append(rc.dnInfos, &dnLaneGroupInfo{dlg: dlg, lambda: lambda})
			dlg.rcs = append(dlg.rcs, rc)
		}
	}
	sort.Slice(nm.ulgs, func(i, j int) bool { return nm.ulgs[i].lg.ID() < nm.ulgs[j].lg.ID() })
	sort.Slice(nm.dlgs, func(i, j int) bool { return nm.dlgs[i].lg.ID() < nm.dlgs[j].lg.ID() })
	return nm, nil
}

func newNodeRoadConnection(rc *RoadConnection, id RoadConnectionID) *nodeRoadConnection {
	return &nodeRoadConnection{
		rc:      rc,
		id:      id,
		ulgs:    make([]*upLaneGroup, 0),
		dnInfos: make([]*dnLaneGroupInfo, 0),
		states:  make([]StateKey, 0),
		deltaRS: make(map[StateKey]float64),
		fRS:     make(map[StateKey]float64),
	}
}

func (nm *NodeModel) join(ulg *upLaneGroup, rc *nodeRoadConnection, dlg *dnLaneGroup, lambda float64) {
	ulg.rcInfos = append(ulg.rcInfos, &upRoadConnectionInfo{rc: rc})
	rc.ulgs = append(rc.ulgs, ulg)
	rc.dnInfos = append(rc.dnInfos, &dnLaneGroupInfo{dlg: dlg, lambda: lambda})
	dlg.rcs = append(dlg.rcs, rc)
}

// WithNodeLogger sets logger used to report the iteration limit
func WithNodeLogger(logger *slog.Logger) func(*NodeModel) {
	return func(nm *NodeModel) {
		nm.logger = logger
	}
}

// WithNodeMaxIterations overrides the iteration limit
func WithNodeMaxIterations(maxIterations int) func(*NodeModel) {
	return func(nm *NodeModel) {
		if maxIterations > 0 {
			nm.maxIterations = maxIterations
		}
	}
}

func (nm *NodeModel) Node() *Node {
	return nm.node
}

// IsEmpty returns true when the node has nothing to resolve
func (nm *NodeModel) IsEmpty() bool {
	return len(nm.ulgs) == 0
}

// LastResolution returns the result of the latest UpdateFlow call
func (nm *NodeModel) LastResolution() Resolution {
	return nm.last
}

// UpdateFlow computes the flow split through the node for a time step of dt seconds.
// Nothing is moved until Commit is called.
func (nm *NodeModel) UpdateFlow(timestamp, dt float64) Resolution {
	nm.reset(dt)
	it := 0
	capped := false
	for {
		it++
		nm.step0()
		if nm.allEmptyOrBlocked() {
			break
		}
		if it > nm.maxIterations {
			capped = true
			break
		}
		nm.step1()
		nm.step2()
		nm.step3()
		nm.step4()
		nm.step5()
		nm.step6()
	}
	if capped {
		RoadflowNodeIterationCap.Inc()
		nm.logger.Warn("node model reached iteration limit", "node", nm.node.ID, "t", timestamp, "iterations", nm.maxIterations)
	}
	RoadflowNodeIterations.Observe(float64(it))
	flow := 0.0
	for _, ulg := range nm.ulgs {
		for _, st := range ulg.states {
			flow += st.fIS
		}
	}
	nm.last = Resolution{Iterations: it, Capped: capped, Flow: flow}
	return nm.last
}

// Commit moves the flow computed by the latest UpdateFlow: released from the
// upstream lane groups and accepted by the downstream ones.
func (nm *NodeModel) Commit(timestamp float64) error {
	for _, ulg := range nm.ulgs {
		for _, st := range ulg.states {
			if st.fIS <= 0 {
				continue
			}
			if err := ulg.lg.ReleaseFlow(timestamp, st.key, st.fIS); err != nil {
				return errors.Wrapf(err, "Can't release flow at node %d", nm.node.ID)
			}
		}
	}
	for _, dlg := range nm.dlgs {
		for _, key := range dlg.admittedStates {
			flow := dlg.admitted[key]
			if flow <= 0 {
				continue
			}
			if err := dlg.lg.AcceptFlow(timestamp, key, flow); err != nil {
				return errors.Wrapf(err, "Can't accept flow at node %d", nm.node.ID)
			}
		}
	}
	return nil
}

// RoadConnectionFlow returns flow of the state passed through the road
// connection during the latest resolution. Id 0 is the implicit connection.
func (nm *NodeModel) RoadConnectionFlow(rcID RoadConnectionID, key StateKey) float64 {
	rc, ok := nm.rcIndex[rcID]
	if !ok {
		return 0
	}
	return rc.fRS[key]
}

// RoadConnectionTotalFlow returns flow of all states passed through the road connection during the latest resolution
func (nm *NodeModel) RoadConnectionTotalFlow(rcID RoadConnectionID) float64 {
	rc, ok := nm.rcIndex[rcID]
	if !ok {
		return 0
	}
	total := 0.0
	for _, key := range rc.states {
		total += rc.fRS[key]
	}
	return total
}

// ReleasedFlow returns flow of the state released by the lane group during the latest resolution
func (nm *NodeModel) ReleasedFlow(lgID LaneGroupID, key StateKey) float64 {
	for _, ulg := range nm.ulgs {
		if ulg.lg.ID() != lgID {
			continue
		}
		for _, st := range ulg.states {
			if st.key == key {
				return st.fIS
			}
		}
	}
	return 0
}

// AdmittedFlow returns flow accepted by the downstream lane group during the latest resolution
func (nm *NodeModel) AdmittedFlow(lgID LaneGroupID) float64 {
	for _, dlg := range nm.dlgs {
		if dlg.lg.ID() != lgID {
			continue
		}
		total := 0.0
		for _, key := range dlg.admittedStates {
			total += dlg.admitted[key]
		}
		return total
	}
	return 0
}

// reset clears the working structures and reads demands and supplies of the current state
func (nm *NodeModel) reset(dt float64) {
	for _, rc := range nm.rcs {
		rc.states = rc.states[:0]
		clear(rc.deltaRS)
		clear(rc.fRS)
		rc.dR, rc.gammaR, rc.blocked = 0, 0, false
		if rc.rc == nil {
			rc.fbar = math.Inf(1)
		} else {
			rc.fbar = rc.rc.Fbar(dt)
		}
		for _, info := range rc.dnInfos {
			info.alpha = 0
		}
	}
	for _, dlg := range nm.dlgs {
		dlg.sJ = dlg.lg.Supply()
		dlg.initialSupply = dlg.sJ
		dlg.gammaJ, dlg.blocked = 0, false
		dlg.admittedStates = dlg.admittedStates[:0]
		clear(dlg.admitted)
	}
	for _, ulg := range nm.ulgs {
		ulg.gammaI, ulg.emptyOrBlocked = 0, false
		for _, info := range ulg.rcInfos {
			info.dIR = 0
		}
		ulg.states = ulg.states[:0]
		for _, key := range ulg.lg.States() {
			idx := nm.stateRoadConnection(ulg, key)
			st := upStateInfo{key: key, rcIdx: idx}
			if idx >= 0 {
				st.dIS = ulg.lg.Demand(key)
				info := ulg.rcInfos[idx]
				info.dIR += st.dIS
				info.rc.states, _ = insertStateKey(info.rc.states, key)
			}
			ulg.states = append(ulg.states, st)
		}
	}
}

// stateRoadConnection returns index of the connection the state exits through, -1 when it is held
func (nm *NodeModel) stateRoadConnection(ulg *upLaneGroup, key StateKey) int {
	if nm.implicit {
		return 0
	}
	rcID, ok := ulg.lg.RoadConnectionForState(key)
	if !ok {
		return -1
	}
	for i, info := range ulg.rcInfos {
		if info.rc.id == rcID {
			return i
		}
	}
	return -1
}

func (nm *NodeModel) allEmptyOrBlocked() bool {
	for _, ulg := range nm.ulgs {
		if !ulg.emptyOrBlocked {
			return false
		}
	}
	return true
}
