package roadflow

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/pkg/errors"
)

// BuildNetwork validates the scenario and constructs the network. Every
// problem found is collected into an ErrorLog which is returned as the error.
func BuildNetwork(cfg *ScenarioConfig) (*Network, error) {
	errLog := &ErrorLog{}
	net := newNetwork()

	roadParams := make(map[string]RoadParams, len(cfg.RoadParams))
	for name, params := range cfg.RoadParams {
		rp := RoadParams{
			CapacityVPHPL:   params.CapacityVPHPL,
			FreeSpeedKPH:    params.FreeSpeedKPH,
			JamDensityVPKPL: params.JamDensityVPKPL,
			WaveSpeedKPH:    params.WaveSpeedKPH,
		}
		if rp.CapacityVPHPL <= 0 || rp.FreeSpeedKPH <= 0 || rp.JamDensityVPKPL <= 0 {
			errLog.Add("road params '%s' must have positive capacity, speed and jam density", name)
		}
		roadParams[name] = rp
	}

	for _, nodeCfg := range cfg.Nodes {
		id := NodeID(nodeCfg.ID)
		if _, ok := net.nodes[id]; ok {
			errLog.Add("duplicate node %d", id)
			continue
		}
		node := newNode(id)
		node.osmNodeID = osm.NodeID(nodeCfg.OSMNodeID)
		node.geom = orb.Point{nodeCfg.Point[0], nodeCfg.Point[1]}
		if nodeCfg.Signal {
			node.controlType = IS_SIGNAL
		}
		net.nodes[id] = node
	}

	buildLinks(cfg, net, roadParams, errLog)
	buildRoadConnections(cfg, net, errLog)
	buildReachability(net, errLog)
	buildCommodities(cfg, net, errLog)
	buildDemands(cfg, net, errLog)

	for i, control := range cfg.Controls {
		if control.Time < 0 {
			errLog.Add("control %d has negative time %f", i, control.Time)
		}
		if control.Multiplier < 0 || control.Multiplier > 1 || math.IsNaN(control.Multiplier) {
			errLog.Add("control %d has multiplier %f out of [0,1]", i, control.Multiplier)
		}
		if _, ok := net.roadConnections[RoadConnectionID(control.RoadConnection)]; !ok {
			errLog.Add("control %d references unknown road connection %d", i, control.RoadConnection)
		}
		net.controls = append(net.controls, ControlChange{
			Time:             control.Time,
			Multiplier:       control.Multiplier,
			RoadConnectionID: RoadConnectionID(control.RoadConnection),
		})
	}
	sort.SliceStable(net.controls, func(i, j int) bool { return net.controls[i].Time < net.controls[j].Time })

	if err := errLog.Err(); err != nil {
		return nil, err
	}
	return net, nil
}

func buildLinks(cfg *ScenarioConfig, net *Network, roadParams map[string]RoadParams, errLog *ErrorLog) {
	// Lane group identifiers given explicitly are reserved before generating the rest
	maxLaneGroupID := LaneGroupID(0)
	for _, linkCfg := range cfg.Links {
		for _, lgCfg := range linkCfg.LaneGroups {
			if LaneGroupID(lgCfg.ID) > maxLaneGroupID {
				maxLaneGroupID = LaneGroupID(lgCfg.ID)
			}
		}
	}

	for _, linkCfg := range cfg.Links {
		id := LinkID(linkCfg.ID)
		if _, ok := net.links[id]; ok {
			errLog.Add("duplicate link %d", id)
			continue
		}
		source, okSource := net.nodes[NodeID(linkCfg.Source)]
		target, okTarget := net.nodes[NodeID(linkCfg.Target)]
		if !okSource || !okTarget {
			errLog.Add("link %d references unknown node", id)
			continue
		}
		if linkCfg.Lanes < 1 {
			errLog.Add("link %d must have at least one lane", id)
			continue
		}
		modelType, err := ParseModelType(linkCfg.Model)
		if err != nil {
			errLog.Add("link %d: %s", id, err.Error())
			continue
		}
		params := defaultRoadParams
		if linkCfg.RoadParams != "" {
			found, ok := roadParams[linkCfg.RoadParams]
			if !ok {
				errLog.Add("link %d references unknown road params '%s'", id, linkCfg.RoadParams)
				continue
			}
			params = found
		}
		geom := make(orb.LineString, len(linkCfg.Geometry))
		for i, pt := range linkCfg.Geometry {
			geom[i] = orb.Point{pt[0], pt[1]}
		}
		// Straight line between located nodes
		if len(geom) == 0 && !source.geom.Equal(orb.Point{}) && !target.geom.Equal(orb.Point{}) {
			geom = orb.LineString{source.geom, target.geom}
		}
		length := linkCfg.Length
		if length <= 0 {
			length = geometryLength(geom)
		}
		if length <= 0 {
			errLog.Add("link %d has neither length nor geometry", id)
			continue
		}
		link := &Link{
			name:         linkCfg.Name,
			geom:         geom,
			laneGroups:   make([]LaneGroupID, 0),
			path2outlink: make(map[PathID]LinkID),
			lengthMeters: length,
			roadParams:   params,
			lanes:        linkCfg.Lanes,
			ID:           id,
			osmWayID:     osm.WayID(linkCfg.OSMWayID),
			sourceNodeID: source.ID,
			targetNodeID: target.ID,
			modelType:    modelType,
			linkType:     ParseLinkType(linkCfg.LinkType),
		}

		lgConfigs := append([]LaneGroupConfig(nil), linkCfg.LaneGroups...)
		if len(lgConfigs) == 0 {
			lgConfigs = []LaneGroupConfig{{Lanes: [2]int{1, link.lanes}}}
		}
		sort.SliceStable(lgConfigs, func(i, j int) bool { return lgConfigs[i].Lanes[0] < lgConfigs[j].Lanes[0] })
		nextLane := 1
		valid := true
		for _, lgCfg := range lgConfigs {
			from, to := lgCfg.Lanes[0], lgCfg.Lanes[1]
			if from < 1 || to > link.lanes || from > to {
				errLog.Add("link %d: lane group lanes %d-%d out of range 1-%d", id, from, to, link.lanes)
				valid = false
				continue
			}
			if from != nextLane {
				errLog.Add("link %d: lane groups must cover lanes contiguously, lane %d expected but %d found", id, nextLane, from)
				valid = false
			}
			nextLane = to + 1
		}
		if valid && nextLane != link.lanes+1 {
			errLog.Add("link %d: lane groups cover %d of %d lanes", id, nextLane-1, link.lanes)
			valid = false
		}
		if !valid {
			continue
		}
		for _, lgCfg := range lgConfigs {
			lgID := LaneGroupID(lgCfg.ID)
			if lgID <= 0 {
				maxLaneGroupID++
				lgID = maxLaneGroupID
			}
			if _, ok := net.laneGroups[lgID]; ok {
				errLog.Add("duplicate lane group %d", lgID)
				continue
			}
			var lg LaneGroup
			switch modelType {
			case MODEL_PQ:
				lg = newQueueLaneGroup(net, link, lgID, lgCfg.Lanes[0], lgCfg.Lanes[1])
			case MODEL_NONE:
				lg = newNoneLaneGroup(net, link, lgID, lgCfg.Lanes[0], lgCfg.Lanes[1])
			default:
				lg = newCellLaneGroup(net, link, lgID, lgCfg.Lanes[0], lgCfg.Lanes[1])
			}
			net.laneGroups[lgID] = lg
			link.laneGroups = append(link.laneGroups, lgID)
		}
		net.links[id] = link
		net.linkIDs = append(net.linkIDs, id)
		source.outcomingLinks = append(source.outcomingLinks, id)
		target.incomingLinks = append(target.incomingLinks, id)
	}

	sort.Slice(net.linkIDs, func(i, j int) bool { return net.linkIDs[i] < net.linkIDs[j] })
	for id, node := range net.nodes {
		net.nodeIDs = append(net.nodeIDs, id)
		sort.Slice(node.incomingLinks, func(i, j int) bool { return node.incomingLinks[i] < node.incomingLinks[j] })
		sort.Slice(node.outcomingLinks, func(i, j int) bool { return node.outcomingLinks[i] < node.outcomingLinks[j] })
	}
	sort.Slice(net.nodeIDs, func(i, j int) bool { return net.nodeIDs[i] < net.nodeIDs[j] })
}

// laneGroupsForLanes returns lane groups of the link overlapping the inclusive lane range
func laneGroupsForLanes(net *Network, link *Link, from, to int) []LaneGroupID {
	ids := make([]LaneGroupID, 0, 1)
	for _, lgID := range link.laneGroups {
		lgFrom, lgTo := net.laneGroups[lgID].LaneRange()
		if overlap(lgFrom, lgTo, from, to) > 0 {
			ids = append(ids, lgID)
		}
	}
	return ids
}

func buildRoadConnections(cfg *ScenarioConfig, net *Network, errLog *ErrorLog) {
	for _, rcCfg := range cfg.RoadConnections {
		id := RoadConnectionID(rcCfg.ID)
		if id == implicitConnectionID {
			errLog.Add("road connection id 0 is reserved")
			continue
		}
		if _, ok := net.roadConnections[id]; ok {
			errLog.Add("duplicate road connection %d", id)
			continue
		}
		inLink, okIn := net.links[LinkID(rcCfg.InLink)]
		outLink, okOut := net.links[LinkID(rcCfg.OutLink)]
		if !okIn || !okOut {
			errLog.Add("road connection %d references unknown link", id)
			continue
		}
		if inLink.targetNodeID != outLink.sourceNodeID {
			errLog.Add("road connection %d: links %d and %d are not adjacent", id, inLink.ID, outLink.ID)
			continue
		}
		inLanes := rcCfg.InLanes
		if inLanes == [2]int{} {
			inLanes = [2]int{1, inLink.lanes}
		}
		outLanes := rcCfg.OutLanes
		if outLanes == [2]int{} {
			outLanes = [2]int{1, outLink.lanes}
		}
		if inLanes[0] < 1 || inLanes[1] > inLink.lanes || inLanes[0] > inLanes[1] {
			errLog.Add("road connection %d: lanes %d-%d out of range of link %d", id, inLanes[0], inLanes[1], inLink.ID)
			continue
		}
		if outLanes[0] < 1 || outLanes[1] > outLink.lanes || outLanes[0] > outLanes[1] {
			errLog.Add("road connection %d: lanes %d-%d out of range of link %d", id, outLanes[0], outLanes[1], outLink.ID)
			continue
		}
		if rcCfg.Capacity < 0 {
			errLog.Add("road connection %d has negative capacity", id)
			continue
		}
		capacity := rcCfg.Capacity
		if capacity == 0 {
			capacity = math.Inf(1)
		}
		rc := &RoadConnection{
			inLaneGroups:      laneGroupsForLanes(net, inLink, inLanes[0], inLanes[1]),
			outLaneGroups:     laneGroupsForLanes(net, outLink, outLanes[0], outLanes[1]),
			capacityVPH:       capacity,
			controlMultiplier: 1,
			ID:                id,
			startLinkID:       inLink.ID,
			endLinkID:         outLink.ID,
			startLaneFrom:     inLanes[0],
			startLaneTo:       inLanes[1],
			endLaneFrom:       outLanes[0],
			endLaneTo:         outLanes[1],
		}
		for _, lgID := range rc.inLaneGroups {
			base := net.laneGroups[lgID].base()
			if existing, ok := base.outlink2roadconnection[outLink.ID]; ok {
				errLog.Add("lane group %d has road connections %d and %d to link %d", lgID, existing, id, outLink.ID)
				continue
			}
			base.outlink2roadconnection[outLink.ID] = id
		}
		net.roadConnections[id] = rc
		node := net.nodes[inLink.targetNodeID]
		node.roadConnections = append(node.roadConnections, id)
	}
	for _, node := range net.nodes {
		sort.Slice(node.roadConnections, func(i, j int) bool { return node.roadConnections[i] < node.roadConnections[j] })
	}
}

func buildReachability(net *Network, errLog *ErrorLog) {
	for _, nodeID := range net.nodeIDs {
		node := net.nodes[nodeID]
		if len(node.roadConnections) > 0 || node.IsSource() || node.IsSink() {
			continue
		}
		if len(node.incomingLinks) != 1 || len(node.outcomingLinks) != 1 {
			errLog.Add("node %d joins %d incoming and %d outcoming links and needs road connections", nodeID, len(node.incomingLinks), len(node.outcomingLinks))
			continue
		}
		upLink := net.links[node.incomingLinks[0]]
		dnLink := net.links[node.outcomingLinks[0]]
		if upLink.IsMacroscopic() && (len(upLink.laneGroups) != 1 || len(dnLink.laneGroups) != 1) {
			errLog.Add("many-to-one node %d without road connections must join single lane groups", nodeID)
		}
	}
	for _, linkID := range net.linkIDs {
		link := net.links[linkID]
		node := net.nodes[link.targetNodeID]
		reachable := make([]LinkID, 0, len(node.outcomingLinks))
		if len(node.roadConnections) == 0 {
			reachable = append(reachable, node.outcomingLinks...)
		} else {
			for _, outlinkID := range node.outcomingLinks {
				for _, rcID := range node.roadConnections {
					rc := net.roadConnections[rcID]
					if rc.startLinkID == linkID && rc.endLinkID == outlinkID {
						reachable = append(reachable, outlinkID)
						break
					}
				}
			}
		}
		link.reachableOutlinks = reachable
		if !node.IsSink() && len(reachable) == 0 {
			errLog.Add("link %d has no road connection to any downstream link", linkID)
		}
	}
}

func isReachable(link *Link, outlinkID LinkID) bool {
	for _, id := range link.reachableOutlinks {
		if id == outlinkID {
			return true
		}
	}
	return false
}

func buildCommodities(cfg *ScenarioConfig, net *Network, errLog *ErrorLog) {
	var builder *pathBuilder
	for _, commodityCfg := range cfg.Commodities {
		id := CommodityID(commodityCfg.ID)
		if _, ok := net.commodities[id]; ok {
			errLog.Add("duplicate commodity %d", id)
			continue
		}
		commodity := &Commodity{
			name:     commodityCfg.Name,
			pathIDs:  make([]PathID, 0, len(commodityCfg.Paths)),
			splits:   make(map[LinkID]map[LinkID]float64),
			ID:       id,
			pathfull: commodityCfg.Pathfull,
		}
		if commodity.pathfull && len(commodityCfg.Paths) == 0 {
			errLog.Add("pathfull commodity %d has no paths", id)
		}
		for _, pathCfg := range commodityCfg.Paths {
			pathID := PathID(pathCfg.ID)
			if _, ok := net.paths[pathID]; ok {
				errLog.Add("duplicate path %d", pathID)
				continue
			}
			links := make([]LinkID, len(pathCfg.Links))
			for i, linkID := range pathCfg.Links {
				links[i] = LinkID(linkID)
			}
			if len(links) == 0 {
				if pathCfg.FromLink == 0 || pathCfg.ToLink == 0 {
					errLog.Add("path %d has neither links nor from/to links", pathID)
					continue
				}
				if builder == nil {
					var err error
					builder, err = newPathBuilder(net)
					if err != nil {
						errLog.Add("can't prepare path builder: %s", err.Error())
						return
					}
				}
				if _, ok := net.links[LinkID(pathCfg.FromLink)]; !ok {
					errLog.Add("path %d starts at unknown link %d", pathID, pathCfg.FromLink)
					continue
				}
				if _, ok := net.links[LinkID(pathCfg.ToLink)]; !ok {
					errLog.Add("path %d ends at unknown link %d", pathID, pathCfg.ToLink)
					continue
				}
				found, err := builder.route(LinkID(pathCfg.FromLink), LinkID(pathCfg.ToLink))
				if err != nil {
					errLog.Add("path %d: %s", pathID, err.Error())
					continue
				}
				links = found
			}
			if !validatePath(net, pathID, links, errLog) {
				continue
			}
			path := &Path{links: links, ID: pathID}
			net.paths[pathID] = path
			commodity.pathIDs = append(commodity.pathIDs, pathID)
			for i := 0; i < len(links)-1; i++ {
				net.links[links[i]].path2outlink[pathID] = links[i+1]
			}
		}
		for _, split := range commodityCfg.Splits {
			link, ok := net.links[LinkID(split.Link)]
			if !ok {
				errLog.Add("commodity %d: split references unknown link %d", id, split.Link)
				continue
			}
			if !isReachable(link, LinkID(split.OutLink)) {
				errLog.Add("commodity %d: link %d does not reach link %d", id, split.Link, split.OutLink)
				continue
			}
			if split.Ratio < 0 || math.IsNaN(split.Ratio) {
				errLog.Add("commodity %d: negative split ratio at link %d", id, split.Link)
				continue
			}
			if _, ok := commodity.splits[link.ID]; !ok {
				commodity.splits[link.ID] = make(map[LinkID]float64)
			}
			commodity.splits[link.ID][LinkID(split.OutLink)] = split.Ratio
		}
		net.commodities[id] = commodity

		// Lane groups on the paths know their states from the beginning
		for _, pathID := range commodity.pathIDs {
			key := NewPathStateKey(id, pathID)
			for _, linkID := range net.paths[pathID].links {
				for _, lg := range net.LaneGroupsOfLink(net.links[linkID]) {
					lg.AddState(key)
				}
			}
		}
	}
}

func validatePath(net *Network, pathID PathID, links []LinkID, errLog *ErrorLog) bool {
	for i, linkID := range links {
		link, ok := net.links[linkID]
		if !ok {
			errLog.Add("path %d references unknown link %d", pathID, linkID)
			return false
		}
		if i == len(links)-1 {
			break
		}
		if !isReachable(link, links[i+1]) {
			errLog.Add("path %d is disconnected between links %d and %d", pathID, linkID, links[i+1])
			return false
		}
	}
	for i := range links {
		for j := i + 1; j < len(links); j++ {
			if links[i] == links[j] {
				errLog.Add("path %d visits link %d twice", pathID, links[i])
				return false
			}
		}
	}
	return true
}

func buildDemands(cfg *ScenarioConfig, net *Network, errLog *ErrorLog) {
	for i, demandCfg := range cfg.Demands {
		commodity, ok := net.commodities[CommodityID(demandCfg.Commodity)]
		if !ok {
			errLog.Add("demand %d references unknown commodity %d", i, demandCfg.Commodity)
			continue
		}
		if demandCfg.Rate < 0 || demandCfg.StartTime < 0 {
			errLog.Add("demand %d must have non-negative rate and start time", i)
			continue
		}
		demand := &Demand{
			rateVPH:     demandCfg.Rate,
			startTime:   demandCfg.StartTime,
			commodityID: commodity.ID,
			linkID:      LinkID(demandCfg.Link),
		}
		if commodity.pathfull {
			path, ok := net.paths[PathID(demandCfg.Path)]
			if !ok || !containsPath(commodity.pathIDs, path.ID) {
				errLog.Add("demand %d references path %d which does not belong to commodity %d", i, demandCfg.Path, commodity.ID)
				continue
			}
			demand.pathID = path.ID
			demand.hasPath = true
			demand.linkID = path.Origin()
		} else if _, ok := net.links[demand.linkID]; !ok {
			errLog.Add("demand %d references unknown link %d", i, demandCfg.Link)
			continue
		}
		net.demands = append(net.demands, demand)
	}
}

func containsPath(ids []PathID, id PathID) bool {
	for _, pathID := range ids {
		if pathID == id {
			return true
		}
	}
	return false
}

// MustBuildNetwork is BuildNetwork for fixtures which are known to be valid
func MustBuildNetwork(cfg *ScenarioConfig) *Network {
	net, err := BuildNetwork(cfg)
	if err != nil {
		panic(errors.Wrap(err, "Can't build network"))
	}
	return net
}
