package roadflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
	"github.com/pkg/errors"
)

type OSMScanner interface {
	Scan() bool
	Close() error
	Err() error
	Object() osm.Object
}

// OSMImportOption configures ImportScenarioFromOSM
type OSMImportOption func(*osmImporter)

type osmImporter struct {
	logger     *slog.Logger
	model      string
	jamDensity float64
	simDt      float64
	duration   float64
}

// WithImportLogger sets logger for progress messages
func WithImportLogger(logger *slog.Logger) OSMImportOption {
	return func(imp *osmImporter) {
		imp.logger = logger
	}
}

// WithImportModel sets link model of every imported link ("ctm", "pq" or "none")
func WithImportModel(model string) OSMImportOption {
	return func(imp *osmImporter) {
		imp.model = model
	}
}

// WithImportJamDensity sets jam density (vehicles per kilometer per lane) of imported road params
func WithImportJamDensity(jamDensity float64) OSMImportOption {
	return func(imp *osmImporter) {
		imp.jamDensity = jamDensity
	}
}

type osmNode struct {
	point    orb.Point
	ID       osm.NodeID
	useCount int
	signal   bool
}

// importedLink is a directed piece of a way between two split nodes
type importedLink struct {
	geom          orb.LineString
	geomEuclidean orb.LineString
	cfg           LinkConfig
	freeSpeed     float64
	source        osm.NodeID
	target        osm.NodeID
}

func newOSMScanner(ctx context.Context, file *os.File, filename string) (OSMScanner, error) {
	ext := filepath.Ext(filename)
	switch ext {
	case ".osm", ".xml":
		return osmxml.New(ctx, file), nil
	case ".pbf":
		return osmpbf.New(ctx, file, 4), nil
	default:
		return nil, errors.Errorf("File extension '%s' for file '%s' is not handled yet", ext, filename)
	}
}

// ImportScenarioFromOSM reads drivable roads from .osm/.pbf file and prepares
// scenario with nodes, links and road connections. Commodities and demands are
// left empty.
func ImportScenarioFromOSM(filename string, options ...OSMImportOption) (*ScenarioConfig, error) {
	imp := &osmImporter{
		logger:     discardLogger(),
		model:      MODEL_CTM.String(),
		jamDensity: defaultRoadParams.JamDensityVPKPL,
		simDt:      DefaultTimeStep,
		duration:   3600,
	}
	for _, option := range options {
		option(imp)
	}
	if _, err := ParseModelType(imp.model); err != nil {
		return nil, err
	}

	imp.logger.Debug("opening file", "file", filename)
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open OSM file")
	}
	defer file.Close()

	st := time.Now()
	ways, err := imp.readWays(file, filename)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read ways")
	}
	imp.logger.Debug("ways processed", "ways", len(ways), "elapsed", time.Since(st))

	_, err = file.Seek(0, io.SeekStart)
	if err != nil {
		return nil, errors.Wrap(err, "Can't repeat seeking after ways scanning")
	}

	st = time.Now()
	nodes, err := imp.readNodes(file, filename, ways)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read nodes")
	}
	imp.logger.Debug("nodes processed", "nodes", len(nodes), "elapsed", time.Since(st))

	st = time.Now()
	cfg := imp.buildScenario(ways, nodes)
	imp.logger.Debug("scenario prepared", "links", len(cfg.Links), "road_connections", len(cfg.RoadConnections), "elapsed", time.Since(st))
	return cfg, nil
}

func (imp *osmImporter) readWays(file *os.File, filename string) ([]*wayData, error) {
	scanner, err := newOSMScanner(context.Background(), file, filename)
	if err != nil {
		return nil, err
	}
	defer scanner.Close()

	ways := []*wayData{}
	for scanner.Scan() {
		obj := scanner.Object()
		if obj.ObjectID().Type() != osm.TypeWay {
			continue
		}
		way := newWayData(obj.(*osm.Way), imp.logger)
		if !way.isDrivable() {
			continue
		}
		ways = append(ways, way)
	}
	return ways, scanner.Err()
}

func (imp *osmImporter) readNodes(file *os.File, filename string, ways []*wayData) (map[osm.NodeID]*osmNode, error) {
	nodesSeen := make(map[osm.NodeID]struct{})
	for _, way := range ways {
		for _, nodeID := range way.nodes {
			nodesSeen[nodeID] = struct{}{}
		}
	}
	scanner, err := newOSMScanner(context.Background(), file, filename)
	if err != nil {
		return nil, err
	}
	defer scanner.Close()

	nodes := make(map[osm.NodeID]*osmNode, len(nodesSeen))
	for scanner.Scan() {
		obj := scanner.Object()
		if obj.ObjectID().Type() != osm.TypeNode {
			continue
		}
		node := obj.(*osm.Node)
		if _, ok := nodesSeen[node.ID]; !ok {
			continue
		}
		nodes[node.ID] = &osmNode{
			point:  node.Point(),
			ID:     node.ID,
			signal: node.Tags.Find("highway") == "traffic_signals",
		}
	}
	return nodes, scanner.Err()
}

// splitWays cuts every way at nodes shared with other ways
func (imp *osmImporter) splitWays(ways []*wayData, nodes map[osm.NodeID]*osmNode) []*importedLink {
	for _, way := range ways {
		// Clipped extracts may reference nodes out of bounds
		known := way.nodes[:0]
		for _, nodeID := range way.nodes {
			if _, ok := nodes[nodeID]; ok {
				known = append(known, nodeID)
			}
		}
		way.nodes = known
		for _, nodeID := range way.nodes {
			nodes[nodeID].useCount++
		}
	}

	links := make([]*importedLink, 0, len(ways))
	for _, way := range ways {
		if len(way.nodes) < 2 {
			continue
		}
		isSplit := make([]bool, len(way.nodes))
		isSplit[0] = true
		isSplit[len(way.nodes)-1] = true
		for i, nodeID := range way.nodes {
			if nodes[nodeID].useCount > 1 {
				isSplit[i] = true
			}
		}
		if way.nodes[0] == way.nodes[len(way.nodes)-1] && len(way.nodes) > 2 {
			// Closed ways must not produce self loops
			isSplit[len(way.nodes)/2] = true
		}
		forwardLanes, backwardLanes := way.directionLanes()
		start := 0
		for i := 1; i < len(way.nodes); i++ {
			if !isSplit[i] {
				continue
			}
			segment := way.nodes[start : i+1]
			start = i
			geom := make(orb.LineString, 0, len(segment))
			for _, nodeID := range segment {
				geom = append(geom, nodes[nodeID].point)
			}
			length := geo.LengthHaversign(geom)
			if length <= 0 || segment[0] == segment[len(segment)-1] {
				continue
			}
			if forwardLanes > 0 {
				links = append(links, imp.newImportedLink(way, geom, segment[0], segment[len(segment)-1], forwardLanes, length))
			}
			if backwardLanes > 0 {
				reversed := geom.Clone()
				reversed.Reverse()
				links = append(links, imp.newImportedLink(way, reversed, segment[len(segment)-1], segment[0], backwardLanes, length))
			}
		}
	}
	return links
}

func (imp *osmImporter) newImportedLink(way *wayData, geom orb.LineString, source, target osm.NodeID, lanes int, length float64) *importedLink {
	coords := make([][2]float64, len(geom))
	for i, pt := range geom {
		coords[i] = [2]float64{pt.Lon(), pt.Lat()}
	}
	return &importedLink{
		geom:          geom,
		geomEuclidean: lineToEuclidean(geom),
		freeSpeed:     way.freeSpeed(),
		source:        source,
		target:        target,
		cfg: LinkConfig{
			Name:       way.name,
			Lanes:      lanes,
			Length:     length,
			Model:      imp.model,
			RoadParams: roadParamsName(way.linkType, way.freeSpeed()),
			LinkType:   way.linkType.String(),
			OSMWayID:   int64(way.ID),
			Geometry:   coords,
		},
	}
}

func roadParamsName(linkType LinkType, speed float64) string {
	return fmt.Sprintf("%s_%g", linkType, speed)
}

func (imp *osmImporter) buildScenario(ways []*wayData, nodes map[osm.NodeID]*osmNode) *ScenarioConfig {
	cfg := &ScenarioConfig{
		Run: RunConfig{
			SimDt:    imp.simDt,
			Duration: imp.duration,
		},
		RoadParams: make(map[string]RoadParamsConfig),
	}
	links := imp.splitWays(ways, nodes)

	// Nodes are numbered in ascending OSM order
	usedNodes := make(map[osm.NodeID]struct{})
	for _, link := range links {
		usedNodes[link.source] = struct{}{}
		usedNodes[link.target] = struct{}{}
	}
	osmIDs := make([]osm.NodeID, 0, len(usedNodes))
	for osmID := range usedNodes {
		osmIDs = append(osmIDs, osmID)
	}
	sort.Slice(osmIDs, func(i, j int) bool { return osmIDs[i] < osmIDs[j] })
	nodeIDs := make(map[osm.NodeID]int, len(osmIDs))
	for i, osmID := range osmIDs {
		nodeIDs[osmID] = i + 1
		node := nodes[osmID]
		cfg.Nodes = append(cfg.Nodes, NodeConfig{
			ID:        i + 1,
			OSMNodeID: int64(osmID),
			Signal:    node.signal,
			Point:     [2]float64{node.point.Lon(), node.point.Lat()},
		})
	}

	incoming := make(map[osm.NodeID][]*importedLink)
	outcoming := make(map[osm.NodeID][]*importedLink)
	for i, link := range links {
		link.cfg.ID = i + 1
		link.cfg.Source = nodeIDs[link.source]
		link.cfg.Target = nodeIDs[link.target]
		cfg.Links = append(cfg.Links, link.cfg)
		incoming[link.target] = append(incoming[link.target], link)
		outcoming[link.source] = append(outcoming[link.source], link)
		if _, ok := cfg.RoadParams[link.cfg.RoadParams]; !ok {
			linkType := ParseLinkType(link.cfg.LinkType)
			cfg.RoadParams[link.cfg.RoadParams] = RoadParamsConfig{
				CapacityVPHPL:   defaultCapacity(linkType),
				FreeSpeedKPH:    link.freeSpeed,
				JamDensityVPKPL: imp.jamDensity,
			}
		}
	}

	rcID := 0
	for _, osmID := range osmIDs {
		ins, outs := incoming[osmID], outcoming[osmID]
		if len(ins) == 0 || len(outs) == 0 || (len(ins) == 1 && len(outs) == 1) {
			continue
		}
		for _, pair := range connectLinks(ins, outs) {
			rcID++
			cfg.RoadConnections = append(cfg.RoadConnections, RoadConnectionConfig{
				ID:       rcID,
				InLink:   pair.in.cfg.ID,
				InLanes:  [2]int{pair.lanes.in.from, pair.lanes.in.to},
				OutLink:  pair.out.cfg.ID,
				OutLanes: [2]int{pair.lanes.out.from, pair.lanes.out.to},
			})
		}
	}
	return cfg
}

type linkConnection struct {
	in    *importedLink
	out   *importedLink
	lanes connectionPair
}

func isReverse(in, out *importedLink) bool {
	return in.source == out.target
}

func linkEndOf(link *importedLink) linkEnd {
	return linkEnd{geom: link.geomEuclidean, lanes: link.cfg.Lanes}
}

// connectLinks prepares lane connections at the node. U-turns are only kept
// for links which can not continue otherwise.
func connectLinks(ins, outs []*importedLink) []linkConnection {
	connections := []linkConnection{}
	connected := make(map[*importedLink]bool, len(ins))
	if len(outs) == 1 {
		// Merge
		out := outs[0]
		merging := []*importedLink{}
		for _, in := range ins {
			if !isReverse(in, out) {
				merging = append(merging, in)
			}
		}
		if len(merging) > 0 {
			ends := make([]linkEnd, len(merging))
			for i, in := range merging {
				ends[i] = linkEndOf(in)
			}
			for i, pair := range getSpansConnections(linkEndOf(out), ends) {
				connections = append(connections, linkConnection{in: merging[i], out: out, lanes: pair})
				connected[merging[i]] = true
			}
		}
	} else {
		// Diverge
		for _, in := range ins {
			turns := []*importedLink{}
			for _, out := range outs {
				if !isReverse(in, out) && movementByAngle(angleBetweenLines(in.geomEuclidean, out.geomEuclidean)) != MOVEMENT_U_TURN {
					turns = append(turns, out)
				}
			}
			if len(turns) == 0 {
				continue
			}
			ends := make([]linkEnd, len(turns))
			for i, out := range turns {
				ends[i] = linkEndOf(out)
			}
			for i, pair := range getIntersectionsConnections(linkEndOf(in), ends) {
				connections = append(connections, linkConnection{in: in, out: turns[i], lanes: pair})
			}
			connected[in] = true
		}
	}
	for _, in := range ins {
		if connected[in] {
			continue
		}
		// Dead end for this direction: turn back (or take the first way out)
		out := outs[0]
		for _, candidate := range outs {
			if isReverse(in, candidate) {
				out = candidate
				break
			}
		}
		n := min(in.cfg.Lanes, out.cfg.Lanes)
		connections = append(connections, linkConnection{
			in:    in,
			out:   out,
			lanes: connectionPair{laneRange{1, n}, laneRange{1, n}},
		})
	}
	return connections
}
