package roadflow

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strings"

	geojson "github.com/paulmach/go.geojson"
	"github.com/pkg/errors"
)

// ExportToCSV writes nodes, links, lane groups and road connections into four
// ';'-separated files named after fname.
func (net *Network) ExportToCSV(fname string) error {

	fnameParts := strings.Split(fname, ".csv")
	fnameNodes := fnameParts[0] + "_nodes.csv"
	fnameLinks := fnameParts[0] + "_links.csv"
	fnameLaneGroups := fnameParts[0] + "_lane_groups.csv"
	fnameRoadConnections := fnameParts[0] + "_road_connections.csv"

	err := net.exportNodesToCSV(fnameNodes)
	if err != nil {
		return errors.Wrap(err, "Can't export nodes")
	}

	err = net.exportLinksToCSV(fnameLinks)
	if err != nil {
		return errors.Wrap(err, "Can't export links")
	}

	err = net.exportLaneGroupsToCSV(fnameLaneGroups)
	if err != nil {
		return errors.Wrap(err, "Can't export lane groups")
	}

	err = net.exportRoadConnectionsToCSV(fnameRoadConnections)
	if err != nil {
		return errors.Wrap(err, "Can't export road connections")
	}
	return nil
}

func createCSV(fname string) (*os.File, *csv.Writer, error) {
	file, err := os.Create(fname)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't create file")
	}
	writer := csv.NewWriter(file)
	writer.Comma = ';'
	return file, writer, nil
}

func (net *Network) exportNodesToCSV(fname string) error {
	file, writer, err := createCSV(fname)
	if err != nil {
		return err
	}
	defer file.Close()
	defer writer.Flush()

	err = writer.Write([]string{"id", "osm_node_id", "control_type", "incoming_links", "outcoming_links", "road_connections", "geom"})
	if err != nil {
		return errors.Wrap(err, "Can't write header")
	}

	for _, nodeID := range net.nodeIDs {
		node := net.nodes[nodeID]
		err = writer.Write([]string{
			fmt.Sprintf("%d", node.ID),
			fmt.Sprintf("%d", node.osmNodeID),
			node.controlType.String(),
			joinIDs(node.incomingLinks),
			joinIDs(node.outcomingLinks),
			joinIDs(node.roadConnections),
			PrepareWKTPoint(node.geom),
		})
		if err != nil {
			return errors.Wrap(err, "Can't write node")
		}
	}
	return writer.Error()
}

func (net *Network) exportLinksToCSV(fname string) error {
	file, writer, err := createCSV(fname)
	if err != nil {
		return err
	}
	defer file.Close()
	defer writer.Flush()

	err = writer.Write([]string{"id", "name", "source_node", "target_node", "osm_way_id", "link_type", "model", "lanes", "free_speed", "capacity", "jam_density", "length_meters", "geom"})
	if err != nil {
		return errors.Wrap(err, "Can't write header")
	}

	for _, linkID := range net.linkIDs {
		link := net.links[linkID]
		err = writer.Write([]string{
			fmt.Sprintf("%d", link.ID),
			link.name,
			fmt.Sprintf("%d", link.sourceNodeID),
			fmt.Sprintf("%d", link.targetNodeID),
			fmt.Sprintf("%d", link.osmWayID),
			link.linkType.String(),
			link.modelType.String(),
			fmt.Sprintf("%d", link.lanes),
			fmt.Sprintf("%f", link.roadParams.FreeSpeedKPH),
			fmt.Sprintf("%f", link.roadParams.CapacityVPHPL),
			fmt.Sprintf("%f", link.roadParams.JamDensityVPKPL),
			fmt.Sprintf("%f", link.lengthMeters),
			PrepareWKTLinestring(link.geom),
		})
		if err != nil {
			return errors.Wrap(err, "Can't write link")
		}
	}
	return writer.Error()
}

func (net *Network) exportLaneGroupsToCSV(fname string) error {
	file, writer, err := createCSV(fname)
	if err != nil {
		return err
	}
	defer file.Close()
	defer writer.Flush()

	err = writer.Write([]string{"id", "link_id", "model", "lane_from", "lane_to", "max_vehicles"})
	if err != nil {
		return errors.Wrap(err, "Can't write header")
	}

	for _, lgID := range net.LaneGroupIDs() {
		lg := net.laneGroups[lgID]
		from, to := lg.LaneRange()
		err = writer.Write([]string{
			fmt.Sprintf("%d", lg.ID()),
			fmt.Sprintf("%d", lg.Link().ID),
			lg.ModelType().String(),
			fmt.Sprintf("%d", from),
			fmt.Sprintf("%d", to),
			fmt.Sprintf("%f", lg.MaxVehicles()),
		})
		if err != nil {
			return errors.Wrap(err, "Can't write lane group")
		}
	}
	return writer.Error()
}

func (net *Network) exportRoadConnectionsToCSV(fname string) error {
	file, writer, err := createCSV(fname)
	if err != nil {
		return err
	}
	defer file.Close()
	defer writer.Flush()

	err = writer.Write([]string{"id", "start_link", "start_lanes", "end_link", "end_lanes", "capacity", "multiplier"})
	if err != nil {
		return errors.Wrap(err, "Can't write header")
	}

	for _, rcID := range net.RoadConnectionIDs() {
		rc := net.roadConnections[rcID]
		capacity := ""
		if !math.IsInf(rc.capacityVPH, 1) {
			capacity = fmt.Sprintf("%f", rc.capacityVPH)
		}
		err = writer.Write([]string{
			fmt.Sprintf("%d", rc.ID),
			fmt.Sprintf("%d", rc.startLinkID),
			fmt.Sprintf("%d-%d", rc.startLaneFrom, rc.startLaneTo),
			fmt.Sprintf("%d", rc.endLinkID),
			fmt.Sprintf("%d-%d", rc.endLaneFrom, rc.endLaneTo),
			capacity,
			fmt.Sprintf("%f", rc.controlMultiplier),
		})
		if err != nil {
			return errors.Wrap(err, "Can't write road connection")
		}
	}
	return writer.Error()
}

// ExportToGeoJSON writes nodes as points and links as lines into a single feature collection
func (net *Network) ExportToGeoJSON(fname string) error {
	fc := geojson.NewFeatureCollection()
	for _, nodeID := range net.nodeIDs {
		node := net.nodes[nodeID]
		fc.AddFeature(PrepareGeoJSONPoint(node.geom, map[string]interface{}{
			"node_id":      int(node.ID),
			"osm_node_id":  int64(node.osmNodeID),
			"control_type": node.controlType.String(),
		}))
	}
	for _, linkID := range net.linkIDs {
		link := net.links[linkID]
		if len(link.geom) < 2 {
			continue
		}
		fc.AddFeature(PrepareGeoJSONLinestring(link.geom, map[string]interface{}{
			"link_id":   int(link.ID),
			"name":      link.name,
			"link_type": link.linkType.String(),
			"model":     link.modelType.String(),
			"lanes":     link.lanes,
		}))
	}
	b, err := fc.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "Can't marshal feature collection")
	}
	err = os.WriteFile(fname, b, 0644)
	if err != nil {
		return errors.Wrap(err, "Can't write file")
	}
	return nil
}

func joinIDs[T ~int](ids []T) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}
