package roadflow

import (
	"encoding/csv"
	"fmt"
	"os"

	geojson "github.com/paulmach/go.geojson"
	"github.com/pkg/errors"
)

// Recorder collects network state every output interval
type Recorder interface {
	// Attach is called by Simulation.Initialize before the first sample
	Attach(sim *Simulation) error
	Record(timestamp float64, sim *Simulation) error
	Close() error
}

// LinkStateRecorder keeps per-link profiles of vehicles and cumulative
// outflow in memory.
type LinkStateRecorder struct {
	linkIDs      []LinkID
	accumulators map[LinkID][]*FlowAccumulator
	times        []float64
	vehicles     map[LinkID][]float64
	flows        map[LinkID][]float64
	net          *Network
}

func NewLinkStateRecorder() *LinkStateRecorder {
	return &LinkStateRecorder{
		accumulators: make(map[LinkID][]*FlowAccumulator),
		vehicles:     make(map[LinkID][]float64),
		flows:        make(map[LinkID][]float64),
	}
}

func (rec *LinkStateRecorder) Attach(sim *Simulation) error {
	rec.net = sim.net
	rec.linkIDs = sim.net.LinkIDs()
	rec.times = rec.times[:0]
	clear(rec.accumulators)
	clear(rec.vehicles)
	clear(rec.flows)
	for _, linkID := range rec.linkIDs {
		link := sim.net.links[linkID]
		for _, lg := range sim.net.LaneGroupsOfLink(link) {
			rec.accumulators[linkID] = append(rec.accumulators[linkID], lg.RequestFlowAccumulator())
		}
	}
	return nil
}

func (rec *LinkStateRecorder) Record(timestamp float64, sim *Simulation) error {
	rec.times = append(rec.times, timestamp)
	for _, linkID := range rec.linkIDs {
		link := sim.net.links[linkID]
		vehicles := 0.0
		for _, lg := range sim.net.LaneGroupsOfLink(link) {
			vehicles += lg.TotalVehicles()
		}
		flow := 0.0
		for _, acc := range rec.accumulators[linkID] {
			flow += acc.Total()
		}
		rec.vehicles[linkID] = append(rec.vehicles[linkID], vehicles)
		rec.flows[linkID] = append(rec.flows[linkID], flow)
	}
	return nil
}

func (rec *LinkStateRecorder) Close() error {
	return nil
}

// Times returns sampling timestamps
func (rec *LinkStateRecorder) Times() []float64 {
	return rec.times
}

// Vehicles returns vehicles on the link at every sample
func (rec *LinkStateRecorder) Vehicles(linkID LinkID) []float64 {
	return rec.vehicles[linkID]
}

// Flows returns cumulative flow out of the link at every sample
func (rec *LinkStateRecorder) Flows(linkID LinkID) []float64 {
	return rec.flows[linkID]
}

// ExportToCSV writes every sample as a ';'-separated row with WKT geometry of the link
func (rec *LinkStateRecorder) ExportToCSV(fname string) error {
	file, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create file")
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()
	writer.Comma = ';'

	err = writer.Write([]string{"t", "link_id", "vehicles", "cumulative_flow", "geom"})
	if err != nil {
		return errors.Wrap(err, "Can't write header")
	}
	for _, linkID := range rec.linkIDs {
		geom := ""
		if link, ok := rec.net.Link(linkID); ok {
			geom = PrepareWKTLinestring(link.geom)
		}
		for i, t := range rec.times {
			err = writer.Write([]string{
				fmt.Sprintf("%f", t),
				fmt.Sprintf("%d", linkID),
				fmt.Sprintf("%f", rec.vehicles[linkID][i]),
				fmt.Sprintf("%f", rec.flows[linkID][i]),
				geom,
			})
			if err != nil {
				return errors.Wrap(err, "Can't write link state")
			}
		}
	}
	return writer.Error()
}

// ExportToGeoJSON writes the latest sample of every link as a feature collection
func (rec *LinkStateRecorder) ExportToGeoJSON(fname string) error {
	fc := geojson.NewFeatureCollection()
	last := len(rec.times) - 1
	for _, linkID := range rec.linkIDs {
		link, ok := rec.net.Link(linkID)
		if !ok || len(link.geom) < 2 {
			continue
		}
		properties := map[string]interface{}{
			"link_id": int(linkID),
			"name":    link.name,
			"model":   link.modelType.String(),
		}
		if last >= 0 {
			properties["t"] = rec.times[last]
			properties["vehicles"] = rec.vehicles[linkID][last]
			properties["cumulative_flow"] = rec.flows[linkID][last]
		}
		fc.AddFeature(PrepareGeoJSONLinestring(link.geom, properties))
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
