package roadflow

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	geojson "github.com/paulmach/go.geojson"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, fname string) [][]string {
	t.Helper()
	file, err := os.Open(fname)
	require.NoError(t, err)
	defer file.Close()
	reader := csv.NewReader(file)
	reader.Comma = ';'
	rows, err := reader.ReadAll()
	require.NoError(t, err)
	return rows
}

func runCorridor(t *testing.T, recorders ...Recorder) *Simulation {
	t.Helper()
	net, err := BuildNetwork(corridorScenario("ctm", "pq", 900))
	require.NoError(t, err)
	options := []func(*Simulation){WithOutputInterval(60)}
	for _, rec := range recorders {
		options = append(options, WithRecorder(rec))
	}
	sim, err := NewSimulation(net, options...)
	require.NoError(t, err)
	require.NoError(t, sim.Run(0, 600))
	return sim
}

func TestLinkStateRecorderExport(t *testing.T) {
	rec := NewLinkStateRecorder()
	runCorridor(t, rec)
	require.Len(t, rec.Times(), 10)
	assert.Len(t, rec.Vehicles(1), 10)
	assert.Greater(t, rec.Flows(1)[9], 0.0)

	dir := t.TempDir()
	fname := filepath.Join(dir, "states.csv")
	require.NoError(t, rec.ExportToCSV(fname))
	rows := readCSV(t, fname)
	require.Len(t, rows, 1+2*10)
	assert.Equal(t, []string{"t", "link_id", "vehicles", "cumulative_flow", "geom"}, rows[0])
	assert.Equal(t, "1", rows[1][1])
	assert.True(t, strings.HasPrefix(rows[1][4], "LINESTRING"), rows[1][4])

	fname = filepath.Join(dir, "states.geojson")
	require.NoError(t, rec.ExportToGeoJSON(fname))
	b, err := os.ReadFile(fname)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(b)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "ctm", fc.Features[0].Properties["model"])
	assert.Equal(t, "pq", fc.Features[1].Properties["model"])
	assert.InDelta(t, 600.0, fc.Features[0].Properties["t"], 1e-9)
}

func TestSQLiteRecorder(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "states.db")
	rec, err := NewSQLiteRecorder(dbPath)
	require.NoError(t, err)
	sim := runCorridor(t, rec)
	runID := rec.RunID()
	assert.Greater(t, runID, int64(0))

	var rows int
	err = rec.DB().QueryRow("SELECT COUNT(*) FROM link_states WHERE run_id = ?", runID).Scan(&rows)
	require.NoError(t, err)
	assert.Equal(t, 2*10, rows)

	var flow float64
	err = rec.DB().QueryRow("SELECT cumulative_flow FROM link_states WHERE run_id = ? AND link_id = 1 ORDER BY t DESC LIMIT 1", runID).Scan(&flow)
	require.NoError(t, err)
	assert.Greater(t, flow, 0.0)

	// A second run on the same database gets its own identifier
	require.NoError(t, sim.Run(0, 120))
	assert.Greater(t, rec.RunID(), runID)
	var runs int
	require.NoError(t, rec.DB().QueryRow("SELECT COUNT(*) FROM runs").Scan(&runs))
	assert.Equal(t, 2, runs)

	require.NoError(t, sim.Close())
}

func TestNetworkExportToCSV(t *testing.T) {
	net, err := BuildNetwork(divergeScenarioConfig())
	require.NoError(t, err)
	prefix := filepath.Join(t.TempDir(), "network.csv")
	require.NoError(t, net.ExportToCSV(prefix))

	base := strings.TrimSuffix(prefix, ".csv")
	nodes := readCSV(t, base+"_nodes.csv")
	assert.Len(t, nodes, 1+5)
	links := readCSV(t, base+"_links.csv")
	assert.Len(t, links, 1+4)
	assert.Equal(t, "id", links[0][0])
	laneGroups := readCSV(t, base+"_lane_groups.csv")
	assert.Len(t, laneGroups, 1+4)
	rcs := readCSV(t, base+"_road_connections.csv")
	require.Len(t, rcs, 1+2)
	assert.Equal(t, "2", rcs[2][0])
	assert.Equal(t, "POINT(0 0)", nodes[1][6])

	fname := filepath.Join(t.TempDir(), "network.geojson")
	require.NoError(t, net.ExportToGeoJSON(fname))
	b, err := os.ReadFile(fname)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(b)
	require.NoError(t, err)
	// Links of the config have no geometry
	assert.Len(t, fc.Features, 5)
	assert.Equal(t, "Point", string(fc.Features[0].Geometry.Type))
}

func TestConverters(t *testing.T) {
	line := orb.LineString{{37.6, 55.7}, {37.61, 55.71}}
	assert.Equal(t, "LINESTRING(37.6 55.7,37.61 55.71)", PrepareWKTLinestring(line))
	assert.Equal(t, "", PrepareWKTLinestring(nil))
	assert.Equal(t, "POINT(37.6 55.7)", PrepareWKTPoint(orb.Point{37.6, 55.7}))

	feature := PrepareGeoJSONLinestring(line, map[string]interface{}{"link_id": 3})
	require.NotNil(t, feature.Geometry)
	assert.Len(t, feature.Geometry.LineString, 2)
	assert.Equal(t, 3, feature.Properties["link_id"])
}
