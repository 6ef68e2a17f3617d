package roadflow

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ScenarioConfig is the file representation of a network with its demands and control timetable
type ScenarioConfig struct {
	Run             RunConfig                   `yaml:"run"`
	RoadParams      map[string]RoadParamsConfig `yaml:"road_params,omitempty"`
	Nodes           []NodeConfig                `yaml:"nodes"`
	Links           []LinkConfig                `yaml:"links"`
	RoadConnections []RoadConnectionConfig      `yaml:"road_connections,omitempty"`
	Commodities     []CommodityConfig           `yaml:"commodities,omitempty"`
	Demands         []DemandConfig              `yaml:"demands,omitempty"`
	Controls        []ControlChangeConfig       `yaml:"controls,omitempty"`
}

// RunConfig holds run parameters. Times are in seconds.
type RunConfig struct {
	SimDt         float64 `yaml:"sim_dt"`
	StartTime     float64 `yaml:"start_time"`
	Duration      float64 `yaml:"duration"`
	OutputDt      float64 `yaml:"output_dt,omitempty"`
	MaxIterations int     `yaml:"max_iterations,omitempty"`
	StreamPolicy  string  `yaml:"stream_policy,omitempty"`
	Seed          int64   `yaml:"seed,omitempty"`
}

type RoadParamsConfig struct {
	CapacityVPHPL   float64 `yaml:"capacity"`
	FreeSpeedKPH    float64 `yaml:"speed"`
	JamDensityVPKPL float64 `yaml:"jam_density"`
	WaveSpeedKPH    float64 `yaml:"wave_speed,omitempty"`
}

type NodeConfig struct {
	ID        int        `yaml:"id"`
	OSMNodeID int64      `yaml:"osm_node_id,omitempty"`
	Signal    bool       `yaml:"signal,omitempty"`
	Point     [2]float64 `yaml:"point,flow,omitempty"`
}

type LinkConfig struct {
	ID         int               `yaml:"id"`
	Name       string            `yaml:"name,omitempty"`
	Source     int               `yaml:"source"`
	Target     int               `yaml:"target"`
	Lanes      int               `yaml:"lanes"`
	Length     float64           `yaml:"length,omitempty"`
	Model      string            `yaml:"model,omitempty"`
	RoadParams string            `yaml:"road_params,omitempty"`
	LinkType   string            `yaml:"link_type,omitempty"`
	OSMWayID   int64             `yaml:"osm_way_id,omitempty"`
	Geometry   [][2]float64      `yaml:"geometry,omitempty"`
	LaneGroups []LaneGroupConfig `yaml:"lane_groups,omitempty"`
}

// LaneGroupConfig covers an inclusive 1-based lane range
type LaneGroupConfig struct {
	ID    int    `yaml:"id"`
	Lanes [2]int `yaml:"lanes,flow"`
}

type RoadConnectionConfig struct {
	ID       int     `yaml:"id"`
	InLink   int     `yaml:"in_link"`
	InLanes  [2]int  `yaml:"in_lanes,flow,omitempty"`
	OutLink  int     `yaml:"out_link"`
	OutLanes [2]int  `yaml:"out_lanes,flow,omitempty"`
	Capacity float64 `yaml:"capacity,omitempty"`
}

type CommodityConfig struct {
	ID       int           `yaml:"id"`
	Name     string        `yaml:"name,omitempty"`
	Pathfull bool          `yaml:"pathfull,omitempty"`
	Paths    []PathConfig  `yaml:"paths,omitempty"`
	Splits   []SplitConfig `yaml:"splits,omitempty"`
}

// PathConfig lists links explicitly or gives the first and the last link to be connected by the shortest route
type PathConfig struct {
	ID       int   `yaml:"id"`
	Links    []int `yaml:"links,flow,omitempty"`
	FromLink int   `yaml:"from_link,omitempty"`
	ToLink   int   `yaml:"to_link,omitempty"`
}

type SplitConfig struct {
	Link    int     `yaml:"link"`
	OutLink int     `yaml:"out_link"`
	Ratio   float64 `yaml:"ratio"`
}

// DemandConfig is a constant flow in vehicles per hour entering Link (or the first link of Path)
type DemandConfig struct {
	Commodity int     `yaml:"commodity"`
	Link      int     `yaml:"link,omitempty"`
	Path      int     `yaml:"path,omitempty"`
	Rate      float64 `yaml:"rate"`
	StartTime float64 `yaml:"start_time,omitempty"`
}

type ControlChangeConfig struct {
	Time           float64 `yaml:"time"`
	RoadConnection int     `yaml:"road_connection"`
	Multiplier     float64 `yaml:"multiplier"`
}

// LoadScenario reads scenario from YAML file
func LoadScenario(fname string) (*ScenarioConfig, error) {
	b, err := os.ReadFile(fname)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read scenario file")
	}
	return ParseScenario(b)
}

// ParseScenario decodes scenario from YAML bytes
func ParseScenario(b []byte) (*ScenarioConfig, error) {
	cfg := ScenarioConfig{}
	err := yaml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Can't unmarshal scenario")
	}
	return &cfg, nil
}

// SaveScenario writes scenario into YAML file
func SaveScenario(fname string, cfg *ScenarioConfig) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "Can't marshal scenario")
	}
	err = os.WriteFile(fname, b, 0644)
	if err != nil {
		return errors.Wrap(err, "Can't write scenario file")
	}
	return nil
}
