package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/pflag"

	"github.com/LdDl/roadflow"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		scenarioFile   string
		osmFile        string
		exportScenario string
		model          string
		out            string
		geomFormat     string
		sqlitePath     string
		logLevel       string
		duration       float64
		dt             float64
		dumpMetrics    bool
	)
	flagSet := pflag.NewFlagSet("roadflow", pflag.ContinueOnError)
	flagSet.StringVar(&scenarioFile, "scenario", "", "path to YAML scenario")
	flagSet.StringVar(&osmFile, "osm", "", "path to *.osm or *.osm.pbf file to import road network from (used when --scenario is empty)")
	flagSet.StringVar(&exportScenario, "export-scenario", "", "write imported scenario to this YAML file and exit")
	flagSet.StringVar(&model, "model", "ctm", "link model of imported links. Expected values: ctm / pq / none")
	flagSet.StringVar(&out, "out", "roadflow.csv", "filename of CSV output. E.g.: if file name is 'out.csv' then 'out_links.csv', 'out_nodes.csv', 'out_lane_groups.csv', 'out_road_connections.csv' and 'out.csv' (link states) are produced")
	flagSet.StringVar(&geomFormat, "geomf", "wkt", "format of output geometry. Expected values: wkt / geojson")
	flagSet.StringVar(&sqlitePath, "sqlite", "", "also store link states in this SQLite database")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug / info / warn / error")
	flagSet.Float64Var(&duration, "duration", 0, "simulated seconds (overrides scenario run.duration)")
	flagSet.Float64Var(&dt, "dt", 0, "macroscopic time step in seconds (overrides scenario run.sim_dt)")
	flagSet.BoolVar(&dumpMetrics, "metrics", false, "print collected metrics in Prometheus text format at exit")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}

	var cfg *roadflow.ScenarioConfig
	switch {
	case scenarioFile != "":
		cfg, err = roadflow.LoadScenario(scenarioFile)
	case osmFile != "":
		cfg, err = roadflow.ImportScenarioFromOSM(osmFile, roadflow.WithImportLogger(logger), roadflow.WithImportModel(model))
	default:
		return errors.New("either --scenario or --osm must be provided")
	}
	if err != nil {
		return err
	}
	if exportScenario != "" {
		logger.Info("saving scenario", "file", exportScenario, "links", len(cfg.Links))
		return roadflow.SaveScenario(exportScenario, cfg)
	}

	if duration > 0 {
		cfg.Run.Duration = duration
	}
	if dt > 0 {
		cfg.Run.SimDt = dt
	}

	net, err := roadflow.BuildNetwork(cfg)
	if err != nil {
		return errors.Wrap(err, "Can't build network")
	}

	fnamePart := strings.Split(out, ".csv") // to guarantee proper filename and its extension
	if err := net.ExportToCSV(fnamePart[0]); err != nil {
		return err
	}
	if geomFormat == "geojson" {
		if err := net.ExportToGeoJSON(fnamePart[0] + "_network.geojson"); err != nil {
			return err
		}
	}

	linkStates := roadflow.NewLinkStateRecorder()
	options := []func(*roadflow.Simulation){
		roadflow.WithRunConfig(cfg.Run),
		roadflow.WithLogger(logger),
		roadflow.WithRecorder(linkStates),
	}
	if sqlitePath != "" {
		store, err := roadflow.NewSQLiteRecorder(sqlitePath)
		if err != nil {
			return err
		}
		options = append(options, roadflow.WithRecorder(store))
	}
	sim, err := roadflow.NewSimulation(net, options...)
	if err != nil {
		return err
	}
	defer sim.Close()

	st := time.Now()
	if err := sim.Run(cfg.Run.StartTime, cfg.Run.Duration); err != nil {
		return err
	}
	logger.Info("simulation finished", "t", sim.CurrentTime(), "vehicles", net.TotalVehicles(), "exited", sim.ExitedVehicles(), "elapsed", time.Since(st))

	switch geomFormat {
	case "geojson":
		err = linkStates.ExportToGeoJSON(fnamePart[0] + ".geojson")
	default:
		err = linkStates.ExportToCSV(fnamePart[0] + ".csv")
	}
	if err != nil {
		return err
	}

	if dumpMetrics {
		return writeMetrics(os.Stdout)
	}
	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "Bad log level '%s'", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func writeMetrics(w *os.File) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return errors.Wrap(err, "Can't gather metrics")
	}
	for _, family := range families {
		if !strings.HasPrefix(family.GetName(), "roadflow_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return errors.Wrap(err, "Can't write metrics")
		}
	}
	return nil
}
