package roadflow

import (
	"io"
	"log/slog"
)

const (
	DefaultTimeStep = 2.0
)

// discardLogger returns logger which drops every record
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithTimeStep sets duration of the macroscopic time step in seconds
func WithTimeStep(dt float64) func(*Simulation) {
	return func(sim *Simulation) {
		sim.dt = dt
	}
}

func WithLogger(logger *slog.Logger) func(*Simulation) {
	return func(sim *Simulation) {
		if logger != nil {
			sim.logger = logger
		}
	}
}

// WithMaxIterations sets iteration limit of node models
func WithMaxIterations(maxIterations int) func(*Simulation) {
	return func(sim *Simulation) {
		sim.maxIterations = maxIterations
	}
}

// WithStreamPolicy sets how microscopic sources space vehicles. The seed makes random policies reproducible.
func WithStreamPolicy(policy StreamPolicy, seed int64) func(*Simulation) {
	return func(sim *Simulation) {
		sim.streamPolicy = policy
		sim.seed = seed
	}
}

// WithRecorder adds an output recorder sampled every output interval
func WithRecorder(recorder Recorder) func(*Simulation) {
	return func(sim *Simulation) {
		sim.recorders = append(sim.recorders, recorder)
	}
}

// WithOutputInterval sets how often recorders are sampled, in seconds. Zero means every time step.
func WithOutputInterval(outputDt float64) func(*Simulation) {
	return func(sim *Simulation) {
		sim.outputDt = outputDt
	}
}

// WithEventTrace makes the dispatcher remember fired events
func WithEventTrace() func(*Simulation) {
	return func(sim *Simulation) {
		sim.traceEvents = true
	}
}

// WithRunConfig applies run parameters of a scenario file. Zero values keep defaults.
func WithRunConfig(cfg RunConfig) func(*Simulation) {
	return func(sim *Simulation) {
		if cfg.SimDt > 0 {
			sim.dt = cfg.SimDt
		}
		if cfg.OutputDt > 0 {
			sim.outputDt = cfg.OutputDt
		}
		if cfg.MaxIterations > 0 {
			sim.maxIterations = cfg.MaxIterations
		}
		if cfg.Seed != 0 {
			sim.seed = cfg.Seed
		}
		if cfg.StreamPolicy == "" {
			return
		}
		policy, err := ParseStreamPolicy(cfg.StreamPolicy)
		if err != nil {
			sim.optionsErr = err
			return
		}
		sim.streamPolicy = policy
	}
}
