package roadflow

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RoadflowEventsDispatched tracks the number of fired events by event type
	RoadflowEventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadflow_events_dispatched_total",
			Help: "Total number of dispatched simulation events",
		},
		[]string{"type"},
	)

	// RoadflowNodeIterations tracks how many iterations node models need to resolve flows
	RoadflowNodeIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roadflow_node_iterations",
			Help:    "Iterations used by a node model resolution",
			Buckets: prometheus.LinearBuckets(1, 1, DefaultMaxIterations+1),
		},
	)

	// RoadflowNodeIterationCap tracks resolutions stopped by the iteration limit
	RoadflowNodeIterationCap = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roadflow_node_iteration_cap_total",
			Help: "Total number of node resolutions stopped by the iteration limit",
		},
	)

	// RoadflowNetworkVehicles tracks vehicles currently in the network
	RoadflowNetworkVehicles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roadflow_network_vehicles",
			Help: "Vehicles in the simulated network after the latest macroscopic update",
		},
	)
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(RoadflowEventsDispatched)
	prometheus.MustRegister(RoadflowNodeIterations)
	prometheus.MustRegister(RoadflowNodeIterationCap)
	prometheus.MustRegister(RoadflowNetworkVehicles)
}
