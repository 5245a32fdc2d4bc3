// Package metrics exposes the runner's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksTotal counts terminal transitions by final status.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lailatov_tasks_total",
		Help: "Tasks finished, labelled by terminal status.",
	}, []string{"status"})

	// TasksActive tracks tasks currently in running or committing.
	TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lailatov_tasks_active",
		Help: "Tasks currently occupying a worker.",
	})

	// EngineRuns counts engine executions by engine name and outcome.
	EngineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lailatov_engine_runs_total",
		Help: "Engine executions, labelled by engine and outcome.",
	}, []string{"engine", "outcome"})

	// WatchdogKills counts watchdog force-kill interventions.
	WatchdogKills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lailatov_watchdog_force_kills_total",
		Help: "Runaway tasks hard-killed by the watchdog.",
	})
)

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
