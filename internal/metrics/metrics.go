// Package metrics records sweep and background task results and writes them
// as a Prometheus textfile for the node exporter's textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rileyhilliard/acsf-tools/internal/errors"
	"github.com/rileyhilliard/acsf-tools/internal/fanout"
)

// Recorder holds the metrics of one acsf-tools invocation.
type Recorder struct {
	registry *prometheus.Registry

	unitsTotal     *prometheus.CounterVec
	unitDuration   *prometheus.HistogramVec
	backgroundRuns *prometheus.CounterVec
}

// NewRecorder creates a Recorder with its own registry, so repeated runs in
// one process don't collide with the default one.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		unitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acsf_sweep_units_total",
				Help: "Sites processed by sweeps, by outcome",
			},
			[]string{"command", "outcome"},
		),
		unitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "acsf_unit_duration_seconds",
				Help:    "Duration of one site's command in seconds",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"command"},
		),
		backgroundRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acsf_background_runs_total",
				Help: "Background task runs, by outcome",
			},
			[]string{"outcome"},
		),
	}
	r.registry.MustRegister(r.unitsTotal, r.unitDuration, r.backgroundRuns)
	return r
}

// UnitObserver returns a fanout.Observer that records units run for command.
func (r *Recorder) UnitObserver(command string) fanout.Observer {
	return func(u fanout.UnitResult) {
		r.unitsTotal.WithLabelValues(command, u.Status.String()).Inc()
		if u.Exec != nil {
			r.unitDuration.WithLabelValues(command).Observe(u.Duration().Seconds())
		}
	}
}

// BackgroundRun records the outcome of one background task run.
func (r *Recorder) BackgroundRun(outcome string) {
	r.backgroundRuns.WithLabelValues(outcome).Inc()
}

// Gatherer exposes the registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile atomically writes every metric to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Can't write metrics to "+path,
			"Check that the directory exists and is writable")
	}
	return nil
}
