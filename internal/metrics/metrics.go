// Package metrics exports the outcome of the last guarded run as a
// Prometheus node-exporter textfile. The guard is a one-shot process, so
// instead of serving /metrics it rewrites a .prom file that the textfile
// collector picks up.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"tools.zach/dev/cronguard/internal/guard"
)

const namespace = "cronguard"

// reportedOutcomes are the outcomes exposed by the last_outcome gauge, one
// series each so alerts can match on a zero/one value.
var reportedOutcomes = []guard.Outcome{
	guard.OutcomeRan,
	guard.OutcomeLockFailed,
	guard.OutcomeLaunchFailed,
}

// Textfile is a [guard.Observer] that writes run metrics to path.
type Textfile struct {
	path string
	job  string
}

// NewTextfile returns a Textfile writing to path with the given job label.
func NewTextfile(path, job string) *Textfile {
	return &Textfile{path: path, job: job}
}

func (t *Textfile) String() string { return "metrics" }

// OnStart does nothing; metrics describe finished runs only.
func (t *Textfile) OnStart(context.Context, guard.StartEvent) error { return nil }

// OnFinish rewrites the textfile. Busy and timed out cycles leave it alone
// so it keeps describing the instance that actually ran.
func (t *Textfile) OnFinish(_ context.Context, res guard.Result) error {
	if res.Outcome.Skipped() {
		return nil
	}
	if err := prometheus.WriteToTextfile(t.path, t.registry(res)); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func (t *Textfile) registry(res guard.Result) *prometheus.Registry {
	labels := prometheus.Labels{"job": t.job}

	timestamp := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "last_run_timestamp_seconds",
		Help:        "Unix time the last guarded run finished.",
		ConstLabels: labels,
	})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "last_run_duration_seconds",
		Help:        "Wall time of the last guarded run, including lock acquisition.",
		ConstLabels: labels,
	})
	exitCode := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "last_exit_code",
		Help:        "Exit status of the last guarded run.",
		ConstLabels: labels,
	})
	outcome := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "last_outcome",
		Help:        "Outcome of the last guarded run (1 for the matching outcome).",
		ConstLabels: labels,
	}, []string{"outcome"})

	finished := res.Finished
	if finished.IsZero() {
		finished = res.Started
	}
	timestamp.Set(float64(finished.UnixNano()) / 1e9)
	duration.Set(res.Duration().Seconds())
	exitCode.Set(float64(res.ExitCode))
	for _, o := range reportedOutcomes {
		v := 0.0
		if o == res.Outcome {
			v = 1
		}
		outcome.WithLabelValues(string(o)).Set(v)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(timestamp, duration, exitCode, outcome)
	return reg
}
