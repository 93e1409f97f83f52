// Package metrics provides Prometheus metrics for sftpjail.
//
// A provisioning run is one-shot, so nothing scrapes the process. Metrics
// are collected in the default registry and shipped to a Pushgateway at
// the end of the run when a gateway URL is configured.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Namespace prefixes every metric name.
const Namespace = "sftpjail"

// Job is the Pushgateway job name for all runs.
const Job = "sftpjail"

var (
	// BuildInfo carries the binary version as labels with a fixed value
	// of 1.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "build_info",
		Help:      "Build information about the sftpjail binary.",
	}, []string{"version", "go_version"})

	// RunsTotal counts provisioning runs by outcome.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "runs_total",
		Help:      "Provisioning runs by outcome (success, error, aborted).",
	}, []string{"status"})

	// RunDuration observes how long a full run takes.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of a full provisioning run in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// StepsTotal counts pipeline steps by name and result status.
	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "steps_total",
		Help:      "Pipeline steps by step name and status (applied, unchanged, failed, skipped).",
	}, []string{"step", "status"})
)

// SetBuildInfo records the version labels.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// RecordStep counts one pipeline step result.
func RecordStep(step, status string) {
	StepsTotal.WithLabelValues(step, status).Inc()
}

// RecordRun counts one finished run and observes its duration.
func RecordRun(status string, seconds float64) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(seconds)
}

// Push sends all collected metrics to the Pushgateway at url, grouped by
// the provisioned target. A nil client falls back to the default HTTP
// client.
func Push(url, targetName string, client push.HTTPDoer) error {
	pusher := push.New(url, Job).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("target", targetName)
	if client != nil {
		pusher = pusher.Client(client)
	}
	return pusher.Push()
}
