// Package metrics records run outcomes for the node_exporter textfile collector.
package metrics

import (
	"fmt"

	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gobucket"

// Recorder holds one run's metrics in a private registry.
type Recorder struct {
	registry *prometheus.Registry

	runSuccess     prometheus.Gauge
	runDuration    prometheus.Gauge
	lastSuccess    *prometheus.GaugeVec
	runTimestamp   prometheus.Gauge
	artifactSize   *prometheus.GaugeVec
	artifactsTotal prometheus.Gauge
	uploadedTotal  prometheus.Gauge
	prunedObjects  *prometheus.GaugeVec
	keptObjects    *prometheus.GaugeVec
	pruneSuccess   *prometheus.GaugeVec
}

// New creates a Recorder whose metrics carry a constant project label.
func New(project string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"project": project}, reg))

	return &Recorder{
		registry: reg,
		runSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_success",
			Help:      "1 if the last backup run succeeded, 0 otherwise",
		}),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last backup run in seconds",
		}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful backup run",
		}, nil),
		runTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last backup run started",
		}),
		artifactSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifact_size_bytes",
			Help:      "Size of the artifact produced for each target in the last run",
		}, []string{"target"}),
		artifactsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifacts",
			Help:      "Number of artifacts produced by the last run",
		}),
		uploadedTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uploaded_objects",
			Help:      "Number of objects uploaded by the last run",
		}),
		prunedObjects: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pruned_objects",
			Help:      "Number of expired objects deleted by the last run",
		}, nil),
		keptObjects: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kept_objects",
			Help:      "Number of objects retained by the last run",
		}, nil),
		pruneSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "prune_success",
			Help:      "1 if the last retention pass succeeded, 0 otherwise",
		}, nil),
	}
}

// Registry returns the registry holding the recorder's metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRun records result. last_success_timestamp_seconds is only exported
// after a successful run and the prune metrics only when pruning ran.
func (r *Recorder) ObserveRun(result *models.RunResult) {
	r.runDuration.Set(result.Duration.Seconds())
	r.runTimestamp.Set(float64(result.StartTime.Unix()))
	r.artifactsTotal.Set(float64(len(result.Artifacts)))
	r.uploadedTotal.Set(float64(len(result.Uploaded)))

	for _, a := range result.Artifacts {
		r.artifactSize.WithLabelValues(a.Name).Set(float64(a.SizeBytes))
	}

	if result.Succeeded() {
		r.runSuccess.Set(1)
		r.lastSuccess.WithLabelValues().Set(float64(result.StartTime.Add(result.Duration).Unix()))
	} else {
		r.runSuccess.Set(0)
	}

	if result.Maintenance.Attempted {
		r.prunedObjects.WithLabelValues().Set(float64(result.Maintenance.Deleted))
		r.keptObjects.WithLabelValues().Set(float64(result.Maintenance.Kept))
		if result.Maintenance.Err == nil {
			r.pruneSuccess.WithLabelValues().Set(1)
		} else {
			r.pruneSuccess.WithLabelValues().Set(0)
		}
	}
}

// WriteTextfile atomically writes the metrics in text exposition format to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
