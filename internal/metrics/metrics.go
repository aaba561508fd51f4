// Package metrics collects run metrics for the scraper and exports them as a
// Prometheus textfile, since the batch job exposes no scrape endpoint.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
)

// Recorder owns the collectors of one run. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	targets      prometheus.Gauge
	activeTasks  prometheus.Gauge
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	assetsTotal  *prometheus.CounterVec
	assetSeconds prometheus.Histogram
	checkpoints  *prometheus.CounterVec
	records      prometheus.Gauge
	lastSuccess  prometheus.Gauge
}

// New registers the scraper collectors on a fresh registry. runID is attached
// to every series as a constant label.
func New(runID string) *Recorder {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"run_id": runID}
	r := &Recorder{
		registry: reg,
		targets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "scraper_targets",
			Help:        "Number of targets submitted to the run.",
			ConstLabels: constLabels,
		}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "scraper_active_tasks",
			Help:        "Number of tasks currently executing.",
			ConstLabels: constLabels,
		}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "scraper_tasks_total",
			Help:        "Completed tasks labeled by result (ok or an error kind).",
			ConstLabels: constLabels,
		}, []string{"result"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "scraper_task_duration_seconds",
			Help:        "Task latency labeled by result.",
			Buckets:     []float64{1, 2.5, 5, 7.5, 10, 15, 30, 60},
			ConstLabels: constLabels,
		}, []string{"result"}),
		assetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "scraper_assets_total",
			Help:        "Logo downloads labeled by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		assetSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "scraper_asset_duration_seconds",
			Help:        "Logo download latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			ConstLabels: constLabels,
		}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "scraper_checkpoints_total",
			Help:        "Snapshot writes labeled by kind (checkpoint or final) and result.",
			ConstLabels: constLabels,
		}, []string{"kind", "result"}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "scraper_records",
			Help:        "Records in the most recent snapshot.",
			ConstLabels: constLabels,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "scraper_last_snapshot_timestamp_seconds",
			Help:        "Unix time of the last successful snapshot write.",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(
		r.targets, r.activeTasks, r.tasksTotal, r.taskDuration,
		r.assetsTotal, r.assetSeconds, r.checkpoints, r.records, r.lastSuccess,
	)
	return r
}

// Registry exposes the underlying registry for tests and custom exporters.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// SetTargets records the size of the input.
func (r *Recorder) SetTargets(n int) {
	if r == nil {
		return
	}
	r.targets.Set(float64(n))
}

// TaskStarted implements worker.Recorder.
func (r *Recorder) TaskStarted() {
	if r == nil {
		return
	}
	r.activeTasks.Inc()
}

// TaskFinished implements worker.Recorder. An empty kind means success.
func (r *Recorder) TaskFinished(kind scrape.ErrorKind, d time.Duration) {
	if r == nil {
		return
	}
	result := "ok"
	if kind != "" {
		result = string(kind)
	}
	r.activeTasks.Dec()
	r.tasksTotal.WithLabelValues(result).Inc()
	r.taskDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveAsset implements asset.Recorder.
func (r *Recorder) ObserveAsset(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.assetsTotal.WithLabelValues(result).Inc()
	r.assetSeconds.Observe(d.Seconds())
}

// ObserveSnapshot records one snapshot write attempt sequence.
func (r *Recorder) ObserveSnapshot(final bool, records int, err error) {
	if r == nil {
		return
	}
	kind := "checkpoint"
	if final {
		kind = "final"
	}
	if err != nil {
		r.checkpoints.WithLabelValues(kind, "error").Inc()
		return
	}
	r.checkpoints.WithLabelValues(kind, "ok").Inc()
	r.records.Set(float64(records))
	r.lastSuccess.SetToCurrentTime()
}

// WriteTextfile writes the current values in the node-exporter textfile
// format, creating parent directories as needed.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
