// Package metrics provides Prometheus metrics for resticsnap backup runs.
package metrics

import (
	"fmt"

	"github.com/MacJediWizard/resticsnap/internal/backup"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "resticsnap"

// PrometheusMetrics records backup run metrics. It implements backup.Observer.
type PrometheusMetrics struct {
	BackupCounter    *prometheus.CounterVec
	BackupDuration   *prometheus.HistogramVec
	BackupInProgress prometheus.Gauge
	RejectedCounter  prometheus.Counter
	BytesAdded       prometheus.Counter
	FilesNew         prometheus.Counter
	LastSuccess      prometheus.Gauge
}

var _ backup.Observer = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		BackupCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Backup runs by final status.",
		}, []string{"status", "trigger"}),
		BackupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_duration_seconds",
			Help:      "Wall clock duration of backup runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}, []string{"status"}),
		BackupInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_in_progress",
			Help:      "1 while a restic process is running.",
		}),
		RejectedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_rejected_total",
			Help:      "Triggers rejected because a backup was already running.",
		}),
		BytesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_data_added_bytes_total",
			Help:      "Bytes added to the repository, before compression.",
		}),
		FilesNew: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_files_new_total",
			Help:      "New files stored by completed backups.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_last_success_timestamp_seconds",
			Help:      "Unix time of the last completed or skipped backup.",
		}),
	}

	collectors := []prometheus.Collector{
		m.BackupCounter, m.BackupDuration, m.BackupInProgress,
		m.RejectedCounter, m.BytesAdded, m.FilesNew, m.LastSuccess,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// RunStarted marks a backup as in progress.
func (m *PrometheusMetrics) RunStarted() {
	m.BackupInProgress.Set(1)
}

// RunFinished records the outcome of a run.
func (m *PrometheusMetrics) RunFinished(rec *backup.RunRecord) {
	m.BackupInProgress.Set(0)

	status := string(rec.Status)
	m.BackupCounter.WithLabelValues(status, string(rec.Trigger)).Inc()
	m.BackupDuration.WithLabelValues(status).Observe(rec.CompletedAt.Sub(rec.StartedAt).Seconds())

	if rec.Status == backup.RunStatusFailed || rec.Summary == nil {
		return
	}
	m.BytesAdded.Add(float64(rec.Summary.DataAdded))
	m.FilesNew.Add(float64(rec.Summary.FilesNew))
	m.LastSuccess.Set(float64(rec.CompletedAt.Unix()))
}

// RunRejected counts a trigger that hit a running backup.
func (m *PrometheusMetrics) RunRejected() {
	m.RejectedCounter.Inc()
}
