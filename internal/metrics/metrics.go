// Package metrics records the outcome of a backup run in the node_exporter
// textfile format.
package metrics

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const metricsNamespace = "mrb"

// Collector is a prometheus.Collector holding the gauges of one run.
type Collector struct {
	success      *prometheus.GaugeVec
	lastRun      *prometheus.GaugeVec
	lastSuccess  *prometheus.GaugeVec
	duration     *prometheus.GaugeVec
	archiveBytes *prometheus.GaugeVec
	pruned       *prometheus.GaugeVec
}

func gauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
	}, []string{"basename"})
}

func NewCollector() *Collector {
	return &Collector{
		success:      gauge("backup_success", "Whether the last backup run succeeded."),
		lastRun:      gauge("backup_last_run_timestamp_seconds", "Unix time the last backup run finished."),
		lastSuccess:  gauge("backup_last_success_timestamp_seconds", "Unix time of the last successful backup."),
		duration:     gauge("backup_duration_seconds", "Wall time of the last backup run."),
		archiveBytes: gauge("backup_archive_bytes", "Size of the last uploaded archive."),
		pruned:       gauge("backup_latest_pruned", "Number of latest archives removed by the last run."),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.success.Describe(ch)
	c.lastRun.Describe(ch)
	c.lastSuccess.Describe(ch)
	c.duration.Describe(ch)
	c.archiveBytes.Describe(ch)
	c.pruned.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.success.Collect(ch)
	c.lastRun.Collect(ch)
	c.lastSuccess.Collect(ch)
	c.duration.Collect(ch)
	c.archiveBytes.Collect(ch)
	c.pruned.Collect(ch)
}

// Run is the outcome of one backup.
type Run struct {
	Basename     string
	Started      time.Time
	Finished     time.Time
	Success      bool
	ArchiveBytes int64
	Pruned       int
}

func (c *Collector) Observe(r Run) {
	label := r.Basename
	if label == "" {
		label = "default"
	}
	c.lastRun.WithLabelValues(label).Set(float64(r.Finished.Unix()))
	c.duration.WithLabelValues(label).Set(r.Finished.Sub(r.Started).Seconds())
	if !r.Success {
		c.success.WithLabelValues(label).Set(0)
		return
	}
	c.success.WithLabelValues(label).Set(1)
	c.lastSuccess.WithLabelValues(label).Set(float64(r.Finished.Unix()))
	c.archiveBytes.WithLabelValues(label).Set(float64(r.ArchiveBytes))
	c.pruned.WithLabelValues(label).Set(float64(r.Pruned))
}

// carried returns the gauges a failed run keeps from the previous
// textfile, keyed by their fully qualified name.
func (c *Collector) carried() map[string]*prometheus.GaugeVec {
	return map[string]*prometheus.GaugeVec{
		metricsNamespace + "_backup_last_success_timestamp_seconds": c.lastSuccess,
		metricsNamespace + "_backup_archive_bytes":                  c.archiveBytes,
		metricsNamespace + "_backup_latest_pruned":                  c.pruned,
	}
}

// loadPrevious seeds the carried gauges from an existing textfile. A missing
// file is not an error.
func (c *Collector) loadPrevious(filename string) error {
	f, err := os.Open(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	for name, vec := range c.carried() {
		family, ok := families[name]
		if !ok {
			continue
		}
		for _, m := range family.GetMetric() {
			basename := labelValue(m, "basename")
			if basename == "" || m.GetGauge() == nil {
				continue
			}
			vec.WithLabelValues(basename).Set(m.GetGauge().GetValue())
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, label := range m.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

// WriteTextfile writes the outcome of r to filename, replacing any previous
// content atomically. A failed run keeps the last success timestamp, archive
// size and pruned count already recorded in filename.
func WriteTextfile(filename string, r Run) error {
	c := NewCollector()
	if !r.Success {
		if err := c.loadPrevious(filename); err != nil {
			slog.Warn("Failed to read previous metrics", "path", filename, "error", err)
		}
	}
	c.Observe(r)

	registry := prometheus.NewRegistry()
	if err := registry.Register(c); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(filename, registry)
}
