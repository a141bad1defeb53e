package metrics

import (
	"io/fs"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStats provides the metrics collector access to pipeline state.
type PipelineStats interface {
	ActiveJobs() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats   PipelineStats
	workDir string

	activeJobs   *prometheus.Desc
	workDirBytes *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil (metrics will report 0). workDir may be "" to skip the
// disk usage gauge.
func NewCollector(stats PipelineStats, workDir string) *Collector {
	return &Collector{
		stats:   stats,
		workDir: workDir,
		activeJobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_jobs"),
			"Transcription jobs currently in progress.",
			nil, nil,
		),
		workDirBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "work_dir_bytes"),
			"Bytes of uploads and segments currently staged on disk.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeJobs
	ch <- c.workDirBytes
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	active := 0
	if c.stats != nil {
		active = c.stats.ActiveJobs()
	}
	ch <- prometheus.MustNewConstMetric(c.activeJobs, prometheus.GaugeValue, float64(active))
	ch <- prometheus.MustNewConstMetric(c.workDirBytes, prometheus.GaugeValue, float64(dirSize(c.workDir)))
}

func dirSize(dir string) int64 {
	if dir == "" {
		return 0
	}
	var total int64
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
