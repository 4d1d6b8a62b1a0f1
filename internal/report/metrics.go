package report

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RunMetrics is the snapshot exported after each run.
type RunMetrics struct {
	Time       time.Time
	Outcome    string
	Outcomes   []string
	Candidates int
	Mounted    bool
	SizeBytes  uint64
	FreeBytes  uint64
	Version    string
}

// Registry builds a registry holding the run snapshot. Every known outcome
// is exported, with 1 on the one that happened.
func Registry(m RunMetrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "homeprov_last_run_timestamp_seconds",
		Help: "Unix time of the last provisioning run.",
	})
	outcome := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "homeprov_last_run_outcome",
		Help: "Outcome of the last provisioning run (1 for the outcome that occurred).",
	}, []string{"outcome"})
	candidates := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "homeprov_candidate_disks",
		Help: "Number of candidate secondary disks seen by the last run.",
	})
	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "homeprov_build_info",
		Help:        "Build info of homeprov.",
		ConstLabels: prometheus.Labels{"version": m.Version},
	})
	reg.MustRegister(lastRun, outcome, candidates, buildInfo)

	lastRun.Set(float64(m.Time.Unix()))
	for _, o := range m.Outcomes {
		outcome.WithLabelValues(o).Set(0)
	}
	if m.Outcome != "" {
		outcome.WithLabelValues(m.Outcome).Set(1)
	}
	candidates.Set(float64(m.Candidates))
	buildInfo.Set(1)

	if m.Mounted {
		size := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homeprov_storage_size_bytes",
			Help: "Size of the mounted storage filesystem.",
		})
		free := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homeprov_storage_free_bytes",
			Help: "Free bytes on the mounted storage filesystem.",
		})
		reg.MustRegister(size, free)
		size.Set(float64(m.SizeBytes))
		free.Set(float64(m.FreeBytes))
	}
	return reg
}

// WriteTextfile writes the snapshot in node-exporter textfile format. The
// file is replaced atomically.
func WriteTextfile(path string, m RunMetrics) error {
	return prometheus.WriteToTextfile(path, Registry(m))
}
