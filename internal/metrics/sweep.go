package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sweepRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rhythm_sweep_runs_total",
		Help: "Retention sweeps performed.",
	})

	sweepRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rhythm_sweep_removed_total",
		Help: "Scratch entries deleted by the retention sweep.",
	})

	sweepErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rhythm_sweep_errors_total",
		Help: "Scratch entries the sweep failed to delete.",
	})

	sweepFreedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rhythm_sweep_freed_bytes_total",
		Help: "Bytes reclaimed by the retention sweep.",
	})

	scratchEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rhythm_scratch_entries",
		Help: "Files and work directories left in scratch after the last sweep.",
	})
)

func init() {
	register(sweepRuns, sweepRemoved, sweepErrors, sweepFreedBytes, scratchEntries)
}

// ObserveSweep records one sweep pass.
func ObserveSweep(removed, failed, kept int, freed int64) {
	sweepRuns.Inc()
	sweepRemoved.Add(float64(removed))
	sweepErrors.Add(float64(failed))
	sweepFreedBytes.Add(float64(freed))
	scratchEntries.Set(float64(kept + failed))
}
