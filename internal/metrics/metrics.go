// Package metrics counts what each controller pass did. The controller
// is a one-shot tool, so instead of serving a scrape endpoint it writes
// the counters to a node_exporter textfile at the end of a pass.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	processesSignaled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "stop",
			Name:      "processes_signaled_total",
			Help:      "Processes sent a termination signal, by pattern category.",
		}, []string{"category"},
	)
	portsReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "stop",
			Name:      "ports_reclaimed_total",
			Help:      "Listeners killed during port reclaim passes.",
		},
	)
	lockHoldersCleared = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "stop",
			Name:      "lock_holders_cleared_total",
			Help:      "Database file holders killed during lock-clear passes.",
		},
	)
	survivors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stackctl",
			Subsystem: "stop",
			Name:      "survivors",
			Help:      "Processes still matching after the last verification pass.",
		},
	)
	backups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "backup",
			Name:      "artifacts_total",
			Help:      "Backup artifacts produced, by backend kind.",
		}, []string{"backend"},
	)
	rollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "rollback",
			Name:      "completed_total",
			Help:      "Completed rollbacks, by target backend kind.",
		}, []string{"backend"},
	)
)

// Register registers all metrics with the provided registerer.
// Safe to call multiple times; duplicate registrations are ignored.
func Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{processesSignaled, portsReclaimed, lockHoldersCleared, survivors, backups, rollbacks}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func IncSignaled(category string, n int) {
	processesSignaled.WithLabelValues(category).Add(float64(n))
}

func AddPortsReclaimed(n int) { portsReclaimed.Add(float64(n)) }

func AddLockHoldersCleared(n int) { lockHoldersCleared.Add(float64(n)) }

func SetSurvivors(n int) { survivors.Set(float64(n)) }

func IncBackup(kind string) { backups.WithLabelValues(kind).Inc() }

func IncRollback(kind string) { rollbacks.WithLabelValues(kind).Inc() }

// WriteTextfile dumps the default registry to path in text exposition
// format for the node_exporter textfile collector.
func WriteTextfile(path string) error {
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
