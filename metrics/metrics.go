package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	registerMu sync.Mutex

	backupOps       *prometheus.CounterVec
	backupDuration  *prometheus.HistogramVec
	sharesSubmitted *prometheus.CounterVec
	reconstructions *prometheus.CounterVec
)

func init() {
	initCollectors("")
}

func initCollectors(namespace string) {
	backupOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backup_operations_total",
		Help:      "Backup operations by operation and result kind",
	}, []string{"op", "result"})
	backupDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backup_operation_duration_seconds",
		Help:      "Backup operation latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
	sharesSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shares_submitted_total",
		Help:      "Shares submitted to the reconstruction coordinator by result",
	}, []string{"result"})
	reconstructions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconstructions_total",
		Help:      "Key reconstruction attempts by result",
	}, []string{"result"})
}

// Register recreates the collectors under namespace and registers them with
// reg. Counts recorded before the call are discarded.
func Register(reg prometheus.Registerer, namespace string) error {
	registerMu.Lock()
	defer registerMu.Unlock()

	initCollectors(namespace)
	for _, c := range []prometheus.Collector{backupOps, backupDuration, sharesSubmitted, reconstructions} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}

// ObserveBackupOp records one backup operation. result is the error kind, or
// ResultOK.
func ObserveBackupOp(op, result string, started time.Time) {
	registerMu.Lock()
	defer registerMu.Unlock()
	backupOps.WithLabelValues(op, result).Inc()
	backupDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func IncShareSubmitted(result string) {
	registerMu.Lock()
	defer registerMu.Unlock()
	sharesSubmitted.WithLabelValues(result).Inc()
}

func IncReconstruction(result string) {
	registerMu.Lock()
	defer registerMu.Unlock()
	reconstructions.WithLabelValues(result).Inc()
}
