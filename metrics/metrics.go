// Package metrics exposes Prometheus collectors for the chain and the miner.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "powchain"

var (
	blocksAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "blocks_appended_total",
		Help:      "Count of blocks accepted by the chain.",
	})

	appendRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "append_rejected_total",
		Help:      "Count of blocks rejected by the chain, by reason.",
	}, []string{"reason"})

	chainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "height",
		Help:      "Index of the current chain tip.",
	})

	roundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "miner",
		Name:      "rounds_total",
		Help:      "Count of mining rounds by outcome.",
	}, []string{"status"})

	roundDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "miner",
		Name:      "round_duration_seconds",
		Help:      "Duration of mining rounds by outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms..~4.4min
	}, []string{"status"})

	hashAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "miner",
		Name:      "hash_attempts_total",
		Help:      "Count of nonce trials hashed by all workers.",
	})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "miner",
		Name:      "active_workers",
		Help:      "Number of mining workers currently searching.",
	})
)

// Round outcome labels.
const (
	StatusSolved    = "solved"
	StatusCancelled = "cancelled"
	StatusExhausted = "exhausted"
	StatusError     = "error"
)

// Chain tracks chain-side metrics.
type Chain struct{}

// ObserveAppend records an append attempt. reason is ignored on success.
func (Chain) ObserveAppend(height uint64, err error, reason string) {
	if err != nil {
		if reason == "" {
			reason = "other"
		}
		appendRejectedTotal.WithLabelValues(reason).Inc()
		return
	}
	blocksAppendedTotal.Inc()
	chainHeight.Set(float64(height))
}

// SetHeight sets the tip gauge, e.g. after loading a chain from disk.
func (Chain) SetHeight(height uint64) {
	chainHeight.Set(float64(height))
}

// Mining tracks work-queue metrics.
type Mining struct{}

// ObserveRound records the outcome and duration of one mining round.
func (Mining) ObserveRound(status string, started time.Time) {
	roundsTotal.WithLabelValues(status).Inc()
	roundDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

// AddHashes adds n nonce trials to the hash counter.
func (Mining) AddHashes(n uint64) {
	if n == 0 {
		return
	}
	hashAttemptsTotal.Add(float64(n))
}

// WorkerStarted and WorkerStopped maintain the active worker gauge.
func (Mining) WorkerStarted() { activeWorkers.Inc() }
func (Mining) WorkerStopped() { activeWorkers.Dec() }
