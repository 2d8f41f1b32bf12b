package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func delta(t *testing.T, collector prometheus.Collector, observe func()) float64 {
	t.Helper()

	before := testutil.ToFloat64(collector)
	observe()
	after := testutil.ToFloat64(collector)
	return after - before
}

func TestChainRecords(t *testing.T) {
	var m Chain

	if inc := delta(t, blocksAppendedTotal, func() {
		m.ObserveAppend(7, nil, "")
	}); inc != 1 {
		t.Fatalf("expected appended counter increment, got %v", inc)
	}
	if h := testutil.ToFloat64(chainHeight); h != 7 {
		t.Fatalf("expected height 7, got %v", h)
	}

	if inc := delta(t, appendRejectedTotal.WithLabelValues("linkage"), func() {
		m.ObserveAppend(8, errors.New("bad link"), "linkage")
	}); inc != 1 {
		t.Fatalf("expected linkage rejection increment, got %v", inc)
	}

	if inc := delta(t, appendRejectedTotal.WithLabelValues("other"), func() {
		m.ObserveAppend(8, errors.New("boom"), "")
	}); inc != 1 {
		t.Fatalf("expected unlabelled rejection to count as other, got %v", inc)
	}

	m.SetHeight(3)
	if h := testutil.ToFloat64(chainHeight); h != 3 {
		t.Fatalf("expected height 3, got %v", h)
	}
}

func TestMiningRecords(t *testing.T) {
	var m Mining
	start := time.Now().Add(-100 * time.Millisecond)

	if inc := delta(t, roundsTotal.WithLabelValues(StatusSolved), func() {
		m.ObserveRound(StatusSolved, start)
	}); inc != 1 {
		t.Fatalf("expected solved round increment, got %v", inc)
	}

	if inc := delta(t, hashAttemptsTotal, func() {
		m.AddHashes(1024)
		m.AddHashes(0)
	}); inc != 1024 {
		t.Fatalf("expected 1024 hash attempts, got %v", inc)
	}

	if inc := delta(t, activeWorkers, func() {
		m.WorkerStarted()
		m.WorkerStarted()
		m.WorkerStopped()
	}); inc != 1 {
		t.Fatalf("expected one active worker, got %v", inc)
	}
	m.WorkerStopped()
}
