// Package monitor implements Monitor & Recovery (§4.8): operation counters,
// stuck-pending alerting, and cleanup of abandoned pending entries.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/decred/ecashgwd/coordinator"
	"github.com/decred/ecashgwd/ecash"
	"github.com/decred/ecashgwd/ledger"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus"
)

// Monitor tracks mint/completion counters and scans the ledger for stuck
// pending entries.
type Monitor struct {
	store ledger.Store

	attempts  *prometheus.CounterVec
	successes *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

// New returns a Monitor backed by store. Counters are registered against
// reg, when it is non-nil, so they can be gathered from it; the facade
// reads them through Counters for its health report.
func New(store ledger.Store, reg prometheus.Registerer) *Monitor {
	m := &Monitor{
		store: store,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecashgw",
			Name:      "op_attempts_total",
			Help:      "Number of coordinator operations attempted, by operation.",
		}, []string{"op"}),
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecashgw",
			Name:      "op_successes_total",
			Help:      "Number of coordinator operations that succeeded, by operation.",
		}, []string{"op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecashgw",
			Name:      "op_failures_total",
			Help:      "Number of coordinator operations that failed, by operation.",
		}, []string{"op"}),
	}

	if reg != nil {
		reg.MustRegister(m.attempts, m.successes, m.failures)
	}

	return m
}

// Observe records a coordinator.Event, implementing the {mint, completion}
// x {attempts, successes, failures} counters of §4.8. It is meant to be
// passed as a coordinator.Config.EventSink.
func (m *Monitor) Observe(ev coordinator.Event) {
	m.attempts.WithLabelValues(ev.Op).Inc()
	if ev.Succeeded {
		m.successes.WithLabelValues(ev.Op).Inc()
	} else {
		m.failures.WithLabelValues(ev.Op).Inc()
	}
}

// SuccessRate returns successes / attempts for op, or 0 if op has never
// been attempted.
func (m *Monitor) SuccessRate(op string) float64 {
	attempts := counterValue(m.attempts.WithLabelValues(op))
	if attempts == 0 {
		return 0
	}
	successes := counterValue(m.successes.WithLabelValues(op))
	return successes / attempts
}

func counterValue(c prometheus.Counter) float64 {
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

// KnownOps are the operation labels coordinator.Coordinator emits through
// Observe (§4.8), in the order health reporting lists them.
var KnownOps = []string{"mint", "completion", "send", "receive", "melt"}

// OpCounters is the {attempts, successes, failures} triple for a single
// operation label.
type OpCounters struct {
	Attempts  float64
	Successes float64
	Failures  float64
}

// Counters returns the current {attempts, successes, failures} for every
// op in KnownOps, the counters half of the §6.1 "health" operation.
func (m *Monitor) Counters() map[string]OpCounters {
	out := make(map[string]OpCounters, len(KnownOps))
	for _, op := range KnownOps {
		out[op] = OpCounters{
			Attempts:  counterValue(m.attempts.WithLabelValues(op)),
			Successes: counterValue(m.successes.WithLabelValues(op)),
			Failures:  counterValue(m.failures.WithLabelValues(op)),
		}
	}
	return out
}

// RecoveryStats is the §4.8 recovery report: the total number of pending
// entries, how many are stuck beyond the 1 h threshold, and the affected
// transaction IDs.
type RecoveryStats struct {
	TotalPending   int
	StuckOneHour   int
	Transactions   []string
}

// Stats scans every entry for walletID and builds a RecoveryStats.
func (m *Monitor) Stats(ctx context.Context, walletID string) (*RecoveryStats, error) {
	entries, err := m.store.ListEntries(ctx, walletID)
	if err != nil {
		return nil, err
	}

	stats := &RecoveryStats{}
	now := time.Now()
	for _, e := range entries {
		if e.Status != ecash.StatusPending {
			continue
		}
		stats.TotalPending++
		stats.Transactions = append(stats.Transactions, e.TransactionID)
		if now.Sub(e.CreatedAt) > time.Hour {
			stats.StuckOneHour++
		}
	}
	return stats, nil
}

// Alert is a single aggregated stuck-pending alert (§4.8 "alert check").
type Alert struct {
	WalletIDs []string
	Count     int
	At        time.Time
}

// CheckAlerts scans every wallet's entries for stuck pending entries and
// returns a single aggregated alert, or nil if nothing is stuck.
func (m *Monitor) CheckAlerts(ctx context.Context, walletIDs []string) (*Alert, error) {
	alert := &Alert{At: time.Now()}
	for _, id := range walletIDs {
		stats, err := m.Stats(ctx, id)
		if err != nil {
			return nil, err
		}
		if stats.StuckOneHour > 0 {
			alert.WalletIDs = append(alert.WalletIDs, id)
			alert.Count += stats.StuckOneHour
		}
	}
	if alert.Count == 0 {
		return nil, nil
	}
	return alert, nil
}

// Cleanup transitions walletID's pending entries older than maxAge to
// failed. With dryRun set, it reports what it would do without writing.
func (m *Monitor) Cleanup(ctx context.Context, walletID string, maxAge time.Duration, dryRun bool) (int, error) {
	entries, err := m.store.ListEntries(ctx, walletID)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	var count int
	for _, e := range entries {
		if e.Status != ecash.StatusPending {
			continue
		}
		if now.Sub(e.CreatedAt) <= maxAge {
			continue
		}
		count++
		if dryRun {
			continue
		}
		reason := fmt.Sprintf("cleanup: pending entry exceeded max age of %s", maxAge)
		if err := m.store.MarkFailed(ctx, e.ID, reason); err != nil {
			log.Warnf("monitor: failed to clean up entry %s: %v", e.ID, err)
		}
	}
	return count, nil
}
