package observability

import (
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	okBefore := testutil.ToFloat64(m.requests.WithLabelValues("metrics_test", "bounty_getTreasury", "success"))
	errBefore := testutil.ToFloat64(m.errors.WithLabelValues("metrics_test", "bounty_getTreasury", "409"))

	m.Observe("metrics_test", "bounty_getTreasury", 200, time.Millisecond)
	m.Observe("metrics_test", "bounty_getTreasury", 409, time.Millisecond)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("metrics_test", "bounty_getTreasury", "success")); got != okBefore+1 {
		t.Fatalf("success counter: got %v want %v", got, okBefore+1)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues("metrics_test", "bounty_getTreasury", "409")); got != errBefore+1 {
		t.Fatalf("error counter: got %v want %v", got, errBefore+1)
	}

	throttled := testutil.ToFloat64(m.throttles.WithLabelValues("metrics_test", "unspecified"))
	m.RecordThrottle("metrics_test", "")
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("metrics_test", "unspecified")); got != throttled+1 {
		t.Fatalf("throttle counter: got %v want %v", got, throttled+1)
	}
}

func TestLedgerMetricsTreasuryTotals(t *testing.T) {
	m := Ledger()
	m.SetTreasuryTotals(3, 1, big.NewInt(10_000), nil)
	if got := testutil.ToFloat64(m.treasury.WithLabelValues("bounties_created")); got != 3 {
		t.Fatalf("bounties_created: got %v", got)
	}
	if got := testutil.ToFloat64(m.treasury.WithLabelValues("fees_collected")); got != 10_000 {
		t.Fatalf("fees_collected: got %v", got)
	}
	if got := testutil.ToFloat64(m.treasury.WithLabelValues("expired_funds_reclaimed")); got != 0 {
		t.Fatalf("expired_funds_reclaimed: got %v", got)
	}

	before := testutil.ToFloat64(m.events.WithLabelValues("bounty.created"))
	m.RecordEvent("bounty.created")
	m.RecordEvent("")
	if got := testutil.ToFloat64(m.events.WithLabelValues("bounty.created")); got != before+1 {
		t.Fatalf("events: got %v want %v", got, before+1)
	}
}

func TestBigToFloatSaturates(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 2000)
	if got := bigToFloat(huge); got != math.MaxFloat64 {
		t.Fatalf("expected saturation, got %v", got)
	}
	if got := bigToFloat(nil); got != 0 {
		t.Fatalf("nil should be zero, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *moduleMetrics
	m.Observe("x", "y", 200, 0)
	m.RecordThrottle("x", "y")
	var l *LedgerMetrics
	l.ObserveOperation("op", "ok", 0)
	l.RecordEvent("x")
	l.SetTreasuryTotals(0, 0, nil, nil)
}
