package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveScan(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "test")

	m.ObserveScan("NIFTY", "BUY_CALL", 2*time.Second)
	m.ObserveScan("NIFTY", "BUY_CALL", time.Second)
	m.ObserveScan("NIFTY", "WAIT", time.Second)

	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("NIFTY", "BUY_CALL")); got != 2 {
		t.Errorf("signals_total{BUY_CALL}: got %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.ScanDuration); got != 1 {
		t.Errorf("scan_duration series: got %d, want 1", got)
	}
}

func TestProviderCounters(t *testing.T) {
	m := New(prometheus.NewRegistry(), "test")
	m.ProviderCall("candles", "ok", 10*time.Millisecond)
	m.ProviderCall("candles", "rate_limited", 10*time.Millisecond)
	m.ProviderRetry("candles")
	m.Coverage("BANKNIFTY", 12, 14)

	if got := testutil.ToFloat64(m.ProviderCalls.WithLabelValues("candles", "ok")); got != 1 {
		t.Errorf("provider_calls_total{ok}: got %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderRetries.WithLabelValues("candles")); got != 1 {
		t.Errorf("provider_retries_total: got %v", got)
	}
	if got := testutil.ToFloat64(m.ConstituentsScanned.WithLabelValues("BANKNIFTY")); got < 0.857 || got > 0.858 {
		t.Errorf("coverage: got %v, want 12/14", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveScan("NIFTY", "WAIT", time.Second)
	m.ScanFailed()
	m.ProviderCall("quote", "ok", time.Millisecond)
	m.ProviderRetry("quote")
	m.Coverage("NIFTY", 1, 2)
	m.Override()
	m.Clients(3)
}

func TestStreamClients(t *testing.T) {
	m := New(prometheus.NewRegistry(), "test")
	m.Clients(3)
	m.Clients(1)
	if got := testutil.ToFloat64(m.StreamClients); got != 1 {
		t.Errorf("stream_clients: got %v, want 1", got)
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, "dup")
	defer func() {
		if recover() == nil {
			t.Error("expected panic registering the same collectors twice")
		}
	}()
	New(reg, "dup")
}
