package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// Create a new registry for isolated testing
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}

	// Verify metrics are registered
	if m.RelayConnected == nil {
		t.Error("RelayConnected metric is nil")
	}
	if m.ChannelsActive == nil {
		t.Error("ChannelsActive metric is nil")
	}
	if m.BytesSent == nil {
		t.Error("BytesSent metric is nil")
	}
}

func TestRecordRelayLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordRelayConnect()

	if got := testutil.ToFloat64(m.RelayConnected); got != 1 {
		t.Errorf("RelayConnected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RelayConnects); got != 1 {
		t.Errorf("RelayConnects = %v, want 1", got)
	}

	m.RecordRelayDisconnect("transport_error")

	if got := testutil.ToFloat64(m.RelayConnected); got != 0 {
		t.Errorf("RelayConnected after disconnect = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.RelayDisconnects.WithLabelValues("transport_error")); got != 1 {
		t.Errorf("RelayDisconnects[transport_error] = %v, want 1", got)
	}
}

func TestRecordChannelLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordChannelOpen("tcp", 0.01)
	m.RecordChannelOpen("tcp", 0.02)
	m.RecordChannelOpen("udp", 0.005)

	if got := testutil.ToFloat64(m.ChannelsActive); got != 3 {
		t.Errorf("ChannelsActive = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ChannelsOpened.WithLabelValues("tcp")); got != 2 {
		t.Errorf("ChannelsOpened[tcp] = %v, want 2", got)
	}

	m.RecordChannelClose()

	if got := testutil.ToFloat64(m.ChannelsActive); got != 2 {
		t.Errorf("ChannelsActive after close = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ChannelsClosed); got != 1 {
		t.Errorf("ChannelsClosed = %v, want 1", got)
	}
}

func TestRecordChannelOpenFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordChannelOpenFailure("dial")
	m.RecordChannelOpenFailure("dial")
	m.RecordChannelOpenFailure("duplicate")

	if got := testutil.ToFloat64(m.ChannelOpenFailures.WithLabelValues("dial")); got != 2 {
		t.Errorf("ChannelOpenFailures[dial] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ChannelOpenFailures.WithLabelValues("duplicate")); got != 1 {
		t.Errorf("ChannelOpenFailures[duplicate] = %v, want 1", got)
	}
}

func TestRecordBytes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordBytesSent("tcp", 1024)
	m.RecordBytesSent("tcp", 976)
	m.RecordBytesReceived("udp", 512)

	if got := testutil.ToFloat64(m.BytesSent.WithLabelValues("tcp")); got != 2000 {
		t.Errorf("BytesSent[tcp] = %v, want 2000", got)
	}
	if got := testutil.ToFloat64(m.BytesReceived.WithLabelValues("udp")); got != 512 {
		t.Errorf("BytesReceived[udp] = %v, want 512", got)
	}
}

func TestRecordConnectorOps(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordConnectorOp("add", true)
	m.RecordConnectorOp("add", false)
	m.RecordConnectorOp("remove", true)
	m.SetConnectorTokens(2)

	if got := testutil.ToFloat64(m.ConnectorOps.WithLabelValues("add", "ok")); got != 1 {
		t.Errorf("ConnectorOps[add,ok] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConnectorOps.WithLabelValues("add", "error")); got != 1 {
		t.Errorf("ConnectorOps[add,error] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConnectorTokens); got != 2 {
		t.Errorf("ConnectorTokens = %v, want 2", got)
	}
}

func TestRecordSolverTask(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordSolverTask("CloudflareTask", "ready", 12.5)
	m.RecordSolverTask("TurnstileTask", "failed", 30)
	m.RecordSolverCacheHit()

	if got := testutil.ToFloat64(m.SolverTasks.WithLabelValues("CloudflareTask", "ready")); got != 1 {
		t.Errorf("SolverTasks[CloudflareTask,ready] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SolverCacheHits); got != 1 {
		t.Errorf("SolverCacheHits = %v, want 1", got)
	}
}

func TestDefault_ReturnsSameInstance(t *testing.T) {
	m1 := Default()
	m2 := Default()

	if m1 != m2 {
		t.Error("Default() returned different instances")
	}
}
