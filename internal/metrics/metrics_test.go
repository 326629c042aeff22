package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.registry == nil {
		t.Error("Registry is nil")
	}
	if m.RetrievalsTotal == nil || m.GraphFallbacks == nil || m.GraphPathDuration == nil {
		t.Error("retrieval collectors not initialized")
	}
	if m.RecorderDropped == nil || m.SyncFailures == nil || m.SyncedMemories == nil {
		t.Error("background collectors not initialized")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRetrieval("off", "baseline", "")
	m.ObserveGraphPath(time.Millisecond)
	m.IncRecorderDropped()
	m.IncSyncFailure()
	m.IncSynced()
}

func TestHandlerExposesRecordedSeries(t *testing.T) {
	m := NewMetrics()
	m.RecordRetrieval("canary", "hybrid_graph", "")
	m.RecordRetrieval("canary", "baseline", "timeout")
	m.ObserveGraphPath(30 * time.Millisecond)
	m.IncSyncFailure()

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := string(raw)

	for _, want := range []string{
		`memgraph_retrievals_total{applied_strategy="hybrid_graph",mode="canary"} 1`,
		`memgraph_graph_fallbacks_total{reason="timeout"} 1`,
		`memgraph_sync_failures_total 1`,
		`memgraph_graph_path_seconds_count 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}
