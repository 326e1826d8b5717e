package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRegistersEverySeries(t *testing.T) {
	m := New()

	m.ExecutorHeight.Set(5)
	m.ExecutorBlocksGrown.Inc()
	m.ExecutorTxRejected.WithLabelValues("quota exceeded").Inc()
	m.PostmanBacklogDepth.Set(2)
	m.ChainHeight.Set(5)
	m.SnapshotChunksWritten.Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"cita_executor_height 5",
		"cita_executor_blocks_grown_total 1",
		`cita_executor_tx_rejected_total{reason="quota exceeded"} 1`,
		"cita_postman_backlog_depth 2",
		"cita_chain_height 5",
		"cita_snapshot_chunks_written_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}
