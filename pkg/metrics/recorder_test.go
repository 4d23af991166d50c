package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prxgr4mmer/perps-metrics-service/pkg/metrics"
)

func scrape(t *testing.T, r *metrics.Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRecorder_Exposition(t *testing.T) {
	r := metrics.New("perps")

	r.RecordCycle("success", 0.2)
	r.RecordCycle("success", 0.3)
	r.RecordSourceError("stats")
	r.RecordStaleDiscard("vault")
	r.RecordSessionDiscard()
	r.RecordFallback("pool")
	r.SetSnapshotVersion(7)
	r.SetStreamClients(2)

	body := scrape(t, r)

	assert.Contains(t, body, `perps_refresh_cycles_total{result="success"} 2`)
	assert.Contains(t, body, `perps_refresh_cycle_duration_seconds_count 2`)
	assert.Contains(t, body, `perps_source_errors_total{source="stats"} 1`)
	assert.Contains(t, body, `perps_stale_responses_discarded_total{source="vault"} 1`)
	assert.Contains(t, body, `perps_last_known_fallbacks_total{source="pool"} 1`)
	assert.Contains(t, body, `perps_snapshot_version 7`)
	assert.Contains(t, body, `perps_stream_clients 2`)
}

func TestRecorder_PrivateRegistries(t *testing.T) {
	a := metrics.New("perps")
	b := metrics.New("perps")

	a.SetSnapshotVersion(3)

	assert.Contains(t, scrape(t, a), "perps_snapshot_version 3")
	assert.Contains(t, scrape(t, b), "perps_snapshot_version 0")
	assert.NotSame(t, a.Registry(), b.Registry())
}
