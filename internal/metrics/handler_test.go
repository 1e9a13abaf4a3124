package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestHandler_ServesMetrics はスクレイプで認証ライフサイクルのメトリクスが返ることを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordLogin(ResultSuccess)
	c.RecordLogout()
	c.RecordRefreshTokensCleared(4)
	c.RecordProviderLatency(120 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`passport_logins_total{result="success"} 1`,
		`passport_logouts_total 1`,
		`passport_refresh_tokens_cleared_total 4`,
		`passport_provider_latency_seconds_count 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %q in body, got:\n%s", want, body)
		}
	}
}
