package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・ラベルのメトリクスを取り出す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if c := NewCollector(prometheus.NewRegistry()); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordLogin_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin(ResultSuccess)
	c.RecordLogin(ResultSuccess)
	c.RecordLogin(ResultUnauthorized)

	if v := findMetric(t, reg, "passport_logins_total", map[string]string{"result": "success"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("logins{success} = %v, want 2", v)
	}
	if v := findMetric(t, reg, "passport_logins_total", map[string]string{"result": "unauthorized"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("logins{unauthorized} = %v, want 1", v)
	}
}

func TestRecordRefreshAndLogout(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRefresh(ResultUnauthorized)
	c.RecordLogout()
	c.RecordLogout()

	if v := findMetric(t, reg, "passport_refresh_total", map[string]string{"result": "unauthorized"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("refresh{unauthorized} = %v, want 1", v)
	}
	if v := findMetric(t, reg, "passport_logouts_total", nil).GetCounter().GetValue(); v != 2 {
		t.Errorf("logouts = %v, want 2", v)
	}
}

func TestRecordTokenValidation(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTokenValidation(ResultRevoked)

	if v := findMetric(t, reg, "passport_token_validations_total", map[string]string{"result": "revoked"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("validations{revoked} = %v, want 1", v)
	}
}

func TestRecordProviderLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProviderLatency(150 * time.Millisecond)
	c.RecordProviderLatency(2 * time.Second)

	h := findMetric(t, reg, "passport_provider_latency_seconds", nil).GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
}

func TestRecordHTTPStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(401)
	c.RecordHTTPStatus(401)

	if v := findMetric(t, reg, "passport_http_status_total", map[string]string{"status_code": "401"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("http_status{401} = %v, want 2", v)
	}
}

func TestRecordRefreshTokensCleared(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRefreshTokensCleared(3)

	if v := findMetric(t, reg, "passport_refresh_tokens_cleared_total", nil).GetCounter().GetValue(); v != 3 {
		t.Errorf("cleared = %v, want 3", v)
	}
}
