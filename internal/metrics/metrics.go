// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値。
const (
	ResultSuccess      = "success"
	ResultUnauthorized = "unauthorized"
	ResultInvalidState = "invalid_state"
	ResultError        = "error"

	// トークン検証の拒否理由
	ResultExpired = "expired"
	ResultInvalid = "invalid"
	ResultRevoked = "revoked"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordRefresh(result string)
	RecordLogout()
	RecordTokenValidation(result string)
	RecordProviderLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordRefreshTokensCleared(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	logouts         prometheus.Counter
	validations     *prometheus.CounterVec
	providerLatency prometheus.Histogram
	httpStatus      *prometheus.CounterVec
	cleared         prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_logins_total",
			Help: "ログイン（OAuthコールバック）の結果別合計数",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_refresh_total",
			Help: "リフレッシュトークンローテーションの結果別合計数",
		}, []string{"result"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "passport_logouts_total",
			Help: "ログアウトの合計数",
		}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_token_validations_total",
			Help: "アクセストークン検証の結果別合計数",
		}, []string{"result"}),
		providerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "passport_provider_latency_seconds",
			Help:    "プロバイダーとのコード交換・プロフィール取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		cleared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "passport_refresh_tokens_cleared_total",
			Help: "期限切れでクリアされたリフレッシュトークンの合計数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.refreshes,
		c.logouts,
		c.validations,
		c.providerLatency,
		c.httpStatus,
		c.cleared,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordRefresh はリフレッシュ結果を記録する。
func (c *Collector) RecordRefresh(result string) {
	c.refreshes.WithLabelValues(result).Inc()
}

// RecordLogout はログアウトを記録する。
func (c *Collector) RecordLogout() {
	c.logouts.Inc()
}

// RecordTokenValidation はアクセストークン検証結果を記録する。
func (c *Collector) RecordTokenValidation(result string) {
	c.validations.WithLabelValues(result).Inc()
}

// RecordProviderLatency はプロバイダー呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(duration time.Duration) {
	c.providerLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRefreshTokensCleared はクリーンアップでクリアされた件数を記録する。
func (c *Collector) RecordRefreshTokensCleared(count int64) {
	c.cleared.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。メトリクス無効時とテストで使う。
type Nop struct{}

func (Nop) RecordLogin(string) {}
func (Nop) RecordRefresh(string) {}
func (Nop) RecordLogout() {}
func (Nop) RecordTokenValidation(string) {}
func (Nop) RecordProviderLatency(time.Duration) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRefreshTokensCleared(int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
