// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// transport・store・geocodeの各層から利用する。
type MetricsCollector interface {
	RecordAPIRequest(endpoint string, statusCode int, duration time.Duration)
	RecordAPIFailure(endpoint string, kind string)
	SetStoredLocations(count int)
	RecordGeocode(result string)
	RecordPinSubmission(result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiRequests     *prometheus.CounterVec
	apiFailures     *prometheus.CounterVec
	apiLatency      *prometheus.HistogramVec
	storedLocations prometheus.Gauge
	geocodes        *prometheus.CounterVec
	pinSubmissions  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onthemap_api_requests_total",
			Help: "バックエンドAPIへのリクエスト数（エンドポイント・HTTPステータス別）",
		}, []string{"endpoint", "status_code"}),
		apiFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onthemap_api_failures_total",
			Help: "バックエンドAPI呼び出しの失敗数（エンドポイント・失敗種別別）",
		}, []string{"endpoint", "kind"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onthemap_api_latency_seconds",
			Help:    "バックエンドAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		storedLocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "onthemap_store_locations",
			Help: "ストアが保持している位置情報の件数",
		}),
		geocodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onthemap_geocode_total",
			Help: "ジオコーディングの実行数（結果別）",
		}, []string{"result"}),
		pinSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onthemap_pin_submissions_total",
			Help: "位置情報投稿の完了数（結果別）",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.apiRequests,
		c.apiFailures,
		c.apiLatency,
		c.storedLocations,
		c.geocodes,
		c.pinSubmissions,
	)

	return c
}

// RecordAPIRequest はレスポンスを受信したリクエストを記録する。
func (c *Collector) RecordAPIRequest(endpoint string, statusCode int, duration time.Duration) {
	c.apiRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	c.apiLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAPIFailure はAPI呼び出しの失敗を記録する。
func (c *Collector) RecordAPIFailure(endpoint string, kind string) {
	c.apiFailures.WithLabelValues(endpoint, kind).Inc()
}

// SetStoredLocations はストアの保持件数を記録する。
func (c *Collector) SetStoredLocations(count int) {
	c.storedLocations.Set(float64(count))
}

// RecordGeocode はジオコーディングの結果を記録する。
func (c *Collector) RecordGeocode(result string) {
	c.geocodes.WithLabelValues(result).Inc()
}

// RecordPinSubmission は位置情報投稿の結果を記録する。
func (c *Collector) RecordPinSubmission(result string) {
	c.pinSubmissions.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

