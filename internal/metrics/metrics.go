// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// delivery.MetricsCollector、sweep.MetricsCollector、
// discord.StatusRecorderのすべてを満たす。
type Collector struct {
	deliverySuccess  *prometheus.CounterVec
	deliveryFail     *prometheus.CounterVec
	rolesAssigned    prometheus.Counter
	invitesCreated   prometheus.Counter
	deliveryLatency  prometheus.Histogram
	sweepRuns        prometheus.Counter
	sweepReminders   prometheus.Counter
	sweepRevocations prometheus.Counter
	sweepFailures    prometheus.Counter
	providerStatus   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		deliverySuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_deliveries_total",
			Help: "配信成功の経路別合計数",
		}, []string{"path"}),
		deliveryFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_delivery_failures_total",
			Help: "配信失敗のエラーコード別合計数",
		}, []string{"code"}),
		rolesAssigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_roles_assigned_total",
			Help: "付与されたロールの合計数",
		}),
		invitesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_invites_created_total",
			Help: "作成された招待の合計数",
		}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "courier_delivery_latency_seconds",
			Help:    "配信処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_sweep_runs_total",
			Help: "ライセンス巡回の実行回数",
		}),
		sweepReminders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_sweep_reminders_total",
			Help: "送信された更新リマインドの合計数",
		}),
		sweepRevocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_sweep_revocations_total",
			Help: "失効処理されたライセンスの合計数",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_sweep_failures_total",
			Help: "巡回中に処理に失敗したレコードの合計数",
		}),
		providerStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_provider_http_status_total",
			Help: "DiscordAPIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.deliverySuccess,
		c.deliveryFail,
		c.rolesAssigned,
		c.invitesCreated,
		c.deliveryLatency,
		c.sweepRuns,
		c.sweepReminders,
		c.sweepRevocations,
		c.sweepFailures,
		c.providerStatus,
	)

	return c
}

// RecordDeliverySuccess は配信成功を経路別に記録する。
func (c *Collector) RecordDeliverySuccess(path string) {
	c.deliverySuccess.WithLabelValues(path).Inc()
}

// RecordDeliveryFailure は配信失敗をエラーコード別に記録する。
func (c *Collector) RecordDeliveryFailure(code string) {
	c.deliveryFail.WithLabelValues(code).Inc()
}

// RecordRoleAssigned はロール付与を記録する。
func (c *Collector) RecordRoleAssigned() {
	c.rolesAssigned.Inc()
}

// RecordInviteCreated は招待作成を記録する。
func (c *Collector) RecordInviteCreated() {
	c.invitesCreated.Inc()
}

// RecordDeliveryLatency は配信処理のレイテンシを記録する。
func (c *Collector) RecordDeliveryLatency(duration time.Duration) {
	c.deliveryLatency.Observe(duration.Seconds())
}

// RecordSweepRun は巡回の実行を記録する。
func (c *Collector) RecordSweepRun() {
	c.sweepRuns.Inc()
}

// RecordSweepReminders は送信された更新リマインド数を記録する。
func (c *Collector) RecordSweepReminders(count int) {
	c.sweepReminders.Add(float64(count))
}

// RecordSweepRevocations は失効処理されたライセンス数を記録する。
func (c *Collector) RecordSweepRevocations(count int) {
	c.sweepRevocations.Add(float64(count))
}

// RecordSweepFailures は巡回中の処理失敗数を記録する。
func (c *Collector) RecordSweepFailures(count int) {
	c.sweepFailures.Add(float64(count))
}

// RecordProviderStatus はDiscordAPIのHTTPステータスコードを記録する。
func (c *Collector) RecordProviderStatus(statusCode int) {
	c.providerStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
