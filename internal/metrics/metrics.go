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
// オーケストレーターやサービス層から利用する。
type MetricsCollector interface {
	RecordSyncSuccess(tournamentID string)
	RecordSyncFailure(tournamentID string, stage string)
	RecordSyncDuration(duration time.Duration)
	RecordFetchLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordActionsApplied(actionType string, count int)
	RecordRecordsSkipped(count int)
	SetUnmatchedMembers(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncSuccess    *prometheus.CounterVec
	syncFail       *prometheus.CounterVec
	syncDuration   prometheus.Histogram
	fetchLatency   prometheus.Histogram
	httpStatus     *prometheus.CounterVec
	actionsApplied *prometheus.CounterVec
	recordsSkipped prometheus.Counter
	unmatched      prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamsync_sync_success_total",
			Help: "同期実行成功の合計数",
		}, []string{"tournament_id"}),
		syncFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamsync_sync_fail_total",
			Help: "同期実行失敗の合計数（失敗段階別）",
		}, []string{"tournament_id", "stage"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "teamsync_sync_duration_seconds",
			Help:    "同期実行全体の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "teamsync_fetch_latency_seconds",
			Help:    "外部プラットフォーム取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamsync_fetch_http_status_total",
			Help: "外部プラットフォームのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		actionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamsync_actions_applied_total",
			Help: "適用された同期アクションの合計数（種別別）",
		}, []string{"action"}),
		recordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamsync_records_skipped_total",
			Help: "解釈できず読み飛ばしたレコードの合計数",
		}),
		unmatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teamsync_unmatched_members",
			Help: "直近の同期で突合できなかったメンバー数",
		}),
	}

	reg.MustRegister(
		c.syncSuccess,
		c.syncFail,
		c.syncDuration,
		c.fetchLatency,
		c.httpStatus,
		c.actionsApplied,
		c.recordsSkipped,
		c.unmatched,
	)

	return c
}

// RecordSyncSuccess は同期実行の成功を記録する。
func (c *Collector) RecordSyncSuccess(tournamentID string) {
	c.syncSuccess.WithLabelValues(tournamentID).Inc()
}

// RecordSyncFailure は同期実行の失敗を失敗段階とともに記録する。
func (c *Collector) RecordSyncFailure(tournamentID string, stage string) {
	c.syncFail.WithLabelValues(tournamentID, stage).Inc()
}

// RecordSyncDuration は同期実行全体の所要時間を記録する。
func (c *Collector) RecordSyncDuration(duration time.Duration) {
	c.syncDuration.Observe(duration.Seconds())
}

// RecordFetchLatency は外部取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus は外部取得のHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordActionsApplied は適用されたアクション数を種別とともに記録する。
func (c *Collector) RecordActionsApplied(actionType string, count int) {
	c.actionsApplied.WithLabelValues(actionType).Add(float64(count))
}

// RecordRecordsSkipped は読み飛ばしたレコード数を記録する。
func (c *Collector) RecordRecordsSkipped(count int) {
	c.recordsSkipped.Add(float64(count))
}

// SetUnmatchedMembers は直近の同期の未突合メンバー数を設定する。
func (c *Collector) SetUnmatchedMembers(count int) {
	c.unmatched.Set(float64(count))
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
