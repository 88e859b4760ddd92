// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RefreshMetrics はフィード更新処理が使うメトリクス収集のインターフェース。
type RefreshMetrics interface {
	RecordFetchSuccess(feedID string)
	RecordFetchFailure(feedID string, reason string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordItemsIngested(created, appended int)
}

// DispatchMetrics はディスパッチ実行が使うメトリクス収集のインターフェース。
type DispatchMetrics interface {
	RecordOutcome(status, reason string)
	RecordRun(duplicate bool, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess  prometheus.Counter
	fetchFail     *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	itemsIngested *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "digestman_fetch_success_total",
			Help: "フィード取得成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digestman_fetch_fail_total",
			Help: "フィード取得失敗の合計数",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digestman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "digestman_fetch_latency_seconds",
			Help:    "フィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		itemsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digestman_items_ingested_total",
			Help: "取り込まれた記事の合計数",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digestman_dispatch_outcomes_total",
			Help: "ユーザー単位のディスパッチ結果の合計数",
		}, []string{"status", "reason"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digestman_dispatch_runs_total",
			Help: "ディスパッチ実行の合計数",
		}, []string{"duplicate"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "digestman_dispatch_duration_seconds",
			Help:    "ディスパッチ実行の所要時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 300},
		}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.httpStatus,
		c.fetchLatency,
		c.itemsIngested,
		c.outcomes,
		c.runs,
		c.runDuration,
	)

	return c
}

// RecordFetchSuccess はフィード取得成功を記録する。
func (c *Collector) RecordFetchSuccess(feedID string) {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフィード取得失敗を理由別に記録する。
func (c *Collector) RecordFetchFailure(feedID string, reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフィード取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordItemsIngested は新規作成・参照追加された記事数を記録する。
func (c *Collector) RecordItemsIngested(created, appended int) {
	c.itemsIngested.WithLabelValues("created").Add(float64(created))
	c.itemsIngested.WithLabelValues("appended").Add(float64(appended))
}

// RecordOutcome はユーザー単位の結果を記録する。
func (c *Collector) RecordOutcome(status, reason string) {
	c.outcomes.WithLabelValues(status, reason).Inc()
}

// RecordRun はディスパッチ実行を記録する。
func (c *Collector) RecordRun(duplicate bool, duration time.Duration) {
	c.runs.WithLabelValues(strconv.FormatBool(duplicate)).Inc()
	if !duplicate {
		c.runDuration.Observe(duration.Seconds())
	}
}

// Nop は何も記録しない実装。メトリクスを使わないCLI実行やテストで使う。
type Nop struct{}

func (Nop) RecordFetchSuccess(string)             {}
func (Nop) RecordFetchFailure(string, string)     {}
func (Nop) RecordHTTPStatus(int)                  {}
func (Nop) RecordFetchLatency(time.Duration)      {}
func (Nop) RecordItemsIngested(int, int)          {}
func (Nop) RecordOutcome(string, string)          {}
func (Nop) RecordRun(bool, time.Duration)         {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ RefreshMetrics  = (*Collector)(nil)
	_ DispatchMetrics = (*Collector)(nil)
	_ RefreshMetrics  = Nop{}
	_ DispatchMetrics = Nop{}
)
