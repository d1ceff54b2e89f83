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
// サービス層やワーカーから利用する。
type MetricsCollector interface {
	RecordStamp(stampType string)
	RecordStampRejected(code string)
	RecordShiftChange(action string)
	RecordAnomaly(kind string)
	SetActiveEmployees(count int)
	RecordHTTPStatus(statusCode int)
	RecordScanLatency(duration time.Duration)
	RecordNotification(success bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	stamps         *prometheus.CounterVec
	stampRejected  *prometheus.CounterVec
	shiftChanges   *prometheus.CounterVec
	anomalies      *prometheus.CounterVec
	activeEmployee prometheus.Gauge
	httpStatus     *prometheus.CounterVec
	scanLatency    prometheus.Histogram
	notifications  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		stamps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_stamps_total",
			Help: "受け付けた打刻の合計数",
		}, []string{"type"}),
		stampRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_stamp_rejections_total",
			Help: "拒否された打刻の合計数（エラーコード別）",
		}, []string{"code"}),
		shiftChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_shift_changes_total",
			Help: "管理者によるシフト・打刻の修正と削除の合計数",
		}, []string{"action"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_anomalies_total",
			Help: "検出された不整合の合計数（種別ごと）",
		}, []string{"kind"}),
		activeEmployee: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timeclock_active_employees",
			Help: "現在勤務中のユーザー数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		scanLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timeclock_anomaly_scan_seconds",
			Help:    "不整合スキャン1回あたりの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_notifications_total",
			Help: "Webhook通知の送信結果",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.stamps,
		c.stampRejected,
		c.shiftChanges,
		c.anomalies,
		c.activeEmployee,
		c.httpStatus,
		c.scanLatency,
		c.notifications,
	)

	return c
}

// RecordStamp は受け付けた打刻を記録する。
func (c *Collector) RecordStamp(stampType string) {
	c.stamps.WithLabelValues(stampType).Inc()
}

// RecordStampRejected は拒否された打刻をエラーコード別に記録する。
func (c *Collector) RecordStampRejected(code string) {
	c.stampRejected.WithLabelValues(code).Inc()
}

// RecordShiftChange は管理者による修正・削除を記録する。
func (c *Collector) RecordShiftChange(action string) {
	c.shiftChanges.WithLabelValues(action).Inc()
}

// RecordAnomaly は検出された不整合を記録する。
func (c *Collector) RecordAnomaly(kind string) {
	c.anomalies.WithLabelValues(kind).Inc()
}

// SetActiveEmployees は勤務中ユーザー数を設定する。
func (c *Collector) SetActiveEmployees(count int) {
	c.activeEmployee.Set(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordScanLatency は不整合スキャンの所要時間を記録する。
func (c *Collector) RecordScanLatency(duration time.Duration) {
	c.scanLatency.Observe(duration.Seconds())
}

// RecordNotification はWebhook通知の結果を記録する。
func (c *Collector) RecordNotification(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.notifications.WithLabelValues(result).Inc()
}

// Nop は何も記録しないMetricsCollector。メトリクスを無効にする場合やテストで使う。
type Nop struct{}

func (Nop) RecordStamp(string)              {}
func (Nop) RecordStampRejected(string)      {}
func (Nop) RecordShiftChange(string)        {}
func (Nop) RecordAnomaly(string)            {}
func (Nop) SetActiveEmployees(int)          {}
func (Nop) RecordHTTPStatus(int)            {}
func (Nop) RecordScanLatency(time.Duration) {}
func (Nop) RecordNotification(bool)         {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
