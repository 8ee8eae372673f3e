// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプラインや同期ワーカーから利用する。
type MetricsCollector interface {
	RecordAssetUploaded()
	RecordAssetsReused(count int)
	RecordAssetSkipped()
	RecordPipelineLatency(duration time.Duration)
	RecordGalleryUploaded()
	RecordGalleryUpdated()
	RecordRepublished()
	RecordSyncFailure(stage string)
	RecordCycleDuration(duration time.Duration)
	RecordScoresUpdated(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	assetsUploaded    prometheus.Counter
	assetsReused      prometheus.Counter
	assetsSkipped     prometheus.Counter
	pipelineLatency   prometheus.Histogram
	galleriesUploaded prometheus.Counter
	galleriesUpdated  prometheus.Counter
	republished       prometheus.Counter
	syncFailures      *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
	scoresUpdated     prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		assetsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exloli_assets_uploaded_total",
			Help: "再ホストした画像の合計数",
		}),
		assetsReused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exloli_assets_reused_total",
			Help: "ハッシュ一致により再利用した画像の合計数",
		}),
		assetsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exloli_assets_skipped_total",
			Help: "ポリシーによりスキップした画像の合計数",
		}),
		pipelineLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exloli_pipeline_duration_seconds",
			Help:    "ギャラリー1件分のアセットパイプラインの所要時間（秒）",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		galleriesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exloli_galleries_uploaded_total",
			Help: "新規に通知したギャラリーの合計数",
		}),
		galleriesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exloli_galleries_updated_total",
			Help: "通知を編集したギャラリーの合計数",
		}),
		republished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exloli_articles_republished_total",
			Help: "記事を再公開した合計数",
		}),
		syncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exloli_sync_failures_total",
			Help: "段階別の同期失敗数",
		}, []string{"stage"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exloli_scan_cycle_duration_seconds",
			Help:    "スキャンサイクル1回の所要時間（秒）",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		scoresUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exloli_scores_updated_total",
			Help: "再計算した評価スコアの合計数",
		}),
	}

	reg.MustRegister(
		c.assetsUploaded,
		c.assetsReused,
		c.assetsSkipped,
		c.pipelineLatency,
		c.galleriesUploaded,
		c.galleriesUpdated,
		c.republished,
		c.syncFailures,
		c.cycleDuration,
		c.scoresUpdated,
	)

	return c
}

// RecordAssetUploaded は画像の再ホストを記録する。
func (c *Collector) RecordAssetUploaded() {
	c.assetsUploaded.Inc()
}

// RecordAssetsReused は再利用した画像数を記録する。
func (c *Collector) RecordAssetsReused(count int) {
	c.assetsReused.Add(float64(count))
}

// RecordAssetSkipped はスキップした画像を記録する。
func (c *Collector) RecordAssetSkipped() {
	c.assetsSkipped.Inc()
}

// RecordPipelineLatency はパイプラインの所要時間を記録する。
func (c *Collector) RecordPipelineLatency(duration time.Duration) {
	c.pipelineLatency.Observe(duration.Seconds())
}

// RecordGalleryUploaded は新規通知を記録する。
func (c *Collector) RecordGalleryUploaded() {
	c.galleriesUploaded.Inc()
}

// RecordGalleryUpdated は通知の編集を記録する。
func (c *Collector) RecordGalleryUpdated() {
	c.galleriesUpdated.Inc()
}

// RecordRepublished は記事の再公開を記録する。
func (c *Collector) RecordRepublished() {
	c.republished.Inc()
}

// RecordSyncFailure は同期失敗を段階別に記録する。
func (c *Collector) RecordSyncFailure(stage string) {
	if stage == "" {
		stage = "unknown"
	}
	c.syncFailures.WithLabelValues(stage).Inc()
}

// RecordCycleDuration はスキャンサイクルの所要時間を記録する。
func (c *Collector) RecordCycleDuration(duration time.Duration) {
	c.cycleDuration.Observe(duration.Seconds())
}

// RecordScoresUpdated は再計算したスコア数を記録する。
func (c *Collector) RecordScoresUpdated(count int) {
	c.scoresUpdated.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordAssetUploaded() {}
func (Nop) RecordAssetsReused(int) {}
func (Nop) RecordAssetSkipped() {}
func (Nop) RecordPipelineLatency(time.Duration) {}
func (Nop) RecordGalleryUploaded() {}
func (Nop) RecordGalleryUpdated() {}
func (Nop) RecordRepublished() {}
func (Nop) RecordSyncFailure(string) {}
func (Nop) RecordCycleDuration(time.Duration) {}
func (Nop) RecordScoresUpdated(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
