// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// アイテム取得結果のラベル値。
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// サムネイル解決結果のラベル値。
const (
	ThumbnailResolved    = "resolved"
	ThumbnailOpenGraph   = "opengraph"
	ThumbnailPlaceholder = "placeholder"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 上流クライアント、キャッシュ、オーケストレーターから利用する。
type MetricsCollector interface {
	RecordCacheHit(feedType string)
	RecordCacheMiss(feedType string)
	RecordCacheError(op string)
	RecordItemFetch(outcome string)
	RecordFeedListFetch(feedType string, ok bool)
	RecordUpstreamStatus(statusCode int)
	RecordThumbnail(outcome string)
	RecordLoadLatency(feedType string, duration time.Duration)
	RecordStoriesLoaded(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheErrors    *prometheus.CounterVec
	itemFetches    *prometheus.CounterVec
	feedListFetch  *prometheus.CounterVec
	upstreamStatus *prometheus.CounterVec
	thumbnails     *prometheus.CounterVec
	loadLatency    *prometheus.HistogramVec
	storiesLoaded  prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hnreader_cache_hits_total",
			Help: "フィード一覧キャッシュのヒット数",
		}, []string{"feed_type"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hnreader_cache_misses_total",
			Help: "フィード一覧キャッシュのミス数（強制更新を含む）",
		}, []string{"feed_type"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hnreader_cache_errors_total",
			Help: "キャッシュバックエンドのエラー数（ミスとして扱われる）",
		}, []string{"op"}),
		itemFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hnreader_item_fetches_total",
			Help: "上流アイテム取得の結果別件数",
		}, []string{"outcome"}),
		feedListFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hnreader_feed_list_fetches_total",
			Help: "上流ID一覧取得の結果別件数",
		}, []string{"feed_type", "result"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hnreader_upstream_http_status_total",
			Help: "上流APIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		thumbnails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hnreader_thumbnails_total",
			Help: "サムネイル解決の結果別件数",
		}, []string{"outcome"}),
		loadLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hnreader_feed_load_latency_seconds",
			Help:    "キャッシュミス時のフィード読み込みレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"feed_type"}),
		storiesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hnreader_stories_loaded_total",
			Help: "上流から読み込んだストーリーの合計数",
		}),
	}

	reg.MustRegister(
		c.cacheHits,
		c.cacheMisses,
		c.cacheErrors,
		c.itemFetches,
		c.feedListFetch,
		c.upstreamStatus,
		c.thumbnails,
		c.loadLatency,
		c.storiesLoaded,
	)

	return c
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit(feedType string) {
	c.cacheHits.WithLabelValues(feedType).Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss(feedType string) {
	c.cacheMisses.WithLabelValues(feedType).Inc()
}

// RecordCacheError はキャッシュバックエンドのエラーを記録する。
func (c *Collector) RecordCacheError(op string) {
	c.cacheErrors.WithLabelValues(op).Inc()
}

// RecordItemFetch はアイテム取得結果を記録する。
func (c *Collector) RecordItemFetch(outcome string) {
	c.itemFetches.WithLabelValues(outcome).Inc()
}

// RecordFeedListFetch はID一覧取得結果を記録する。
func (c *Collector) RecordFeedListFetch(feedType string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.feedListFetch.WithLabelValues(feedType, result).Inc()
}

// RecordUpstreamStatus は上流APIのHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordThumbnail はサムネイル解決結果を記録する。
func (c *Collector) RecordThumbnail(outcome string) {
	c.thumbnails.WithLabelValues(outcome).Inc()
}

// RecordLoadLatency はフィード読み込みのレイテンシを記録する。
func (c *Collector) RecordLoadLatency(feedType string, duration time.Duration) {
	c.loadLatency.WithLabelValues(feedType).Observe(duration.Seconds())
}

// RecordStoriesLoaded は読み込んだストーリー数を記録する。
func (c *Collector) RecordStoriesLoaded(count int) {
	c.storiesLoaded.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordCacheHit(string)                    {}
func (Nop) RecordCacheMiss(string)                   {}
func (Nop) RecordCacheError(string)                  {}
func (Nop) RecordItemFetch(string)                   {}
func (Nop) RecordFeedListFetch(string, bool)         {}
func (Nop) RecordUpstreamStatus(int)                 {}
func (Nop) RecordThumbnail(string)                   {}
func (Nop) RecordLoadLatency(string, time.Duration) {}
func (Nop) RecordStoriesLoaded(int)                  {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
