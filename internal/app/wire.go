package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/hnreader/internal/cache"
	"github.com/hitoshi/hnreader/internal/config"
	"github.com/hitoshi/hnreader/internal/database"
	"github.com/hitoshi/hnreader/internal/hn"
	"github.com/hitoshi/hnreader/internal/metrics"
	"github.com/hitoshi/hnreader/internal/model"
	"github.com/hitoshi/hnreader/internal/security"
	"github.com/hitoshi/hnreader/internal/speech"
	"github.com/hitoshi/hnreader/internal/story"
	"github.com/hitoshi/hnreader/internal/thumbnail"
)

const speechTimeout = 60 * time.Second

// components はserveとworkerで共有するワイヤリング結果。
type components struct {
	db        *sql.DB // postgresバックエンド以外ではnil
	store     cache.Store
	registry  *prometheus.Registry
	stories   *story.Service
	enricher  *thumbnail.Enricher // THUMBNAIL_MODE=background以外ではnil
	sanitizer security.ContentSanitizerService
}

// buildComponents は設定に従ってキャッシュ、上流クライアント、サムネイル解決、
// フィードオーケストレーターを組み立てる。
// キャッシュバックエンドに接続できない場合はエラーを返す。
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{}

	if cfg.CacheBackend == config.CacheBackendPostgres {
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		c.db = db
		logger.Info("database connection established")
	}

	store, err := cache.New(ctx, cache.Backend{
		Kind:      cfg.CacheBackend,
		RedisURL:  cfg.RedisURL,
		KeyPrefix: cfg.CacheKeyPrefix,
		DB:        c.db,
	}, cache.Options{
		FeedTTL:  cfg.FeedCacheTTL,
		StoryTTL: cfg.StoryCacheTTL,
	})
	if err != nil {
		c.close()
		return nil, fmt.Errorf("failed to initialize cache backend: %w", err)
	}
	c.store = store
	logger.Info("cache backend ready",
		slog.String("backend", cfg.CacheBackend),
		slog.Duration("feed_ttl", cfg.FeedCacheTTL),
		slog.Duration("story_ttl", cfg.StoryCacheTTL),
	)

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(c.registry)

	hnClient := hn.NewClient(
		&http.Client{Timeout: cfg.HNFetchTimeout},
		cfg.HNAPIBaseURL, logger, collector,
	)
	loader := hn.NewBatchLoader(hnClient, hnClient, logger, cfg.StoryBatchSize)

	resolver := newThumbnailResolver(cfg, logger, collector)

	var queue story.ThumbnailQueue
	if cfg.ThumbnailMode == config.ThumbnailModeBackground {
		c.enricher = thumbnail.NewEnricher(resolver, store, logger, cfg.ThumbnailConcurrency)
		queue = c.enricher
	}

	c.stories = story.NewService(story.Deps{
		Store:      store,
		Lister:     hnClient,
		Loader:     loader,
		Items:      hnClient,
		Thumbnails: resolver,
		Queue:      queue,
		Logger:     logger,
		Metrics:    collector,
	}, story.Options{
		DefaultLimit:    cfg.DefaultStoryLimit,
		LoadMoreDefault: cfg.LoadMoreDefault,
		MaxLimit:        cfg.MaxStoryLimit,
		CommentMaxDepth: cfg.CommentMaxDepth,
	})
	c.sanitizer = security.NewContentSanitizer()

	return c, nil
}

// newThumbnailResolver はプレビューサービスを一次ソースとするResolverを構築する。
// THUMBNAIL_OPENGRAPH_FALLBACKが有効な場合はページのOpenGraphメタデータを二次ソースにする。
func newThumbnailResolver(cfg *config.Config, logger *slog.Logger, collector metrics.MetricsCollector) *thumbnail.Resolver {
	primary := thumbnail.NewClient(
		&http.Client{Timeout: cfg.ThumbnailTimeout},
		cfg.ThumbnailEndpoint, cfg.ThumbnailRatePerSec, logger,
	)

	opts := []thumbnail.ResolverOption{
		thumbnail.WithPlaceholder(cfg.ThumbnailPlaceholderURL),
		thumbnail.WithTimeout(cfg.ThumbnailTimeout),
		thumbnail.WithConcurrency(cfg.ThumbnailConcurrency),
	}
	if cfg.ThumbnailOpenGraphFallback {
		finder := thumbnail.NewOpenGraphFinder(security.NewSSRFGuard(), cfg.ThumbnailTimeout, logger)
		opts = append(opts, thumbnail.WithFallback(finder))
	}
	return thumbnail.NewResolver(primary, logger, collector, opts...)
}

func newSpeechClient(cfg *config.Config, logger *slog.Logger) *speech.Client {
	return speech.NewClient(
		&http.Client{Timeout: speechTimeout},
		cfg.SpeechEndpoint, cfg.SpeechVoiceID, cfg.SpeechModelID, logger,
	)
}

// close はキャッシュとデータベースの接続を閉じる。
func (c *components) close() {
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			slog.Warn("failed to close cache backend", slog.String("error", err.Error()))
		}
	}
	if c.db != nil {
		c.db.Close()
	}
}

// cachePinger はキャッシュバックエンドへの往復でヘルスチェックを行う。
// キャッシュミスは正常とみなし、バックエンド障害のみを異常とする。
type cachePinger struct {
	store cache.Store
}

func (p cachePinger) PingContext(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := p.store.IsFresh(ctx, model.FeedTop)
	return err
}

// errMemoryBackendWorker はworkerがプロセス外から参照できないキャッシュを温めようとした場合のエラー。
var errMemoryBackendWorker = errors.New("worker requires a shared cache backend (CACHE_BACKEND=redis or postgres)")
