package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/hnreader/internal/middleware"
	"github.com/hitoshi/hnreader/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter // nilの場合はレート制限なし

	// ヘルスチェックとメトリクス
	HealthChecker  HealthChecker // nilの場合は常にok
	MetricsHandler http.Handler  // nilの場合は /metrics を公開しない

	// ストーリー
	StoryService StoryServiceInterface
	CacheService CacheServiceInterface
	Sanitizer    security.ContentSanitizerService

	// 読み上げ
	Speech         SpeechSynthesizer
	SpeechMaxChars int
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → RateLimit（/api 配下のみ）
//
// /health と /metrics はレート制限の対象外とする。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	storyHandler := NewStoryHandler(deps.StoryService, deps.Sanitizer, logger)
	cacheHandler := NewCacheHandler(deps.CacheService, logger)
	speechHandler := NewSpeechHandler(deps.StoryService, deps.Speech, deps.Sanitizer, deps.SpeechMaxChars, logger)

	r.Get("/health", newHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		// フィード
		r.Route("/feeds/{type}", func(r chi.Router) {
			r.Get("/stories", storyHandler.ListStories)
			r.Get("/stories/more", storyHandler.MoreStories)
			r.Get("/atom", storyHandler.FeedAtom)
			r.Delete("/cache", storyHandler.InvalidateFeed)
		})

		// ストーリー詳細
		r.Route("/stories/{id}", func(r chi.Router) {
			r.Get("/", storyHandler.GetStory)
			r.Get("/comments", storyHandler.GetComments)
			r.Post("/speech", speechHandler.Synthesize)
		})

		// キャッシュ管理
		r.Get("/cache/stats", cacheHandler.Stats)
		r.Delete("/cache", cacheHandler.Clear)
	})

	return r
}
