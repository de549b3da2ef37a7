package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/hnreader/internal/cache"
	"github.com/hitoshi/hnreader/internal/middleware"
	"github.com/hitoshi/hnreader/internal/model"
)

// CacheServiceInterface はキャッシュ管理ハンドラーが必要とするサービスインターフェース。
type CacheServiceInterface interface {
	Stats(ctx context.Context) (*cache.Stats, error)
	Clear(ctx context.Context) error
}

// HealthChecker は依存サービスの疎通確認インターフェース。*sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// CacheHandler はキャッシュ統計と診断用操作のHTTPハンドラー。
type CacheHandler struct {
	service CacheServiceInterface
	logger  *slog.Logger
}

// NewCacheHandler はCacheHandlerを生成する。
func NewCacheHandler(service CacheServiceInterface, logger *slog.Logger) *CacheHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheHandler{service: service, logger: logger}
}

// Stats はフィード種別ごとのキャッシュ統計を返す。
// GET /api/cache/stats
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.Error("キャッシュ統計の取得に失敗しました",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		middleware.WriteAPIError(w, model.NewCacheUnavailableError())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Clear はすべてのキャッシュを削除する。
// DELETE /api/cache
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Clear(r.Context()); err != nil {
		h.logger.Error("キャッシュのクリアに失敗しました",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		middleware.WriteAPIError(w, model.NewCacheUnavailableError())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// newHealthHandler はヘルスチェックハンドラーを返す。
// checkerがnilの場合は常に200を返す。
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Warn("ヘルスチェックに失敗しました", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
