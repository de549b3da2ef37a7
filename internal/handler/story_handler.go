package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/hnreader/internal/middleware"
	"github.com/hitoshi/hnreader/internal/model"
	"github.com/hitoshi/hnreader/internal/security"
)

// StoryServiceInterface はストーリーハンドラーが必要とするサービスインターフェース。
type StoryServiceInterface interface {
	// GetStories はフィードのストーリー一覧を返す。
	GetStories(ctx context.Context, feedType model.FeedType, forceRefresh bool, limit int) []*model.Story
	// LoadMore は表示済み件数に追加件数を加えたストーリー一覧を返す。
	LoadMore(ctx context.Context, feedType model.FeedType, current, additional int) []*model.Story
	// GetStory はストーリー1件を返す。存在しない場合はnil。
	GetStory(ctx context.Context, id int64) *model.Story
	// GetComments はコメントツリーを返す。ストーリーが存在しない場合はnil。
	GetComments(ctx context.Context, storyID int64, maxDepth int) []*model.CommentNode
	// Invalidate はフィード一覧のキャッシュを無効化する。
	Invalidate(ctx context.Context, feedType model.FeedType) error
}

// StoryHandler はストーリー閲覧のHTTPハンドラー。
type StoryHandler struct {
	service   StoryServiceInterface
	sanitizer security.ContentSanitizerService
	logger    *slog.Logger
}

// NewStoryHandler はStoryHandlerを生成する。
func NewStoryHandler(service StoryServiceInterface, sanitizer security.ContentSanitizerService, logger *slog.Logger) *StoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoryHandler{
		service:   service,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// ListStories はフィードのストーリー一覧を取得する。
// GET /api/feeds/{type}/stories?limit=&refresh=&q=
func (h *StoryHandler) ListStories(w http.ResponseWriter, r *http.Request) {
	feedType, apiErr := feedTypeParam(r)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	limit, apiErr := queryInt(r, "limit", 0)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	refresh, apiErr := queryBool(r, "refresh")
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	stories := h.service.GetStories(r.Context(), feedType, refresh, limit)
	stories = filterStories(stories, strings.TrimSpace(r.URL.Query().Get("q")))

	writeJSON(w, http.StatusOK, newStoryListResponse(feedType, stories, h.sanitizer))
}

// MoreStories は追加読み込み後のストーリー一覧を取得する。
// GET /api/feeds/{type}/stories/more?current=&additional=&q=
func (h *StoryHandler) MoreStories(w http.ResponseWriter, r *http.Request) {
	feedType, apiErr := feedTypeParam(r)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	current, apiErr := queryInt(r, "current", 0)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	additional, apiErr := queryInt(r, "additional", 0)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	stories := h.service.LoadMore(r.Context(), feedType, current, additional)
	stories = filterStories(stories, strings.TrimSpace(r.URL.Query().Get("q")))

	writeJSON(w, http.StatusOK, newStoryListResponse(feedType, stories, h.sanitizer))
}

// InvalidateFeed はフィード一覧のキャッシュを無効化する。
// DELETE /api/feeds/{type}/cache
func (h *StoryHandler) InvalidateFeed(w http.ResponseWriter, r *http.Request) {
	feedType, apiErr := feedTypeParam(r)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	if err := h.service.Invalidate(r.Context(), feedType); err != nil {
		h.logger.Error("フィードキャッシュの無効化に失敗しました",
			slog.String("feed_type", string(feedType)),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		middleware.WriteAPIError(w, model.NewCacheUnavailableError())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetStory はストーリー詳細を取得する。
// GET /api/stories/{id}
func (h *StoryHandler) GetStory(w http.ResponseWriter, r *http.Request) {
	id, apiErr := storyIDParam(r)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	st := h.service.GetStory(r.Context(), id)
	if st == nil {
		middleware.WriteAPIError(w, model.NewStoryNotFoundError(id))
		return
	}

	writeJSON(w, http.StatusOK, newStoryResponse(st, h.sanitizer))
}

// GetComments はストーリーのコメントツリーを取得する。
// GET /api/stories/{id}/comments?depth=
func (h *StoryHandler) GetComments(w http.ResponseWriter, r *http.Request) {
	id, apiErr := storyIDParam(r)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	depth, apiErr := queryInt(r, "depth", 0)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	tree := h.service.GetComments(r.Context(), id, depth)
	if tree == nil {
		middleware.WriteAPIError(w, model.NewStoryNotFoundError(id))
		return
	}

	writeJSON(w, http.StatusOK, commentListResponse{
		StoryID:  id,
		Comments: newCommentResponses(tree, h.sanitizer),
	})
}

// feedTypeParam はURLパラメータ {type} をフィード種別として解釈する。
func feedTypeParam(r *http.Request) (model.FeedType, *model.APIError) {
	raw := chi.URLParam(r, "type")
	ft, err := model.ParseFeedType(raw)
	if err != nil {
		return "", model.NewInvalidFeedTypeError(raw)
	}
	return ft, nil
}

// storyIDParam はURLパラメータ {id} を正のストーリーIDとして解釈する。
func storyIDParam(r *http.Request) (int64, *model.APIError) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &model.APIError{
			Code:     model.ErrCodeInvalidParameter,
			Message:  "ストーリーIDが不正です: " + raw,
			Category: "validation",
			Action:   "正の整数のストーリーIDを指定してください。",
		}
	}
	return id, nil
}
