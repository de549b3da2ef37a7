package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/hnreader/internal/model"
	"github.com/hitoshi/hnreader/internal/security"
)

// --- レスポンス型 ---

// storyResponse はストーリーのAPIレスポンス。
// descendants、url、text、thumbnail_url は値がない場合に省略する。
type storyResponse struct {
	ID           int64   `json:"id"`
	Type         string  `json:"type"`
	By           string  `json:"by"`
	Time         int64   `json:"time"`
	Title        string  `json:"title"`
	Score        int     `json:"score"`
	Descendants  *int    `json:"descendants,omitempty"`
	URL          string  `json:"url,omitempty"`
	Text         string  `json:"text,omitempty"` // サニタイズ済みHTML
	Kids         []int64 `json:"kids"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
}

// storyListResponse はストーリー一覧のAPIレスポンス。
type storyListResponse struct {
	FeedType string          `json:"feed_type"`
	Count    int             `json:"count"`
	Stories  []storyResponse `json:"stories"`
}

// commentResponse はコメントツリーの1ノードのAPIレスポンス。
type commentResponse struct {
	ID      int64             `json:"id"`
	By      string            `json:"by"`
	Time    int64             `json:"time"`
	Parent  int64             `json:"parent"`
	Text    string            `json:"text"`
	Depth   int               `json:"depth"`
	Replies []commentResponse `json:"replies"`
}

// commentListResponse はコメントツリーのAPIレスポンス。
type commentListResponse struct {
	StoryID  int64             `json:"story_id"`
	Comments []commentResponse `json:"comments"`
}

func newStoryResponse(s *model.Story, sanitizer security.ContentSanitizerService) storyResponse {
	kids := s.ChildIDs
	if kids == nil {
		kids = []int64{}
	}
	resp := storyResponse{
		ID:           s.ID,
		Type:         string(model.ItemTypeStory),
		By:           s.Author,
		Time:         s.CreatedAt,
		Title:        s.Title,
		Score:        s.Score,
		Descendants:  s.CommentCount,
		URL:          s.URL,
		Kids:         kids,
		ThumbnailURL: s.ThumbnailURL,
	}
	if s.BodyHTML != "" {
		resp.Text = sanitizer.Sanitize(s.BodyHTML)
	}
	return resp
}

func newStoryListResponse(feedType model.FeedType, stories []*model.Story, sanitizer security.ContentSanitizerService) storyListResponse {
	items := make([]storyResponse, 0, len(stories))
	for _, s := range stories {
		items = append(items, newStoryResponse(s, sanitizer))
	}
	return storyListResponse{
		FeedType: string(feedType),
		Count:    len(items),
		Stories:  items,
	}
}

func newCommentResponses(nodes []*model.CommentNode, sanitizer security.ContentSanitizerService) []commentResponse {
	out := make([]commentResponse, 0, len(nodes))
	for _, n := range nodes {
		c := n.Comment
		out = append(out, commentResponse{
			ID:      c.ID,
			By:      c.Author,
			Time:    c.CreatedAt,
			Parent:  c.ParentID,
			Text:    sanitizer.Sanitize(c.BodyHTML),
			Depth:   n.Depth,
			Replies: newCommentResponses(n.Replies, sanitizer),
		})
	}
	return out
}

// --- ヘルパー ---

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("レスポンスの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

// queryInt は0以上の整数クエリパラメータを読み取る。未指定の場合はdefaultValを返す。
func queryInt(r *http.Request, name string, defaultVal int) (int, *model.APIError) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, model.NewInvalidParameterError(name, v)
	}
	return n, nil
}

// queryBool は真偽値のクエリパラメータを読み取る。未指定の場合はfalse。
func queryBool(r *http.Request, name string) (bool, *model.APIError) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &model.APIError{
			Code:     model.ErrCodeInvalidParameter,
			Message:  "パラメータ " + name + " の値が不正です: " + v,
			Category: "validation",
			Action:   "true または false を指定してください。",
		}
	}
	return b, nil
}

// filterStories は検索語でストーリーを絞り込む。キャッシュには影響しない。
func filterStories(stories []*model.Story, query string) []*model.Story {
	if query == "" {
		return stories
	}
	out := make([]*model.Story, 0, len(stories))
	for _, s := range stories {
		if s.Matches(query) {
			out = append(out, s)
		}
	}
	return out
}
