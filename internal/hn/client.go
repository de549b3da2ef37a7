// Package hn はHacker News APIのクライアントを提供する。
// アイテム取得、フィードID一覧取得、グループ単位のバッチ読み込みを含む。
package hn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/hnreader/internal/metrics"
	"github.com/hitoshi/hnreader/internal/model"
)

const (
	// DefaultBaseURL はHacker News公式APIのベースURL。
	DefaultBaseURL = "https://hacker-news.firebaseio.com/v0/"
	// MaxFeedIDs は上流ID一覧の最大件数。
	MaxFeedIDs = 500
	// maxResponseSize はレスポンスボディの読み取り上限（1MB）。
	maxResponseSize = 1 << 20
)

// item は上流APIのアイテムJSON。
type item struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	By          string  `json:"by"`
	Time        int64   `json:"time"`
	Text        string  `json:"text"`
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Score       int     `json:"score"`
	Descendants *int    `json:"descendants"`
	Kids        []int64 `json:"kids"`
	Parent      int64   `json:"parent"`
	Deleted     bool    `json:"deleted"`
	Dead        bool    `json:"dead"`
}

// Client はHacker News APIのクライアント。
// 取得失敗はすべて「見つからない」として扱い、エラーを返さない。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	baseURL    string
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLが空の場合は公式APIを使用する。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger, collector metrics.MetricsCollector) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    collector,
		baseURL:    baseURL,
	}
}

// GetStory は指定IDのストーリーを取得する。
// 存在しない、削除済み、ストーリー以外、取得失敗のいずれの場合もnilを返す。
func (c *Client) GetStory(ctx context.Context, id int64) *model.Story {
	it := c.getItem(ctx, id, model.ItemTypeStory)
	if it == nil {
		return nil
	}

	return &model.Story{
		ID:           it.ID,
		Author:       html.UnescapeString(it.By),
		CreatedAt:    max(it.Time, 0),
		Title:        html.UnescapeString(it.Title),
		Score:        max(it.Score, 0),
		CommentCount: nonNegative(it.Descendants),
		URL:          html.UnescapeString(it.URL),
		BodyHTML:     html.UnescapeString(it.Text),
		ChildIDs:     validIDs(it.Kids),
	}
}

// GetComment は指定IDのコメントを取得する。
// 存在しない、削除済み、コメント以外、取得失敗のいずれの場合もnilを返す。
func (c *Client) GetComment(ctx context.Context, id int64) *model.Comment {
	it := c.getItem(ctx, id, model.ItemTypeComment)
	if it == nil {
		return nil
	}

	return &model.Comment{
		ID:        it.ID,
		Author:    html.UnescapeString(it.By),
		CreatedAt: it.Time,
		ParentID:  it.Parent,
		BodyHTML:  html.UnescapeString(it.Text),
		ChildIDs:  validIDs(it.Kids),
	}
}

// nonNegative は負の件数を0に切り上げる。nilはそのまま返す。
func nonNegative(n *int) *int {
	if n == nil {
		return nil
	}
	v := max(*n, 0)
	return &v
}

// validIDs は正のIDのみを残した新しいスライスを返す。
func validIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			out = append(out, id)
		}
	}
	return out
}

// ListStoryIDs はフィード種別のランキング順ID一覧を取得する。
// 最大500件。取得失敗時は空のスライスを返す。
func (c *Client) ListStoryIDs(ctx context.Context, feedType model.FeedType) []int64 {
	if !feedType.Valid() {
		return []int64{}
	}

	body, ok := c.get(ctx, feedType.Endpoint()+".json")
	if !ok {
		c.metrics.RecordFeedListFetch(string(feedType), false)
		return []int64{}
	}

	var ids []int64
	if err := json.Unmarshal(body, &ids); err != nil {
		c.logger.Warn("ID一覧のパースに失敗しました",
			slog.String("feed_type", string(feedType)),
			slog.String("error", err.Error()),
		)
		c.metrics.RecordFeedListFetch(string(feedType), false)
		return []int64{}
	}

	c.metrics.RecordFeedListFetch(string(feedType), true)

	if len(ids) > MaxFeedIDs {
		ids = ids[:MaxFeedIDs]
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids
}

// getItem はアイテムを取得し、種別が一致する有効なアイテムのみを返す。
func (c *Client) getItem(ctx context.Context, id int64, want model.ItemType) *item {
	if id <= 0 {
		return nil
	}

	body, ok := c.get(ctx, fmt.Sprintf("item/%d.json", id))
	if !ok {
		c.metrics.RecordItemFetch(metrics.OutcomeError)
		return nil
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		c.metrics.RecordItemFetch(metrics.OutcomeNotFound)
		return nil
	}

	var it item
	if err := json.Unmarshal(trimmed, &it); err != nil {
		c.logger.Warn("アイテムのパースに失敗しました",
			slog.Int64("item_id", id),
			slog.String("error", err.Error()),
		)
		c.metrics.RecordItemFetch(metrics.OutcomeError)
		return nil
	}

	if it.ID <= 0 || it.Deleted || it.Dead || model.ItemType(it.Type) != want {
		c.logger.Debug("アイテムが見つからないか種別が一致しません",
			slog.Int64("item_id", id),
			slog.String("type", it.Type),
			slog.String("want", string(want)),
			slog.Bool("deleted", it.Deleted),
			slog.Bool("dead", it.Dead),
		)
		c.metrics.RecordItemFetch(metrics.OutcomeNotFound)
		return nil
	}

	c.metrics.RecordItemFetch(metrics.OutcomeOK)
	return &it
}

// get はベースURL相対パスにGETリクエストを送り、200応答のボディを返す。
func (c *Client) get(ctx context.Context, path string) ([]byte, bool) {
	reqURL := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.logger.Warn("HTTPリクエストの作成に失敗しました",
			slog.String("url", reqURL),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "hnreader/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Hacker News APIの呼び出しに失敗しました",
			slog.String("url", reqURL),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	defer resp.Body.Close()

	c.metrics.RecordUpstreamStatus(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Hacker News APIがエラーステータスを返しました",
			slog.String("url", reqURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.logger.Warn("レスポンスボディの読み取りに失敗しました",
			slog.String("url", reqURL),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	return body, true
}
