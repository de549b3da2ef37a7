// Package thumbnail はストーリーのサムネイル画像URLを解決する。
// メタデータ抽出サービス（microlink互換）を一次ソースとし、
// 任意でリンク先ページのOpenGraphタグをフォールバックとして使用する。
package thumbnail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"
)

const (
	// DefaultEndpoint はmicrolink APIのエンドポイント。
	DefaultEndpoint = "https://api.microlink.io"
	maxMetadataSize = 1 << 20
)

// ImageFinder はページURLからプレビュー画像URLを探すインターフェース。
// 画像が見つからない場合は空文字列とnilを返す。
type ImageFinder interface {
	FindImage(ctx context.Context, pageURL string) (string, error)
}

// metadataResponse はメタデータ抽出サービスのレスポンス。
type metadataResponse struct {
	Status string `json:"status"`
	Data   struct {
		Image *struct {
			URL string `json:"url"`
		} `json:"image"`
	} `json:"data"`
}

// Client はメタデータ抽出サービスのクライアント。
// レートリミッターで呼び出し頻度を抑える。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	endpoint   string
}

var _ ImageFinder = (*Client)(nil)

// NewClient はClientの新しいインスタンスを生成する。
// ratePerSecが0以下の場合は呼び出し頻度を制限しない。
func NewClient(httpClient *http.Client, endpoint string, ratePerSec float64, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	limit := rate.Inf
	burst := 1
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
		burst = int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		limiter:    rate.NewLimiter(limit, burst),
		endpoint:   endpoint,
	}
}

// FindImage はpageURLのプレビュー画像URLを問い合わせる。
func (c *Client) FindImage(ctx context.Context, pageURL string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("レート制限の待機中に中断されました: %w", err)
	}

	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("url", pageURL)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("メタデータサービスの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("メタデータサービスがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result metadataResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	if result.Data.Image == nil {
		return "", nil
	}
	return result.Data.Image.URL, nil
}
