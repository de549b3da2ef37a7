package thumbnail

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/hnreader/internal/security"
	"golang.org/x/net/html"
)

// maxPageSize はOpenGraph抽出で読み込むHTMLの上限（1MB）。
const maxPageSize = 1 << 20

// OpenGraphFinder はリンク先ページのog:image / twitter:image を抽出する。
// 任意のURLにアクセスするため、SSRF防止付きクライアントを使用する。
type OpenGraphFinder struct {
	client *http.Client
	guard  security.SSRFGuardService
	logger *slog.Logger
}

var _ ImageFinder = (*OpenGraphFinder)(nil)

// NewOpenGraphFinder はOpenGraphFinderの新しいインスタンスを生成する。
func NewOpenGraphFinder(guard security.SSRFGuardService, timeout time.Duration, logger *slog.Logger) *OpenGraphFinder {
	return &OpenGraphFinder{
		client: guard.NewSafeClient(timeout),
		guard:  guard,
		logger: logger,
	}
}

// FindImage はpageURLを取得してプレビュー画像のURLを返す。
// 相対URLはページURLを基準に絶対URLへ解決する。
func (f *OpenGraphFinder) FindImage(ctx context.Context, pageURL string) (string, error) {
	if err := f.guard.ValidateURL(pageURL); err != nil {
		return "", fmt.Errorf("URLの検証に失敗しました: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("URLのパースに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "hnreader/1.0 (OpenGraph fetcher)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ページの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ページがステータス %d を返しました", resp.StatusCode)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		return "", nil
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("HTMLのパースに失敗しました: %w", err)
	}

	image := findMetaImage(doc)
	if image == "" {
		return "", nil
	}

	ref, err := url.Parse(image)
	if err != nil {
		return "", nil
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", nil
	}
	return resolved.String(), nil
}

// findMetaImage はog:imageを優先し、なければtwitter:imageを返す。
func findMetaImage(doc *html.Node) string {
	var ogImage, twitterImage string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if ogImage != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "meta" {
			var key, content string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "property", "name":
					if key == "" {
						key = strings.ToLower(attr.Val)
					}
				case "content":
					content = strings.TrimSpace(attr.Val)
				}
			}
			switch key {
			case "og:image", "og:image:url", "og:image:secure_url":
				if content != "" {
					ogImage = content
				}
			case "twitter:image", "twitter:image:src":
				if twitterImage == "" {
					twitterImage = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if ogImage != "" {
		return ogImage
	}
	return twitterImage
}
