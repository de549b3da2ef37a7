// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はHacker Newsの本文HTML（ストーリー本文とコメント）を
// API応答前にサニタイズし、音声合成用のプレーンテキストを抽出する。
package security

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// ContentSanitizerService はHTMLサニタイズとテキスト抽出のインターフェース。
type ContentSanitizerService interface {
	// Sanitize は許可リストのタグのみを残した安全なHTMLを返す。
	Sanitize(rawHTML string) string
	// PlainText は段落区切りを改行として保ったプレーンテキストを返す。
	PlainText(rawHTML string) string
}

type contentSanitizer struct {
	policy *bluemonday.Policy
}

var _ ContentSanitizerService = (*contentSanitizer)(nil)

// blockSelectors は改行で区切るブロック要素。
const blockSelectors = "p, br, li, pre, blockquote"

// NewContentSanitizer はHacker Newsの本文書式に合わせたポリシーを構築する。
// HNの本文で使われるのは p, i, a, pre, code 程度なので、それに少し余裕を持たせる。
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "i", "em", "strong", "b",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{policy: p}
}

// Sanitize はHTMLコンテンツをサニタイズする。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// PlainText はサニタイズ後のHTMLからテキストを抽出する。
// 空入力やパース失敗時は空文字列を返す。
func (s *contentSanitizer) PlainText(rawHTML string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.policy.Sanitize(rawHTML)))
	if err != nil {
		return ""
	}

	doc.Find(blockSelectors).Each(func(_ int, sel *goquery.Selection) {
		sel.BeforeNodes(&html.Node{Type: html.TextNode, Data: "\n"})
	})

	return normalizeLines(doc.Text())
}

// normalizeLines は各行の空白を1つに詰め、空行を除いて改行で連結する。
func normalizeLines(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			lines = append(lines, strings.Join(fields, " "))
		}
	}
	return strings.Join(lines, "\n")
}
