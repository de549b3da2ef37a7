package speech

import (
	"strings"

	"github.com/hitoshi/hnreader/internal/model"
)

// TextExtractor はHTMLからプレーンテキストを抽出するインターフェース。
type TextExtractor interface {
	PlainText(rawHTML string) string
}

// StoryText は読み上げ用のテキストを組み立てる。タイトルの後に本文のプレーンテキストを続け、
// maxCharsを超える場合は文字単位で切り詰める。maxCharsが0以下の場合は切り詰めない。
// 本文がないストーリーでもタイトルは読み上げ対象になる。
func StoryText(s *model.Story, extractor TextExtractor, maxChars int) string {
	if s == nil {
		return ""
	}

	parts := make([]string, 0, 2)
	if title := strings.TrimSpace(s.Title); title != "" {
		parts = append(parts, title)
	}
	if s.BodyHTML != "" {
		if body := strings.TrimSpace(extractor.PlainText(s.BodyHTML)); body != "" {
			parts = append(parts, body)
		}
	}
	text := strings.Join(parts, "\n\n")

	if maxChars > 0 {
		if runes := []rune(text); len(runes) > maxChars {
			text = strings.TrimSpace(string(runes[:maxChars]))
		}
	}
	return text
}
