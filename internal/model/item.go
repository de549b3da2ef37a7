package model

import "strings"

// ItemType は上流アイテムの種別を表す。
type ItemType string

const (
	// ItemTypeStory はストーリー。
	ItemTypeStory ItemType = "story"
	// ItemTypeComment はコメント。
	ItemTypeComment ItemType = "comment"
)

// DefaultThumbnailPlaceholder はサムネイル解決を試みたが画像が見つからなかったことを示す番兵値。
const DefaultThumbnailPlaceholder = "https://via.placeholder.com/80x80.png?text=News"

// Story はHacker Newsのストーリーを表す。
// 文字列フィールドはHTMLエンティティをデコード済み。
// URL、BodyHTML、ThumbnailURL は空文字列を「なし」として扱う。
// ThumbnailURL が空の場合は「未解決」を意味し、画像なしは番兵値で表す。
type Story struct {
	ID           int64
	Author       string
	CreatedAt    int64 // Unix秒
	Title        string
	Score        int
	CommentCount *int // 子孫コメント総数（ChildIDsとは独立）
	URL          string
	BodyHTML     string
	ChildIDs     []int64
	ThumbnailURL string
}

// HasThumbnail はサムネイル解決済み（番兵値を含む）かどうかを返す。
func (s *Story) HasThumbnail() bool {
	return s.ThumbnailURL != ""
}

// Clone はスライスとポインタを含めたディープコピーを返す。
func (s *Story) Clone() *Story {
	if s == nil {
		return nil
	}
	c := *s
	if s.CommentCount != nil {
		n := *s.CommentCount
		c.CommentCount = &n
	}
	if s.ChildIDs != nil {
		c.ChildIDs = append(make([]int64, 0, len(s.ChildIDs)), s.ChildIDs...)
	}
	return &c
}

// Matches はタイトルまたは投稿者に検索語が含まれるかを大文字小文字を区別せずに判定する。
func (s *Story) Matches(query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(s.Title), q) ||
		strings.Contains(strings.ToLower(s.Author), q)
}

// Comment はストーリーに対するコメントを表す。キャッシュされない。
type Comment struct {
	ID        int64
	Author    string
	CreatedAt int64
	ParentID  int64
	BodyHTML  string
	ChildIDs  []int64
}

// CommentNode はコメントツリーの1ノード。
// Depth はトップレベルを0とする深さ。
type CommentNode struct {
	Comment *Comment
	Depth   int
	Replies []*CommentNode
}
