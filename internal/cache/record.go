package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/hnreader/internal/model"
)

// ErrInvalidRecord はキャッシュレコードがストーリーの形状を満たさないことを示す。
var ErrInvalidRecord = errors.New("不正なキャッシュレコードです")

// Record は永続化されるストーリーのスキーマ。
// すべてのバックエンドはこの形状でシリアライズし、デシリアライズ時にValidateを通す。
// 任意フィールドは省略されたことを保持する（空文字列は「なし」を意味する）。
type Record struct {
	ID           int64   `json:"id"`
	Author       string  `json:"by,omitempty"`
	CreatedAt    int64   `json:"time"`
	Title        string  `json:"title"`
	Score        int     `json:"score"`
	CommentCount *int    `json:"descendants,omitempty"`
	URL          string  `json:"url,omitempty"`
	BodyHTML     string  `json:"text,omitempty"`
	ChildIDs     []int64 `json:"kids"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
}

// NewRecord はストーリーからRecordを生成する。
func NewRecord(s *model.Story) Record {
	r := Record{
		ID:           s.ID,
		Author:       s.Author,
		CreatedAt:    s.CreatedAt,
		Title:        s.Title,
		Score:        s.Score,
		URL:          s.URL,
		BodyHTML:     s.BodyHTML,
		ThumbnailURL: s.ThumbnailURL,
	}
	if s.CommentCount != nil {
		n := *s.CommentCount
		r.CommentCount = &n
	}
	r.ChildIDs = append(make([]int64, 0, len(s.ChildIDs)), s.ChildIDs...)
	return r
}

// Validate はRecordがストーリーの不変条件を満たすか検証する。
func (r Record) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("%w: id=%d", ErrInvalidRecord, r.ID)
	}
	if r.CreatedAt < 0 {
		return fmt.Errorf("%w: id=%d time=%d", ErrInvalidRecord, r.ID, r.CreatedAt)
	}
	if r.Score < 0 {
		return fmt.Errorf("%w: id=%d score=%d", ErrInvalidRecord, r.ID, r.Score)
	}
	if r.CommentCount != nil && *r.CommentCount < 0 {
		return fmt.Errorf("%w: id=%d descendants=%d", ErrInvalidRecord, r.ID, *r.CommentCount)
	}
	for _, kid := range r.ChildIDs {
		if kid <= 0 {
			return fmt.Errorf("%w: id=%d kid=%d", ErrInvalidRecord, r.ID, kid)
		}
	}
	return nil
}

// Story はRecordを検証してストーリーに変換する。
func (r Record) Story() (*model.Story, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	s := &model.Story{
		ID:           r.ID,
		Author:       r.Author,
		CreatedAt:    r.CreatedAt,
		Title:        r.Title,
		Score:        r.Score,
		URL:          r.URL,
		BodyHTML:     r.BodyHTML,
		ThumbnailURL: r.ThumbnailURL,
	}
	if r.CommentCount != nil {
		n := *r.CommentCount
		s.CommentCount = &n
	}
	s.ChildIDs = append(make([]int64, 0, len(r.ChildIDs)), r.ChildIDs...)
	return s, nil
}

// EncodeStory はストーリーを検証してJSONにシリアライズする。
func EncodeStory(s *model.Story) ([]byte, error) {
	r := NewRecord(s)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("キャッシュレコードのシリアライズに失敗しました: %w", err)
	}
	return data, nil
}

// DecodeStory はJSONをデシリアライズし、検証してストーリーを返す。
func DecodeStory(data []byte) (*model.Story, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return r.Story()
}

// validateAll は書き込み前にすべてのストーリーを検証する。
func validateAll(stories []*model.Story) error {
	for _, s := range stories {
		if s == nil {
			return fmt.Errorf("%w: nil story", ErrInvalidRecord)
		}
		if err := NewRecord(s).Validate(); err != nil {
			return err
		}
	}
	return nil
}
