// Package cache はストーリーキャッシュストアを提供する。
// フィード種別ごとの順序付きID一覧と、ID単位のストーリーレコードを分けて保持し、
// フィード一覧はID単位ストアを経由して解決する。
// これによりサムネイル更新は1キーへの書き込みとなり、
// そのIDを含むすべてのフィード一覧に同時に反映される。
package cache

import (
	"context"
	"time"

	"github.com/hitoshi/hnreader/internal/model"
)

const (
	// DefaultFeedTTL はフィード一覧エントリの鮮度期間。
	DefaultFeedTTL = 10 * time.Minute
	// DefaultStoryTTL はID単位エントリの保持期間。フィード一覧もこの期間保持される。
	DefaultStoryTTL = 60 * time.Minute
)

// Store はストーリーキャッシュの操作を定義するインターフェース。
// キャッシュミスはエラーではなく、nilまたは空スライスで表す。
// エラーはバックエンド障害のみを意味する。
type Store interface {
	// Get はID単位ストアを参照する。未キャッシュと期限切れは区別しない。
	Get(ctx context.Context, id int64) (*model.Story, error)
	// GetMany は複数IDをまとめて参照し、見つかったものだけを返す。
	GetMany(ctx context.Context, ids []int64) (map[int64]*model.Story, error)
	// Put はストーリーを書き込み、feedTypeへの所属を記録する。
	Put(ctx context.Context, story *model.Story, feedType model.FeedType) error
	// PutMany はストーリー群を書き込み、feedTypeのフィード一覧を与えられた順序で置き換える。
	// フィード一覧の順序を設定する唯一の操作。
	PutMany(ctx context.Context, stories []*model.Story, feedType model.FeedType) error
	// ListByType は鮮度に関わらず保持中のフィード一覧を返す。
	ListByType(ctx context.Context, feedType model.FeedType) ([]*model.Story, error)
	// IsFresh はフィード一覧が存在し、鮮度期間内かどうかを返す。
	IsFresh(ctx context.Context, feedType model.FeedType) (bool, error)
	// UpdateThumbnail はストーリーのサムネイルURLを更新する。
	// キャッシュに存在しないIDの場合は何もしない。
	UpdateThumbnail(ctx context.Context, id int64, url string) error
	// Invalidate はフィード一覧と所属を削除する。ID単位エントリは残す。
	Invalidate(ctx context.Context, feedType model.FeedType) error
	// Clear はすべてのキャッシュ状態を削除する。
	Clear(ctx context.Context) error
	// Stats はフィード種別ごとのキャッシュ状態を返す。
	Stats(ctx context.Context) (*Stats, error)
	// Close はバックエンドの接続を閉じる。
	Close() error
}

// FeedStats は1フィード種別のキャッシュ状態。
type FeedStats struct {
	FeedType  model.FeedType `json:"feed_type"`
	Members   int            `json:"members"`
	ListSize  int            `json:"list_size"`
	Cached    bool           `json:"cached"`
	Fresh     bool           `json:"fresh"`
	FetchedAt *time.Time     `json:"fetched_at,omitempty"`
}

// Stats はキャッシュ全体の状態。
type Stats struct {
	Backend string      `json:"backend"`
	Stories int         `json:"stories"`
	Feeds   []FeedStats `json:"feeds"`
}

// Options はバックエンド共通の設定。
type Options struct {
	FeedTTL  time.Duration
	StoryTTL time.Duration
	// Now は現在時刻を返す。テストで時計を差し替えるために使用する。
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.FeedTTL <= 0 {
		o.FeedTTL = DefaultFeedTTL
	}
	if o.StoryTTL <= 0 {
		o.StoryTTL = DefaultStoryTTL
	}
	if o.StoryTTL < o.FeedTTL {
		o.StoryTTL = o.FeedTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// fresh は fetchedAt から ttl 未満しか経過していないかを判定する。
func fresh(now, fetchedAt time.Time, ttl time.Duration) bool {
	return now.Sub(fetchedAt) < ttl
}

func idsOf(stories []*model.Story) []int64 {
	ids := make([]int64, len(stories))
	for i, s := range stories {
		ids[i] = s.ID
	}
	return ids
}
