package hn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/hnreader/internal/model"
)

// DefaultBatchSize は1グループあたりの同時取得数。
const DefaultBatchSize = 10

// StoryFetcher はストーリー1件の取得インターフェース。
type StoryFetcher interface {
	GetStory(ctx context.Context, id int64) *model.Story
}

// CommentFetcher はコメント1件の取得インターフェース。
type CommentFetcher interface {
	GetComment(ctx context.Context, id int64) *model.Comment
}

// BatchLoader はID一覧を固定サイズのグループに分割して読み込む。
// グループ内は並行に取得し、グループ同士は順番に処理して上流への同時リクエスト数を抑える。
type BatchLoader struct {
	stories   StoryFetcher
	comments  CommentFetcher
	logger    *slog.Logger
	batchSize int
}

// NewBatchLoader はBatchLoaderの新しいインスタンスを生成する。
// batchSizeが0以下の場合はデフォルト値10を使用する。
func NewBatchLoader(stories StoryFetcher, comments CommentFetcher, logger *slog.Logger, batchSize int) *BatchLoader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchLoader{
		stories:   stories,
		comments:  comments,
		logger:    logger,
		batchSize: batchSize,
	}
}

// LoadStories はidsの先頭limit件を読み込み、取得できたストーリーを入力順で返す。
// limitが0以下の場合は全件を対象とする。取得に失敗したIDは結果から除外される。
func (l *BatchLoader) LoadStories(ctx context.Context, ids []int64, limit int) []*model.Story {
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	start := time.Now()
	stories := fetchInGroups(ctx, ids, l.batchSize, l.stories.GetStory)

	l.logger.Debug("ストーリーのバッチ読み込みが完了しました",
		slog.Int("requested", len(ids)),
		slog.Int("loaded", len(stories)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return stories
}

// LoadComments はidsのコメントを読み込み、取得できたものを入力順で返す。
func (l *BatchLoader) LoadComments(ctx context.Context, ids []int64) []*model.Comment {
	return fetchInGroups(ctx, ids, l.batchSize, l.comments.GetComment)
}

// fetchInGroups はidsをbatchSize件ずつのグループに分け、グループ内を並行に取得する。
// 結果は入力順を保ち、nilは除外される。コンテキストがキャンセルされた場合は
// それまでに完了したグループの結果のみを返す。
func fetchInGroups[T any](ctx context.Context, ids []int64, batchSize int, fetch func(context.Context, int64) *T) []*T {
	results := make([]*T, 0, len(ids))

	for i := 0; i < len(ids); i += batchSize {
		if ctx.Err() != nil {
			break
		}

		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		group := ids[i:end]

		slots := make([]*T, len(group))
		var wg sync.WaitGroup
		for j, id := range group {
			wg.Add(1)
			go func(j int, id int64) {
				defer wg.Done()
				slots[j] = fetch(ctx, id)
			}(j, id)
		}
		wg.Wait()

		for _, v := range slots {
			if v != nil {
				results = append(results, v)
			}
		}
	}

	return results
}
