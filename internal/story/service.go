// Package story はフィードのオーケストレーターを提供する。
// キャッシュの鮮度判定、上流からの再取得、サムネイル解決、キャッシュへの書き戻しを統括する。
// 内部のエラーはこのパッケージの境界を越えず、空または部分的な結果に縮退する。
package story

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/hnreader/internal/cache"
	"github.com/hitoshi/hnreader/internal/metrics"
	"github.com/hitoshi/hnreader/internal/model"
)

const (
	// DefaultLimit はlimit未指定時の取得件数。
	DefaultLimit = 25
	// DefaultLoadMore はadditional未指定時の追加件数。
	DefaultLoadMore = 10
	// DefaultMaxLimit はlimitの上限（上流のID一覧の最大長）。
	DefaultMaxLimit = 500
	// DefaultCommentDepth はコメントツリーの最大深さ。
	DefaultCommentDepth = 5
)

// FeedLister はフィード種別のID一覧を取得するインターフェース。
type FeedLister interface {
	ListStoryIDs(ctx context.Context, feedType model.FeedType) []int64
}

// ItemLoader はストーリーとコメントをバッチで取得するインターフェース。
type ItemLoader interface {
	LoadStories(ctx context.Context, ids []int64, limit int) []*model.Story
	LoadComments(ctx context.Context, ids []int64) []*model.Comment
}

// StoryFetcher はストーリー1件を取得するインターフェース。
type StoryFetcher interface {
	GetStory(ctx context.Context, id int64) *model.Story
}

// ThumbnailResolver はサムネイルURLを解決するインターフェース。
// 実行後、対象ストーリーのThumbnailURLは空でなくなる。
type ThumbnailResolver interface {
	Resolve(ctx context.Context, pageURL string) string
	ResolveAll(ctx context.Context, stories []*model.Story) int
}

// ThumbnailQueue はサムネイル解決をバックグラウンドに委ねるインターフェース。
type ThumbnailQueue interface {
	Enqueue(stories []*model.Story) int
}

// Deps はServiceの依存コンポーネント。
// Queueがnilの場合はキャッシュ書き込み前に同期的にサムネイルを解決する。
type Deps struct {
	Store      cache.Store
	Lister     FeedLister
	Loader     ItemLoader
	Items      StoryFetcher
	Thumbnails ThumbnailResolver
	Queue      ThumbnailQueue
	Logger     *slog.Logger
	Metrics    metrics.MetricsCollector
}

// Options はServiceの件数設定。0以下の値はデフォルト値になる。
type Options struct {
	DefaultLimit    int
	LoadMoreDefault int
	MaxLimit        int
	CommentMaxDepth int
}

// Service はフィードオーケストレーター。
type Service struct {
	store      cache.Store
	lister     FeedLister
	loader     ItemLoader
	items      StoryFetcher
	thumbnails ThumbnailResolver
	queue      ThumbnailQueue
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	opts       Options
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(deps Deps, opts Options) *Service {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.LoadMoreDefault <= 0 {
		opts.LoadMoreDefault = DefaultLoadMore
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	if opts.CommentMaxDepth <= 0 {
		opts.CommentMaxDepth = DefaultCommentDepth
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	return &Service{
		store:      deps.Store,
		lister:     deps.Lister,
		loader:     deps.Loader,
		items:      deps.Items,
		thumbnails: deps.Thumbnails,
		queue:      deps.Queue,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		opts:       opts,
	}
}

// normalizeLimit は0以下をデフォルト値に、上限超過を上限に丸める。
func (s *Service) normalizeLimit(limit int) int {
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}
	if limit > s.opts.MaxLimit {
		limit = s.opts.MaxLimit
	}
	return limit
}

// GetStories はフィード種別のストーリー一覧を返す。
// forceRefreshがfalseでキャッシュが新鮮な場合はキャッシュから返し、上流を呼ばない。
// キャッシュの一覧がlimitより短い場合もそのまま返す（追加取得はしない）。
// 上流が完全に失敗した場合は空のスライスを返す。
func (s *Service) GetStories(ctx context.Context, feedType model.FeedType, forceRefresh bool, limit int) []*model.Story {
	if !feedType.Valid() {
		return []*model.Story{}
	}
	limit = s.normalizeLimit(limit)

	if !forceRefresh {
		if cached := s.cachedList(ctx, feedType); len(cached) > 0 {
			s.metrics.RecordCacheHit(string(feedType))
			if len(cached) > limit {
				cached = cached[:limit]
			}
			s.enqueueUnresolved(cached)
			return cached
		}
	}

	s.metrics.RecordCacheMiss(string(feedType))
	return s.refresh(ctx, feedType, limit)
}

// cachedList は新鮮なキャッシュ一覧を返す。
// ミスやバックエンド障害の場合はnilを返す。
func (s *Service) cachedList(ctx context.Context, feedType model.FeedType) []*model.Story {
	fresh, err := s.store.IsFresh(ctx, feedType)
	if err != nil {
		s.cacheError("is_fresh", feedType, err)
		return nil
	}
	if !fresh {
		return nil
	}

	list, err := s.store.ListByType(ctx, feedType)
	if err != nil {
		s.cacheError("list_by_type", feedType, err)
		return nil
	}
	return list
}

// staleList は鮮度に関わらず保持中のフィード一覧を先頭want件まで返す。
// 上流が使えない場合の代替で、保持していなければ空スライスを返す。
func (s *Service) staleList(ctx context.Context, feedType model.FeedType, want int) []*model.Story {
	list, err := s.store.ListByType(ctx, feedType)
	if err != nil {
		s.cacheError("list_by_type", feedType, err)
		return []*model.Story{}
	}
	if len(list) > want {
		list = list[:want]
	}
	if len(list) > 0 {
		s.enqueueUnresolved(list)
	}
	return list
}

// refresh はID一覧から先頭limit件を読み込み、サムネイルを解決してキャッシュに書き戻す。
func (s *Service) refresh(ctx context.Context, feedType model.FeedType, limit int) []*model.Story {
	start := time.Now()

	ids := s.lister.ListStoryIDs(ctx, feedType)
	if len(ids) == 0 {
		s.logger.Warn("ID一覧を取得できませんでした",
			slog.String("feed_type", string(feedType)),
		)
		return []*model.Story{}
	}

	stories := s.loader.LoadStories(ctx, ids, limit)
	if len(stories) == 0 {
		s.logger.Warn("ストーリーを1件も取得できませんでした",
			slog.String("feed_type", string(feedType)),
			slog.Int("requested", min(limit, len(ids))),
		)
		return []*model.Story{}
	}

	s.writeBack(ctx, feedType, stories)

	duration := time.Since(start)
	s.metrics.RecordStoriesLoaded(len(stories))
	s.metrics.RecordLoadLatency(string(feedType), duration)
	s.logger.Info("フィードを更新しました",
		slog.String("feed_type", string(feedType)),
		slog.Int("requested", min(limit, len(ids))),
		slog.Int("loaded", len(stories)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return stories
}

// writeBack はフィード一覧をキャッシュに書き込む。
// 同期モードでは書き込み前にサムネイルを解決し、バックグラウンドモードでは書き込み後に解決を依頼する。
// 書き込み失敗は記録のみ行う。
func (s *Service) writeBack(ctx context.Context, feedType model.FeedType, stories []*model.Story) {
	if s.queue == nil {
		s.thumbnails.ResolveAll(ctx, stories)
	}

	if err := s.store.PutMany(ctx, stories, feedType); err != nil {
		s.cacheError("put_many", feedType, err)
	}

	s.enqueueUnresolved(stories)
}

// LoadMore は表示中のcurrent件にadditional件を加えた一覧を返す。
// キャッシュが新鮮で十分な長さがあればキャッシュから返す。
// そうでなければID一覧を1回取得し、ID単位キャッシュにないストーリーだけを上流から読み込んで
// 上流の順序でマージし、キャッシュに書き戻す。
func (s *Service) LoadMore(ctx context.Context, feedType model.FeedType, current, additional int) []*model.Story {
	if !feedType.Valid() {
		return []*model.Story{}
	}
	if current < 0 {
		current = 0
	}
	if additional <= 0 {
		additional = s.opts.LoadMoreDefault
	}
	want := s.normalizeLimit(current + additional)

	cached := s.cachedList(ctx, feedType)
	if len(cached) >= want {
		s.metrics.RecordCacheHit(string(feedType))
		cached = cached[:want]
		s.enqueueUnresolved(cached)
		return cached
	}
	s.metrics.RecordCacheMiss(string(feedType))

	start := time.Now()
	ids := s.lister.ListStoryIDs(ctx, feedType)
	if len(ids) == 0 {
		s.logger.Warn("ID一覧を取得できませんでした",
			slog.String("feed_type", string(feedType)),
		)
		return s.staleList(ctx, feedType, want)
	}
	if len(ids) > want {
		ids = ids[:want]
	}

	known, err := s.store.GetMany(ctx, ids)
	if err != nil {
		s.cacheError("get_many", feedType, err)
		known = map[int64]*model.Story{}
	}

	missing := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}

	fetched := make(map[int64]*model.Story, len(missing))
	if len(missing) > 0 {
		for _, st := range s.loader.LoadStories(ctx, missing, 0) {
			fetched[st.ID] = st
		}
	}

	merged := make([]*model.Story, 0, len(ids))
	for _, id := range ids {
		if st, ok := known[id]; ok {
			merged = append(merged, st)
		} else if st, ok := fetched[id]; ok {
			merged = append(merged, st)
		}
	}
	if len(merged) == 0 {
		return []*model.Story{}
	}

	s.writeBack(ctx, feedType, merged)

	duration := time.Since(start)
	s.metrics.RecordStoriesLoaded(len(fetched))
	s.metrics.RecordLoadLatency(string(feedType), duration)
	s.logger.Info("フィードを追加読み込みしました",
		slog.String("feed_type", string(feedType)),
		slog.Int("want", want),
		slog.Int("reused", len(ids)-len(missing)),
		slog.Int("fetched", len(fetched)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return merged
}

// GetStory はストーリー1件を返す。ID単位キャッシュを優先し、
// ミスの場合は上流から取得してサムネイルを解決する（フィードへの所属は記録しない）。
// 存在しない場合はnilを返す。
func (s *Service) GetStory(ctx context.Context, id int64) *model.Story {
	if id <= 0 {
		return nil
	}

	st, hit := s.lookupStory(ctx, id)
	if st == nil || hit {
		return st
	}
	if !st.HasThumbnail() {
		st.ThumbnailURL = s.thumbnails.Resolve(ctx, st.URL)
	}
	return st
}

// lookupStory はID単位キャッシュ、上流の順にストーリーを探す。サムネイルは解決しない。
// hitはキャッシュから返した場合にtrue。
func (s *Service) lookupStory(ctx context.Context, id int64) (st *model.Story, hit bool) {
	cached, err := s.store.Get(ctx, id)
	if err != nil {
		s.cacheError("get", "", err)
	}
	if cached != nil {
		return cached, true
	}
	return s.items.GetStory(ctx, id), false
}

// IsFresh はフィード一覧が新鮮かどうかを返す。バックエンド障害は新鮮でないものとして扱う。
func (s *Service) IsFresh(ctx context.Context, feedType model.FeedType) bool {
	fresh, err := s.store.IsFresh(ctx, feedType)
	if err != nil {
		s.cacheError("is_fresh", feedType, err)
		return false
	}
	return fresh
}

// Stats はキャッシュの統計情報を返す。
func (s *Service) Stats(ctx context.Context) (*cache.Stats, error) {
	return s.store.Stats(ctx)
}

// Invalidate はフィード一覧のキャッシュを無効化する。
func (s *Service) Invalidate(ctx context.Context, feedType model.FeedType) error {
	if err := s.store.Invalidate(ctx, feedType); err != nil {
		s.cacheError("invalidate", feedType, err)
		return err
	}
	s.logger.Info("フィード一覧のキャッシュを無効化しました",
		slog.String("feed_type", string(feedType)),
	)
	return nil
}

// Clear はすべてのキャッシュを削除する。
func (s *Service) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		s.cacheError("clear", "", err)
		return err
	}
	s.logger.Info("キャッシュをクリアしました")
	return nil
}

// enqueueUnresolved はバックグラウンドモードでサムネイル未解決のストーリーを解決キューに渡す。
func (s *Service) enqueueUnresolved(stories []*model.Story) {
	if s.queue == nil {
		return
	}
	if n := s.queue.Enqueue(stories); n > 0 {
		s.logger.Debug("サムネイル解決をキューに追加しました", slog.Int("count", n))
	}
}

func (s *Service) cacheError(op string, feedType model.FeedType, err error) {
	s.metrics.RecordCacheError(op)
	s.logger.Warn("キャッシュ操作に失敗しました（ミスとして扱います）",
		slog.String("op", op),
		slog.String("feed_type", string(feedType)),
		slog.String("error", err.Error()),
	)
}
