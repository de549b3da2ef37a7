// Package warm はフィードリストのバックグラウンド事前取得を提供する。
// 期限切れのフィードだけを定期的に再取得し、共有キャッシュを温めておく。
package warm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/hnreader/internal/model"
)

// FeedWarmer はフィードの鮮度確認と強制リフレッシュのインターフェース。
// story.Service が実装する。
type FeedWarmer interface {
	IsFresh(ctx context.Context, feedType model.FeedType) bool
	GetStories(ctx context.Context, feedType model.FeedType, forceRefresh bool, limit int) []*model.Story
}

// Scheduler はフィード事前取得のスケジューリングと並列制御を行う。
// ティッカーごとに期限切れのフィード種別を選び、
// semaphoreパターンで最大並列数を制御しながらリフレッシュする。
type Scheduler struct {
	warmer         FeedWarmer
	feeds          []model.FeedType
	limit          int
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はフィード種別の数を使用する。
func NewScheduler(
	warmer FeedWarmer,
	feeds []model.FeedType,
	limit int,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = len(feeds)
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Scheduler{
		warmer:         warmer,
		feeds:          feeds,
		limit:          limit,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("事前取得スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("feed_count", len(s.feeds)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("事前取得スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は期限切れのフィード種別を並列でリフレッシュし、
// リフレッシュしたフィード種別の数を返す。
func (s *Scheduler) RunOnce(ctx context.Context) int {
	start := time.Now()

	var stale []model.FeedType
	for _, ft := range s.feeds {
		if ctx.Err() != nil {
			return 0
		}
		if !s.warmer.IsFresh(ctx, ft) {
			stale = append(stale, ft)
		}
	}

	if len(stale) == 0 {
		s.logger.Debug("事前取得対象のフィードはありません")
		return 0
	}

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, ft := range stale {
		select {
		case <-ctx.Done():
			wg.Wait()
			return 0
		case sem <- struct{}{}:
		}
		wg.Add(1)

		go func(ft model.FeedType) {
			defer wg.Done()
			defer func() { <-sem }()

			stories := s.warmer.GetStories(ctx, ft, true, s.limit)
			s.logger.Debug("フィードを事前取得しました",
				slog.String("feed_type", string(ft)),
				slog.Int("count", len(stories)),
			)
		}(ft)
	}

	wg.Wait()

	s.logger.Info("事前取得サイクルが完了しました",
		slog.Int("feed_count", len(stale)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return len(stale)
}
