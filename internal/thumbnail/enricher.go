package thumbnail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/hnreader/internal/model"
)

const defaultQueueSize = 256

// ThumbnailUpdater は解決済みサムネイルをキャッシュへ書き戻すインターフェース。
type ThumbnailUpdater interface {
	UpdateThumbnail(ctx context.Context, id int64, url string) error
}

type enrichJob struct {
	id  int64
	url string
}

// Enricher はサムネイル未解決のストーリーをバックグラウンドで解決し、
// キャッシュへ書き戻すワーカープール。
// 処理中のストーリーIDは重複してキューに入らない。
type Enricher struct {
	resolver *Resolver
	updater  ThumbnailUpdater
	logger   *slog.Logger
	workers  int

	jobs     chan enrichJob
	mu       sync.Mutex
	inflight map[int64]struct{}
	stopped  bool
	pending  sync.WaitGroup
}

// NewEnricher はEnricherの新しいインスタンスを生成する。
// workersが0以下の場合はデフォルト値5を使用する。
func NewEnricher(resolver *Resolver, updater ThumbnailUpdater, logger *slog.Logger, workers int) *Enricher {
	if workers <= 0 {
		workers = defaultConcurrency
	}
	return &Enricher{
		resolver: resolver,
		updater:  updater,
		logger:   logger,
		workers:  workers,
		jobs:     make(chan enrichJob, defaultQueueSize),
		inflight: make(map[int64]struct{}),
	}
}

// Enqueue はサムネイル未解決のストーリーをキューに追加する。
// ブロックせず、キューが満杯の場合や処理中のIDは読み飛ばす。
// 戻り値は新たにキューに追加した件数。
func (e *Enricher) Enqueue(stories []*model.Story) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return 0
	}

	added := 0
	for _, s := range stories {
		if s == nil || s.HasThumbnail() {
			continue
		}
		if _, ok := e.inflight[s.ID]; ok {
			continue
		}

		select {
		case e.jobs <- enrichJob{id: s.ID, url: s.URL}:
			e.inflight[s.ID] = struct{}{}
			e.pending.Add(1)
			added++
		default:
			e.logger.Warn("サムネイル解決キューが満杯のため読み飛ばしました",
				slog.Int64("story_id", s.ID),
			)
		}
	}
	return added
}

// Start はワーカーを起動し、コンテキストがキャンセルされるまでブロックする。
// 停止時にキューに残ったジョブは破棄する。
func (e *Enricher) Start(ctx context.Context) {
	e.logger.Info("サムネイルエンリッチャーを開始しました",
		slog.Int("workers", e.workers),
	)

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-e.jobs:
					e.process(ctx, job)
				}
			}
		}()
	}
	wg.Wait()

	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	for {
		select {
		case job := <-e.jobs:
			e.finish(job)
		default:
			e.logger.Info("サムネイルエンリッチャーを停止しました")
			return
		}
	}
}

// Wait はキューに追加済みのジョブがすべて完了するまで待機する。
func (e *Enricher) Wait() {
	e.pending.Wait()
}

func (e *Enricher) process(ctx context.Context, job enrichJob) {
	defer e.finish(job)

	start := time.Now()
	thumb := e.resolver.Resolve(ctx, job.url)
	if ctx.Err() != nil {
		return
	}

	if err := e.updater.UpdateThumbnail(ctx, job.id, thumb); err != nil {
		e.logger.Warn("サムネイルの書き戻しに失敗しました",
			slog.Int64("story_id", job.id),
			slog.String("error", err.Error()),
		)
		return
	}

	e.logger.Debug("サムネイルを書き戻しました",
		slog.Int64("story_id", job.id),
		slog.String("thumbnail_url", thumb),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}

func (e *Enricher) finish(job enrichJob) {
	e.mu.Lock()
	delete(e.inflight, job.id)
	e.mu.Unlock()
	e.pending.Done()
}
