// Package cleanup はPostgreSQLキャッシュバックエンドの期限切れ行削除ジョブを提供する。
// 読み取り側は expires_at で期限切れ行を無視するため、このジョブは容量回収のみを担う。
// 削除されたストーリーのfeed_membersはCASCADE削除で自動的に処理される。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const (
	deleteExpiredStoriesQuery = `DELETE FROM cached_stories WHERE expires_at <= $1`
	deleteExpiredListsQuery   = `DELETE FROM feed_lists WHERE expires_at <= $1`
)

// Result は1回の実行で削除した行数。
type Result struct {
	Stories int64
	Lists   int64
}

// CleanupJob は期限切れキャッシュ行の削除ジョブ。
// 冪等であり、複数のワーカーから同時に実行されても安全。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
	now    func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func (j *CleanupJob) WithClock(now func() time.Time) *CleanupJob {
	j.now = now
	return j
}

// Run は期限切れのストーリーとフィード一覧を削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	cutoff := j.now()

	var res Result
	var err error
	if res.Stories, err = j.exec(ctx, deleteExpiredStoriesQuery, cutoff); err != nil {
		return res, fmt.Errorf("期限切れストーリーの削除に失敗: %w", err)
	}
	if res.Lists, err = j.exec(ctx, deleteExpiredListsQuery, cutoff); err != nil {
		return res, fmt.Errorf("期限切れフィード一覧の削除に失敗: %w", err)
	}

	j.logger.Info("キャッシュクリーンアップジョブが完了しました",
		slog.Int64("deleted_stories", res.Stories),
		slog.Int64("deleted_lists", res.Lists),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

func (j *CleanupJob) exec(ctx context.Context, query string, cutoff time.Time) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		j.logger.Error("キャッシュクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, err
	}
	return n, nil
}

// Start は指定間隔でRunを繰り返す。起動直後に1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました", slog.Duration("interval", interval))

	for {
		if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error("クリーンアップジョブエラー", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
		}
	}
}
