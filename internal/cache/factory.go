package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/hnreader/internal/config"
)

// Backend はバックエンド固有の接続情報。
type Backend struct {
	Kind      string
	RedisURL  string
	KeyPrefix string
	DB        *sql.DB
}

// New はバックエンド種別に応じたStoreを生成する。
// 接続できない場合や設定が不足している場合はエラーを返し、起動を中止させる。
func New(ctx context.Context, b Backend, opts Options) (Store, error) {
	switch b.Kind {
	case config.CacheBackendMemory, "":
		return NewMemoryStore(opts), nil
	case config.CacheBackendRedis:
		client, err := NewRedisClient(ctx, b.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, b.KeyPrefix, opts), nil
	case config.CacheBackendPostgres:
		if b.DB == nil {
			return nil, errors.New("postgresバックエンドにはデータベース接続が必要です")
		}
		if err := b.DB.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("データベースへの接続に失敗しました: %w", err)
		}
		return NewPostgresStore(b.DB, opts), nil
	default:
		return nil, fmt.Errorf("未対応のキャッシュバックエンドです: %q", b.Kind)
	}
}
