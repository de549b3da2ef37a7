package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/hnreader/internal/model"
)

// PostgresStore はPostgreSQLをバックエンドとするStore実装。
// 時刻は注入された時計から渡し、DBのnow()には依存しない。
// 接続の所有者は呼び出し元であり、Closeは接続を閉じない。
type PostgresStore struct {
	db   *sql.DB
	opts Options
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore はPostgresStoreの新しいインスタンスを生成する。
func NewPostgresStore(db *sql.DB, opts Options) *PostgresStore {
	return &PostgresStore{db: db, opts: opts.withDefaults()}
}

const upsertStoryQuery = `
	INSERT INTO cached_stories (id, data, fetched_at, expires_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE SET
		data = EXCLUDED.data,
		fetched_at = EXCLUDED.fetched_at,
		expires_at = EXCLUDED.expires_at`

func (p *PostgresStore) Get(ctx context.Context, id int64) (*model.Story, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM cached_stories WHERE id = $1 AND expires_at > $2`,
		id, p.opts.Now(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ストーリーの取得に失敗しました: %w", err)
	}
	return DecodeStory(data)
}

func (p *PostgresStore) GetMany(ctx context.Context, ids []int64) (map[int64]*model.Story, error) {
	found := make(map[int64]*model.Story, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT id, data FROM cached_stories WHERE id = ANY($1) AND expires_at > $2`,
		pq.Array(ids), p.opts.Now(),
	)
	if err != nil {
		return nil, fmt.Errorf("ストーリーの一括取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("ストーリー行の読み取りに失敗しました: %w", err)
		}
		s, err := DecodeStory(data)
		if err != nil {
			return nil, err
		}
		found[id] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ストーリー行の走査に失敗しました: %w", err)
	}
	return found, nil
}

func (p *PostgresStore) Put(ctx context.Context, story *model.Story, feedType model.FeedType) error {
	data, err := EncodeStory(story)
	if err != nil {
		return err
	}
	now := p.opts.Now()

	return p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertStoryQuery, story.ID, string(data), now, now.Add(p.opts.StoryTTL)); err != nil {
			return fmt.Errorf("ストーリーの書き込みに失敗しました: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO feed_members (feed_type, story_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			string(feedType), story.ID,
		); err != nil {
			return fmt.Errorf("所属の書き込みに失敗しました: %w", err)
		}
		return nil
	})
}

// PutMany は1トランザクションで適用する。
// 同一フィード種別への並行書き込みはアドバイザリロックで直列化され、後勝ちになる。
func (p *PostgresStore) PutMany(ctx context.Context, stories []*model.Story, feedType model.FeedType) error {
	encoded := make([][]byte, len(stories))
	for i, s := range stories {
		data, err := EncodeStory(s)
		if err != nil {
			return err
		}
		encoded[i] = data
	}
	ids := idsOf(stories)
	now := p.opts.Now()
	expiresAt := now.Add(p.opts.StoryTTL)

	return p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "feed:"+string(feedType)); err != nil {
			return fmt.Errorf("フィード一覧のロック取得に失敗しました: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, upsertStoryQuery)
		if err != nil {
			return fmt.Errorf("ステートメントの準備に失敗しました: %w", err)
		}
		defer stmt.Close()

		for i, s := range stories {
			if _, err := stmt.ExecContext(ctx, s.ID, string(encoded[i]), now, expiresAt); err != nil {
				return fmt.Errorf("ストーリーの書き込みに失敗しました: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM feed_members WHERE feed_type = $1`, string(feedType)); err != nil {
			return fmt.Errorf("所属の削除に失敗しました: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO feed_members (feed_type, story_id)
			 SELECT $1, unnest($2::bigint[])
			 ON CONFLICT DO NOTHING`,
			string(feedType), pq.Array(ids),
		); err != nil {
			return fmt.Errorf("所属の書き込みに失敗しました: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO feed_lists (feed_type, story_ids, fetched_at, expires_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (feed_type) DO UPDATE SET
				story_ids = EXCLUDED.story_ids,
				fetched_at = EXCLUDED.fetched_at,
				expires_at = EXCLUDED.expires_at`,
			string(feedType), pq.Array(ids), now, expiresAt,
		); err != nil {
			return fmt.Errorf("フィード一覧の書き込みに失敗しました: %w", err)
		}
		return nil
	})
}

func (p *PostgresStore) ListByType(ctx context.Context, feedType model.FeedType) ([]*model.Story, error) {
	var ids []int64
	err := p.db.QueryRowContext(ctx,
		`SELECT story_ids FROM feed_lists WHERE feed_type = $1 AND expires_at > $2`,
		string(feedType), p.opts.Now(),
	).Scan(pq.Array(&ids))
	if errors.Is(err, sql.ErrNoRows) {
		return []*model.Story{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}

	found, err := p.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	stories := make([]*model.Story, 0, len(ids))
	for _, id := range ids {
		if s, ok := found[id]; ok {
			stories = append(stories, s)
		}
	}
	return stories, nil
}

func (p *PostgresStore) IsFresh(ctx context.Context, feedType model.FeedType) (bool, error) {
	var fetchedAt time.Time
	err := p.db.QueryRowContext(ctx,
		`SELECT fetched_at FROM feed_lists WHERE feed_type = $1`,
		string(feedType),
	).Scan(&fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("取得時刻の読み込みに失敗しました: %w", err)
	}
	return fresh(p.opts.Now(), fetchedAt, p.opts.FeedTTL), nil
}

func (p *PostgresStore) UpdateThumbnail(ctx context.Context, id int64, url string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE cached_stories
		 SET data = jsonb_set(data, '{thumbnail_url}', to_jsonb($2::text))
		 WHERE id = $1 AND expires_at > $3`,
		id, url, p.opts.Now(),
	)
	if err != nil {
		return fmt.Errorf("サムネイルの更新に失敗しました: %w", err)
	}
	return nil
}

func (p *PostgresStore) Invalidate(ctx context.Context, feedType model.FeedType) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM feed_lists WHERE feed_type = $1`, string(feedType)); err != nil {
			return fmt.Errorf("フィード一覧の無効化に失敗しました: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM feed_members WHERE feed_type = $1`, string(feedType)); err != nil {
			return fmt.Errorf("所属の削除に失敗しました: %w", err)
		}
		return nil
	})
}

func (p *PostgresStore) Clear(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `TRUNCATE feed_members, feed_lists, cached_stories`); err != nil {
		return fmt.Errorf("キャッシュのクリアに失敗しました: %w", err)
	}
	return nil
}

func (p *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	now := p.opts.Now()
	stats := &Stats{Backend: "postgres"}

	if err := p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM cached_stories WHERE expires_at > $1`, now,
	).Scan(&stats.Stories); err != nil {
		return nil, fmt.Errorf("ストーリー数の取得に失敗しました: %w", err)
	}

	members := make(map[model.FeedType]int)
	rows, err := p.db.QueryContext(ctx, `SELECT feed_type, count(*) FROM feed_members GROUP BY feed_type`)
	if err != nil {
		return nil, fmt.Errorf("所属数の取得に失敗しました: %w", err)
	}
	for rows.Next() {
		var ft string
		var n int
		if err := rows.Scan(&ft, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("所属数の読み取りに失敗しました: %w", err)
		}
		members[model.FeedType(ft)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("所属数の走査に失敗しました: %w", err)
	}

	type listInfo struct {
		size      int
		fetchedAt time.Time
	}
	lists := make(map[model.FeedType]listInfo)
	rows, err = p.db.QueryContext(ctx,
		`SELECT feed_type, cardinality(story_ids), fetched_at FROM feed_lists WHERE expires_at > $1`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧情報の取得に失敗しました: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ft string
		var info listInfo
		if err := rows.Scan(&ft, &info.size, &info.fetchedAt); err != nil {
			return nil, fmt.Errorf("フィード一覧情報の読み取りに失敗しました: %w", err)
		}
		lists[model.FeedType(ft)] = info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィード一覧情報の走査に失敗しました: %w", err)
	}

	for _, ft := range model.AllFeedTypes() {
		fs := FeedStats{FeedType: ft, Members: members[ft]}
		if info, ok := lists[ft]; ok {
			at := info.fetchedAt
			fs.Cached = true
			fs.ListSize = info.size
			fs.Fresh = fresh(now, at, p.opts.FeedTTL)
			fs.FetchedAt = &at
		}
		stats.Feeds = append(stats.Feeds, fs)
	}
	return stats, nil
}

func (p *PostgresStore) Close() error { return nil }

func (p *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}
