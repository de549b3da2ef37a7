package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/hnreader/internal/model"
)

// ストーリーハッシュのフィールド名。
const (
	fieldID           = "id"
	fieldAuthor       = "by"
	fieldTime         = "time"
	fieldTitle        = "title"
	fieldScore        = "score"
	fieldDescendants  = "descendants"
	fieldURL          = "url"
	fieldText         = "text"
	fieldKids         = "kids"
	fieldThumbnailURL = "thumbnail_url"
)

// updateThumbnailScript はキーが存在する場合のみサムネイルを書き込む。
// 期限切れで消えたストーリーを不完全なハッシュとして復活させないため。
var updateThumbnailScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

// RedisStore はRedisをバックエンドとするStore実装。
//
// キー構成:
//
//	{prefix}story:{id}                 ストーリーのハッシュ
//	{prefix}stories:{type}             フィード一覧のID配列（JSON）
//	{prefix}stories:{type}:timestamp   フィード一覧の取得時刻（Unixミリ秒）
//	{prefix}story_type:{type}          フィード種別の所属セット
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   Options
}

var _ Store = (*RedisStore)(nil)

// NewRedisClient はREDIS_URLからクライアントを生成し、疎通を確認する。
// redis:// 形式でない場合は host:port として扱う。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗しました: %w", err)
	}
	return client, nil
}

// NewRedisStore はRedisStoreの新しいインスタンスを生成する。
func NewRedisStore(client *redis.Client, prefix string, opts Options) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		opts:   opts.withDefaults(),
	}
}

func (r *RedisStore) storyKey(id int64) string {
	return r.prefix + "story:" + strconv.FormatInt(id, 10)
}

func (r *RedisStore) listKey(ft model.FeedType) string {
	return r.prefix + "stories:" + string(ft)
}

func (r *RedisStore) timestampKey(ft model.FeedType) string {
	return r.prefix + "stories:" + string(ft) + ":timestamp"
}

func (r *RedisStore) typeKey(ft model.FeedType) string {
	return r.prefix + "story_type:" + string(ft)
}

// storyToHash はストーリーをハッシュのフィールドに変換する。
// 任意フィールドは値がある場合のみ含める。
func storyToHash(s *model.Story) (map[string]interface{}, error) {
	rec := NewRecord(s)
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	kids, err := json.Marshal(rec.ChildIDs)
	if err != nil {
		return nil, fmt.Errorf("子IDのシリアライズに失敗しました: %w", err)
	}

	h := map[string]interface{}{
		fieldID:    rec.ID,
		fieldTime:  rec.CreatedAt,
		fieldTitle: rec.Title,
		fieldScore: rec.Score,
		fieldKids:  string(kids),
	}
	if rec.Author != "" {
		h[fieldAuthor] = rec.Author
	}
	if rec.CommentCount != nil {
		h[fieldDescendants] = *rec.CommentCount
	}
	if rec.URL != "" {
		h[fieldURL] = rec.URL
	}
	if rec.BodyHTML != "" {
		h[fieldText] = rec.BodyHTML
	}
	if rec.ThumbnailURL != "" {
		h[fieldThumbnailURL] = rec.ThumbnailURL
	}
	return h, nil
}

// hashToStory はハッシュからストーリーを復元する。空のハッシュはnilを返す。
func hashToStory(h map[string]string) (*model.Story, error) {
	if len(h) == 0 {
		return nil, nil
	}

	var rec Record
	var err error
	if rec.ID, err = strconv.ParseInt(h[fieldID], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: id=%q", ErrInvalidRecord, h[fieldID])
	}
	if rec.CreatedAt, err = strconv.ParseInt(h[fieldTime], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: time=%q", ErrInvalidRecord, h[fieldTime])
	}
	if rec.Score, err = strconv.Atoi(h[fieldScore]); err != nil {
		return nil, fmt.Errorf("%w: score=%q", ErrInvalidRecord, h[fieldScore])
	}
	if v, ok := h[fieldDescendants]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: descendants=%q", ErrInvalidRecord, v)
		}
		rec.CommentCount = &n
	}
	if v := h[fieldKids]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.ChildIDs); err != nil {
			return nil, fmt.Errorf("%w: kids=%q", ErrInvalidRecord, v)
		}
	}
	rec.Author = h[fieldAuthor]
	rec.Title = h[fieldTitle]
	rec.URL = h[fieldURL]
	rec.BodyHTML = h[fieldText]
	rec.ThumbnailURL = h[fieldThumbnailURL]

	return rec.Story()
}

func (r *RedisStore) Get(ctx context.Context, id int64) (*model.Story, error) {
	h, err := r.client.HGetAll(ctx, r.storyKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("ストーリーの取得に失敗しました: %w", err)
	}
	return hashToStory(h)
}

func (r *RedisStore) GetMany(ctx context.Context, ids []int64) (map[int64]*model.Story, error) {
	found := make(map[int64]*model.Story, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.storyKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ストーリーの一括取得に失敗しました: %w", err)
	}

	for i, cmd := range cmds {
		s, err := hashToStory(cmd.Val())
		if err != nil {
			return nil, err
		}
		if s != nil {
			found[ids[i]] = s
		}
	}
	return found, nil
}

func (r *RedisStore) Put(ctx context.Context, story *model.Story, feedType model.FeedType) error {
	h, err := storyToHash(story)
	if err != nil {
		return err
	}

	key := r.storyKey(story.ID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, h)
		pipe.Expire(ctx, key, r.opts.StoryTTL)
		pipe.SAdd(ctx, r.typeKey(feedType), story.ID)
		pipe.Expire(ctx, r.typeKey(feedType), r.opts.StoryTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ストーリーの書き込みに失敗しました: %w", err)
	}
	return nil
}

// PutMany はMULTI/EXECで一括適用する。並行するPutMany同士は後勝ちになる。
func (r *RedisStore) PutMany(ctx context.Context, stories []*model.Story, feedType model.FeedType) error {
	hashes := make([]map[string]interface{}, len(stories))
	for i, s := range stories {
		h, err := storyToHash(s)
		if err != nil {
			return err
		}
		hashes[i] = h
	}

	ids := idsOf(stories)
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("ID一覧のシリアライズに失敗しました: %w", err)
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	now := r.opts.Now()

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, s := range stories {
			key := r.storyKey(s.ID)
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, hashes[i])
			pipe.Expire(ctx, key, r.opts.StoryTTL)
		}
		pipe.Del(ctx, r.typeKey(feedType))
		if len(members) > 0 {
			pipe.SAdd(ctx, r.typeKey(feedType), members...)
			pipe.Expire(ctx, r.typeKey(feedType), r.opts.StoryTTL)
		}
		pipe.Set(ctx, r.listKey(feedType), idsJSON, r.opts.StoryTTL)
		pipe.Set(ctx, r.timestampKey(feedType), now.UnixMilli(), r.opts.StoryTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("フィード一覧の書き込みに失敗しました: %w", err)
	}
	return nil
}

func (r *RedisStore) listIDs(ctx context.Context, feedType model.FeedType) ([]int64, error) {
	raw, err := r.client.Get(ctx, r.listKey(feedType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}

	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("%w: feed list %s", ErrInvalidRecord, feedType)
	}
	return ids, nil
}

func (r *RedisStore) ListByType(ctx context.Context, feedType model.FeedType) ([]*model.Story, error) {
	ids, err := r.listIDs(ctx, feedType)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*model.Story{}, nil
	}

	found, err := r.GetMany(ctx, ids)
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

func (r *RedisStore) fetchedAt(ctx context.Context, feedType model.FeedType) (time.Time, bool, error) {
	ms, err := r.client.Get(ctx, r.timestampKey(feedType)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("取得時刻の読み込みに失敗しました: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (r *RedisStore) IsFresh(ctx context.Context, feedType model.FeedType) (bool, error) {
	at, ok, err := r.fetchedAt(ctx, feedType)
	if err != nil || !ok {
		return false, err
	}
	return fresh(r.opts.Now(), at, r.opts.FeedTTL), nil
}

func (r *RedisStore) UpdateThumbnail(ctx context.Context, id int64, url string) error {
	err := updateThumbnailScript.Run(ctx, r.client, []string{r.storyKey(id)}, fieldThumbnailURL, url).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("サムネイルの更新に失敗しました: %w", err)
	}
	return nil
}

func (r *RedisStore) Invalidate(ctx context.Context, feedType model.FeedType) error {
	err := r.client.Del(ctx, r.listKey(feedType), r.timestampKey(feedType), r.typeKey(feedType)).Err()
	if err != nil {
		return fmt.Errorf("フィード一覧の無効化に失敗しました: %w", err)
	}
	return nil
}

// scanKeys はパターンに一致するキーをSCANで列挙する。
func (r *RedisStore) scanKeys(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return fmt.Errorf("キーの走査に失敗しました: %w", err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Clear はプレフィックス配下のキャッシュキーのみを削除する。
func (r *RedisStore) Clear(ctx context.Context) error {
	for _, pattern := range []string{"story:*", "stories:*", "story_type:*"} {
		err := r.scanKeys(ctx, r.prefix+pattern, func(keys []string) error {
			return r.client.Del(ctx, keys...).Err()
		})
		if err != nil {
			return fmt.Errorf("キャッシュのクリアに失敗しました: %w", err)
		}
	}
	return nil
}

func (r *RedisStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Backend: "redis"}

	storyPrefix := r.prefix + "story:"
	err := r.scanKeys(ctx, storyPrefix+"*", func(keys []string) error {
		for _, k := range keys {
			if _, err := strconv.ParseInt(strings.TrimPrefix(k, storyPrefix), 10, 64); err == nil {
				stats.Stories++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := r.opts.Now()
	for _, ft := range model.AllFeedTypes() {
		members, err := r.client.SCard(ctx, r.typeKey(ft)).Result()
		if err != nil {
			return nil, fmt.Errorf("所属数の取得に失敗しました: %w", err)
		}
		fs := FeedStats{FeedType: ft, Members: int(members)}

		ids, err := r.listIDs(ctx, ft)
		if err != nil {
			return nil, err
		}
		at, ok, err := r.fetchedAt(ctx, ft)
		if err != nil {
			return nil, err
		}
		if ok && ids != nil {
			fs.Cached = true
			fs.ListSize = len(ids)
			fs.Fresh = fresh(now, at, r.opts.FeedTTL)
			fs.FetchedAt = &at
		}
		stats.Feeds = append(stats.Feeds, fs)
	}
	return stats, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
