package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/hnreader/internal/model"
)

// fakeClock はテストから進められる時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func intPtr(n int) *int { return &n }

func testStory(id int64) *model.Story {
	return &model.Story{
		ID:           id,
		Author:       fmt.Sprintf("user%d", id),
		CreatedAt:    1700000000 + id,
		Title:        fmt.Sprintf("Story %d", id),
		Score:        int(id) * 10,
		CommentCount: intPtr(int(id)),
		URL:          fmt.Sprintf("https://example.com/%d", id),
		ChildIDs:     []int64{id*100 + 1, id*100 + 2},
	}
}

func testStories(ids ...int64) []*model.Story {
	stories := make([]*model.Story, len(ids))
	for i, id := range ids {
		stories[i] = testStory(id)
	}
	return stories
}

func storyIDs(stories []*model.Story) []int64 {
	ids := make([]int64, len(stories))
	for i, s := range stories {
		ids[i] = s.ID
	}
	return ids
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// storeFactory はテストごとに空のStoreを生成する。
type storeFactory func(t *testing.T, clock *fakeClock) Store

// runStoreSuite はすべてのバックエンドが満たすべき振る舞いを検証する。
func runStoreSuite(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("未キャッシュのGetはnilを返す", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		got, err := s.Get(ctx, 1)
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if got != nil {
			t.Errorf("Get() = %+v, want nil", got)
		}
		list, err := s.ListByType(ctx, model.FeedTop)
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if list == nil || len(list) != 0 {
			t.Errorf("ListByType() = %v, want empty non-nil slice", list)
		}
	})

	t.Run("PutManyは与えられた順序を保持する", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		if err := s.PutMany(ctx, testStories(5, 2, 7), model.FeedTop); err != nil {
			t.Fatalf("PutMany() error: %v", err)
		}
		list, err := s.ListByType(ctx, model.FeedTop)
		if err != nil {
			t.Fatalf("ListByType() error: %v", err)
		}
		if got := storyIDs(list); !equalIDs(got, []int64{5, 2, 7}) {
			t.Errorf("ListByType() ids = %v, want [5 2 7]", got)
		}
	})

	t.Run("全フィールドが往復で失われない", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		in := &model.Story{
			ID:           42,
			Author:       "pg",
			CreatedAt:    1175714200,
			Title:        `Say "hi" & <bye>`,
			Score:        0,
			CommentCount: intPtr(0),
			BodyHTML:     `<p>Ask HN &amp; friends</p>`,
			ChildIDs:     []int64{43, 44},
			ThumbnailURL: "https://img.example.com/42.png",
		}
		if err := s.PutMany(ctx, []*model.Story{in}, model.FeedAsk); err != nil {
			t.Fatalf("PutMany() error: %v", err)
		}
		got, err := s.Get(ctx, 42)
		if err != nil || got == nil {
			t.Fatalf("Get() = %v, %v", got, err)
		}
		if got.Author != in.Author || got.CreatedAt != in.CreatedAt || got.Title != in.Title ||
			got.Score != in.Score || got.BodyHTML != in.BodyHTML || got.URL != "" ||
			got.ThumbnailURL != in.ThumbnailURL {
			t.Errorf("Get() = %+v, want %+v", got, in)
		}
		if got.CommentCount == nil || *got.CommentCount != 0 {
			t.Errorf("CommentCount = %v, want 0（0と未設定は区別される）", got.CommentCount)
		}
		if !equalIDs(got.ChildIDs, in.ChildIDs) {
			t.Errorf("ChildIDs = %v, want %v", got.ChildIDs, in.ChildIDs)
		}
	})

	t.Run("CommentCount未設定とサムネイル未解決が保持される", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		in := &model.Story{ID: 9, CreatedAt: 1, Title: "t", ChildIDs: []int64{}}
		if err := s.Put(ctx, in, model.FeedNewest); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
		got, err := s.Get(ctx, 9)
		if err != nil || got == nil {
			t.Fatalf("Get() = %v, %v", got, err)
		}
		if got.CommentCount != nil {
			t.Errorf("CommentCount = %v, want nil", *got.CommentCount)
		}
		if got.HasThumbnail() {
			t.Errorf("ThumbnailURL = %q, want 未解決", got.ThumbnailURL)
		}
		if got.ChildIDs == nil || len(got.ChildIDs) != 0 {
			t.Errorf("ChildIDs = %v, want empty", got.ChildIDs)
		}
	})

	t.Run("鮮度はフィードTTLで判定される", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)

		fresh, err := s.IsFresh(ctx, model.FeedTop)
		if err != nil || fresh {
			t.Fatalf("空のキャッシュでIsFresh() = %v, %v; want false", fresh, err)
		}

		if err := s.PutMany(ctx, testStories(1, 2), model.FeedTop); err != nil {
			t.Fatalf("PutMany() error: %v", err)
		}
		if fresh, _ := s.IsFresh(ctx, model.FeedTop); !fresh {
			t.Error("PutMany直後はfreshであるべき")
		}

		clock.Advance(DefaultFeedTTL - time.Second)
		if fresh, _ := s.IsFresh(ctx, model.FeedTop); !fresh {
			t.Error("TTL未満の経過ではfreshであるべき")
		}

		clock.Advance(time.Second)
		if fresh, _ := s.IsFresh(ctx, model.FeedTop); fresh {
			t.Error("TTLちょうどの経過ではstaleであるべき")
		}

		list, err := s.ListByType(ctx, model.FeedTop)
		if err != nil {
			t.Fatalf("ListByType() error: %v", err)
		}
		if !equalIDs(storyIDs(list), []int64{1, 2}) {
			t.Errorf("stale でも一覧は鮮度に関わらず返されるべき: got %v", storyIDs(list))
		}

		if err := s.PutMany(ctx, testStories(3), model.FeedTop); err != nil {
			t.Fatalf("PutMany() error: %v", err)
		}
		if fresh, _ := s.IsFresh(ctx, model.FeedTop); !fresh {
			t.Error("再度のPutManyでTTLがリセットされるべき")
		}
	})

	t.Run("Invalidateは一覧のみを削除する", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		if err := s.PutMany(ctx, testStories(1, 2), model.FeedTop); err != nil {
			t.Fatalf("PutMany() error: %v", err)
		}
		if err := s.PutMany(ctx, testStories(2, 3), model.FeedBest); err != nil {
			t.Fatalf("PutMany() error: %v", err)
		}

		if err := s.Invalidate(ctx, model.FeedTop); err != nil {
			t.Fatalf("Invalidate() error: %v", err)
		}
		if fresh, _ := s.IsFresh(ctx, model.FeedTop); fresh {
			t.Error("Invalidate直後はfreshであってはならない")
		}
		list, _ := s.ListByType(ctx, model.FeedTop)
		if len(list) != 0 {
			t.Errorf("Invalidate後のListByType() = %v, want empty", storyIDs(list))
		}
		if got, _ := s.Get(ctx, 1); got == nil {
			t.Error("ID単位のエントリはInvalidateで削除されてはならない")
		}
		if fresh, _ := s.IsFresh(ctx, model.FeedBest); !fresh {
			t.Error("他のフィード種別に影響してはならない")
		}
	})

	t.Run("サムネイル更新はすべての一覧に反映される", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		if err := s.PutMany(ctx, testStories(1, 2), model.FeedTop); err != nil {
			t.Fatalf("PutMany() error: %v", err)
		}
		if err := s.PutMany(ctx, testStories(2, 3), model.FeedBest); err != nil {
			t.Fatalf("PutMany() error: %v", err)
		}

		if err := s.UpdateThumbnail(ctx, 2, "X"); err != nil {
			t.Fatalf("UpdateThumbnail() error: %v", err)
		}

		for _, ft := range []model.FeedType{model.FeedTop, model.FeedBest} {
			list, err := s.ListByType(ctx, ft)
			if err != nil {
				t.Fatalf("ListByType(%s) error: %v", ft, err)
			}
			for _, st := range list {
				if st.ID == 2 && st.ThumbnailURL != "X" {
					t.Errorf("%s の story 2 ThumbnailURL = %q, want X", ft, st.ThumbnailURL)
				}
				if st.ID != 2 && st.ThumbnailURL != "" {
					t.Errorf("%s の story %d が更新されてはならない", ft, st.ID)
				}
			}
		}
		if got, _ := s.Get(ctx, 2); got == nil || got.ThumbnailURL != "X" {
			t.Errorf("Get(2) = %+v, want ThumbnailURL X", got)
		}
	})

	t.Run("未キャッシュIDのサムネイル更新は何もしない", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		if err := s.UpdateThumbnail(ctx, 999, "X"); err != nil {
			t.Fatalf("UpdateThumbnail() error: %v", err)
		}
		if got, _ := s.Get(ctx, 999); got != nil {
			t.Errorf("存在しないIDのレコードが作られてはならない: %+v", got)
		}
	})

	t.Run("PutManyは一覧を置き換える", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		if err := s.PutMany(ctx, testStories(1, 2, 3), model.FeedTop); err != nil {
			t.Fatalf("PutMany() error: %v", err)
		}
		if err := s.PutMany(ctx, testStories(4, 1), model.FeedTop); err != nil {
			t.Fatalf("PutMany() error: %v", err)
		}
		list, _ := s.ListByType(ctx, model.FeedTop)
		if got := storyIDs(list); !equalIDs(got, []int64{4, 1}) {
			t.Errorf("ListByType() ids = %v, want [4 1]", got)
		}
	})

	t.Run("不正なストーリーは書き込まれない", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		bad := testStories(1, 2)
		bad[1].Score = -1

		err := s.PutMany(ctx, bad, model.FeedTop)
		if !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("PutMany() error = %v, want ErrInvalidRecord", err)
		}
		if got, _ := s.Get(ctx, 1); got != nil {
			t.Error("検証に失敗したバッチは一部も書き込まれてはならない")
		}
		if fresh, _ := s.IsFresh(ctx, model.FeedTop); fresh {
			t.Error("検証に失敗したバッチで一覧が作られてはならない")
		}
	})

	t.Run("GetManyは見つかったIDのみ返す", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		if err := s.PutMany(ctx, testStories(1, 3), model.FeedTop); err != nil {
			t.Fatalf("PutMany() error: %v", err)
		}
		found, err := s.GetMany(ctx, []int64{1, 2, 3})
		if err != nil {
			t.Fatalf("GetMany() error: %v", err)
		}
		if len(found) != 2 || found[1] == nil || found[3] == nil {
			t.Errorf("GetMany() = %v, want ids 1 and 3", found)
		}
	})

	t.Run("Statsは所属数と鮮度を返す", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock)
		if err := s.PutMany(ctx, testStories(1, 2, 3), model.FeedTop); err != nil {
			t.Fatalf("PutMany() error: %v", err)
		}
		if err := s.Put(ctx, testStory(4), model.FeedAsk); err != nil {
			t.Fatalf("Put() error: %v", err)
		}

		stats, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats() error: %v", err)
		}
		if stats.Stories != 4 {
			t.Errorf("Stories = %d, want 4", stats.Stories)
		}
		if len(stats.Feeds) != len(model.AllFeedTypes()) {
			t.Fatalf("Feeds = %d entries, want %d", len(stats.Feeds), len(model.AllFeedTypes()))
		}
		byType := make(map[model.FeedType]FeedStats)
		for _, fs := range stats.Feeds {
			byType[fs.FeedType] = fs
		}
		top := byType[model.FeedTop]
		if top.Members != 3 || top.ListSize != 3 || !top.Cached || !top.Fresh || top.FetchedAt == nil {
			t.Errorf("top = %+v", top)
		}
		ask := byType[model.FeedAsk]
		if ask.Members != 1 || ask.Cached {
			t.Errorf("ask = %+v, want members 1 and no list", ask)
		}

		clock.Advance(DefaultFeedTTL)
		stats, _ = s.Stats(ctx)
		for _, fs := range stats.Feeds {
			if fs.FeedType == model.FeedTop && (fs.Fresh || !fs.Cached) {
				t.Errorf("TTL経過後の top = %+v, want cached and stale", fs)
			}
		}
	})

	t.Run("Clearはすべてを削除する", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		if err := s.PutMany(ctx, testStories(1, 2), model.FeedTop); err != nil {
			t.Fatalf("PutMany() error: %v", err)
		}
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear() error: %v", err)
		}
		if got, _ := s.Get(ctx, 1); got != nil {
			t.Error("Clear後にストーリーが残っている")
		}
		if fresh, _ := s.IsFresh(ctx, model.FeedTop); fresh {
			t.Error("Clear後に一覧が残っている")
		}
	})

	t.Run("並行するPutManyはどちらか一方の一覧に収束する", func(t *testing.T) {
		s := newStore(t, newFakeClock())
		a := testStories(1, 2, 3)
		b := testStories(4, 5)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_ = s.PutMany(ctx, a, model.FeedTop)
			}()
			go func() {
				defer wg.Done()
				_ = s.PutMany(ctx, b, model.FeedTop)
			}()
		}
		wg.Wait()

		list, err := s.ListByType(ctx, model.FeedTop)
		if err != nil {
			t.Fatalf("ListByType() error: %v", err)
		}
		got := storyIDs(list)
		if !equalIDs(got, []int64{1, 2, 3}) && !equalIDs(got, []int64{4, 5}) {
			t.Errorf("ListByType() ids = %v, want [1 2 3] or [4 5]", got)
		}
	})
}
