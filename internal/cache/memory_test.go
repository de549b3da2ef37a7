package cache

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/hnreader/internal/model"
)

func newTestMemoryStore(_ *testing.T, clock *fakeClock) Store {
	return NewMemoryStore(Options{Now: clock.Now})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, newTestMemoryStore)
}

func TestMemoryStore_StoryTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStore(Options{Now: clock.Now})

	if err := s.PutMany(ctx, testStories(1, 2), model.FeedTop); err != nil {
		t.Fatalf("PutMany() error: %v", err)
	}

	clock.Advance(DefaultStoryTTL - time.Second)
	if got, _ := s.Get(ctx, 1); got == nil {
		t.Error("ID単位TTL未満ではGetできるべき")
	}

	clock.Advance(time.Second)
	if got, _ := s.Get(ctx, 1); got != nil {
		t.Error("ID単位TTL経過後は未キャッシュと同じく nil を返すべき")
	}
	list, _ := s.ListByType(ctx, model.FeedTop)
	if len(list) != 0 {
		t.Errorf("一覧はメンバーより長く保持されてはならない: got %v", storyIDs(list))
	}
}

func TestMemoryStore_PutManyResetsMemberTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStore(Options{Now: clock.Now})

	if err := s.Put(ctx, testStory(1), model.FeedTop); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	clock.Advance(DefaultStoryTTL - time.Minute)
	if err := s.PutMany(ctx, testStories(1, 2), model.FeedBest); err != nil {
		t.Fatalf("PutMany() error: %v", err)
	}
	clock.Advance(30 * time.Minute)

	list, _ := s.ListByType(ctx, model.FeedBest)
	if got := storyIDs(list); !equalIDs(got, []int64{1, 2}) {
		t.Errorf("PutManyでメンバーのTTLがリセットされるべき: got %v", got)
	}
}

func TestMemoryStore_SweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStore(Options{Now: clock.Now})

	if err := s.PutMany(ctx, testStories(1, 2), model.FeedTop); err != nil {
		t.Fatalf("PutMany() error: %v", err)
	}
	clock.Advance(DefaultStoryTTL)
	if err := s.PutMany(ctx, testStories(3), model.FeedBest); err != nil {
		t.Fatalf("PutMany() error: %v", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.stories) != 1 {
		t.Errorf("期限切れのストーリーが削除されていない: %d entries", len(s.stories))
	}
	if _, ok := s.lists[model.FeedTop]; ok {
		t.Error("期限切れの一覧が削除されていない")
	}
}

func TestMemoryStore_StoresCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})

	in := testStory(1)
	if err := s.PutMany(ctx, []*model.Story{in}, model.FeedTop); err != nil {
		t.Fatalf("PutMany() error: %v", err)
	}
	in.Title = "mutated"
	in.ChildIDs[0] = 999

	got, _ := s.Get(ctx, 1)
	if got.Title != "Story 1" || got.ChildIDs[0] != 101 {
		t.Errorf("書き込み後の呼び出し元の変更がキャッシュに影響してはならない: %+v", got)
	}

	got.ThumbnailURL = "mutated"
	*got.CommentCount = 42
	again, _ := s.Get(ctx, 1)
	if again.ThumbnailURL != "" || *again.CommentCount != 1 {
		t.Errorf("取得結果の変更がキャッシュに影響してはならない: %+v", again)
	}
}

func TestMemoryStore_InvalidateRemovesMembership(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})

	if err := s.PutMany(ctx, testStories(1, 2), model.FeedShow); err != nil {
		t.Fatalf("PutMany() error: %v", err)
	}
	if err := s.Invalidate(ctx, model.FeedShow); err != nil {
		t.Fatalf("Invalidate() error: %v", err)
	}

	stats, _ := s.Stats(ctx)
	for _, fs := range stats.Feeds {
		if fs.FeedType == model.FeedShow && (fs.Members != 0 || fs.Cached) {
			t.Errorf("show = %+v, want no members and no list", fs)
		}
	}
	if stats.Stories != 2 {
		t.Errorf("Stories = %d, want 2", stats.Stories)
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{FeedTTL: time.Hour, StoryTTL: time.Minute}.withDefaults()
	if o.StoryTTL != time.Hour {
		t.Errorf("StoryTTL = %v, ID単位TTLはフィードTTL以上に補正されるべき", o.StoryTTL)
	}

	d := Options{}.withDefaults()
	if d.FeedTTL != DefaultFeedTTL || d.StoryTTL != DefaultStoryTTL || d.Now == nil {
		t.Errorf("defaults = %+v", d)
	}
}
