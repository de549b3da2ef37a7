package hn

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/hnreader/internal/model"
)

// mockStoryFetcher はStoryFetcherのテスト用モック。
type mockStoryFetcher struct {
	getStoryFunc func(ctx context.Context, id int64) *model.Story
}

func (m *mockStoryFetcher) GetStory(ctx context.Context, id int64) *model.Story {
	if m.getStoryFunc != nil {
		return m.getStoryFunc(ctx, id)
	}
	return &model.Story{ID: id}
}

// mockCommentFetcher はCommentFetcherのテスト用モック。
type mockCommentFetcher struct {
	getCommentFunc func(ctx context.Context, id int64) *model.Comment
}

func (m *mockCommentFetcher) GetComment(ctx context.Context, id int64) *model.Comment {
	if m.getCommentFunc != nil {
		return m.getCommentFunc(ctx, id)
	}
	return &model.Comment{ID: id}
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

func TestNewBatchLoader_DefaultBatchSize(t *testing.T) {
	var buf bytes.Buffer
	l := NewBatchLoader(&mockStoryFetcher{}, &mockCommentFetcher{}, newTestLogger(&buf), 0)
	if l.batchSize != DefaultBatchSize {
		t.Errorf("batchSize = %d, want %d", l.batchSize, DefaultBatchSize)
	}
}

func TestBatchLoader_LoadStories_PreservesOrderAndDropsFailures(t *testing.T) {
	var buf bytes.Buffer
	fetcher := &mockStoryFetcher{
		getStoryFunc: func(ctx context.Context, id int64) *model.Story {
			if id == 9 {
				return nil
			}
			// 後ろのIDほど早く完了させ、完了順で並ばないことを確認する
			time.Sleep(time.Duration(10-id) * time.Millisecond)
			return &model.Story{ID: id}
		},
	}
	l := NewBatchLoader(fetcher, &mockCommentFetcher{}, newTestLogger(&buf), 10)

	got := storyIDs(l.LoadStories(context.Background(), []int64{5, 9, 2, 7}, 25))
	want := []int64{5, 2, 7}
	if !equalIDs(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
}

func TestBatchLoader_LoadStories_TakesPrefix(t *testing.T) {
	var buf bytes.Buffer
	var calls atomic.Int32
	fetcher := &mockStoryFetcher{
		getStoryFunc: func(ctx context.Context, id int64) *model.Story {
			calls.Add(1)
			return &model.Story{ID: id}
		},
	}
	l := NewBatchLoader(fetcher, &mockCommentFetcher{}, newTestLogger(&buf), 2)

	got := storyIDs(l.LoadStories(context.Background(), []int64{1, 2, 3, 4, 5}, 3))
	if !equalIDs(got, []int64{1, 2, 3}) {
		t.Errorf("ids = %v, want [1 2 3]", got)
	}
	if calls.Load() != 3 {
		t.Errorf("fetch calls = %d, want 3", calls.Load())
	}
}

func TestBatchLoader_LoadStories_ZeroLimitLoadsAll(t *testing.T) {
	var buf bytes.Buffer
	l := NewBatchLoader(&mockStoryFetcher{}, &mockCommentFetcher{}, newTestLogger(&buf), 2)

	got := storyIDs(l.LoadStories(context.Background(), []int64{1, 2, 3}, 0))
	if !equalIDs(got, []int64{1, 2, 3}) {
		t.Errorf("ids = %v, want [1 2 3]", got)
	}
}

func TestBatchLoader_LoadStories_BoundsConcurrencyToBatchSize(t *testing.T) {
	var buf bytes.Buffer
	var inFlight, maxInFlight atomic.Int32
	fetcher := &mockStoryFetcher{
		getStoryFunc: func(ctx context.Context, id int64) *model.Story {
			n := inFlight.Add(1)
			for {
				cur := maxInFlight.Load()
				if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return &model.Story{ID: id}
		},
	}
	l := NewBatchLoader(fetcher, &mockCommentFetcher{}, newTestLogger(&buf), 3)

	ids := make([]int64, 10)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	got := l.LoadStories(context.Background(), ids, 0)

	if len(got) != 10 {
		t.Errorf("len = %d, want 10", len(got))
	}
	if maxInFlight.Load() > 3 {
		t.Errorf("最大同時実行数 = %d, want <= 3", maxInFlight.Load())
	}
}

func TestBatchLoader_LoadStories_GroupMembersRunConcurrently(t *testing.T) {
	var buf bytes.Buffer
	var started sync.WaitGroup
	started.Add(3)
	release := make(chan struct{})
	fetcher := &mockStoryFetcher{
		getStoryFunc: func(ctx context.Context, id int64) *model.Story {
			started.Done()
			<-release
			return &model.Story{ID: id}
		},
	}
	l := NewBatchLoader(fetcher, &mockCommentFetcher{}, newTestLogger(&buf), 3)

	go func() {
		// 3件すべてが同時に開始されなければこの待機は終わらない
		started.Wait()
		close(release)
	}()

	done := make(chan []*model.Story)
	go func() { done <- l.LoadStories(context.Background(), []int64{1, 2, 3}, 0) }()

	select {
	case got := <-done:
		if len(got) != 3 {
			t.Errorf("len = %d, want 3", len(got))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("グループ内の取得が並行に実行されていない")
	}
}

func TestBatchLoader_LoadStories_CancelledContextStopsBetweenGroups(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &mockStoryFetcher{
		getStoryFunc: func(c context.Context, id int64) *model.Story {
			if id == 2 {
				cancel()
			}
			return &model.Story{ID: id}
		},
	}
	l := NewBatchLoader(fetcher, &mockCommentFetcher{}, newTestLogger(&buf), 2)

	got := storyIDs(l.LoadStories(ctx, []int64{1, 2, 3, 4}, 0))
	if !equalIDs(got, []int64{1, 2}) {
		t.Errorf("ids = %v, want [1 2]", got)
	}
}

func TestBatchLoader_LoadComments_PreservesOrder(t *testing.T) {
	var buf bytes.Buffer
	comments := &mockCommentFetcher{
		getCommentFunc: func(ctx context.Context, id int64) *model.Comment {
			if id == 20 {
				return nil
			}
			return &model.Comment{ID: id}
		},
	}
	l := NewBatchLoader(&mockStoryFetcher{}, comments, newTestLogger(&buf), 10)

	got := l.LoadComments(context.Background(), []int64{30, 20, 10})
	if len(got) != 2 || got[0].ID != 30 || got[1].ID != 10 {
		t.Errorf("comments = %+v, want [30 10]", got)
	}
}
