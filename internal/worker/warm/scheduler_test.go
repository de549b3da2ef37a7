package warm

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/hnreader/internal/model"
)

// mockWarmer はFeedWarmerのテスト用モック。
type mockWarmer struct {
	isFreshFunc    func(ctx context.Context, ft model.FeedType) bool
	getStoriesFunc func(ctx context.Context, ft model.FeedType, forceRefresh bool, limit int) []*model.Story

	mu        sync.Mutex
	refreshed []model.FeedType
}

func (m *mockWarmer) IsFresh(ctx context.Context, ft model.FeedType) bool {
	if m.isFreshFunc != nil {
		return m.isFreshFunc(ctx, ft)
	}
	return false
}

func (m *mockWarmer) GetStories(ctx context.Context, ft model.FeedType, forceRefresh bool, limit int) []*model.Story {
	m.mu.Lock()
	m.refreshed = append(m.refreshed, ft)
	m.mu.Unlock()
	if m.getStoriesFunc != nil {
		return m.getStoriesFunc(ctx, ft, forceRefresh, limit)
	}
	return []*model.Story{}
}

func (m *mockWarmer) refreshedFeeds() []model.FeedType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.FeedType(nil), m.refreshed...)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

var allFeeds = model.AllFeedTypes()

func TestNewScheduler_DefaultConcurrency(t *testing.T) {
	s := NewScheduler(&mockWarmer{}, allFeeds, 30, nil, 0)
	if s.maxConcurrency != len(allFeeds) {
		t.Errorf("maxConcurrency = %d, want %d", s.maxConcurrency, len(allFeeds))
	}

	s = NewScheduler(&mockWarmer{}, nil, 30, nil, 0)
	if s.maxConcurrency != 1 {
		t.Errorf("maxConcurrency with no feeds = %d, want 1", s.maxConcurrency)
	}
}

func TestScheduler_RunOnce_RefreshesOnlyStaleFeeds(t *testing.T) {
	var buf bytes.Buffer
	warmer := &mockWarmer{
		isFreshFunc: func(ctx context.Context, ft model.FeedType) bool {
			return ft == model.FeedTop || ft == model.FeedBest
		},
		getStoriesFunc: func(ctx context.Context, ft model.FeedType, forceRefresh bool, limit int) []*model.Story {
			if !forceRefresh {
				t.Errorf("GetStories(%s) forceRefresh = false, want true", ft)
			}
			if limit != 30 {
				t.Errorf("GetStories(%s) limit = %d, want 30", ft, limit)
			}
			return []*model.Story{{ID: 1}}
		},
	}

	s := NewScheduler(warmer, allFeeds, 30, newTestLogger(&buf), 2)
	n := s.RunOnce(context.Background())

	if n != 3 {
		t.Errorf("RunOnce() = %d, want 3", n)
	}
	got := map[model.FeedType]bool{}
	for _, ft := range warmer.refreshedFeeds() {
		got[ft] = true
	}
	for _, ft := range []model.FeedType{model.FeedNewest, model.FeedAsk, model.FeedShow} {
		if !got[ft] {
			t.Errorf("%s should be refreshed", ft)
		}
	}
	if got[model.FeedTop] || got[model.FeedBest] {
		t.Errorf("fresh feeds should not be refreshed: %v", warmer.refreshedFeeds())
	}
}

func TestScheduler_RunOnce_AllFresh(t *testing.T) {
	warmer := &mockWarmer{
		isFreshFunc: func(ctx context.Context, ft model.FeedType) bool { return true },
	}

	s := NewScheduler(warmer, allFeeds, 30, newTestLogger(&bytes.Buffer{}), 0)
	if n := s.RunOnce(context.Background()); n != 0 {
		t.Errorf("RunOnce() = %d, want 0", n)
	}
	if len(warmer.refreshedFeeds()) != 0 {
		t.Errorf("no feed should be refreshed, got %v", warmer.refreshedFeeds())
	}
}

func TestScheduler_RunOnce_ConcurrencyLimit(t *testing.T) {
	var maxConcurrent, current int32
	warmer := &mockWarmer{
		getStoriesFunc: func(ctx context.Context, ft model.FeedType, forceRefresh bool, limit int) []*model.Story {
			c := atomic.AddInt32(&current, 1)
			defer atomic.AddInt32(&current, -1)
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if c <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, c) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}

	s := NewScheduler(warmer, allFeeds, 30, newTestLogger(&bytes.Buffer{}), 2)
	if n := s.RunOnce(context.Background()); n != len(allFeeds) {
		t.Errorf("RunOnce() = %d, want %d", n, len(allFeeds))
	}
	if got := atomic.LoadInt32(&maxConcurrent); got > 2 {
		t.Errorf("最大同時実行数 = %d, 2以下であるべき", got)
	}
}

func TestScheduler_RunOnce_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	warmer := &mockWarmer{}
	s := NewScheduler(warmer, allFeeds, 30, newTestLogger(&bytes.Buffer{}), 1)
	if n := s.RunOnce(ctx); n != 0 {
		t.Errorf("RunOnce() = %d, want 0", n)
	}
	if len(warmer.refreshedFeeds()) != 0 {
		t.Error("cancelled context should not refresh feeds")
	}
}

func TestScheduler_RunOnce_LogsCycle(t *testing.T) {
	var buf bytes.Buffer
	s := NewScheduler(&mockWarmer{}, []model.FeedType{model.FeedTop}, 30, newTestLogger(&buf), 1)
	s.RunOnce(context.Background())

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["msg"] == "事前取得サイクルが完了しました" {
			found = true
			if entry["feed_count"] != float64(1) {
				t.Errorf("feed_count = %v, want 1", entry["feed_count"])
			}
		}
	}
	if !found {
		t.Errorf("cycle completion should be logged, got %s", buf.String())
	}
}

func TestScheduler_Start_RunsImmediatelyAndStops(t *testing.T) {
	ran := make(chan struct{}, 10)
	warmer := &mockWarmer{
		getStoriesFunc: func(ctx context.Context, ft model.FeedType, forceRefresh bool, limit int) []*model.Story {
			ran <- struct{}{}
			return nil
		},
	}
	s := NewScheduler(warmer, []model.FeedType{model.FeedTop}, 30, newTestLogger(&bytes.Buffer{}), 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("Start should run a cycle immediately")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start should return after context cancellation")
	}
}
