package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/hnreader/internal/model"
)

type storyEntry struct {
	story     *model.Story
	fetchedAt time.Time
}

type listEntry struct {
	ids       []int64
	fetchedAt time.Time
}

// MemoryStore はプロセス内メモリのStore実装。
// 格納時と取得時にコピーを作るため、呼び出し元がキャッシュ内のストーリーを共有することはない。
type MemoryStore struct {
	opts Options

	mu      sync.RWMutex
	stories map[int64]storyEntry
	lists   map[model.FeedType]listEntry
	members map[model.FeedType]map[int64]struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore はMemoryStoreの新しいインスタンスを生成する。
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		stories: make(map[int64]storyEntry),
		lists:   make(map[model.FeedType]listEntry),
		members: make(map[model.FeedType]map[int64]struct{}),
	}
}

// lookup はロック取得済みの状態で期限内のエントリを返す。
func (m *MemoryStore) lookup(id int64, now time.Time) (*model.Story, bool) {
	e, ok := m.stories[id]
	if !ok || !fresh(now, e.fetchedAt, m.opts.StoryTTL) {
		return nil, false
	}
	return e.story, true
}

func (m *MemoryStore) Get(_ context.Context, id int64) (*model.Story, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.lookup(id, m.opts.Now())
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *MemoryStore) GetMany(_ context.Context, ids []int64) (map[int64]*model.Story, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.opts.Now()
	found := make(map[int64]*model.Story, len(ids))
	for _, id := range ids {
		if s, ok := m.lookup(id, now); ok {
			found[id] = s.Clone()
		}
	}
	return found, nil
}

func (m *MemoryStore) Put(_ context.Context, story *model.Story, feedType model.FeedType) error {
	if err := validateAll([]*model.Story{story}); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stories[story.ID] = storyEntry{story: story.Clone(), fetchedAt: m.opts.Now()}
	m.addMember(feedType, story.ID)
	return nil
}

func (m *MemoryStore) PutMany(_ context.Context, stories []*model.Story, feedType model.FeedType) error {
	if err := validateAll(stories); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()
	m.sweep(now)

	for _, s := range stories {
		m.stories[s.ID] = storyEntry{story: s.Clone(), fetchedAt: now}
	}
	m.members[feedType] = make(map[int64]struct{}, len(stories))
	for _, s := range stories {
		m.addMember(feedType, s.ID)
	}
	m.lists[feedType] = listEntry{ids: idsOf(stories), fetchedAt: now}
	return nil
}

func (m *MemoryStore) addMember(feedType model.FeedType, id int64) {
	set, ok := m.members[feedType]
	if !ok {
		set = make(map[int64]struct{})
		m.members[feedType] = set
	}
	set[id] = struct{}{}
}

// sweep は保持期間を過ぎたエントリを削除する。ロック取得済みで呼び出すこと。
func (m *MemoryStore) sweep(now time.Time) {
	for id, e := range m.stories {
		if !fresh(now, e.fetchedAt, m.opts.StoryTTL) {
			delete(m.stories, id)
			for _, set := range m.members {
				delete(set, id)
			}
		}
	}
	for ft, l := range m.lists {
		if !fresh(now, l.fetchedAt, m.opts.StoryTTL) {
			delete(m.lists, ft)
		}
	}
}

func (m *MemoryStore) ListByType(_ context.Context, feedType model.FeedType) ([]*model.Story, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.opts.Now()
	l, ok := m.lists[feedType]
	if !ok || !fresh(now, l.fetchedAt, m.opts.StoryTTL) {
		return []*model.Story{}, nil
	}

	stories := make([]*model.Story, 0, len(l.ids))
	for _, id := range l.ids {
		if s, ok := m.lookup(id, now); ok {
			stories = append(stories, s.Clone())
		}
	}
	return stories, nil
}

func (m *MemoryStore) IsFresh(_ context.Context, feedType model.FeedType) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.lists[feedType]
	return ok && fresh(m.opts.Now(), l.fetchedAt, m.opts.FeedTTL), nil
}

func (m *MemoryStore) UpdateThumbnail(_ context.Context, id int64, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.lookup(id, m.opts.Now()); ok {
		s.ThumbnailURL = url
	}
	return nil
}

func (m *MemoryStore) Invalidate(_ context.Context, feedType model.FeedType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.lists, feedType)
	delete(m.members, feedType)
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stories = make(map[int64]storyEntry)
	m.lists = make(map[model.FeedType]listEntry)
	m.members = make(map[model.FeedType]map[int64]struct{})
	return nil
}

func (m *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.opts.Now()
	stats := &Stats{Backend: "memory"}
	for _, e := range m.stories {
		if fresh(now, e.fetchedAt, m.opts.StoryTTL) {
			stats.Stories++
		}
	}

	for _, ft := range model.AllFeedTypes() {
		fs := FeedStats{FeedType: ft, Members: len(m.members[ft])}
		if l, ok := m.lists[ft]; ok && fresh(now, l.fetchedAt, m.opts.StoryTTL) {
			fetchedAt := l.fetchedAt
			fs.Cached = true
			fs.ListSize = len(l.ids)
			fs.Fresh = fresh(now, l.fetchedAt, m.opts.FeedTTL)
			fs.FetchedAt = &fetchedAt
		}
		stats.Feeds = append(stats.Feeds, fs)
	}
	return stats, nil
}

func (m *MemoryStore) Close() error { return nil }
