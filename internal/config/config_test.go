package config

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/hnreader/internal/model"
)

// clearEnv はテスト環境に残った設定値の影響を排除する。
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CACHE_BACKEND", "REDIS_URL", "DATABASE_URL", "THUMBNAIL_MODE",
		"FEED_CACHE_TTL", "STORY_CACHE_TTL", "WARM_FEEDS", "SERVER_PORT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
	if cfg.CacheBackend != CacheBackendMemory {
		t.Errorf("CacheBackend = %q, want %q", cfg.CacheBackend, CacheBackendMemory)
	}
	if cfg.FeedCacheTTL != 10*time.Minute {
		t.Errorf("FeedCacheTTL = %v, want %v", cfg.FeedCacheTTL, 10*time.Minute)
	}
	if cfg.StoryCacheTTL != 60*time.Minute {
		t.Errorf("StoryCacheTTL = %v, want %v", cfg.StoryCacheTTL, 60*time.Minute)
	}
	if cfg.StoryBatchSize != 10 {
		t.Errorf("StoryBatchSize = %d, want 10", cfg.StoryBatchSize)
	}
	if cfg.DefaultStoryLimit != 25 {
		t.Errorf("DefaultStoryLimit = %d, want 25", cfg.DefaultStoryLimit)
	}
	if cfg.LoadMoreDefault != 10 {
		t.Errorf("LoadMoreDefault = %d, want 10", cfg.LoadMoreDefault)
	}
	if cfg.ThumbnailMode != ThumbnailModeSync {
		t.Errorf("ThumbnailMode = %q, want %q", cfg.ThumbnailMode, ThumbnailModeSync)
	}
	if cfg.ThumbnailConcurrency != 5 {
		t.Errorf("ThumbnailConcurrency = %d, want 5", cfg.ThumbnailConcurrency)
	}
	if cfg.ThumbnailPlaceholderURL != model.DefaultThumbnailPlaceholder {
		t.Errorf("ThumbnailPlaceholderURL = %q", cfg.ThumbnailPlaceholderURL)
	}
	if cfg.SpeechVoiceID != "EXAVITQu4vr4xnSDxMaL" {
		t.Errorf("SpeechVoiceID = %q", cfg.SpeechVoiceID)
	}
	if cfg.SpeechModelID != "eleven_flash_v2_5" {
		t.Errorf("SpeechModelID = %q", cfg.SpeechModelID)
	}
	if cfg.WarmInterval != 0 {
		t.Errorf("WarmInterval = %v, want 0", cfg.WarmInterval)
	}
	if len(cfg.WarmFeeds) != 5 {
		t.Errorf("WarmFeeds length = %d, want 5", len(cfg.WarmFeeds))
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("FEED_CACHE_TTL", "2m")
	t.Setenv("STORY_BATCH_SIZE", "4")
	t.Setenv("THUMBNAIL_MODE", "Background")
	t.Setenv("THUMBNAIL_OPENGRAPH_FALLBACK", "true")
	t.Setenv("THUMBNAIL_RATE_PER_SEC", "0.5")
	t.Setenv("WARM_FEEDS", "top, best")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "9090")
	}
	if cfg.FeedCacheTTL != 2*time.Minute {
		t.Errorf("FeedCacheTTL = %v, want 2m", cfg.FeedCacheTTL)
	}
	if cfg.StoryBatchSize != 4 {
		t.Errorf("StoryBatchSize = %d, want 4", cfg.StoryBatchSize)
	}
	if cfg.ThumbnailMode != ThumbnailModeBackground {
		t.Errorf("ThumbnailMode = %q, want %q", cfg.ThumbnailMode, ThumbnailModeBackground)
	}
	if !cfg.ThumbnailOpenGraphFallback {
		t.Error("ThumbnailOpenGraphFallback should be true")
	}
	if cfg.ThumbnailRatePerSec != 0.5 {
		t.Errorf("ThumbnailRatePerSec = %v, want 0.5", cfg.ThumbnailRatePerSec)
	}
	if len(cfg.WarmFeeds) != 2 || cfg.WarmFeeds[0] != model.FeedTop || cfg.WarmFeeds[1] != model.FeedBest {
		t.Errorf("WarmFeeds = %v, want [top best]", cfg.WarmFeeds)
	}
}

func TestLoad_InvalidNumber_FallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORY_BATCH_SIZE", "ten")
	t.Setenv("HN_FETCH_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.StoryBatchSize != 10 {
		t.Errorf("StoryBatchSize = %d, want 10", cfg.StoryBatchSize)
	}
	if cfg.HNFetchTimeout != 10*time.Second {
		t.Errorf("HNFetchTimeout = %v, want 10s", cfg.HNFetchTimeout)
	}
}

func TestLoad_UnknownBackend_ReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_BACKEND", "memcached")

	cfg, err := Load()
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
	if !strings.Contains(err.Error(), "CACHE_BACKEND") {
		t.Errorf("error should mention CACHE_BACKEND: %v", err)
	}
}

func TestLoad_RedisBackendWithoutURL_ReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_BACKEND", "redis")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when REDIS_URL is missing")
	}
	if !strings.Contains(err.Error(), "REDIS_URL") {
		t.Errorf("error should mention REDIS_URL: %v", err)
	}
}

func TestLoad_PostgresBackendWithoutURL_ReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_BACKEND", "postgres")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error should mention DATABASE_URL: %v", err)
	}
}

func TestLoad_RedisBackendWithURL_Succeeds(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
}

func TestLoad_UnknownThumbnailMode_ReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("THUMBNAIL_MODE", "lazy")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown THUMBNAIL_MODE")
	}
}

func TestLoad_NonPositiveTTL_ReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEED_CACHE_TTL", "-1m")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative TTL")
	}
}

func TestLoad_InvalidWarmFeeds_ReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("WARM_FEEDS", "top,jobs")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown feed in WARM_FEEDS")
	}
}
