package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/hnreader/internal/model"
)

// キャッシュバックエンドの種別。
const (
	CacheBackendMemory   = "memory"
	CacheBackendRedis    = "redis"
	CacheBackendPostgres = "postgres"
)

// サムネイル解決モード。
const (
	ThumbnailModeSync       = "sync"
	ThumbnailModeBackground = "background"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort        string
	CORSAllowedOrigin string
	RateLimitGeneral  int // req/min/IP

	// Logging
	LogLevel string

	// Upstream (Hacker News API)
	HNAPIBaseURL      string
	HNFetchTimeout    time.Duration
	StoryBatchSize    int
	DefaultStoryLimit int
	LoadMoreDefault   int
	MaxStoryLimit     int
	CommentMaxDepth   int

	// Cache
	CacheBackend   string
	FeedCacheTTL   time.Duration
	StoryCacheTTL  time.Duration
	RedisURL       string
	CacheKeyPrefix string
	DatabaseURL    string

	// Thumbnail
	ThumbnailEndpoint          string
	ThumbnailMode              string
	ThumbnailConcurrency       int
	ThumbnailTimeout           time.Duration
	ThumbnailRatePerSec        float64
	ThumbnailOpenGraphFallback bool
	ThumbnailPlaceholderURL    string

	// Speech
	SpeechEndpoint string
	SpeechVoiceID  string
	SpeechModelID  string
	SpeechMaxChars int

	// Worker
	WarmInterval    time.Duration
	WarmFeeds       []model.FeedType
	CleanupInterval time.Duration
}

// Load は環境変数からConfigを読み込む。
// キャッシュバックエンドの設定が不正な場合はエラーを返し、起動を中止させる。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.HNAPIBaseURL = getEnvString("HN_API_BASE_URL", "https://hacker-news.firebaseio.com/v0/")
	cfg.HNFetchTimeout = getEnvDuration("HN_FETCH_TIMEOUT", 10*time.Second)
	cfg.StoryBatchSize = getEnvInt("STORY_BATCH_SIZE", 10)
	cfg.DefaultStoryLimit = getEnvInt("DEFAULT_STORY_LIMIT", 25)
	cfg.LoadMoreDefault = getEnvInt("LOAD_MORE_DEFAULT", 10)
	cfg.MaxStoryLimit = getEnvInt("MAX_STORY_LIMIT", 500)
	cfg.CommentMaxDepth = getEnvInt("COMMENT_MAX_DEPTH", 5)

	cfg.CacheBackend = strings.ToLower(getEnvString("CACHE_BACKEND", CacheBackendMemory))
	cfg.FeedCacheTTL = getEnvDuration("FEED_CACHE_TTL", 10*time.Minute)
	cfg.StoryCacheTTL = getEnvDuration("STORY_CACHE_TTL", 60*time.Minute)
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.CacheKeyPrefix = os.Getenv("CACHE_KEY_PREFIX")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.ThumbnailEndpoint = getEnvString("THUMBNAIL_ENDPOINT", "https://api.microlink.io")
	cfg.ThumbnailMode = strings.ToLower(getEnvString("THUMBNAIL_MODE", ThumbnailModeSync))
	cfg.ThumbnailConcurrency = getEnvInt("THUMBNAIL_CONCURRENCY", 5)
	cfg.ThumbnailTimeout = getEnvDuration("THUMBNAIL_TIMEOUT", 10*time.Second)
	cfg.ThumbnailRatePerSec = getEnvFloat("THUMBNAIL_RATE_PER_SEC", 5)
	cfg.ThumbnailOpenGraphFallback = getEnvBool("THUMBNAIL_OPENGRAPH_FALLBACK", false)
	cfg.ThumbnailPlaceholderURL = getEnvString("THUMBNAIL_PLACEHOLDER_URL", model.DefaultThumbnailPlaceholder)

	cfg.SpeechEndpoint = getEnvString("SPEECH_ENDPOINT", "https://api.elevenlabs.io/v1/text-to-speech/")
	cfg.SpeechVoiceID = getEnvString("SPEECH_VOICE_ID", "EXAVITQu4vr4xnSDxMaL")
	cfg.SpeechModelID = getEnvString("SPEECH_MODEL_ID", "eleven_flash_v2_5")
	cfg.SpeechMaxChars = getEnvInt("SPEECH_MAX_CHARS", 5000)

	cfg.WarmInterval = getEnvDuration("WARM_INTERVAL", 0)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は起動を中止すべき設定不備を検出する。
func (c *Config) validate() error {
	var missing []string

	switch c.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	case CacheBackendPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return fmt.Errorf("unsupported CACHE_BACKEND: %q (allowed: memory, redis, postgres)", c.CacheBackend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch c.ThumbnailMode {
	case ThumbnailModeSync, ThumbnailModeBackground:
	default:
		return fmt.Errorf("unsupported THUMBNAIL_MODE: %q (allowed: sync, background)", c.ThumbnailMode)
	}

	if c.FeedCacheTTL <= 0 || c.StoryCacheTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive: feed=%s story=%s", c.FeedCacheTTL, c.StoryCacheTTL)
	}

	feeds, err := parseFeedTypes(getEnvString("WARM_FEEDS", "top,newest,best,ask,show"))
	if err != nil {
		return err
	}
	c.WarmFeeds = feeds

	return nil
}

// parseFeedTypes はカンマ区切りのフィード種別一覧をパースする。
func parseFeedTypes(v string) ([]model.FeedType, error) {
	var feeds []model.FeedType
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ft, err := model.ParseFeedType(part)
		if err != nil {
			return nil, fmt.Errorf("invalid WARM_FEEDS entry: %w", err)
		}
		feeds = append(feeds, ft)
	}
	return feeds, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
