package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hitoshi/hnreader/internal/config"
	"github.com/hitoshi/hnreader/internal/database"
	"github.com/hitoshi/hnreader/internal/handler"
	"github.com/hitoshi/hnreader/internal/logger"
	"github.com/hitoshi/hnreader/internal/metrics"
	"github.com/hitoshi/hnreader/internal/middleware"
	"github.com/hitoshi/hnreader/internal/worker/cleanup"
	"github.com/hitoshi/hnreader/internal/worker/warm"
)

const defaultWorkerWarmInterval = 5 * time.Minute

// Init はアプリケーションの初期化を行う。
// .envファイルがあれば読み込み、環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（存在しない場合は無視。既存の環境変数は上書きしない）
	_ = godotenv.Load()

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	if cmd == CommandHelp {
		PrintUsage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("cache_backend", cfg.CacheBackend),
		slog.String("thumbnail_mode", cfg.ThumbnailMode),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	comps, err := buildComponents(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer comps.close()

	rateLimiter := middleware.NewRateLimiter(
		middleware.DefaultRateLimiterConfig(cfg.RateLimitGeneral), slog.Default(),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     cachePinger{store: comps.store},
		MetricsHandler:    metrics.Handler(comps.registry),
		StoryService:      comps.stories,
		CacheService:      comps.stories,
		Sanitizer:         comps.sanitizer,
		Speech:            newSpeechClient(cfg, slog.Default()),
		SpeechMaxChars:    cfg.SpeechMaxChars,
	})

	// バックグラウンド処理（サムネイル解決、事前取得）
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	var bg sync.WaitGroup
	if comps.enricher != nil {
		bg.Add(1)
		go func() {
			defer bg.Done()
			comps.enricher.Start(bgCtx)
		}()
	}
	if cfg.WarmInterval > 0 {
		scheduler := warm.NewScheduler(comps.stories, cfg.WarmFeeds, cfg.DefaultStoryLimit, slog.Default(), 0)
		bg.Add(1)
		go func() {
			defer bg.Done()
			scheduler.Start(bgCtx, cfg.WarmInterval)
		}()
	}
	defer func() {
		cancelBackground()
		bg.Wait()
	}()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: speechTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 共有キャッシュに対してフィードの事前取得を行い、
// postgresバックエンドの場合は期限切れ行のクリーンアップも実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.CacheBackend == config.CacheBackendMemory {
		return errMemoryBackendWorker
	}

	ctx, stop := signalContext()
	defer stop()

	comps, err := buildComponents(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer comps.close()

	interval := cfg.WarmInterval
	if interval <= 0 {
		interval = defaultWorkerWarmInterval
	}

	slog.Info("worker starting",
		slog.Duration("warm_interval", interval),
		slog.Int("warm_feeds", len(cfg.WarmFeeds)),
	)

	var wg sync.WaitGroup

	if comps.enricher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			comps.enricher.Start(ctx)
		}()
	}

	// 期限切れ行のクリーンアップをバックグラウンド実行
	if comps.db != nil {
		job := cleanup.NewCleanupJob(comps.db, slog.Default())
		wg.Add(1)
		go func() {
			defer wg.Done()
			job.Start(ctx, cfg.CleanupInterval)
		}()
	}

	// 事前取得スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler := warm.NewScheduler(comps.stories, cfg.WarmFeeds, cfg.DefaultStoryLimit, slog.Default(), 0)
	scheduler.Start(ctx, interval)

	wg.Wait()
	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はキャッシュ用テーブルのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
