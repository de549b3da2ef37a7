package thumbnail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/hnreader/internal/metrics"
	"github.com/hitoshi/hnreader/internal/model"
)

const (
	defaultConcurrency = 5
	defaultTimeout     = 10 * time.Second
)

// Resolver はストーリーのサムネイルURLを決定する。
// 解決に失敗した場合は番兵値を返すため、実行後にThumbnailURLが空のまま残ることはない。
type Resolver struct {
	primary     ImageFinder
	fallback    ImageFinder
	placeholder string
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
}

// ResolverOption はResolverの任意設定。
type ResolverOption func(*Resolver)

// WithFallback は一次ソースで画像が見つからなかった場合のフォールバックを設定する。
func WithFallback(f ImageFinder) ResolverOption {
	return func(r *Resolver) { r.fallback = f }
}

// WithPlaceholder は番兵値を上書きする。
func WithPlaceholder(url string) ResolverOption {
	return func(r *Resolver) {
		if url != "" {
			r.placeholder = url
		}
	}
}

// WithTimeout は1件あたりの解決タイムアウトを設定する。
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithConcurrency はResolveAllの並列数を設定する。
func WithConcurrency(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewResolver はResolverの新しいインスタンスを生成する。
func NewResolver(primary ImageFinder, logger *slog.Logger, collector metrics.MetricsCollector, opts ...ResolverOption) *Resolver {
	if collector == nil {
		collector = metrics.Nop{}
	}
	r := &Resolver{
		primary:     primary,
		placeholder: model.DefaultThumbnailPlaceholder,
		timeout:     defaultTimeout,
		concurrency: defaultConcurrency,
		logger:      logger,
		metrics:     collector,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Placeholder は番兵値を返す。
func (r *Resolver) Placeholder() string {
	return r.placeholder
}

// Resolve はpageURLに対応するサムネイルURLを返す。戻り値は常に空でない。
// pageURLが空の場合はネットワーク呼び出しを行わずに番兵値を返す。
func (r *Resolver) Resolve(ctx context.Context, pageURL string) string {
	if pageURL == "" {
		r.metrics.RecordThumbnail(metrics.ThumbnailPlaceholder)
		return r.placeholder
	}

	if image := r.find(ctx, r.primary, pageURL); image != "" {
		r.metrics.RecordThumbnail(metrics.ThumbnailResolved)
		return image
	}

	if r.fallback != nil {
		if image := r.find(ctx, r.fallback, pageURL); image != "" {
			r.metrics.RecordThumbnail(metrics.ThumbnailOpenGraph)
			return image
		}
	}

	r.metrics.RecordThumbnail(metrics.ThumbnailPlaceholder)
	return r.placeholder
}

func (r *Resolver) find(ctx context.Context, finder ImageFinder, pageURL string) string {
	if finder == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	image, err := finder.FindImage(ctx, pageURL)
	if err != nil {
		r.logger.Debug("サムネイルの解決に失敗しました",
			slog.String("url", pageURL),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return image
}

// ResolveAll はThumbnailURLが未解決のストーリーを並列に解決する。
// 解決済みのストーリーには触れない。戻り値は新たに解決した件数。
func (r *Resolver) ResolveAll(ctx context.Context, stories []*model.Story) int {
	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	resolved := 0

	for _, s := range stories {
		if s == nil || s.HasThumbnail() {
			continue
		}
		resolved++
		wg.Add(1)
		sem <- struct{}{}

		go func(st *model.Story) {
			defer wg.Done()
			defer func() { <-sem }()
			st.ThumbnailURL = r.Resolve(ctx, st.URL)
		}(s)
	}

	wg.Wait()
	return resolved
}
