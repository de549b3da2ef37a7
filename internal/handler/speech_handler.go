package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/hnreader/internal/middleware"
	"github.com/hitoshi/hnreader/internal/model"
	"github.com/hitoshi/hnreader/internal/speech"
)

// SpeechAPIKeyHeader は音声合成APIキーを受け取るリクエストヘッダー。
// キーはリクエストごとに受け取り、サーバーには保存しない。
const SpeechAPIKeyHeader = "X-Speech-Api-Key"

// SpeechSynthesizer は音声合成のインターフェース。
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, apiKey string) ([]byte, error)
}

// StoryGetter はストーリー1件を取得するインターフェース。
type StoryGetter interface {
	GetStory(ctx context.Context, id int64) *model.Story
}

// SpeechHandler はストーリー読み上げのHTTPハンドラー。
type SpeechHandler struct {
	stories   StoryGetter
	synth     SpeechSynthesizer
	extractor speech.TextExtractor
	maxChars  int
	logger    *slog.Logger
}

// NewSpeechHandler はSpeechHandlerを生成する。
func NewSpeechHandler(stories StoryGetter, synth SpeechSynthesizer, extractor speech.TextExtractor, maxChars int, logger *slog.Logger) *SpeechHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpeechHandler{
		stories:   stories,
		synth:     synth,
		extractor: extractor,
		maxChars:  maxChars,
		logger:    logger,
	}
}

// Synthesize はストーリー本文の音声（audio/mpeg）を返す。
// 本文と認証情報の両方が揃うまでプロバイダーを呼び出さない。
// POST /api/stories/{id}/speech
func (h *SpeechHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	id, apiErr := storyIDParam(r)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	apiKey := strings.TrimSpace(r.Header.Get(SpeechAPIKeyHeader))
	if apiKey == "" {
		middleware.WriteAPIError(w, model.NewSpeechCredentialRequiredError())
		return
	}

	st := h.stories.GetStory(r.Context(), id)
	if st == nil {
		middleware.WriteAPIError(w, model.NewStoryNotFoundError(id))
		return
	}
	if strings.TrimSpace(h.extractor.PlainText(st.BodyHTML)) == "" {
		middleware.WriteAPIError(w, model.NewSpeechTextUnavailableError(id))
		return
	}

	audio, err := h.synth.Synthesize(r.Context(), speech.StoryText(st, h.extractor, h.maxChars), apiKey)
	if err != nil {
		h.writeSpeechError(w, r, id, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

func (h *SpeechHandler) writeSpeechError(w http.ResponseWriter, r *http.Request, id int64, err error) {
	attrs := []any{
		slog.Int64("story_id", id),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	}

	switch {
	case errors.Is(err, speech.ErrTextRequired):
		middleware.WriteAPIError(w, model.NewSpeechTextUnavailableError(id))
	case errors.Is(err, speech.ErrCredentialRequired):
		middleware.WriteAPIError(w, model.NewSpeechCredentialRequiredError())
	case errors.Is(err, speech.ErrUnauthorized):
		h.logger.Warn("音声合成APIキーが拒否されました", attrs...)
		middleware.WriteAPIError(w, model.NewSpeechUnauthorizedError())
	default:
		h.logger.Error("音声合成に失敗しました", attrs...)
		middleware.WriteAPIError(w, model.NewSpeechFailedError())
	}
}
