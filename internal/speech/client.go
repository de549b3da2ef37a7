// Package speech はストーリー本文の音声合成クライアントを提供する。
// 本文テキストと認証情報の両方が揃うまでプロバイダーを呼び出さない。
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultEndpoint はElevenLabsの音声合成エンドポイント（末尾に音声IDを付与する）。
	DefaultEndpoint = "https://api.elevenlabs.io/v1/text-to-speech/"
	// DefaultVoiceID はデフォルトの音声ID。
	DefaultVoiceID = "EXAVITQu4vr4xnSDxMaL"
	// DefaultModelID はデフォルトの合成モデル。
	DefaultModelID = "eleven_flash_v2_5"

	maxAudioSize    = 20 << 20
	maxErrorBodyLen = 512
)

var (
	// ErrTextRequired は合成するテキストが空であることを示す。
	ErrTextRequired = errors.New("音声合成するテキストがありません")
	// ErrCredentialRequired はAPIキーが指定されていないことを示す。
	ErrCredentialRequired = errors.New("音声合成のAPIキーが必要です")
	// ErrUnauthorized はAPIキーが無効、またはクレジット不足であることを示す。
	ErrUnauthorized = errors.New("音声合成のAPIキーが無効か、クレジットが不足しています")
)

// ProviderError はプロバイダーが認証エラー以外の失敗ステータスを返したことを示す。
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("音声合成プロバイダーがステータス %d を返しました: %s", e.StatusCode, e.Body)
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Client は音声合成APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	voiceID    string
	modelID    string
}

// NewClient はClientの新しいインスタンスを生成する。空の値にはデフォルトを使用する。
func NewClient(httpClient *http.Client, endpoint, voiceID, modelID string, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	if modelID == "" {
		modelID = DefaultModelID
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		voiceID:    voiceID,
		modelID:    modelID,
	}
}

// Synthesize はtextを音声（audio/mpeg）に変換する。
// textまたはapiKeyが空の場合はネットワーク呼び出しを行わずにエラーを返す。
func (c *Client) Synthesize(ctx context.Context, text, apiKey string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrTextRequired
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrCredentialRequired
	}

	payload, err := json.Marshal(synthesizeRequest{
		Text:          text,
		ModelID:       c.modelID,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.5},
	})
	if err != nil {
		return nil, fmt.Errorf("リクエストのシリアライズに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+c.voiceID, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("音声合成プロバイダーの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioSize))
	if err != nil {
		return nil, fmt.Errorf("音声データの読み取りに失敗しました: %w", err)
	}

	c.logger.Info("音声合成が完了しました",
		slog.Int("text_length", len([]rune(text))),
		slog.Int("audio_bytes", len(audio)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return audio, nil
}
