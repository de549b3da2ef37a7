package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// クライアントに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, story, speech, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidFeedType          = "INVALID_FEED_TYPE"
	ErrCodeInvalidParameter         = "INVALID_PARAMETER"
	ErrCodeStoryNotFound            = "STORY_NOT_FOUND"
	ErrCodeSpeechTextUnavailable    = "SPEECH_TEXT_UNAVAILABLE"
	ErrCodeSpeechCredentialRequired = "SPEECH_CREDENTIAL_REQUIRED"
	ErrCodeSpeechUnauthorized       = "SPEECH_UNAUTHORIZED"
	ErrCodeSpeechFailed             = "SPEECH_FAILED"
	ErrCodeCacheUnavailable         = "CACHE_UNAVAILABLE"
)

// NewInvalidFeedTypeError は未知のフィード種別エラーを生成する。
func NewInvalidFeedTypeError(feedType string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFeedType,
		Message:  fmt.Sprintf("無効なフィード種別です: %s", feedType),
		Category: "validation",
		Action:   "フィード種別には top、newest、best、ask、show のいずれかを指定してください。",
	}
}

// NewInvalidParameterError はクエリパラメータ不正エラーを生成する。
func NewInvalidParameterError(name, value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidParameter,
		Message:  fmt.Sprintf("パラメータ %s の値が不正です: %s", name, value),
		Category: "validation",
		Action:   "0以上の整数を指定してください。",
	}
}

// NewStoryNotFoundError はストーリー未検出エラーを生成する。
func NewStoryNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeStoryNotFound,
		Message:  fmt.Sprintf("指定されたストーリーが見つかりません: %d", id),
		Category: "story",
		Action:   "ストーリーIDを確認してください。削除された可能性があります。",
	}
}

// NewSpeechTextUnavailableError は読み上げ対象の本文がない場合のエラーを生成する。
func NewSpeechTextUnavailableError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeSpeechTextUnavailable,
		Message:  fmt.Sprintf("ストーリーに読み上げ可能な本文がありません: %d", id),
		Category: "speech",
		Action:   "本文のあるストーリー（Ask HNなど）を選択してください。",
	}
}

// NewSpeechCredentialRequiredError は音声合成APIキー未指定エラーを生成する。
func NewSpeechCredentialRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSpeechCredentialRequired,
		Message:  "音声合成APIキーが指定されていません。",
		Category: "speech",
		Action:   "X-Speech-Api-Key ヘッダーにAPIキーを指定してください。",
	}
}

// NewSpeechUnauthorizedError は音声合成APIキーが拒否された場合のエラーを生成する。
func NewSpeechUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeSpeechUnauthorized,
		Message:  "音声合成APIキーが無効です。",
		Category: "speech",
		Action:   "APIキーを確認して再度お試しください。",
	}
}

// NewSpeechFailedError は音声合成プロバイダーの失敗エラーを生成する。
func NewSpeechFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSpeechFailed,
		Message:  "音声の生成に失敗しました。",
		Category: "speech",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCacheUnavailableError はキャッシュバックエンド障害エラーを生成する。
func NewCacheUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeCacheUnavailable,
		Message:  "キャッシュバックエンドに接続できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
