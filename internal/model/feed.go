// Package model はドメインモデルを定義する。
package model

// FeedType はHacker Newsのランキング種別を表す。
// 各種別は上流APIのID一覧エンドポイントに1対1で対応する。
type FeedType string

const (
	// FeedTop はトップストーリー。
	FeedTop FeedType = "top"
	// FeedNewest は新着ストーリー。
	FeedNewest FeedType = "newest"
	// FeedBest はベストストーリー。
	FeedBest FeedType = "best"
	// FeedAsk はAsk HN。
	FeedAsk FeedType = "ask"
	// FeedShow はShow HN。
	FeedShow FeedType = "show"
)

var feedEndpoints = map[FeedType]string{
	FeedTop:    "topstories",
	FeedNewest: "newstories",
	FeedBest:   "beststories",
	FeedAsk:    "askstories",
	FeedShow:   "showstories",
}

// AllFeedTypes は全フィード種別を表示順で返す。
func AllFeedTypes() []FeedType {
	return []FeedType{FeedTop, FeedNewest, FeedBest, FeedAsk, FeedShow}
}

// Valid はフィード種別が既知の値かどうかを返す。
func (f FeedType) Valid() bool {
	_, ok := feedEndpoints[f]
	return ok
}

// Endpoint は上流APIのID一覧エンドポイント名（拡張子なし）を返す。
// 未知の種別の場合は空文字列を返す。
func (f FeedType) Endpoint() string {
	return feedEndpoints[f]
}

// ParseFeedType は文字列をFeedTypeに変換する。
// 未知の値の場合は *APIError を返す。
func ParseFeedType(s string) (FeedType, error) {
	ft := FeedType(s)
	if !ft.Valid() {
		return "", NewInvalidFeedTypeError(s)
	}
	return ft, nil
}
