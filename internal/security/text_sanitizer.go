package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/onthemap/internal/model"
)

// TextSanitizer は他のユーザーが入力した自由記述を表示前に無害化するインターフェースを定義する。
type TextSanitizer interface {
	// SanitizeText は全てのHTMLタグを除去し、HTMLとして安全な文字列を返す。
	SanitizeText(s string) string

	// SanitizeLocation は位置情報の表示用フィールドを無害化したコピーを返す。
	// http/https以外の共有リンクは空にする。
	SanitizeLocation(loc model.Location) model.Location
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーは並行に使用できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
// タグを一切許可しないStrictPolicyを使う。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText は全てのHTMLタグを除去する。
func (s *textSanitizer) SanitizeText(text string) string {
	return strings.TrimSpace(s.policy.Sanitize(text))
}

// SanitizeLocation は名前・地名・共有リンクを無害化する。
// 識別子・座標・日時はそのまま残す。
func (s *textSanitizer) SanitizeLocation(loc model.Location) model.Location {
	loc.FirstName = s.SanitizeText(loc.FirstName)
	loc.LastName = s.SanitizeText(loc.LastName)
	loc.MapString = s.SanitizeText(loc.MapString)
	if !IsShareableScheme(loc.MediaURL) {
		loc.MediaURL = ""
	}
	return loc
}
