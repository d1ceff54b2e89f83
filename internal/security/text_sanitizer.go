// Package security はアプリケーションのセキュリティ機能を提供する。
//
// 管理者が入力する修正理由などの自由記述をプレーンテキストに正規化し、
// 不整合通知のWebhook送信先をSSRFから保護する。
package security

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxReasonLength は修正理由として保存する最大文字数（rune数）。
const MaxReasonLength = 500

// TextSanitizer は自由記述テキストをサニタイズするインターフェース。
type TextSanitizer interface {
	// Sanitize はHTMLタグを全て除去し、前後の空白を取り除いたテキストを返す。
	// MaxReasonLength を超える部分は切り捨てる。同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyでタグを除去する実装。
// bluemonday.Policy はスレッドセーフ。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はテキストをサニタイズする。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	clean := strings.TrimSpace(s.policy.Sanitize(raw))
	clean = strings.Join(strings.Fields(clean), " ")
	if utf8.RuneCountInString(clean) > MaxReasonLength {
		clean = string([]rune(clean)[:MaxReasonLength])
	}
	return clean
}

// compile-time interface check
var _ TextSanitizer = (*textSanitizer)(nil)
