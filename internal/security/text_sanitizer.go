// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はWebhookで受け取る購入者提供の文字列
// （ユーザー名、メールアドレスなど）をDMに埋め込む前にサニタイズする。
// bluemondayのStrictPolicyで全マークアップを除去し、メッセージへの
// タグ注入を防ぐ。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はテキストサニタイズ機能のインターフェースを定義する。
// 通知メッセージの組み立て時に使用される。
type TextSanitizerService interface {
	// Sanitize は入力文字列から全HTMLタグとマークアップを除去し、
	// 前後の空白をトリムして返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicy（全タグ除去）を使用する。表示用文字列に
// マークアップが残る正当なケースは存在しない。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力文字列から全マークアップを除去して返す。
func (s *textSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
