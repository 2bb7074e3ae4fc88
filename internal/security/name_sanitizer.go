// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizerService は外部由来の表示名・チーム名のサニタイズ機能の
// インターフェースを定義する。スクレイプ結果の保存前およびボットへの
// 応答に含める前に使用される。
type NameSanitizerService interface {
	// Sanitize は名前文字列からHTMLタグを全て除去し、実体参照を復元して
	// 前後と連続する空白を畳み込んだ文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// nameSanitizer はNameSanitizerServiceの実装。
// bluemondayのStrictPolicy（全タグ除去）を保持し、スレッドセーフに動作する。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerServiceの新しいインスタンスを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は名前文字列をサニタイズする。
// StrictPolicyはタグを除去した残りをエスケープするため、
// html.UnescapeStringで元のテキストに戻してから空白を正規化する。
func (s *nameSanitizer) Sanitize(raw string) string {
	stripped := s.policy.Sanitize(raw)
	unescaped := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(unescaped), " ")
}
