// Package reconcile はスクレイプ結果と内部登録の突合を行う。
// 外部ID一致・正規化名の完全一致・編集距離ベースの曖昧一致の3段階で
// マッチングし、ストレージに触れない純粋な同期計画を算出する。
package reconcile

import "strings"

// NormalizeName は表示名を比較用に正規化する。
// 小文字化し、前後と連続する空白を単一スペースへ畳み込む。
// Unicode正規化は行わない（外部サイト側も行っていないため、
// 行うと一致判定の意味が変わる）。
func NormalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// BaseName はMatcherinoユーザー名「表示名#ID」からタグ部分を除いた
// 表示名を返す。タグがない場合は入力をそのまま返す。
func BaseName(s string) string {
	before, _, _ := strings.Cut(s, "#")
	return strings.TrimSpace(before)
}

// FormatUsername は表示名と外部IDから「表示名#ID」形式の
// Matcherinoユーザー名を組み立てる。IDが空の場合は表示名のみ返す。
func FormatUsername(displayName, externalID string) string {
	if externalID == "" {
		return displayName
	}
	return displayName + "#" + externalID
}
