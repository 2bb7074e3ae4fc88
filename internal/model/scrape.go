// Package model はドメインモデルを定義する。
package model

// ScrapedTeam は外部プラットフォームから取得したチームを表す。
// 同期1回分の中間データであり永続化しない。MembersはAPIレスポンスの
// 出現順を保持する（下流のタイブレークが順序に依存する）。
type ScrapedTeam struct {
	ExternalTeamID string
	TeamName       string
	Members        []ScrapedMember
}

// ScrapedMember はロースター上のメンバー1名を表す。
type ScrapedMember struct {
	DisplayName      string
	ExternalMemberID string // Matcherino側のユーザーID。欠落しうる
	GameUsername     string
	Captain          bool
}
