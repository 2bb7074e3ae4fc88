// Package model はドメインモデルを定義する。
package model

// ActionType は同期アクションの種別を表す。
type ActionType string

const (
	// ActionLink は未所属の登録へのチーム割り当て。
	ActionLink ActionType = "link"
	// ActionRelink は所属チームの付け替え。
	ActionRelink ActionType = "relink"
	// ActionUnlink はロースターから消えた登録のチーム解除。
	ActionUnlink ActionType = "unlink"
	// ActionUnmatched はどの登録にも紐付けられなかったメンバー。
	// ストレージを変更せず、レポートで運用者に提示するのみ。
	ActionUnmatched ActionType = "unmatched"
)

// MatchCandidate はスクレイプ済みメンバーと登録候補の組を表す。
// 曖昧マッチの人手レビュー用にUnmatchedアクションへ添付される。永続化しない。
type MatchCandidate struct {
	UserID      int64
	DisplayName string
	Score       float64
}

// SyncAction は同期計画を構成する1アクションを表す。
// Typeに応じて使用されるフィールドが異なる:
//   - Link:      UserID, TeamName, Score, ExternalMemberID
//   - Relink:    UserID, OldTeamName, TeamName, Score, ExternalMemberID
//   - Unlink:    UserID
//   - Unmatched: Member, Candidates
//
// ExternalMemberIDは突合したメンバーが外部IDを持っていた場合に設定され、
// 適用時に登録へ保存される。以後の同期では外部ID一致が最優先で効く。
type SyncAction struct {
	Type             ActionType
	UserID           int64
	TeamName         string
	OldTeamName      string
	Score            float64
	ExternalMemberID string
	Member           *ScrapedMember
	Candidates       []MatchCandidate
}

// SyncPlan はReconcilerが算出した同期計画を表す。
// 純粋なデータであり、適用前にログ出力や検査が可能。
// 不変条件: 同一user_idのアクションは計画内に最大1件。
type SyncPlan struct {
	TournamentID string
	Actions      []SyncAction
}

// Count は指定種別のアクション数を返す。
func (p *SyncPlan) Count(t ActionType) int {
	n := 0
	for _, a := range p.Actions {
		if a.Type == t {
			n++
		}
	}
	return n
}
