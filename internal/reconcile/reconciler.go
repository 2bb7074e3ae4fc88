package reconcile

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/agnivade/levenshtein"

	"github.com/hitoshi/teamsync/internal/model"
)

// Policy は曖昧一致の受け入れ基準を表す。閾値はメカニズムではなく
// 運用ポリシーであり、設定から差し替え可能。
type Policy struct {
	// FuzzyThreshold は曖昧一致を受け入れる最低類似度（0〜1]。
	FuzzyThreshold float64
	// FuzzyMargin は最上位候補が2位に対して持つべき最小差。
	// 差がこの値未満の場合は曖昧とみなしUnmatchedにする。
	FuzzyMargin float64
}

// DefaultPolicy は既定のマッチングポリシーを返す。
// 閾値0.80・マージン0.05は実ロースターでの検証を前提とした初期値。
func DefaultPolicy() Policy {
	return Policy{
		FuzzyThreshold: 0.80,
		FuzzyMargin:    0.05,
	}
}

// Reconciler はスクレイプ済みロースターと登録スナップショットから
// 同期計画を算出する。ストレージには一切触れず、同一入力に対して
// バイト単位で同一の計画を返す（マップ順序や時刻に依存しない）。
type Reconciler struct {
	policy Policy
	logger *slog.Logger
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(policy Policy, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		policy: policy,
		logger: logger,
	}
}

// candidate は突合処理中の登録候補。
type candidate struct {
	reg   *model.Registration
	score float64
}

// Reconcile は同期計画を算出する。
// メンバーはペイロードの出現順に処理され、登録は1回の実行で最大1つの
// アクションにのみ現れる。スナップショットにnilやremovedの行が混入して
// いる場合はプログラマエラーとして実行全体を失敗させる。
func (r *Reconciler) Reconcile(tournamentID string, teams []model.ScrapedTeam, regs []*model.Registration) (*model.SyncPlan, error) {
	snapshot := make([]*model.Registration, len(regs))
	for i, reg := range regs {
		if reg == nil {
			return nil, fmt.Errorf("invalid snapshot: nil registration at index %d", i)
		}
		if !reg.Active() {
			return nil, fmt.Errorf("invalid snapshot: removed registration %d included", reg.UserID)
		}
		snapshot[i] = reg
	}
	// スナップショットの並びに依存しないようuser_id昇順に揃える
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].UserID < snapshot[j].UserID })

	// 外部ID・正規化ユーザー名の索引を構築する
	byExternalID := make(map[string]*model.Registration)
	byUsername := make(map[string]*model.Registration)
	for _, reg := range snapshot {
		if reg.ExternalMemberID != "" {
			byExternalID[reg.ExternalMemberID] = reg
		}
		if reg.MatcherinoUsername != "" {
			byUsername[NormalizeName(reg.MatcherinoUsername)] = reg
		}
	}

	plan := &model.SyncPlan{TournamentID: tournamentID}
	claimed := make(map[int64]bool)

	for _, team := range teams {
		for i := range team.Members {
			member := team.Members[i]
			r.reconcileMember(plan, &member, team.TeamName, snapshot, byExternalID, byUsername, claimed)
		}
	}

	// このランでどのメンバーにも突合しなかった登録はロースター外とみなす
	for _, reg := range snapshot {
		if claimed[reg.UserID] {
			continue
		}
		plan.Actions = append(plan.Actions, model.SyncAction{
			Type:   model.ActionUnlink,
			UserID: reg.UserID,
		})
	}

	return plan, nil
}

// reconcileMember は1メンバーを3段階のポリシーで突合し、計画へ追記する。
func (r *Reconciler) reconcileMember(
	plan *model.SyncPlan,
	member *model.ScrapedMember,
	teamName string,
	snapshot []*model.Registration,
	byExternalID map[string]*model.Registration,
	byUsername map[string]*model.Registration,
	claimed map[int64]bool,
) {
	// 第1段階: 外部IDの完全一致。権威的であり曖昧一致をスキップする。
	if member.ExternalMemberID != "" {
		if reg, ok := byExternalID[member.ExternalMemberID]; ok && !claimed[reg.UserID] {
			r.appendMatch(plan, reg, member, teamName, 1.0, claimed)
			return
		}
		// 「表示名#ID」形式で申告されたユーザー名との一致も識別子扱い
		formatted := NormalizeName(FormatUsername(member.DisplayName, member.ExternalMemberID))
		if reg, ok := byUsername[formatted]; ok && !claimed[reg.UserID] {
			r.appendMatch(plan, reg, member, teamName, 1.0, claimed)
			return
		}
	}

	// 第2段階: 正規化名の完全一致。一意な場合のみ受け入れる。
	normalized := NormalizeName(member.DisplayName)
	var exact []*model.Registration
	for _, reg := range snapshot {
		if claimed[reg.UserID] {
			continue
		}
		if normalizedNameMatches(reg, normalized) {
			exact = append(exact, reg)
		}
	}
	if len(exact) == 1 {
		r.appendMatch(plan, exact[0], member, teamName, 1.0, claimed)
		return
	}
	if len(exact) > 1 {
		// 同名の登録が複数: 推測せず候補を添えて人手レビューに回す
		r.appendUnmatched(plan, member, teamName, exactCandidates(exact))
		return
	}

	// 第3段階: 編集距離ベースの曖昧一致。
	var scored []candidate
	for _, reg := range snapshot {
		if claimed[reg.UserID] {
			continue
		}
		score := similarityToRegistration(normalized, reg)
		if score > 0 {
			scored = append(scored, candidate{reg: reg, score: score})
		}
	}
	// スコア降順、同点はuser_id昇順で安定に並べる
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].reg.UserID < scored[j].reg.UserID
	})

	if len(scored) == 0 || scored[0].score < r.policy.FuzzyThreshold {
		r.appendUnmatched(plan, member, teamName, nil)
		return
	}
	if len(scored) > 1 && scored[0].score-scored[1].score < r.policy.FuzzyMargin {
		// 2位との差がマージン未満: 曖昧。上位候補を添えてUnmatchedにする
		r.appendUnmatched(plan, member, teamName, contenders(scored, r.policy.FuzzyThreshold, r.policy.FuzzyMargin))
		return
	}

	r.appendMatch(plan, scored[0].reg, member, teamName, scored[0].score, claimed)
}

// appendMatch は突合成立時のLink/Relinkアクションを計画へ追記する。
// 既に目標チームに所属している場合はアクションを発行しない。
func (r *Reconciler) appendMatch(plan *model.SyncPlan, reg *model.Registration, member *model.ScrapedMember, teamName string, score float64, claimed map[int64]bool) {
	claimed[reg.UserID] = true

	if reg.TeamName == teamName {
		return
	}

	action := model.SyncAction{
		UserID:           reg.UserID,
		TeamName:         teamName,
		Score:            score,
		ExternalMemberID: member.ExternalMemberID,
	}
	if reg.TeamName == "" {
		action.Type = model.ActionLink
	} else {
		action.Type = model.ActionRelink
		action.OldTeamName = reg.TeamName
	}

	plan.Actions = append(plan.Actions, action)
}

// appendUnmatched はUnmatchedアクションを計画へ追記する。
func (r *Reconciler) appendUnmatched(plan *model.SyncPlan, member *model.ScrapedMember, teamName string, candidates []model.MatchCandidate) {
	m := *member
	plan.Actions = append(plan.Actions, model.SyncAction{
		Type:       model.ActionUnmatched,
		TeamName:   teamName,
		Member:     &m,
		Candidates: candidates,
	})
}

// normalizedNameMatches は登録の表示名またはMatcherinoユーザー名の
// ベース名が正規化名と一致するかを返す。
func normalizedNameMatches(reg *model.Registration, normalized string) bool {
	if NormalizeName(reg.DisplayName) == normalized {
		return true
	}
	if reg.MatcherinoUsername != "" && NormalizeName(BaseName(reg.MatcherinoUsername)) == normalized {
		return true
	}
	return false
}

// similarityToRegistration はメンバー名と登録の各名前の類似度の最大値を返す。
func similarityToRegistration(normalized string, reg *model.Registration) float64 {
	score := similarity(normalized, NormalizeName(reg.DisplayName))
	if reg.MatcherinoUsername != "" {
		if s := similarity(normalized, NormalizeName(BaseName(reg.MatcherinoUsername))); s > score {
			score = s
		}
	}
	return score
}

// similarity は正規化済み文字列同士の編集距離ベース類似度を返す。
// 1 - distance/max(len) を[0, 1]で返し、1.0が完全一致。
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}

	la := len([]rune(a))
	lb := len([]rune(b))
	max := la
	if lb > max {
		max = lb
	}

	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(max)
}

// exactCandidates は完全一致が複数あった場合の候補リストを作る。
func exactCandidates(regs []*model.Registration) []model.MatchCandidate {
	candidates := make([]model.MatchCandidate, 0, len(regs))
	for _, reg := range regs {
		candidates = append(candidates, model.MatchCandidate{
			UserID:      reg.UserID,
			DisplayName: reg.DisplayName,
			Score:       1.0,
		})
	}
	return candidates
}

// contenders はマージン内で競合した上位候補を抽出する。
// 閾値近傍（threshold - margin以上）の候補のみレビュー対象として添付する。
func contenders(scored []candidate, threshold, margin float64) []model.MatchCandidate {
	floor := threshold - margin
	var candidates []model.MatchCandidate
	for _, c := range scored {
		if c.score < floor {
			break
		}
		candidates = append(candidates, model.MatchCandidate{
			UserID:      c.reg.UserID,
			DisplayName: c.reg.DisplayName,
			Score:       c.score,
		})
	}
	return candidates
}
