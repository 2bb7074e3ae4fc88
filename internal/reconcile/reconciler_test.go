package reconcile

import (
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/hitoshi/teamsync/internal/model"
)

func newTestReconciler() *Reconciler {
	return NewReconciler(DefaultPolicy(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func reg(userID int64, displayName, username, teamName string) *model.Registration {
	return &model.Registration{
		UserID:             userID,
		DisplayName:        displayName,
		MatcherinoUsername: username,
		TeamName:           teamName,
		Status:             model.StatusPending,
	}
}

func team(id, name string, members ...model.ScrapedMember) model.ScrapedTeam {
	return model.ScrapedTeam{
		ExternalTeamID: id,
		TeamName:       name,
		Members:        members,
	}
}

func member(name, externalID string) model.ScrapedMember {
	return model.ScrapedMember{
		DisplayName:      name,
		ExternalMemberID: externalID,
	}
}

// findAction は計画から指定ユーザーのアクションを探す。
func findAction(plan *model.SyncPlan, userID int64) *model.SyncAction {
	for i := range plan.Actions {
		if plan.Actions[i].UserID == userID && plan.Actions[i].Type != model.ActionUnmatched {
			return &plan.Actions[i]
		}
	}
	return nil
}

// TestReconcile_ExactNameLink は正規化名の完全一致によるLinkを検証する。
func TestReconcile_ExactNameLink(t *testing.T) {
	r := newTestReconciler()

	teams := []model.ScrapedTeam{
		team("t1", "Team Alpha", member("Alice", "")),
	}
	regs := []*model.Registration{
		reg(1, "alice", "", ""),
	}

	plan, err := r.Reconcile("cup", teams, regs)
	if err != nil {
		t.Fatalf("Reconcileがエラーを返しました: %v", err)
	}

	action := findAction(plan, 1)
	if action == nil {
		t.Fatal("ユーザー1のアクションがありません")
	}
	if action.Type != model.ActionLink {
		t.Errorf("アクション種別 = %v, 期待値 %v", action.Type, model.ActionLink)
	}
	if action.TeamName != "Team Alpha" {
		t.Errorf("チーム名 = %q, 期待値 %q", action.TeamName, "Team Alpha")
	}
	if action.Score != 1.0 {
		t.Errorf("スコア = %v, 期待値 1.0", action.Score)
	}
}

// TestReconcile_ExternalIDBeatsName は外部ID一致が名前一致より優先されることを検証する。
func TestReconcile_ExternalIDBeatsName(t *testing.T) {
	r := newTestReconciler()

	// ユーザー2は名前が完全一致するが、ユーザー1が外部IDで一致する
	teams := []model.ScrapedTeam{
		team("t1", "Team Alpha", member("Alice", "ext-100")),
	}
	regs := []*model.Registration{
		{UserID: 1, DisplayName: "totally different", ExternalMemberID: "ext-100", Status: model.StatusConfirmed},
		reg(2, "Alice", "", ""),
	}

	plan, err := r.Reconcile("cup", teams, regs)
	if err != nil {
		t.Fatalf("Reconcileがエラーを返しました: %v", err)
	}

	action := findAction(plan, 1)
	if action == nil || action.Type != model.ActionLink {
		t.Fatalf("外部ID一致のユーザー1がLinkされていません: %+v", plan.Actions)
	}

	// ユーザー2はロースター外としてUnlink（既に未所属なのでno-op扱いだが計画には載る）
	if a := findAction(plan, 2); a == nil || a.Type != model.ActionUnlink {
		t.Errorf("ユーザー2はUnlinkであるべきです: %+v", a)
	}
}

// TestReconcile_FormattedUsernameMatch は「表示名#ID」申告との識別子一致を検証する。
func TestReconcile_FormattedUsernameMatch(t *testing.T) {
	r := newTestReconciler()

	teams := []model.ScrapedTeam{
		team("t1", "Team Alpha", member("Alice", "42")),
	}
	regs := []*model.Registration{
		reg(1, "completely different", "Alice#42", ""),
	}

	plan, err := r.Reconcile("cup", teams, regs)
	if err != nil {
		t.Fatalf("Reconcileがエラーを返しました: %v", err)
	}

	action := findAction(plan, 1)
	if action == nil || action.Type != model.ActionLink {
		t.Fatalf("申告ユーザー名一致のユーザー1がLinkされていません: %+v", plan.Actions)
	}
	if action.ExternalMemberID != "42" {
		t.Errorf("外部IDが保存対象になっていません: %q", action.ExternalMemberID)
	}
}

// TestReconcile_RelinkOnTeamChange は所属チームの付け替えを検証する。
func TestReconcile_RelinkOnTeamChange(t *testing.T) {
	r := newTestReconciler()

	teams := []model.ScrapedTeam{
		team("t2", "Team Beta", member("Alice", "")),
	}
	regs := []*model.Registration{
		reg(1, "Alice", "", "Team Alpha"),
	}

	plan, err := r.Reconcile("cup", teams, regs)
	if err != nil {
		t.Fatalf("Reconcileがエラーを返しました: %v", err)
	}

	action := findAction(plan, 1)
	if action == nil || action.Type != model.ActionRelink {
		t.Fatalf("ユーザー1はRelinkであるべきです: %+v", plan.Actions)
	}
	if action.OldTeamName != "Team Alpha" || action.TeamName != "Team Beta" {
		t.Errorf("付け替え = %q -> %q, 期待値 Team Alpha -> Team Beta", action.OldTeamName, action.TeamName)
	}
}

// TestReconcile_NoActionWhenAlreadyLinked は既に目標状態の登録にアクションを
// 発行しないこと（冪等性）を検証する。
func TestReconcile_NoActionWhenAlreadyLinked(t *testing.T) {
	r := newTestReconciler()

	teams := []model.ScrapedTeam{
		team("t1", "Team Alpha", member("Alice", "")),
	}
	regs := []*model.Registration{
		reg(1, "Alice", "", "Team Alpha"),
	}

	plan, err := r.Reconcile("cup", teams, regs)
	if err != nil {
		t.Fatalf("Reconcileがエラーを返しました: %v", err)
	}

	if len(plan.Actions) != 0 {
		t.Errorf("アクションが発行されました: %+v", plan.Actions)
	}
}

// TestReconcile_UnlinkWhenOffRoster はロースターから消えた登録のUnlinkを検証する。
func TestReconcile_UnlinkWhenOffRoster(t *testing.T) {
	r := newTestReconciler()

	teams := []model.ScrapedTeam{
		team("t1", "Team Alpha", member("Alice", "")),
	}
	regs := []*model.Registration{
		reg(1, "Alice", "", "Team Alpha"),
		reg(2, "Bob", "", "Team Alpha"), // ロースターにいない
	}

	plan, err := r.Reconcile("cup", teams, regs)
	if err != nil {
		t.Fatalf("Reconcileがエラーを返しました: %v", err)
	}

	action := findAction(plan, 2)
	if action == nil || action.Type != model.ActionUnlink {
		t.Fatalf("ユーザー2はUnlinkであるべきです: %+v", plan.Actions)
	}
}

// TestReconcile_DuplicateExactNamesUnmatched は同名登録が複数ある場合に
// 推測せずUnmatchedへ回すことを検証する。
func TestReconcile_DuplicateExactNamesUnmatched(t *testing.T) {
	r := newTestReconciler()

	teams := []model.ScrapedTeam{
		team("t1", "Team Alpha", member("Alice", "")),
	}
	regs := []*model.Registration{
		reg(1, "Alice", "", ""),
		reg(2, "alice", "", ""),
	}

	plan, err := r.Reconcile("cup", teams, regs)
	if err != nil {
		t.Fatalf("Reconcileがエラーを返しました: %v", err)
	}

	if n := plan.Count(model.ActionUnmatched); n != 1 {
		t.Fatalf("Unmatched数 = %d, 期待値 1", n)
	}
	for _, a := range plan.Actions {
		if a.Type == model.ActionUnmatched {
			if len(a.Candidates) != 2 {
				t.Errorf("候補数 = %d, 期待値 2", len(a.Candidates))
			}
		}
	}
	// どちらの登録もLink/Relinkされない
	if findAction(plan, 1) != nil && findAction(plan, 1).Type != model.ActionUnlink {
		t.Error("ユーザー1がLinkされています")
	}
}

// TestReconcile_FuzzyMatch は閾値以上の曖昧一致を検証する。
func TestReconcile_FuzzyMatch(t *testing.T) {
	r := newTestReconciler()

	// "alicegamer" vs "alicegamer1": 距離1 / 長さ11 = 類似度 ~0.909
	teams := []model.ScrapedTeam{
		team("t1", "Team Alpha", member("AliceGamer1", "")),
	}
	regs := []*model.Registration{
		reg(1, "AliceGamer", "", ""),
	}

	plan, err := r.Reconcile("cup", teams, regs)
	if err != nil {
		t.Fatalf("Reconcileがエラーを返しました: %v", err)
	}

	action := findAction(plan, 1)
	if action == nil || action.Type != model.ActionLink {
		t.Fatalf("曖昧一致のユーザー1がLinkされていません: %+v", plan.Actions)
	}
	if action.Score >= 1.0 || action.Score < 0.80 {
		t.Errorf("スコア = %v, 期待範囲 [0.80, 1.0)", action.Score)
	}
}

// TestReconcile_FuzzyBelowThreshold は閾値未満の候補しかない場合のUnmatchedを検証する。
func TestReconcile_FuzzyBelowThreshold(t *testing.T) {
	r := newTestReconciler()

	teams := []model.ScrapedTeam{
		team("t1", "Team Alpha", member("Zebra", "")),
	}
	regs := []*model.Registration{
		reg(1, "Alice", "", ""),
	}

	plan, err := r.Reconcile("cup", teams, regs)
	if err != nil {
		t.Fatalf("Reconcileがエラーを返しました: %v", err)
	}

	if n := plan.Count(model.ActionUnmatched); n != 1 {
		t.Fatalf("Unmatched数 = %d, 期待値 1", n)
	}
	for _, a := range plan.Actions {
		if a.Type == model.ActionUnmatched && len(a.Candidates) != 0 {
			t.Errorf("閾値未満なのに候補が添付されています: %+v", a.Candidates)
		}
	}
}

// TestReconcile_AmbiguousWithinMargin は上位2候補の差がマージン未満の場合に
// 候補付きUnmatchedになることを検証する。
func TestReconcile_AmbiguousWithinMargin(t *testing.T) {
	r := newTestReconciler()

	// "gamerpro1" と "gamerpro2" は "gamerpro12" に対して同等の類似度を持つ
	teams := []model.ScrapedTeam{
		team("t1", "Team Alpha", member("gamerpro12", "")),
	}
	regs := []*model.Registration{
		reg(1, "gamerpro1", "", ""),
		reg(2, "gamerpro2", "", ""),
	}

	plan, err := r.Reconcile("cup", teams, regs)
	if err != nil {
		t.Fatalf("Reconcileがエラーを返しました: %v", err)
	}

	if n := plan.Count(model.ActionUnmatched); n != 1 {
		t.Fatalf("Unmatched数 = %d, 期待値 1", n)
	}
	for _, a := range plan.Actions {
		if a.Type == model.ActionUnmatched && len(a.Candidates) < 2 {
			t.Errorf("曖昧一致なのに候補が%d件しかありません", len(a.Candidates))
		}
	}
}

// TestReconcile_NoDoubleAssignment は1つの登録が複数メンバーに割り当てられない
// ことを検証する。
func TestReconcile_NoDoubleAssignment(t *testing.T) {
	r := newTestReconciler()

	teams := []model.ScrapedTeam{
		team("t1", "Team Alpha", member("Alice", "")),
		team("t2", "Team Beta", member("Alice", "")),
	}
	regs := []*model.Registration{
		reg(1, "Alice", "", ""),
	}

	plan, err := r.Reconcile("cup", teams, regs)
	if err != nil {
		t.Fatalf("Reconcileがエラーを返しました: %v", err)
	}

	seen := make(map[int64]int)
	for _, a := range plan.Actions {
		if a.Type != model.ActionUnmatched {
			seen[a.UserID]++
		}
	}
	if seen[1] > 1 {
		t.Errorf("ユーザー1に%d件のアクションが発行されました", seen[1])
	}
	// 2人目のAliceは未突合になる
	if n := plan.Count(model.ActionUnmatched); n != 1 {
		t.Errorf("Unmatched数 = %d, 期待値 1", n)
	}
}

// TestReconcile_Deterministic はスナップショットの並び順に依存せず
// 同一の計画が算出されることを検証する。
func TestReconcile_Deterministic(t *testing.T) {
	r := newTestReconciler()

	teams := []model.ScrapedTeam{
		team("t1", "Team Alpha", member("Alice", ""), member("Bob", "")),
		team("t2", "Team Beta", member("Carol", "")),
	}
	forward := []*model.Registration{
		reg(1, "Alice", "", ""),
		reg(2, "Bob", "", "Team Alpha"),
		reg(3, "Carol", "", "Team Alpha"),
		reg(4, "Dave", "", "Team Beta"),
	}
	reversed := []*model.Registration{forward[3], forward[2], forward[1], forward[0]}

	plan1, err := r.Reconcile("cup", teams, forward)
	if err != nil {
		t.Fatalf("Reconcileがエラーを返しました: %v", err)
	}
	plan2, err := r.Reconcile("cup", teams, reversed)
	if err != nil {
		t.Fatalf("Reconcileがエラーを返しました: %v", err)
	}

	if !reflect.DeepEqual(plan1, plan2) {
		t.Errorf("並び順で計画が変化しました:\n%+v\n%+v", plan1.Actions, plan2.Actions)
	}
}

// TestReconcile_InvalidSnapshot はremoved行が混入したスナップショットを
// プログラマエラーとして拒否することを検証する。
func TestReconcile_InvalidSnapshot(t *testing.T) {
	r := newTestReconciler()

	removed := reg(1, "Alice", "", "")
	removed.Status = model.StatusRemoved

	if _, err := r.Reconcile("cup", nil, []*model.Registration{removed}); err == nil {
		t.Error("removed行を含むスナップショットでエラーになりません")
	}

	if _, err := r.Reconcile("cup", nil, []*model.Registration{nil}); err == nil {
		t.Error("nil行を含むスナップショットでエラーになりません")
	}
}

// TestSimilarity は編集距離ベース類似度の性質を検証する。
func TestSimilarity(t *testing.T) {
	if got := similarity("alice", "alice"); got != 1.0 {
		t.Errorf("同一文字列の類似度 = %v, 期待値 1.0", got)
	}
	if got := similarity("", "alice"); got != 0 {
		t.Errorf("空文字列の類似度 = %v, 期待値 0", got)
	}
	if got := similarity("alice", "alicf"); got != 0.8 {
		t.Errorf("距離1/長さ5の類似度 = %v, 期待値 0.8", got)
	}
	a, b := similarity("alice", "bob"), similarity("alice", "alicia")
	if a >= b {
		t.Errorf("類似度の大小関係が不正: similarity(alice,bob)=%v >= similarity(alice,alicia)=%v", a, b)
	}
}
