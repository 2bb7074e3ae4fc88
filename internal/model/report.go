// Package model はドメインモデルを定義する。
package model

import "time"

// SyncStage は同期パイプラインの段階を表す。失敗レポートで使用する。
type SyncStage string

const (
	// StageFetch は外部プラットフォームからの取得段階。
	StageFetch SyncStage = "fetch"
	// StageParse はペイロードの構造化段階。
	StageParse SyncStage = "parse"
	// StageReconcile は突合計画の算出段階。
	StageReconcile SyncStage = "reconcile"
	// StagePersist は計画の適用段階。
	StagePersist SyncStage = "persist"
)

// SyncReport は同期1回の結果サマリーを表す。
// 成功・失敗を問わず毎回生成され、チャットボットの管理サーフェスに
// そのまま掲示できる内容を持つ。
type SyncReport struct {
	RunID        string        `json:"run_id"`
	TournamentID string        `json:"tournament_id"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	FailedStage  SyncStage     `json:"failed_stage,omitempty"`
	Error        string        `json:"error,omitempty"`

	// スクレイプ結果
	TeamsScraped   int `json:"teams_scraped"`
	MembersScraped int `json:"members_scraped"`
	RecordsSkipped int `json:"records_skipped"`

	// 計画内訳
	Linked    int `json:"linked"`
	Relinked  int `json:"relinked"`
	Unlinked  int `json:"unlinked"`
	Unmatched int `json:"unmatched"`

	// 適用結果。RowsChangedは実際に行が変化した数、NoOpsは
	// 既に目標状態だったため変化しなかったアクション数。
	RowsChanged int `json:"rows_changed"`
	NoOps       int `json:"no_ops"`

	// 人手レビュー用の曖昧・未突合メンバー一覧
	UnmatchedMembers []UnmatchedMember `json:"unmatched_members,omitempty"`
}

// UnmatchedMember はレポートに含める未突合メンバーの詳細。
type UnmatchedMember struct {
	DisplayName string           `json:"display_name"`
	TeamName    string           `json:"team_name"`
	Candidates  []MatchCandidate `json:"candidates,omitempty"`
}

// SyncRun はsync_runsテーブルに記録する監査用の実行履歴を表す。
// ロースター本体とは別系統の監査ログであり、失敗した実行も記録する。
type SyncRun struct {
	ID           string
	TournamentID string
	StartedAt    time.Time
	FinishedAt   time.Time
	Success      bool
	FailedStage  string
	ErrorMessage string
	Linked       int
	Relinked     int
	Unlinked     int
	Unmatched    int
	RowsChanged  int
}
