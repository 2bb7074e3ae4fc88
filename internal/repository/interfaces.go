// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/teamsync/internal/model"
)

// RegistrationRepository は登録データの永続化インターフェース。
type RegistrationRepository interface {
	// FindByUserID は指定ユーザーIDの登録を取得する。見つからない場合はnilを返す。
	// 論理削除済みの行も返す（呼び出し元がStatusで判断する）。
	FindByUserID(ctx context.Context, userID int64) (*model.Registration, error)

	// ListActive は非removedの登録スナップショットをuser_id昇順で返す。
	// Reconcilerの入力となる読み取りスナップショット。
	ListActive(ctx context.Context) ([]*model.Registration, error)

	// ListAll は全登録をuser_id昇順で返す（removed含む）。管理用。
	ListAll(ctx context.Context) ([]*model.Registration, error)

	// ListByTeam は指定チームに所属する非removedの登録をuser_id昇順で返す。
	ListByTeam(ctx context.Context, teamName string) ([]*model.Registration, error)

	// Upsert は登録を作成する。同一user_idの行が既にある場合は
	// 再登録として表示名・Matcherinoユーザー名・参加コードを上書きし、
	// statusをpendingへ戻す。banned列は変更しない。
	Upsert(ctx context.Context, reg *model.Registration) error

	// SoftDelete は登録をremovedに遷移させチーム紐付けを外す。
	// 行が存在しない、または既にremovedの場合はfalseを返す。物理削除はしない。
	SoftDelete(ctx context.Context, userID int64) (bool, error)

	// SetBanned はBANフラグを設定する。行が存在しない場合はfalseを返す。
	SetBanned(ctx context.Context, userID int64, banned bool) (bool, error)
}

// SyncApplier は同期計画の適用インターフェース。
// 実装は計画全体を単一トランザクションで適用し、冪等でなければならない。
type SyncApplier interface {
	// ApplyPlan は計画を適用し、実際に行が変化したアクション数と
	// 既に目標状態でスキップされたアクション数を返す。
	// Unmatchedアクションはストレージを変更せず、どちらにも数えない。
	ApplyPlan(ctx context.Context, plan *model.SyncPlan, now time.Time) (changed int, noops int, err error)
}

// SyncRunRepository は同期実行履歴の永続化インターフェース。
type SyncRunRepository interface {
	// Record は実行履歴を記録する。失敗した実行も記録対象。
	Record(ctx context.Context, run *model.SyncRun) error

	// ListRecent は指定大会の実行履歴を新しい順に最大limit件返す。
	ListRecent(ctx context.Context, tournamentID string, limit int) ([]*model.SyncRun, error)
}
