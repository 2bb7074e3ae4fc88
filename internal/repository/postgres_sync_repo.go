package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/teamsync/internal/model"
)

// PostgresSyncRepo は同期計画をPostgreSQLへ適用するリポジトリ。
// 計画全体を単一トランザクションで適用する。すべてのUPDATEは
// 目標状態との差分がある行だけを対象とするWHERE句を持つため、
// 同一計画の再適用は行変化ゼロで完了する（冪等性）。
type PostgresSyncRepo struct {
	db *sql.DB
}

// NewPostgresSyncRepo はPostgresSyncRepoを生成する。
func NewPostgresSyncRepo(db *sql.DB) *PostgresSyncRepo {
	return &PostgresSyncRepo{db: db}
}

// ApplyPlan は計画を適用する。コミット前にエラーが発生した場合は
// 全体がロールバックされ、部分適用は発生しない。
func (r *PostgresSyncRepo) ApplyPlan(ctx context.Context, plan *model.SyncPlan, now time.Time) (changed int, noops int, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, action := range plan.Actions {
		var result sql.Result

		switch action.Type {
		case model.ActionLink, model.ActionRelink:
			result, err = tx.ExecContext(ctx,
				`UPDATE registrations
				 SET team_name = $2,
				     status = 'confirmed',
				     external_member_id = COALESCE($3, external_member_id),
				     last_synced_at = $4,
				     updated_at = $4
				 WHERE user_id = $1
				   AND status <> 'removed'
				   AND (team_name IS DISTINCT FROM $2
				        OR status <> 'confirmed'
				        OR external_member_id IS DISTINCT FROM COALESCE($3, external_member_id))`,
				action.UserID, action.TeamName, nullString(action.ExternalMemberID), now,
			)
			if err != nil {
				return 0, 0, fmt.Errorf("failed to apply %s for user %d: %w", action.Type, action.UserID, err)
			}

		case model.ActionUnlink:
			result, err = tx.ExecContext(ctx,
				`UPDATE registrations
				 SET team_name = NULL,
				     status = 'pending',
				     last_synced_at = $2,
				     updated_at = $2
				 WHERE user_id = $1
				   AND status <> 'removed'
				   AND (team_name IS NOT NULL OR status <> 'pending')`,
				action.UserID, now,
			)
			if err != nil {
				return 0, 0, fmt.Errorf("failed to apply unlink for user %d: %w", action.UserID, err)
			}

		case model.ActionUnmatched:
			// ストレージを変更しない。レポートでのみ提示される。
			continue

		default:
			return 0, 0, fmt.Errorf("unknown sync action type: %s", action.Type)
		}

		rowsAffected, raErr := result.RowsAffected()
		if raErr != nil {
			return 0, 0, fmt.Errorf("failed to get rows affected: %w", raErr)
		}
		if rowsAffected > 0 {
			changed++
		} else {
			noops++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return changed, noops, nil
}

// compile-time interface check
var _ SyncApplier = (*PostgresSyncRepo)(nil)
