package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/teamsync/internal/model"
)

// PostgresSyncRunRepo はPostgreSQLを使用した同期実行履歴リポジトリ。
type PostgresSyncRunRepo struct {
	db *sql.DB
}

// NewPostgresSyncRunRepo はPostgresSyncRunRepoを生成する。
func NewPostgresSyncRunRepo(db *sql.DB) *PostgresSyncRunRepo {
	return &PostgresSyncRunRepo{db: db}
}

// Record は実行履歴を記録する。失敗した実行も記録対象。
func (r *PostgresSyncRunRepo) Record(ctx context.Context, run *model.SyncRun) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_runs
			(id, tournament_id, started_at, finished_at, success, failed_stage,
			 error_message, linked, relinked, unlinked, unmatched, rows_changed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.TournamentID, run.StartedAt, run.FinishedAt, run.Success,
		run.FailedStage, run.ErrorMessage,
		run.Linked, run.Relinked, run.Unlinked, run.Unmatched, run.RowsChanged,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}

	return nil
}

// ListRecent は指定大会の実行履歴を新しい順に最大limit件返す。
func (r *PostgresSyncRunRepo) ListRecent(ctx context.Context, tournamentID string, limit int) ([]*model.SyncRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tournament_id, started_at, finished_at, success, failed_stage,
		        error_message, linked, relinked, unlinked, unmatched, rows_changed
		 FROM sync_runs
		 WHERE tournament_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		tournamentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.SyncRun
	for rows.Next() {
		run := &model.SyncRun{}
		err := rows.Scan(
			&run.ID, &run.TournamentID, &run.StartedAt, &run.FinishedAt, &run.Success,
			&run.FailedStage, &run.ErrorMessage,
			&run.Linked, &run.Relinked, &run.Unlinked, &run.Unmatched, &run.RowsChanged,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync runs: %w", err)
	}

	return runs, nil
}

// compile-time interface check
var _ SyncRunRepository = (*PostgresSyncRunRepo)(nil)
