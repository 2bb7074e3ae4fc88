// Package sync は同期パイプラインの編成を提供する。
// フェッチ・構造化・突合・適用を順に実行し、成功失敗を問わず
// 構造化されたレポートを生成する。
package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/teamsync/internal/model"
	"github.com/hitoshi/teamsync/internal/repository"
)

// Persister は同期計画をストレージへ適用し、レポートの適用セクションを
// 埋める。適用自体はSyncApplierの単一トランザクションに委譲され、
// 失敗時はPersistenceErrorを返す（部分適用は発生しない）。
type Persister struct {
	applier repository.SyncApplier
	logger  *slog.Logger
}

// NewPersister はPersisterの新しいインスタンスを生成する。
func NewPersister(applier repository.SyncApplier, logger *slog.Logger) *Persister {
	return &Persister{
		applier: applier,
		logger:  logger,
	}
}

// Apply は計画を適用し、結果をレポートに反映する。
// Unmatchedアクションはストレージに触れないため適用数には含まれない。
func (p *Persister) Apply(ctx context.Context, plan *model.SyncPlan, now time.Time, report *model.SyncReport) error {
	changed, noops, err := p.applier.ApplyPlan(ctx, plan, now)
	if err != nil {
		var perr *model.PersistenceError
		if errors.As(err, &perr) {
			return err
		}
		return &model.PersistenceError{Err: err}
	}

	report.RowsChanged = changed
	report.NoOps = noops

	p.logger.Info("同期計画を適用しました",
		slog.String("tournament_id", plan.TournamentID),
		slog.Int("rows_changed", changed),
		slog.Int("no_ops", noops),
	)

	return nil
}
