package sync

import (
	"context"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/teamsync/internal/matcherino"
	"github.com/hitoshi/teamsync/internal/metrics"
	"github.com/hitoshi/teamsync/internal/model"
	"github.com/hitoshi/teamsync/internal/repository"
)

// Fetcher は外部プラットフォームからロースターペイロードを取得する。
type Fetcher interface {
	FetchTeamsPayload(ctx context.Context, tournamentID string) ([]byte, error)
}

// RosterParser は生ペイロードをScrapedTeam列へ構造化する。
type RosterParser interface {
	Parse(payload []byte) (*matcherino.ParseResult, error)
}

// RosterReconciler はスクレイプ結果と登録スナップショットから同期計画を算出する。
type RosterReconciler interface {
	Reconcile(tournamentID string, teams []model.ScrapedTeam, regs []*model.Registration) (*model.SyncPlan, error)
}

// PlanApplier は同期計画を適用しレポートに結果を反映する。
type PlanApplier interface {
	Apply(ctx context.Context, plan *model.SyncPlan, now time.Time, report *model.SyncReport) error
}

// Orchestrator は同期パイプライン全体を編成する。
// 同一大会の同期は同時に1つしか実行できず、実行中の大会への
// 要求はキューイングせずErrSyncInProgressで即時拒否する。
// 失敗した実行もレポートと実行履歴を残す。
type Orchestrator struct {
	fetcher    Fetcher
	parser     RosterParser
	reconciler RosterReconciler
	persister  PlanApplier
	regRepo    repository.RegistrationRepository
	runRepo    repository.SyncRunRepository
	collector  metrics.MetricsCollector
	logger     *slog.Logger

	now func() time.Time // テスト用に差し替え可能

	mu       stdsync.Mutex
	inFlight map[string]bool
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
func NewOrchestrator(
	fetcher Fetcher,
	parser RosterParser,
	reconciler RosterReconciler,
	persister PlanApplier,
	regRepo repository.RegistrationRepository,
	runRepo repository.SyncRunRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		fetcher:    fetcher,
		parser:     parser,
		reconciler: reconciler,
		persister:  persister,
		regRepo:    regRepo,
		runRepo:    runRepo,
		collector:  collector,
		logger:     logger,
		now:        time.Now,
		inFlight:   make(map[string]bool),
	}
}

// Run は指定大会の同期を1回実行する。
// 成功・失敗を問わずレポートを返し、失敗時はエラーも併せて返す。
// 同一大会の同期が実行中の場合はErrSyncInProgressを返す（レポートなし）。
func (o *Orchestrator) Run(ctx context.Context, tournamentID string) (*model.SyncReport, error) {
	if !o.acquire(tournamentID) {
		return nil, model.ErrSyncInProgress
	}
	defer o.release(tournamentID)

	startedAt := o.now()
	report := &model.SyncReport{
		RunID:        uuid.NewString(),
		TournamentID: tournamentID,
		StartedAt:    startedAt,
	}

	o.logger.Info("同期を開始します",
		slog.String("run_id", report.RunID),
		slog.String("tournament_id", tournamentID),
	)

	fetchStart := o.now()
	payload, err := o.fetcher.FetchTeamsPayload(ctx, tournamentID)
	o.collector.RecordFetchLatency(o.now().Sub(fetchStart))
	if err != nil {
		return o.fail(ctx, report, model.StageFetch, err)
	}

	parsed, err := o.parser.Parse(payload)
	if err != nil {
		return o.fail(ctx, report, model.StageParse, err)
	}
	report.TeamsScraped = len(parsed.Teams)
	report.RecordsSkipped = parsed.Skipped
	for _, team := range parsed.Teams {
		report.MembersScraped += len(team.Members)
	}
	o.collector.RecordRecordsSkipped(parsed.Skipped)

	// スナップショットの読み取りも突合段階の一部として扱う
	snapshot, err := o.regRepo.ListActive(ctx)
	if err != nil {
		return o.fail(ctx, report, model.StageReconcile, err)
	}

	plan, err := o.reconciler.Reconcile(tournamentID, parsed.Teams, snapshot)
	if err != nil {
		return o.fail(ctx, report, model.StageReconcile, err)
	}
	summarizePlan(report, plan)

	if err := o.persister.Apply(ctx, plan, o.now(), report); err != nil {
		return o.fail(ctx, report, model.StagePersist, err)
	}

	report.Success = true
	report.Duration = o.now().Sub(startedAt)

	o.collector.RecordSyncSuccess(tournamentID)
	o.collector.RecordSyncDuration(report.Duration)
	o.collector.RecordActionsApplied(string(model.ActionLink), report.Linked)
	o.collector.RecordActionsApplied(string(model.ActionRelink), report.Relinked)
	o.collector.RecordActionsApplied(string(model.ActionUnlink), report.Unlinked)
	o.collector.SetUnmatchedMembers(report.Unmatched)

	o.recordRun(ctx, report)

	o.logger.Info("同期が完了しました",
		slog.String("run_id", report.RunID),
		slog.String("tournament_id", tournamentID),
		slog.Duration("duration", report.Duration),
		slog.Int("linked", report.Linked),
		slog.Int("relinked", report.Relinked),
		slog.Int("unlinked", report.Unlinked),
		slog.Int("unmatched", report.Unmatched),
		slog.Int("rows_changed", report.RowsChanged),
	)

	return report, nil
}

// acquire は大会の実行中フラグの獲得を試みる。
func (o *Orchestrator) acquire(tournamentID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[tournamentID] {
		return false
	}
	o.inFlight[tournamentID] = true
	return true
}

// release は大会の実行中フラグを解放する。
func (o *Orchestrator) release(tournamentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, tournamentID)
}

// fail は失敗レポートを確定し、実行履歴とメトリクスに記録する。
func (o *Orchestrator) fail(ctx context.Context, report *model.SyncReport, stage model.SyncStage, err error) (*model.SyncReport, error) {
	report.Success = false
	report.FailedStage = stage
	report.Error = err.Error()
	report.Duration = o.now().Sub(report.StartedAt)

	o.collector.RecordSyncFailure(report.TournamentID, string(stage))
	o.collector.RecordSyncDuration(report.Duration)

	o.recordRun(ctx, report)

	o.logger.Error("同期が失敗しました",
		slog.String("run_id", report.RunID),
		slog.String("tournament_id", report.TournamentID),
		slog.String("failed_stage", string(stage)),
		slog.String("error", err.Error()),
	)

	return report, err
}

// recordRun は実行履歴をsync_runsへ記録する。
// ロースター本体のトランザクションとは独立しており、記録の失敗は
// 同期結果を変えない（警告のみ）。
func (o *Orchestrator) recordRun(ctx context.Context, report *model.SyncReport) {
	run := &model.SyncRun{
		ID:           report.RunID,
		TournamentID: report.TournamentID,
		StartedAt:    report.StartedAt,
		FinishedAt:   report.StartedAt.Add(report.Duration),
		Success:      report.Success,
		FailedStage:  string(report.FailedStage),
		ErrorMessage: report.Error,
		Linked:       report.Linked,
		Relinked:     report.Relinked,
		Unlinked:     report.Unlinked,
		Unmatched:    report.Unmatched,
		RowsChanged:  report.RowsChanged,
	}

	if err := o.runRepo.Record(ctx, run); err != nil {
		o.logger.Warn("同期実行履歴の記録に失敗しました",
			slog.String("run_id", report.RunID),
			slog.String("error", err.Error()),
		)
	}
}

// summarizePlan は計画の内訳と未突合メンバー一覧をレポートへ転記する。
func summarizePlan(report *model.SyncReport, plan *model.SyncPlan) {
	report.Linked = plan.Count(model.ActionLink)
	report.Relinked = plan.Count(model.ActionRelink)
	report.Unlinked = plan.Count(model.ActionUnlink)
	report.Unmatched = plan.Count(model.ActionUnmatched)

	for _, action := range plan.Actions {
		if action.Type != model.ActionUnmatched || action.Member == nil {
			continue
		}
		report.UnmatchedMembers = append(report.UnmatchedMembers, model.UnmatchedMember{
			DisplayName: action.Member.DisplayName,
			TeamName:    action.TeamName,
			Candidates:  action.Candidates,
		})
	}
}
