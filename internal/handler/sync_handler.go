package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/teamsync/internal/model"
)

// defaultRunsLimit は実行履歴一覧のデフォルト件数。
const defaultRunsLimit = 20

// SyncRunnerInterface は同期ハンドラーが必要とする実行インターフェース。
type SyncRunnerInterface interface {
	// Run は指定大会の同期を1回実行する。
	Run(ctx context.Context, tournamentID string) (*model.SyncReport, error)
}

// SyncRunListerInterface は同期実行履歴の照会インターフェース。
type SyncRunListerInterface interface {
	// ListRecent は指定大会の実行履歴を新しい順に返す。
	ListRecent(ctx context.Context, tournamentID string, limit int) ([]*model.SyncRun, error)
}

// SyncHandler は同期管理のHTTPハンドラー。
type SyncHandler struct {
	runner       SyncRunnerInterface
	runs         SyncRunListerInterface
	tournamentID string
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(runner SyncRunnerInterface, runs SyncRunListerInterface, tournamentID string) *SyncHandler {
	return &SyncHandler{
		runner:       runner,
		runs:         runs,
		tournamentID: tournamentID,
	}
}

// Trigger は手動同期を実行する。
// POST /api/sync
//
// 同期パイプラインが失敗した場合もレポートは生成されるため、
// 実行が完了した限り200でレポートを返す（success=falseを含む）。
// 同一大会の同期が実行中の場合のみ409を返す。
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.Run(r.Context(), h.tournamentID)
	if err != nil && errors.Is(err, model.ErrSyncInProgress) {
		writeAPIErrorResponse(w, http.StatusConflict, model.NewSyncInProgressError(h.tournamentID))
		return
	}
	if report == nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// syncRunResponse は実行履歴のAPIレスポンス。
type syncRunResponse struct {
	ID           string    `json:"id"`
	TournamentID string    `json:"tournament_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Success      bool      `json:"success"`
	FailedStage  string    `json:"failed_stage,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Linked       int       `json:"linked"`
	Relinked     int       `json:"relinked"`
	Unlinked     int       `json:"unlinked"`
	Unmatched    int       `json:"unmatched"`
	RowsChanged  int       `json:"rows_changed"`
}

// ListRuns は同期実行履歴を新しい順に取得する。
// GET /api/sync/runs?limit=N
func (h *SyncHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			writeInvalidRequestError(w, "limitは1〜100の整数で指定してください。")
			return
		}
		limit = parsed
	}

	runs, err := h.runs.ListRecent(r.Context(), h.tournamentID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]syncRunResponse, len(runs))
	for i, run := range runs {
		responses[i] = syncRunResponse{
			ID:           run.ID,
			TournamentID: run.TournamentID,
			StartedAt:    run.StartedAt,
			FinishedAt:   run.FinishedAt,
			Success:      run.Success,
			FailedStage:  run.FailedStage,
			ErrorMessage: run.ErrorMessage,
			Linked:       run.Linked,
			Relinked:     run.Relinked,
			Unlinked:     run.Unlinked,
			Unmatched:    run.Unmatched,
			RowsChanged:  run.RowsChanged,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}
