package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/teamsync/internal/model"
)

// RegistrationServiceInterface は登録ハンドラーが必要とするサービスインターフェース。
type RegistrationServiceInterface interface {
	// Register は新規登録を作成する。
	Register(ctx context.Context, userID int64, displayName, matcherinoUsername, joinCode string) (*model.Registration, error)
	// Unregister は登録を解除する（論理削除）。
	Unregister(ctx context.Context, userID int64) error
	// Ban はユーザーを追放し、以後の再登録を拒否する。
	Ban(ctx context.Context, userID int64) error
	// Unban はBANを解除する。
	Unban(ctx context.Context, userID int64) error
	// Status は指定ユーザーの登録を返す。
	Status(ctx context.Context, userID int64) (*model.Registration, error)
	// TeamOf は指定ユーザーの所属チーム名とチームメイト一覧を返す。
	TeamOf(ctx context.Context, userID int64) (string, []*model.Registration, error)
	// TeamMembers は指定チームの所属メンバー一覧を返す。
	TeamMembers(ctx context.Context, teamName string) ([]*model.Registration, error)
	// ListAll は全登録を返す（removed含む）。
	ListAll(ctx context.Context) ([]*model.Registration, error)
	// VerifyUsername はMatcherinoユーザー名の実在を検証する。
	VerifyUsername(ctx context.Context, matcherinoUsername string) (bool, error)
	// ExportCSV は全登録をCSV形式で書き出す。
	ExportCSV(ctx context.Context, w io.Writer) error
	// SignupsOpen は新規登録の受付状態を返す。
	SignupsOpen() bool
	// SetSignupsOpen は新規登録の受付状態を切り替える。
	SetSignupsOpen(open bool)
}

// RegistrationHandler は参加登録管理のHTTPハンドラー。
type RegistrationHandler struct {
	service RegistrationServiceInterface
}

// NewRegistrationHandler はRegistrationHandlerを生成する。
func NewRegistrationHandler(service RegistrationServiceInterface) *RegistrationHandler {
	return &RegistrationHandler{
		service: service,
	}
}

// registrationResponse は登録情報のAPIレスポンス。
type registrationResponse struct {
	UserID             int64      `json:"user_id"`
	DisplayName        string     `json:"display_name"`
	MatcherinoUsername string     `json:"matcherino_username,omitempty"`
	TeamName           string     `json:"team_name,omitempty"`
	Status             string     `json:"status"`
	Banned             bool       `json:"banned"`
	RegisteredAt       time.Time  `json:"registered_at"`
	LastSyncedAt       *time.Time `json:"last_synced_at,omitempty"`
}

// toRegistrationResponse は*model.RegistrationをAPIレスポンスに変換する。
func toRegistrationResponse(reg *model.Registration) registrationResponse {
	return registrationResponse{
		UserID:             reg.UserID,
		DisplayName:        reg.DisplayName,
		MatcherinoUsername: reg.MatcherinoUsername,
		TeamName:           reg.TeamName,
		Status:             string(reg.Status),
		Banned:             reg.Banned,
		RegisteredAt:       reg.RegisteredAt,
		LastSyncedAt:       reg.LastSyncedAt,
	}
}

// toRegistrationResponses は登録スライスをAPIレスポンスに変換する。
func toRegistrationResponses(regs []*model.Registration) []registrationResponse {
	responses := make([]registrationResponse, len(regs))
	for i, reg := range regs {
		responses[i] = toRegistrationResponse(reg)
	}
	return responses
}

// registerRequest は登録リクエストのボディ。
type registerRequest struct {
	UserID             int64  `json:"user_id"`
	DisplayName        string `json:"display_name"`
	MatcherinoUsername string `json:"matcherino_username"`
	JoinCode           string `json:"join_code"`
}

// Register は新規登録を作成する。
// POST /api/registrations
func (h *RegistrationHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestError(w, "リクエストボディの解析に失敗しました。")
		return
	}
	if req.UserID <= 0 || req.DisplayName == "" {
		writeInvalidRequestError(w, "user_idとdisplay_nameは必須です。")
		return
	}

	reg, err := h.service.Register(r.Context(), req.UserID, req.DisplayName, req.MatcherinoUsername, req.JoinCode)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toRegistrationResponse(reg))
}

// Unregister は登録を解除する。
// DELETE /api/registrations/:userID
func (h *RegistrationHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Unregister(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status は指定ユーザーの登録を取得する。
// GET /api/registrations/:userID
func (h *RegistrationHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	reg, err := h.service.Status(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toRegistrationResponse(reg))
}

// List は全登録の一覧を取得する。
// GET /api/registrations
func (h *RegistrationHandler) List(w http.ResponseWriter, r *http.Request) {
	regs, err := h.service.ListAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toRegistrationResponses(regs))
}

// Export は全登録をCSV形式でダウンロードさせる。
// GET /api/registrations/export
//
// ヘッダ送信後はエラーレスポンスを返せないため、CSVは一度バッファへ
// 書き出し、成功した場合のみ送信する。
func (h *RegistrationHandler) Export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.service.ExportCSV(r.Context(), &buf); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="registrations.csv"`)
	w.Write(buf.Bytes())
}

// Ban はユーザーを大会から追放する。
// POST /api/registrations/:userID/ban
func (h *RegistrationHandler) Ban(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Ban(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Unban はBANを解除する。
// DELETE /api/registrations/:userID/ban
func (h *RegistrationHandler) Unban(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Unban(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// teamResponse はチーム照会のAPIレスポンス。
type teamResponse struct {
	TeamName string                 `json:"team_name"`
	Members  []registrationResponse `json:"members"`
}

// Team は指定ユーザーの所属チームとチームメイトを取得する。
// GET /api/registrations/:userID/team
func (h *RegistrationHandler) Team(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	teamName, members, err := h.service.TeamOf(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(teamResponse{
		TeamName: teamName,
		Members:  toRegistrationResponses(members),
	})
}

// TeamMembers は指定チームの所属メンバーを取得する。
// GET /api/teams/:teamName
func (h *RegistrationHandler) TeamMembers(w http.ResponseWriter, r *http.Request) {
	teamName := chi.URLParam(r, "teamName")
	if teamName == "" {
		writeInvalidRequestError(w, "チーム名は必須です。")
		return
	}

	members, err := h.service.TeamMembers(r.Context(), teamName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(teamResponse{
		TeamName: teamName,
		Members:  toRegistrationResponses(members),
	})
}

// verifyRequest はユーザー名検証リクエストのボディ。
type verifyRequest struct {
	MatcherinoUsername string `json:"matcherino_username"`
}

// VerifyUsername は申告されたMatcherinoユーザー名の実在を検証する。
// POST /api/registrations/verify
func (h *RegistrationHandler) VerifyUsername(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestError(w, "リクエストボディの解析に失敗しました。")
		return
	}
	if req.MatcherinoUsername == "" {
		writeInvalidRequestError(w, "matcherino_usernameは必須です。")
		return
	}

	valid, err := h.service.VerifyUsername(r.Context(), req.MatcherinoUsername)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"valid": valid})
}

// signupsRequest は受付状態変更リクエストのボディ。
type signupsRequest struct {
	Open bool `json:"open"`
}

// GetSignups は新規登録の受付状態を取得する。
// GET /api/signups
func (h *RegistrationHandler) GetSignups(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"open": h.service.SignupsOpen()})
}

// SetSignups は新規登録の受付状態を切り替える。
// PUT /api/signups
func (h *RegistrationHandler) SetSignups(w http.ResponseWriter, r *http.Request) {
	var req signupsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestError(w, "リクエストボディの解析に失敗しました。")
		return
	}

	h.service.SetSignupsOpen(req.Open)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"open": req.Open})
}

// parseUserID はURLパラメータからユーザーIDを読み取る。
func parseUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeInvalidRequestError(w, "ユーザーIDが正しくありません。")
		return 0, false
	}
	return userID, true
}

// writeInvalidRequestError はバリデーションエラーの統一レスポンスを書き込む。
func writeInvalidRequestError(w http.ResponseWriter, message string) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  message,
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	})
}
