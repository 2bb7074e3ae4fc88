package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/teamsync/internal/model"
)

// --- モック ---

type mockRegistrationService struct {
	RegisterFn       func(ctx context.Context, userID int64, displayName, matcherinoUsername, joinCode string) (*model.Registration, error)
	UnregisterFn     func(ctx context.Context, userID int64) error
	BanFn            func(ctx context.Context, userID int64) error
	UnbanFn          func(ctx context.Context, userID int64) error
	StatusFn         func(ctx context.Context, userID int64) (*model.Registration, error)
	TeamOfFn         func(ctx context.Context, userID int64) (string, []*model.Registration, error)
	TeamMembersFn    func(ctx context.Context, teamName string) ([]*model.Registration, error)
	ListAllFn        func(ctx context.Context) ([]*model.Registration, error)
	VerifyUsernameFn func(ctx context.Context, matcherinoUsername string) (bool, error)
	ExportCSVFn      func(ctx context.Context, w io.Writer) error
	signupsOpen      bool
}

func (m *mockRegistrationService) Register(ctx context.Context, userID int64, displayName, matcherinoUsername, joinCode string) (*model.Registration, error) {
	return m.RegisterFn(ctx, userID, displayName, matcherinoUsername, joinCode)
}

func (m *mockRegistrationService) Unregister(ctx context.Context, userID int64) error {
	return m.UnregisterFn(ctx, userID)
}

func (m *mockRegistrationService) Ban(ctx context.Context, userID int64) error {
	return m.BanFn(ctx, userID)
}

func (m *mockRegistrationService) Unban(ctx context.Context, userID int64) error {
	return m.UnbanFn(ctx, userID)
}

func (m *mockRegistrationService) Status(ctx context.Context, userID int64) (*model.Registration, error) {
	return m.StatusFn(ctx, userID)
}

func (m *mockRegistrationService) TeamOf(ctx context.Context, userID int64) (string, []*model.Registration, error) {
	return m.TeamOfFn(ctx, userID)
}

func (m *mockRegistrationService) TeamMembers(ctx context.Context, teamName string) ([]*model.Registration, error) {
	return m.TeamMembersFn(ctx, teamName)
}

func (m *mockRegistrationService) ListAll(ctx context.Context) ([]*model.Registration, error) {
	return m.ListAllFn(ctx)
}

func (m *mockRegistrationService) VerifyUsername(ctx context.Context, matcherinoUsername string) (bool, error) {
	return m.VerifyUsernameFn(ctx, matcherinoUsername)
}

func (m *mockRegistrationService) ExportCSV(ctx context.Context, w io.Writer) error {
	return m.ExportCSVFn(ctx, w)
}

func (m *mockRegistrationService) SignupsOpen() bool        { return m.signupsOpen }
func (m *mockRegistrationService) SetSignupsOpen(open bool) { m.signupsOpen = open }

// newRegistrationRouter はハンドラーを本番と同じパスに載せたルーターを返す。
func newRegistrationRouter(service RegistrationServiceInterface) http.Handler {
	h := NewRegistrationHandler(service)
	r := chi.NewRouter()
	r.Route("/api/registrations", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Register)
		r.Get("/export", h.Export)
		r.Post("/verify", h.VerifyUsername)
		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/", h.Status)
			r.Delete("/", h.Unregister)
			r.Get("/team", h.Team)
			r.Post("/ban", h.Ban)
			r.Delete("/ban", h.Unban)
		})
	})
	r.Get("/api/teams/{teamName}", h.TeamMembers)
	r.Get("/api/signups", h.GetSignups)
	r.Put("/api/signups", h.SetSignups)
	return r
}

// --- テスト ---

// TestRegistrationHandler_Register は登録作成の正常系を検証する。
func TestRegistrationHandler_Register(t *testing.T) {
	service := &mockRegistrationService{
		RegisterFn: func(ctx context.Context, userID int64, displayName, matcherinoUsername, joinCode string) (*model.Registration, error) {
			if userID != 42 || displayName != "Alice" || joinCode != "code123" {
				t.Errorf("サービスへの引数 = %d/%q/%q", userID, displayName, joinCode)
			}
			return &model.Registration{
				UserID:       userID,
				DisplayName:  displayName,
				Status:       model.StatusPending,
				RegisteredAt: time.Now(),
			}, nil
		},
	}
	router := newRegistrationRouter(service)

	body := `{"user_id":42,"display_name":"Alice","matcherino_username":"Alice#1","join_code":"code123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/registrations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("ステータス = %d, 期待値 201: %s", rec.Code, rec.Body.String())
	}

	var resp registrationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
	if resp.UserID != 42 || resp.Status != "pending" {
		t.Errorf("レスポンス = %+v", resp)
	}
}

// TestRegistrationHandler_RegisterValidation はリクエスト検証を検証する。
func TestRegistrationHandler_RegisterValidation(t *testing.T) {
	service := &mockRegistrationService{}
	router := newRegistrationRouter(service)

	tests := []struct {
		name string
		body string
	}{
		{"不正なJSON", `{user_id:}`},
		{"user_idなし", `{"display_name":"Alice"}`},
		{"display_nameなし", `{"user_id":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/registrations", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("ステータス = %d, 期待値 400", rec.Code)
			}
		})
	}
}

// TestRegistrationHandler_ErrorMapping はAPIErrorとHTTPステータスの対応を検証する。
func TestRegistrationHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{"二重登録", model.NewAlreadyRegisteredError(42), http.StatusConflict, model.ErrCodeAlreadyRegistered},
		{"受付停止中", model.NewSignupsClosedError(), http.StatusForbidden, model.ErrCodeSignupsClosed},
		{"参加コード不一致", model.NewInvalidJoinCodeError(), http.StatusForbidden, model.ErrCodeInvalidJoinCode},
		{"BAN済み", model.NewUserBannedError(42), http.StatusForbidden, model.ErrCodeUserBanned},
		{"内部エラー", errors.New("db down"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &mockRegistrationService{
				RegisterFn: func(ctx context.Context, userID int64, displayName, matcherinoUsername, joinCode string) (*model.Registration, error) {
					return nil, tt.serviceErr
				},
			}
			router := newRegistrationRouter(service)

			body := `{"user_id":42,"display_name":"Alice","join_code":"x"}`
			req := httptest.NewRequest(http.MethodPost, "/api/registrations", strings.NewReader(body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("ステータス = %d, 期待値 %d", rec.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				var resp apiErrorResponse
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("レスポンスの解析に失敗しました: %v", err)
				}
				if resp.Code != tt.wantCode {
					t.Errorf("code = %q, 期待値 %q", resp.Code, tt.wantCode)
				}
			}
		})
	}
}

// TestRegistrationHandler_Unregister は登録解除を検証する。
func TestRegistrationHandler_Unregister(t *testing.T) {
	service := &mockRegistrationService{
		UnregisterFn: func(ctx context.Context, userID int64) error {
			if userID == 42 {
				return nil
			}
			return model.NewNotRegisteredError(userID)
		},
	}
	router := newRegistrationRouter(service)

	req := httptest.NewRequest(http.MethodDelete, "/api/registrations/42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("ステータス = %d, 期待値 204", rec.Code)
	}

	// 未登録は404
	req = httptest.NewRequest(http.MethodDelete, "/api/registrations/99", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("未登録のステータス = %d, 期待値 404", rec.Code)
	}

	// 不正なユーザーIDは400
	req = httptest.NewRequest(http.MethodDelete, "/api/registrations/abc", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("不正IDのステータス = %d, 期待値 400", rec.Code)
	}
}

// TestRegistrationHandler_Team はチーム照会を検証する。
func TestRegistrationHandler_Team(t *testing.T) {
	service := &mockRegistrationService{
		TeamOfFn: func(ctx context.Context, userID int64) (string, []*model.Registration, error) {
			if userID == 3 {
				return "", nil, model.NewNoTeamError(userID)
			}
			return "Team Alpha", []*model.Registration{
				{UserID: 1, DisplayName: "Alice", TeamName: "Team Alpha", Status: model.StatusConfirmed},
				{UserID: 2, DisplayName: "Bob", TeamName: "Team Alpha", Status: model.StatusConfirmed},
			}, nil
		},
	}
	router := newRegistrationRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/api/registrations/1/team", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータス = %d: %s", rec.Code, rec.Body.String())
	}
	var resp teamResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
	if resp.TeamName != "Team Alpha" || len(resp.Members) != 2 {
		t.Errorf("レスポンス = %+v", resp)
	}

	// ロースター未所属は404
	req = httptest.NewRequest(http.MethodGet, "/api/registrations/3/team", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("未所属のステータス = %d, 期待値 404", rec.Code)
	}
}

// TestRegistrationHandler_VerifyUsername はユーザー名検証エンドポイントを検証する。
func TestRegistrationHandler_VerifyUsername(t *testing.T) {
	service := &mockRegistrationService{
		VerifyUsernameFn: func(ctx context.Context, matcherinoUsername string) (bool, error) {
			return matcherinoUsername == "Alice#1234", nil
		},
	}
	router := newRegistrationRouter(service)

	body := `{"matcherino_username":"Alice#1234"}`
	req := httptest.NewRequest(http.MethodPost, "/api/registrations/verify", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータス = %d", rec.Code)
	}
	var resp map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
	if !resp["valid"] {
		t.Error("valid = false, 期待値 true")
	}

	// ユーザー名なしは400
	req = httptest.NewRequest(http.MethodPost, "/api/registrations/verify", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ユーザー名なしのステータス = %d, 期待値 400", rec.Code)
	}
}

// TestRegistrationHandler_Export はCSVエクスポートのヘッダを検証する。
func TestRegistrationHandler_Export(t *testing.T) {
	service := &mockRegistrationService{
		ExportCSVFn: func(ctx context.Context, w io.Writer) error {
			_, err := w.Write([]byte("user_id,display_name\n1,Alice\n"))
			return err
		},
	}
	router := newRegistrationRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/api/registrations/export", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータス = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "registrations.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("Alice")) {
		t.Errorf("ボディ = %q", rec.Body.String())
	}
}

// TestRegistrationHandler_ExportFailure はエクスポート失敗時に壊れたCSVでは
// なくエラーレスポンスが返ることを検証する。
func TestRegistrationHandler_ExportFailure(t *testing.T) {
	service := &mockRegistrationService{
		ExportCSVFn: func(ctx context.Context, w io.Writer) error {
			// 途中まで書き出してから失敗する
			w.Write([]byte("user_id,display_name\n1,Alice\n"))
			return errors.New("query failed")
		},
	}
	router := newRegistrationRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/api/registrations/export", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("ステータス = %d, 期待値 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, 期待値 application/json", ct)
	}
	if rec.Header().Get("Content-Disposition") != "" {
		t.Error("失敗時にダウンロードヘッダが設定されました")
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("user_id,display_name")) {
		t.Errorf("部分的なCSVが応答に混入しました: %q", rec.Body.String())
	}
}

// TestRegistrationHandler_Signups は受付状態の取得と切り替えを検証する。
func TestRegistrationHandler_Signups(t *testing.T) {
	service := &mockRegistrationService{signupsOpen: true}
	router := newRegistrationRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/api/signups", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var resp map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v", err)
	}
	if !resp["open"] {
		t.Error("open = false, 期待値 true")
	}

	// 受付を停止する
	req = httptest.NewRequest(http.MethodPut, "/api/signups", strings.NewReader(`{"open":false}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ステータス = %d", rec.Code)
	}
	if service.signupsOpen {
		t.Error("受付状態が切り替わっていません")
	}
}
