package registration

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/teamsync/internal/matcherino"
	"github.com/hitoshi/teamsync/internal/model"
)

// --- モック ---

type fakeRegRepo struct {
	regs map[int64]*model.Registration
}

func newFakeRegRepo() *fakeRegRepo {
	return &fakeRegRepo{regs: make(map[int64]*model.Registration)}
}

func (f *fakeRegRepo) FindByUserID(ctx context.Context, userID int64) (*model.Registration, error) {
	reg, ok := f.regs[userID]
	if !ok {
		return nil, nil
	}
	copied := *reg
	return &copied, nil
}

func (f *fakeRegRepo) ListActive(ctx context.Context) ([]*model.Registration, error) {
	var result []*model.Registration
	for _, reg := range f.regs {
		if reg.Active() {
			result = append(result, reg)
		}
	}
	return result, nil
}

func (f *fakeRegRepo) ListAll(ctx context.Context) ([]*model.Registration, error) {
	var result []*model.Registration
	for _, reg := range f.regs {
		result = append(result, reg)
	}
	return result, nil
}

func (f *fakeRegRepo) ListByTeam(ctx context.Context, teamName string) ([]*model.Registration, error) {
	var result []*model.Registration
	for _, reg := range f.regs {
		if reg.Active() && reg.TeamName == teamName {
			result = append(result, reg)
		}
	}
	return result, nil
}

func (f *fakeRegRepo) Upsert(ctx context.Context, reg *model.Registration) error {
	existing, ok := f.regs[reg.UserID]
	if ok {
		existing.DisplayName = reg.DisplayName
		existing.MatcherinoUsername = reg.MatcherinoUsername
		existing.JoinCode = reg.JoinCode
		existing.Status = model.StatusPending
		existing.TeamName = ""
		return nil
	}
	copied := *reg
	f.regs[reg.UserID] = &copied
	return nil
}

func (f *fakeRegRepo) SoftDelete(ctx context.Context, userID int64) (bool, error) {
	reg, ok := f.regs[userID]
	if !ok || !reg.Active() {
		return false, nil
	}
	reg.Status = model.StatusRemoved
	reg.TeamName = ""
	return true, nil
}

func (f *fakeRegRepo) SetBanned(ctx context.Context, userID int64, banned bool) (bool, error) {
	reg, ok := f.regs[userID]
	if !ok {
		return false, nil
	}
	reg.Banned = banned
	return true, nil
}

type fakeParticipants struct {
	participants []matcherino.Participant
	err          error
}

func (f *fakeParticipants) FetchParticipants(ctx context.Context, bountyID string) ([]matcherino.Participant, error) {
	return f.participants, f.err
}

func newTestService(repo *fakeRegRepo) *Service {
	return NewService(repo, &fakeParticipants{}, "cup2026", "secret-code", true)
}

// --- テスト ---

// TestService_Register は新規登録の正常系を検証する。
func TestService_Register(t *testing.T) {
	repo := newFakeRegRepo()
	s := newTestService(repo)

	reg, err := s.Register(context.Background(), 1, "Alice", "Alice#1234", "secret-code")
	if err != nil {
		t.Fatalf("Registerがエラーを返しました: %v", err)
	}

	if reg.Status != model.StatusPending {
		t.Errorf("status = %v, 期待値 %v", reg.Status, model.StatusPending)
	}
	if stored := repo.regs[1]; stored == nil || stored.DisplayName != "Alice" {
		t.Errorf("登録が保存されていません: %+v", stored)
	}
}

// TestService_RegisterRejections は登録拒否の各パターンを検証する。
func TestService_RegisterRejections(t *testing.T) {
	t.Run("参加コード不一致", func(t *testing.T) {
		s := newTestService(newFakeRegRepo())
		_, err := s.Register(context.Background(), 1, "Alice", "", "wrong-code")
		assertAPIErrorCode(t, err, model.ErrCodeInvalidJoinCode)
	})

	t.Run("受付停止中", func(t *testing.T) {
		s := newTestService(newFakeRegRepo())
		s.SetSignupsOpen(false)
		_, err := s.Register(context.Background(), 1, "Alice", "", "secret-code")
		assertAPIErrorCode(t, err, model.ErrCodeSignupsClosed)
	})

	t.Run("二重登録", func(t *testing.T) {
		repo := newFakeRegRepo()
		s := newTestService(repo)
		if _, err := s.Register(context.Background(), 1, "Alice", "", "secret-code"); err != nil {
			t.Fatalf("1回目の登録が失敗しました: %v", err)
		}
		_, err := s.Register(context.Background(), 1, "Alice", "", "secret-code")
		assertAPIErrorCode(t, err, model.ErrCodeAlreadyRegistered)
	})

	t.Run("BAN済み", func(t *testing.T) {
		repo := newFakeRegRepo()
		repo.regs[1] = &model.Registration{UserID: 1, DisplayName: "Alice", Status: model.StatusRemoved, Banned: true}
		s := newTestService(repo)
		_, err := s.Register(context.Background(), 1, "Alice", "", "secret-code")
		assertAPIErrorCode(t, err, model.ErrCodeUserBanned)
	})
}

// TestService_ReRegisterAfterLeave は解除済みユーザーの再登録を検証する。
func TestService_ReRegisterAfterLeave(t *testing.T) {
	repo := newFakeRegRepo()
	s := newTestService(repo)

	if _, err := s.Register(context.Background(), 1, "Alice", "Alice#1", "secret-code"); err != nil {
		t.Fatalf("登録が失敗しました: %v", err)
	}
	if err := s.Unregister(context.Background(), 1); err != nil {
		t.Fatalf("解除が失敗しました: %v", err)
	}

	reg, err := s.Register(context.Background(), 1, "Alice2", "Alice#2", "secret-code")
	if err != nil {
		t.Fatalf("再登録が失敗しました: %v", err)
	}
	if reg.MatcherinoUsername != "Alice#2" {
		t.Errorf("Matcherinoユーザー名が更新されていません: %q", reg.MatcherinoUsername)
	}
	if stored := repo.regs[1]; stored.Status != model.StatusPending || stored.TeamName != "" {
		t.Errorf("再登録後の状態 = %+v", stored)
	}
}

// TestService_Unregister は登録解除を検証する。
func TestService_Unregister(t *testing.T) {
	repo := newFakeRegRepo()
	s := newTestService(repo)

	if err := s.Unregister(context.Background(), 42); err == nil {
		t.Error("未登録ユーザーの解除がエラーになりません")
	} else {
		assertAPIErrorCode(t, err, model.ErrCodeNotRegistered)
	}

	if _, err := s.Register(context.Background(), 1, "Alice", "", "secret-code"); err != nil {
		t.Fatalf("登録が失敗しました: %v", err)
	}
	if err := s.Unregister(context.Background(), 1); err != nil {
		t.Fatalf("解除が失敗しました: %v", err)
	}
	if repo.regs[1].Status != model.StatusRemoved {
		t.Errorf("解除後のstatus = %v", repo.regs[1].Status)
	}
}

// TestService_BanAndUnban はBANと解除のライフサイクルを検証する。
func TestService_BanAndUnban(t *testing.T) {
	repo := newFakeRegRepo()
	s := newTestService(repo)

	if _, err := s.Register(context.Background(), 1, "Alice", "", "secret-code"); err != nil {
		t.Fatalf("登録が失敗しました: %v", err)
	}

	if err := s.Ban(context.Background(), 1); err != nil {
		t.Fatalf("Banがエラーを返しました: %v", err)
	}
	stored := repo.regs[1]
	if !stored.Banned || stored.Status != model.StatusRemoved {
		t.Errorf("BAN後の状態 = %+v", stored)
	}

	// BAN中は再登録できない
	_, err := s.Register(context.Background(), 1, "Alice", "", "secret-code")
	assertAPIErrorCode(t, err, model.ErrCodeUserBanned)

	// BAN解除後は再登録できる（登録自体は自動復活しない）
	if err := s.Unban(context.Background(), 1); err != nil {
		t.Fatalf("Unbanがエラーを返しました: %v", err)
	}
	if repo.regs[1].Status != model.StatusRemoved {
		t.Error("Unbanが登録を復活させました")
	}
	if _, err := s.Register(context.Background(), 1, "Alice", "", "secret-code"); err != nil {
		t.Errorf("BAN解除後の再登録が失敗しました: %v", err)
	}
}

// TestService_BanUnregisteredUser は未登録ユーザーへの事前BANを検証する。
func TestService_BanUnregisteredUser(t *testing.T) {
	repo := newFakeRegRepo()
	s := newTestService(repo)

	if err := s.Ban(context.Background(), 99); err != nil {
		t.Fatalf("事前BANがエラーを返しました: %v", err)
	}

	stored := repo.regs[99]
	if stored == nil || !stored.Banned || stored.Active() {
		t.Errorf("事前BAN後の状態 = %+v", stored)
	}

	_, err := s.Register(context.Background(), 99, "Troll", "", "secret-code")
	assertAPIErrorCode(t, err, model.ErrCodeUserBanned)
}

// TestService_TeamOf はチーム照会を検証する。
func TestService_TeamOf(t *testing.T) {
	repo := newFakeRegRepo()
	repo.regs[1] = &model.Registration{UserID: 1, DisplayName: "Alice", TeamName: "Team Alpha", Status: model.StatusConfirmed}
	repo.regs[2] = &model.Registration{UserID: 2, DisplayName: "Bob", TeamName: "Team Alpha", Status: model.StatusConfirmed}
	repo.regs[3] = &model.Registration{UserID: 3, DisplayName: "Carol", Status: model.StatusPending}
	s := newTestService(repo)

	teamName, members, err := s.TeamOf(context.Background(), 1)
	if err != nil {
		t.Fatalf("TeamOfがエラーを返しました: %v", err)
	}
	if teamName != "Team Alpha" {
		t.Errorf("チーム名 = %q", teamName)
	}
	if len(members) != 2 {
		t.Errorf("メンバー数 = %d, 期待値 2", len(members))
	}

	// 未所属ユーザー
	_, _, err = s.TeamOf(context.Background(), 3)
	assertAPIErrorCode(t, err, model.ErrCodeNoTeam)

	// 未登録ユーザー
	_, _, err = s.TeamOf(context.Background(), 42)
	assertAPIErrorCode(t, err, model.ErrCodeNotRegistered)
}

// TestService_VerifyUsername はMatcherinoユーザー名の実在検証を検証する。
func TestService_VerifyUsername(t *testing.T) {
	participants := &fakeParticipants{
		participants: []matcherino.Participant{
			{DisplayName: "Alice", ExternalMemberID: "1234"},
			{DisplayName: "Bob", ExternalMemberID: "5678"},
		},
	}
	s := NewService(newFakeRegRepo(), participants, "cup2026", "secret-code", true)

	valid, err := s.VerifyUsername(context.Background(), "Alice#1234")
	if err != nil {
		t.Fatalf("VerifyUsernameがエラーを返しました: %v", err)
	}
	if !valid {
		t.Error("実在するユーザー名がvalid=falseです")
	}

	// 大文字小文字は区別しない
	valid, err = s.VerifyUsername(context.Background(), "alice#1234")
	if err != nil || !valid {
		t.Errorf("大文字小文字違いで valid=%v, err=%v", valid, err)
	}

	valid, err = s.VerifyUsername(context.Background(), "Mallory#0000")
	if err != nil {
		t.Fatalf("VerifyUsernameがエラーを返しました: %v", err)
	}
	if valid {
		t.Error("実在しないユーザー名がvalid=trueです")
	}
}

// TestService_ExportCSV はCSVエクスポートの内容を検証する。
func TestService_ExportCSV(t *testing.T) {
	repo := newFakeRegRepo()
	repo.regs[1] = &model.Registration{UserID: 1, DisplayName: "Alice", MatcherinoUsername: "Alice#1", TeamName: "Team Alpha", Status: model.StatusConfirmed}
	s := newTestService(repo)

	var buf bytes.Buffer
	if err := s.ExportCSV(context.Background(), &buf); err != nil {
		t.Fatalf("ExportCSVがエラーを返しました: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("行数 = %d, 期待値 2（ヘッダ+1件）: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "user_id,display_name") {
		t.Errorf("ヘッダ行 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Alice") || !strings.Contains(lines[1], "Team Alpha") {
		t.Errorf("データ行 = %q", lines[1])
	}
}

// assertAPIErrorCode はエラーが指定コードのAPIErrorであることを検証する。
func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorが返されませんでした: %v", err)
	}
	if apiErr.Code != code {
		t.Errorf("エラーコード = %q, 期待値 %q", apiErr.Code, code)
	}
}
