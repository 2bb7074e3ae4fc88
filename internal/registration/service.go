// Package registration は大会参加登録のドメインロジックを提供する。
package registration

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	stdsync "sync"
	"time"

	"github.com/hitoshi/teamsync/internal/matcherino"
	"github.com/hitoshi/teamsync/internal/model"
	"github.com/hitoshi/teamsync/internal/reconcile"
	"github.com/hitoshi/teamsync/internal/repository"
)

// ParticipantSource は大会の個人参加者一覧を提供する。
// Matcherinoユーザー名の実在検証に使用する。
type ParticipantSource interface {
	FetchParticipants(ctx context.Context, bountyID string) ([]matcherino.Participant, error)
}

// Service は参加登録のサービス層。
// 登録・解除・BAN・チーム照会・CSVエクスポートのビジネスロジックを提供する。
type Service struct {
	regRepo      repository.RegistrationRepository
	participants ParticipantSource
	tournamentID string
	joinCode     string

	mu          stdsync.Mutex
	signupsOpen bool
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	regRepo repository.RegistrationRepository,
	participants ParticipantSource,
	tournamentID string,
	joinCode string,
	signupsOpen bool,
) *Service {
	return &Service{
		regRepo:      regRepo,
		participants: participants,
		tournamentID: tournamentID,
		joinCode:     joinCode,
		signupsOpen:  signupsOpen,
	}
}

// SignupsOpen は新規登録を受け付けているかを返す。
func (s *Service) SignupsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signupsOpen
}

// SetSignupsOpen は新規登録の受付状態を切り替える。
// 既存の登録と同期には影響しない。
func (s *Service) SetSignupsOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signupsOpen = open
}

// Register は新規登録を作成する。
// 受付停止中・参加コード不一致・BAN済み・二重登録はAPIErrorで拒否する。
// 論理削除済みユーザーの再登録は許可し、statusをpendingへ戻す。
func (s *Service) Register(ctx context.Context, userID int64, displayName, matcherinoUsername, joinCode string) (*model.Registration, error) {
	if !s.SignupsOpen() {
		return nil, model.NewSignupsClosedError()
	}
	if joinCode != s.joinCode {
		return nil, model.NewInvalidJoinCodeError()
	}

	existing, err := s.regRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("登録の取得に失敗しました: %w", err)
	}
	if existing != nil {
		if existing.Banned {
			return nil, model.NewUserBannedError(userID)
		}
		if existing.Active() {
			return nil, model.NewAlreadyRegisteredError(userID)
		}
	}

	reg := &model.Registration{
		UserID:             userID,
		DisplayName:        displayName,
		MatcherinoUsername: matcherinoUsername,
		Status:             model.StatusPending,
		JoinCode:           joinCode,
		RegisteredAt:       time.Now(),
	}
	if err := s.regRepo.Upsert(ctx, reg); err != nil {
		return nil, fmt.Errorf("登録の作成に失敗しました: %w", err)
	}

	return reg, nil
}

// Unregister は登録を解除する。論理削除のみで物理削除はしない。
func (s *Service) Unregister(ctx context.Context, userID int64) error {
	deleted, err := s.regRepo.SoftDelete(ctx, userID)
	if err != nil {
		return fmt.Errorf("登録の解除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotRegisteredError(userID)
	}

	return nil
}

// Ban はユーザーを大会から追放する。登録があれば解除し、以後の再登録を
// 拒否する。未登録ユーザーへの事前BANにも対応する（BANフラグ付きの
// removed行を作成する）。
func (s *Service) Ban(ctx context.Context, userID int64) error {
	existing, err := s.regRepo.FindByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("登録の取得に失敗しました: %w", err)
	}

	if existing == nil {
		// BANフラグを載せる行がないため、removedのプレースホルダを作る
		placeholder := &model.Registration{
			UserID:       userID,
			DisplayName:  strconv.FormatInt(userID, 10),
			Status:       model.StatusPending,
			RegisteredAt: time.Now(),
		}
		if err := s.regRepo.Upsert(ctx, placeholder); err != nil {
			return fmt.Errorf("BAN行の作成に失敗しました: %w", err)
		}
	}

	if existing == nil || existing.Active() {
		if _, err := s.regRepo.SoftDelete(ctx, userID); err != nil {
			return fmt.Errorf("BANに伴う登録解除に失敗しました: %w", err)
		}
	}

	if _, err := s.regRepo.SetBanned(ctx, userID, true); err != nil {
		return fmt.Errorf("BANフラグの設定に失敗しました: %w", err)
	}

	return nil
}

// Unban はBANを解除する。登録自体は復活させず、ユーザーが改めて
// 登録し直す必要がある。
func (s *Service) Unban(ctx context.Context, userID int64) error {
	updated, err := s.regRepo.SetBanned(ctx, userID, false)
	if err != nil {
		return fmt.Errorf("BAN解除に失敗しました: %w", err)
	}
	if !updated {
		return model.NewNotRegisteredError(userID)
	}

	return nil
}

// Status は指定ユーザーの登録を返す。未登録・解除済みはAPIErrorになる。
func (s *Service) Status(ctx context.Context, userID int64) (*model.Registration, error) {
	reg, err := s.regRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("登録の取得に失敗しました: %w", err)
	}
	if reg == nil || !reg.Active() {
		return nil, model.NewNotRegisteredError(userID)
	}

	return reg, nil
}

// TeamOf は指定ユーザーの所属チーム名とチームメイト一覧を返す。
// ロースター未所属の場合はNO_TEAMエラーになる。
func (s *Service) TeamOf(ctx context.Context, userID int64) (string, []*model.Registration, error) {
	reg, err := s.Status(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if reg.TeamName == "" {
		return "", nil, model.NewNoTeamError(userID)
	}

	members, err := s.regRepo.ListByTeam(ctx, reg.TeamName)
	if err != nil {
		return "", nil, fmt.Errorf("チームメンバーの取得に失敗しました: %w", err)
	}

	return reg.TeamName, members, nil
}

// TeamMembers は指定チームの所属メンバー一覧を返す。
func (s *Service) TeamMembers(ctx context.Context, teamName string) ([]*model.Registration, error) {
	members, err := s.regRepo.ListByTeam(ctx, teamName)
	if err != nil {
		return nil, fmt.Errorf("チームメンバーの取得に失敗しました: %w", err)
	}

	return members, nil
}

// ListAll は全登録をuser_id昇順で返す（removed含む）。管理用。
func (s *Service) ListAll(ctx context.Context) ([]*model.Registration, error) {
	regs, err := s.regRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("登録一覧の取得に失敗しました: %w", err)
	}

	return regs, nil
}

// VerifyUsername は申告されたMatcherinoユーザー名が大会の参加者一覧に
// 実在するかを検証する。ユーザー名は「表示名#ID」形式で比較する。
func (s *Service) VerifyUsername(ctx context.Context, matcherinoUsername string) (bool, error) {
	participants, err := s.participants.FetchParticipants(ctx, s.tournamentID)
	if err != nil {
		return false, fmt.Errorf("参加者一覧の取得に失敗しました: %w", err)
	}

	want := reconcile.NormalizeName(matcherinoUsername)
	for _, p := range participants {
		formatted := reconcile.FormatUsername(p.DisplayName, p.ExternalMemberID)
		if reconcile.NormalizeName(formatted) == want {
			return true, nil
		}
	}

	return false, nil
}

// ExportCSV は全登録をCSV形式で書き出す。管理者向けのエクスポート機能。
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	regs, err := s.regRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("登録一覧の取得に失敗しました: %w", err)
	}

	writer := csv.NewWriter(w)
	header := []string{"user_id", "display_name", "matcherino_username", "team_name", "status", "banned", "registered_at", "last_synced_at"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("CSVヘッダの書き込みに失敗しました: %w", err)
	}

	for _, reg := range regs {
		lastSynced := ""
		if reg.LastSyncedAt != nil {
			lastSynced = reg.LastSyncedAt.Format(time.RFC3339)
		}
		record := []string{
			strconv.FormatInt(reg.UserID, 10),
			reg.DisplayName,
			reg.MatcherinoUsername,
			reg.TeamName,
			string(reg.Status),
			strconv.FormatBool(reg.Banned),
			reg.RegisteredAt.Format(time.RFC3339),
			lastSynced,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("CSV行の書き込みに失敗しました: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSVの書き出しに失敗しました: %w", err)
	}

	return nil
}
