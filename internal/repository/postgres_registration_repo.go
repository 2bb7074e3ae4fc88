package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/teamsync/internal/model"
)

// PostgresRegistrationRepo はPostgreSQLを使用した登録リポジトリ。
type PostgresRegistrationRepo struct {
	db *sql.DB
}

// NewPostgresRegistrationRepo はPostgresRegistrationRepoを生成する。
func NewPostgresRegistrationRepo(db *sql.DB) *PostgresRegistrationRepo {
	return &PostgresRegistrationRepo{db: db}
}

const registrationColumns = `user_id, display_name, matcherino_username, external_member_id,
	team_name, status, banned, join_code, registered_at, last_synced_at, updated_at`

// scanRegistration は1行を*model.Registrationに読み取る。
func scanRegistration(row interface{ Scan(...any) error }) (*model.Registration, error) {
	reg := &model.Registration{}
	var matcherinoUsername, externalMemberID, teamName, joinCode sql.NullString
	var lastSyncedAt sql.NullTime

	err := row.Scan(
		&reg.UserID, &reg.DisplayName, &matcherinoUsername, &externalMemberID,
		&teamName, &reg.Status, &reg.Banned, &joinCode,
		&reg.RegisteredAt, &lastSyncedAt, &reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	reg.MatcherinoUsername = matcherinoUsername.String
	reg.ExternalMemberID = externalMemberID.String
	reg.TeamName = teamName.String
	reg.JoinCode = joinCode.String
	if lastSyncedAt.Valid {
		t := lastSyncedAt.Time
		reg.LastSyncedAt = &t
	}

	return reg, nil
}

// FindByUserID は指定ユーザーIDの登録を取得する。見つからない場合はnilを返す。
func (r *PostgresRegistrationRepo) FindByUserID(ctx context.Context, userID int64) (*model.Registration, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE user_id = $1`,
		userID,
	)

	reg, err := scanRegistration(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find registration by user ID: %w", err)
	}

	return reg, nil
}

// ListActive は非removedの登録スナップショットをuser_id昇順で返す。
func (r *PostgresRegistrationRepo) ListActive(ctx context.Context) ([]*model.Registration, error) {
	return r.list(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE status <> 'removed' ORDER BY user_id`,
	)
}

// ListAll は全登録をuser_id昇順で返す（removed含む）。
func (r *PostgresRegistrationRepo) ListAll(ctx context.Context) ([]*model.Registration, error) {
	return r.list(ctx,
		`SELECT `+registrationColumns+` FROM registrations ORDER BY user_id`,
	)
}

// ListByTeam は指定チームに所属する非removedの登録をuser_id昇順で返す。
func (r *PostgresRegistrationRepo) ListByTeam(ctx context.Context, teamName string) ([]*model.Registration, error) {
	return r.list(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE status <> 'removed' AND team_name = $1 ORDER BY user_id`,
		teamName,
	)
}

func (r *PostgresRegistrationRepo) list(ctx context.Context, query string, args ...any) ([]*model.Registration, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	var regs []*model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate registrations: %w", err)
	}

	return regs, nil
}

// Upsert は登録を作成する。同一user_idの行が既にある場合は再登録として扱い、
// 表示名・Matcherinoユーザー名・参加コードを上書きしてstatusをpendingへ戻す。
// banned列は変更しない（BANはSetBannedのみで操作する）。
func (r *PostgresRegistrationRepo) Upsert(ctx context.Context, reg *model.Registration) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO registrations
			(user_id, display_name, matcherino_username, join_code, status, registered_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'pending', $5, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			matcherino_username = EXCLUDED.matcherino_username,
			join_code = EXCLUDED.join_code,
			status = 'pending',
			team_name = NULL,
			registered_at = EXCLUDED.registered_at,
			updated_at = EXCLUDED.updated_at`,
		reg.UserID, reg.DisplayName, nullString(reg.MatcherinoUsername),
		nullString(reg.JoinCode), reg.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert registration: %w", err)
	}

	return nil
}

// SoftDelete は登録をremovedに遷移させチーム紐付けを外す。
func (r *PostgresRegistrationRepo) SoftDelete(ctx context.Context, userID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE registrations
		 SET status = 'removed', team_name = NULL, updated_at = $2
		 WHERE user_id = $1 AND status <> 'removed'`,
		userID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to soft-delete registration: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// SetBanned はBANフラグを設定する。行が存在しない場合はfalseを返す。
func (r *PostgresRegistrationRepo) SetBanned(ctx context.Context, userID int64, banned bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE registrations SET banned = $2, updated_at = $3 WHERE user_id = $1`,
		userID, banned, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to set banned flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// nullString は空文字列をNULLに変換する。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ RegistrationRepository = (*PostgresRegistrationRepo)(nil)
