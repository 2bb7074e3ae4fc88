// Package model はドメインモデルを定義する。
package model

import "time"

// RegistrationStatus は登録レコードの状態を表す。
type RegistrationStatus string

const (
	// StatusPending は登録済みだがロースター未確定の状態。
	StatusPending RegistrationStatus = "pending"
	// StatusConfirmed は外部ロースターとの突合が取れた状態。
	StatusConfirmed RegistrationStatus = "confirmed"
	// StatusRemoved は論理削除された状態。物理削除は行わない。
	StatusRemoved RegistrationStatus = "removed"
)

// Registration はチャットプラットフォームのユーザーと大会参加の紐付けを表す。
// user_idごとに非removedの行は最大1件（user_idが主キーのため行自体も1件）。
type Registration struct {
	UserID             int64
	DisplayName        string
	MatcherinoUsername string // 登録時に申告された「表示名#ID」形式のユーザー名
	ExternalMemberID   string // Matcherino側のユーザーID。同期で確定した場合のみ保持
	TeamName           string // 空文字はロースター未所属（DB上はNULL）
	Status             RegistrationStatus
	Banned             bool
	JoinCode           string
	RegisteredAt       time.Time
	LastSyncedAt       *time.Time
	UpdatedAt          time.Time
}

// Active は登録が有効（論理削除されていない）かを返す。
func (r *Registration) Active() bool {
	return r.Status != StatusRemoved
}
