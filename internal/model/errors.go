// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// FetchErrorKind はフェッチ失敗の分類を表す。
type FetchErrorKind string

const (
	// FetchErrorNetwork はネットワークエラー・タイムアウト。
	FetchErrorNetwork FetchErrorKind = "network"
	// FetchErrorRateLimited はレート制限応答（リトライ予算超過後）。
	FetchErrorRateLimited FetchErrorKind = "rate_limited"
	// FetchErrorClient は4xx応答。
	FetchErrorClient FetchErrorKind = "client"
	// FetchErrorServer は5xx応答（リトライ予算超過後）。
	FetchErrorServer FetchErrorKind = "server"
)

// FetchError は外部プラットフォームからの取得失敗を表す。
// リトライ予算を使い切った後にのみ返される。部分データは返さない。
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int // HTTP応答がない場合は0
	Attempts   int
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("フェッチに失敗しました (%s, status=%d, attempts=%d): %v", e.Kind, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("フェッチに失敗しました (%s, attempts=%d): %v", e.Kind, e.Attempts, e.Err)
}

// Unwrap は内包するエラーを返す。
func (e *FetchError) Unwrap() error { return e.Err }

// ParseError はペイロードのルート構造が認識不能な場合のエラーを表す。
// 個別レコードのパース失敗はエラーにせずスキップ数として数える。
type ParseError struct {
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *ParseError) Error() string {
	return fmt.Sprintf("ペイロードを解析できません: %s", e.Reason)
}

// PersistenceError は同期計画の適用失敗を表す。
// トランザクション全体がロールバックされ、部分適用は発生しない。
type PersistenceError struct {
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("同期計画の適用に失敗しました: %v", e.Err)
}

// Unwrap は内包するエラーを返す。
func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrSyncInProgress は同一大会の同期が既に実行中の場合に返される。
// キューイングせず即時に拒否する。
var ErrSyncInProgress = errors.New("この大会の同期は既に実行中です")

// APIError は統一エラーフォーマットを表す。
// ボット経由でユーザーに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: registration, validation, sync, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAlreadyRegistered = "ALREADY_REGISTERED"
	ErrCodeNotRegistered     = "NOT_REGISTERED"
	ErrCodeSignupsClosed     = "SIGNUPS_CLOSED"
	ErrCodeInvalidJoinCode   = "INVALID_JOIN_CODE"
	ErrCodeUserBanned        = "USER_BANNED"
	ErrCodeSyncInProgress    = "SYNC_IN_PROGRESS"
	ErrCodeNoTeam            = "NO_TEAM"
)

// NewAlreadyRegisteredError は二重登録エラーを生成する。
func NewAlreadyRegisteredError(userID int64) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyRegistered,
		Message:  fmt.Sprintf("ユーザー %d は既に登録済みです。", userID),
		Category: "registration",
		Action:   "Matcherinoユーザー名を変更したい場合は一度登録を解除してください。",
	}
}

// NewNotRegisteredError は未登録エラーを生成する。
func NewNotRegisteredError(userID int64) *APIError {
	return &APIError{
		Code:     ErrCodeNotRegistered,
		Message:  fmt.Sprintf("ユーザー %d は登録されていません。", userID),
		Category: "registration",
		Action:   "先に登録を行ってください。",
	}
}

// NewSignupsClosedError は受付停止中エラーを生成する。
func NewSignupsClosedError() *APIError {
	return &APIError{
		Code:     ErrCodeSignupsClosed,
		Message:  "現在、新規登録の受付を停止しています。",
		Category: "registration",
		Action:   "受付再開のアナウンスをお待ちください。",
	}
}

// NewInvalidJoinCodeError は参加コード不一致エラーを生成する。
func NewInvalidJoinCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidJoinCode,
		Message:  "参加コードが正しくありません。",
		Category: "validation",
		Action:   "大会アナウンスに記載された参加コードを確認してください。",
	}
}

// NewUserBannedError はBAN済みユーザーの登録試行エラーを生成する。
func NewUserBannedError(userID int64) *APIError {
	return &APIError{
		Code:     ErrCodeUserBanned,
		Message:  fmt.Sprintf("ユーザー %d は大会への参加を禁止されています。", userID),
		Category: "registration",
		Action:   "心当たりがない場合は運営に問い合わせてください。",
	}
}

// NewSyncInProgressError は同期実行中エラーを生成する。
func NewSyncInProgressError(tournamentID string) *APIError {
	return &APIError{
		Code:     ErrCodeSyncInProgress,
		Message:  fmt.Sprintf("大会 %s の同期は既に実行中です。", tournamentID),
		Category: "sync",
		Action:   "実行中の同期が完了してから再度お試しください。",
	}
}

// NewNoTeamError はチーム未所属エラーを生成する。
func NewNoTeamError(userID int64) *APIError {
	return &APIError{
		Code:     ErrCodeNoTeam,
		Message:  fmt.Sprintf("ユーザー %d はどのチームにも所属していません。", userID),
		Category: "registration",
		Action:   "Matcherino側でチームに参加した後、次回の同期をお待ちください。",
	}
}
