// Package middleware はHTTPミドルウェアを提供する。
// 管理トークン認証、レート制限、構造化ログ、panic回復を含む。
package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// contextKey はコンテキストキーの衝突を避けるための専用型。
type contextKey string

// callerIDKey は操作主体（ボット経由のエンドユーザー）のコンテキストキー。
const callerIDKey contextKey = "caller_id"

// callerIDHeader はボットが操作主体のユーザーIDを申告するヘッダ。
const callerIDHeader = "X-Caller-ID"

// ErrCallerIDNotFound はコンテキストに操作主体IDがない場合のエラー。
var ErrCallerIDNotFound = errors.New("操作主体IDがコンテキストにありません")

// CallerIDFromContext はコンテキストから操作主体IDを取り出す。
func CallerIDFromContext(ctx context.Context) (string, error) {
	callerID, ok := ctx.Value(callerIDKey).(string)
	if !ok || callerID == "" {
		return "", ErrCallerIDNotFound
	}
	return callerID, nil
}

// ContextWithCallerID は操作主体IDを載せたコンテキストを返す。テスト用。
func ContextWithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerIDKey, callerID)
}

// NewAuthMiddleware は管理トークン認証ミドルウェアを返す。
// Authorization: Bearer <token> を定数時間比較で検証し、
// X-Caller-IDヘッダがあれば操作主体IDとしてコンテキストに載せる。
// このAPIはチャットボットだけが呼ぶ前提で、エンドユーザーの認証は
// ボット側（チャットプラットフォーム）が済ませている。
func NewAuthMiddleware(adminToken string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="teamsync"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			if callerID := r.Header.Get(callerIDHeader); callerID != "" {
				ctx = ContextWithCallerID(ctx, callerID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken はAuthorizationヘッダからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}
