package matcherino

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/teamsync/internal/model"
)

const (
	// maxBackoff は1回のリトライ待ちの上限。
	maxBackoff = 30 * time.Second
	// maxRetryAfter はRetry-Afterヘッダ指定を受け入れる上限。
	// これを超える指定はサーバー側の異常とみなしバックオフ既定値を使う。
	maxRetryAfter = 2 * time.Minute
)

// isRetryable は失敗がリトライ対象かを判定する。
// ネットワークエラー、429、5xxはリトライ対象。その他の4xxは対象外。
func isRetryable(statusCode int, err error) bool {
	if err != nil {
		return true
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 500:
		return true
	default:
		return false
	}
}

// kindForStatus はHTTPステータスコードをFetchErrorKindに分類する。
// ステータスがない（ネットワークエラー）場合は0を渡す。
func kindForStatus(statusCode int) model.FetchErrorKind {
	switch {
	case statusCode == 0:
		return model.FetchErrorNetwork
	case statusCode == http.StatusTooManyRequests:
		return model.FetchErrorRateLimited
	case statusCode >= 500:
		return model.FetchErrorServer
	default:
		return model.FetchErrorClient
	}
}

// backoffDelay は失敗回数に基づく指数バックオフ遅延を計算する。
// base、base*2、base*4、…と増加し、maxBackoffで頭打ちになる。
func backoffDelay(base time.Duration, failures int) time.Duration {
	delay := base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// retryAfterDelay はRetry-Afterヘッダ値から待ち時間を決定する。
// 秒数形式とHTTP日付形式の両方に対応し、解釈できない場合や
// 上限を超える場合はfallbackを返す。
func retryAfterDelay(header string, fallback time.Duration) time.Duration {
	if header == "" {
		return fallback
	}

	if secs, err := strconv.Atoi(header); err == nil {
		d := time.Duration(secs) * time.Second
		if d > 0 && d <= maxRetryAfter {
			return d
		}
		return fallback
	}

	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d > 0 && d <= maxRetryAfter {
			return d
		}
	}

	return fallback
}
