// Package matcherino はMatcherinoプラットフォームとの連携機能を提供する。
// 大会ロースターのフェッチ（リトライ/バックオフ付き）と、
// 取得ペイロードのScrapedTeam列への構造化を含む。
package matcherino

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/teamsync/internal/model"
)

const (
	// teamsPath はチーム情報取得APIのパス。shortlinkパラメータに大会IDを渡す。
	teamsPath = "/__api/bounties/findById"
	// participantsPath は個人参加者一覧APIのパス。ページングされる。
	participantsPath = "/__api/bounties/participants"
	// participantsPageSize は参加者APIの1ページあたりの件数。
	participantsPageSize = 500
	// userAgent は外部APIへのリクエストに付与するUA。
	userAgent = "Teamsync/1.0 Tournament Sync"
)

// Client はMatcherino APIのクライアント。
// 一時的な失敗（ネットワークエラー、5xx、429）は指数バックオフで
// 最大maxAttempts回までリトライし、予算を使い切った場合のみFetchErrorを
// 返す。部分データは返さない。429はRetry-Afterヘッダがあればその待ち時間に従う。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	baseURL     string // テスト用にエンドポイントを差し替え可能
	maxAttempts int
	backoffBase time.Duration
	maxBodySize int64
}

// NewClient はClientの新しいインスタンスを生成する。
// maxAttemptsが0以下の場合は4、backoffBaseが0以下の場合は500ms、
// maxBodySizeが0以下の場合は5MiBを使用する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, maxAttempts int, backoffBase time.Duration, maxBodySize int64) *Client {
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	if maxBodySize <= 0 {
		maxBodySize = 5 * 1024 * 1024
	}
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		baseURL:     baseURL,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		maxBodySize: maxBodySize,
	}
}

// FetchTeamsPayload は指定大会のチーム情報ペイロードを取得する。
// 戻り値は生のレスポンスボディであり、解釈はParserが行う。
func (c *Client) FetchTeamsPayload(ctx context.Context, tournamentID string) ([]byte, error) {
	q := url.Values{}
	q.Set("id", "0") // shortlink指定時は無視される
	q.Set("shortlink", tournamentID)

	return c.getWithRetry(ctx, teamsPath, q, tournamentID)
}

// participantsPage は参加者APIの1ページ分のレスポンス。
type participantsPage struct {
	Body struct {
		PageCount int `json:"pageCount"`
		Contents  []struct {
			DisplayName  string      `json:"displayName"`
			UserID       json.Number `json:"userId"`
			AuthProvider string      `json:"authProvider"`
			GameUsername string      `json:"gameUsername"`
		} `json:"contents"`
	} `json:"body"`
}

// Participant は大会への個人参加者を表す。登録時のMatcherinoユーザー名
// 検証に使用される。
type Participant struct {
	DisplayName      string
	ExternalMemberID string
	AuthProvider     string
	GameUsername     string
}

// FetchParticipants は大会の個人参加者を全ページ分取得する。
// 各ページの取得はチームペイロードと同じリトライ予算に従う。
func (c *Client) FetchParticipants(ctx context.Context, bountyID string) ([]Participant, error) {
	var participants []Participant

	page := 0
	totalPages := 1
	for page < totalPages {
		q := url.Values{}
		q.Set("bountyId", bountyID)
		q.Set("page", fmt.Sprintf("%d", page))
		q.Set("pageSize", fmt.Sprintf("%d", participantsPageSize))

		body, err := c.getWithRetry(ctx, participantsPath, q, bountyID)
		if err != nil {
			return nil, err
		}

		var parsed participantsPage
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, &model.ParseError{Reason: fmt.Sprintf("参加者APIのレスポンスがJSONとして解釈できません (page=%d)", page)}
		}

		if parsed.Body.PageCount > 0 {
			totalPages = parsed.Body.PageCount
		}

		for _, p := range parsed.Body.Contents {
			if p.DisplayName == "" {
				continue
			}
			participants = append(participants, Participant{
				DisplayName:      p.DisplayName,
				ExternalMemberID: p.UserID.String(),
				AuthProvider:     p.AuthProvider,
				GameUsername:     p.GameUsername,
			})
		}

		page++
	}

	return participants, nil
}

// getWithRetry はGETリクエストをリトライ付きで実行する。
// リトライ対象外の失敗（429以外の4xx）は即座にFetchErrorを返す。
func (c *Client) getWithRetry(ctx context.Context, path string, query url.Values, tournamentID string) ([]byte, error) {
	reqURL := c.baseURL + path + "?" + query.Encode()

	var lastStatus int
	var lastErr error
	var retryAfter string
	lastKind := model.FetchErrorNetwork

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(c.backoffBase, attempt-1)
			if lastStatus == http.StatusTooManyRequests {
				delay = retryAfterDelay(retryAfter, delay)
			}
			c.logger.Warn("フェッチをリトライします",
				slog.String("tournament_id", tournamentID),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return nil, &model.FetchError{Kind: model.FetchErrorNetwork, Attempts: attempt - 1, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		body, status, header, err := c.doGet(ctx, reqURL)
		if err == nil && status == http.StatusOK {
			return body, nil
		}

		lastStatus = status
		retryAfter = header
		lastKind = kindForStatus(status)
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("unexpected status %d", status)
		}

		if !isRetryable(status, err) {
			return nil, &model.FetchError{Kind: lastKind, StatusCode: status, Attempts: attempt, Err: lastErr}
		}

		c.logger.Warn("フェッチが一時的に失敗しました",
			slog.String("tournament_id", tournamentID),
			slog.Int("http_status", status),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
	}

	return nil, &model.FetchError{Kind: lastKind, StatusCode: lastStatus, Attempts: c.maxAttempts, Err: lastErr}
}

// doGet は1回のGETリクエストを実行する。
// 200以外のステータスではボディを読み捨て、Retry-Afterヘッダ値を返す。
func (c *Client) doGet(ctx context.Context, reqURL string) (body []byte, status int, retryAfter string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, resp.Header.Get("Retry-After"), nil
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	return body, resp.StatusCode, "", nil
}
