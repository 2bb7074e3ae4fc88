package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/teamsync/internal/metrics"
	"github.com/hitoshi/teamsync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	AdminToken  string
	RateLimiter *middleware.RateLimiter

	// 登録管理
	RegistrationService RegistrationServiceInterface

	// 同期
	SyncRunner   SyncRunnerInterface
	SyncRuns     SyncRunListerInterface
	TournamentID string

	// ヘルスチェック・メトリクス
	DB       Pinger
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Auth(管理トークン) → RateLimit(General)
//
// ヘルスチェック（/healthz）とメトリクス（/metrics）は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	regHandler := NewRegistrationHandler(deps.RegistrationService)
	syncHandler := NewSyncHandler(deps.SyncRunner, deps.SyncRuns, deps.TournamentID)
	healthHandler := NewHealthHandler(deps.DB)

	// --- 認証不要のルート ---

	r.Get("/healthz", healthHandler.Healthz)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.AdminToken))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 参加登録管理
		r.Route("/api/registrations", func(r chi.Router) {
			r.Get("/", regHandler.List)
			r.Post("/", regHandler.Register)
			r.Get("/export", regHandler.Export)
			r.Post("/verify", regHandler.VerifyUsername)

			r.Route("/{userID}", func(r chi.Router) {
				r.Get("/", regHandler.Status)
				r.Delete("/", regHandler.Unregister)
				r.Get("/team", regHandler.Team)
				r.Post("/ban", regHandler.Ban)
				r.Delete("/ban", regHandler.Unban)
			})
		})

		// チーム照会
		r.Get("/api/teams/{teamName}", regHandler.TeamMembers)

		// 受付状態の管理
		r.Route("/api/signups", func(r chi.Router) {
			r.Get("/", regHandler.GetSignups)
			r.Put("/", regHandler.SetSignups)
		})

		// 同期管理
		r.Route("/api/sync", func(r chi.Router) {
			// POST /api/sync - 手動同期（専用レート制限を追加）
			r.With(deps.RateLimiter.SyncMiddleware()).Post("/", syncHandler.Trigger)
			r.Get("/runs", syncHandler.ListRuns)
		})
	})

	return r
}
