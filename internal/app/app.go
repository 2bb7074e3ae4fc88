// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/teamsync/internal/config"
	"github.com/hitoshi/teamsync/internal/database"
	"github.com/hitoshi/teamsync/internal/handler"
	"github.com/hitoshi/teamsync/internal/logger"
	"github.com/hitoshi/teamsync/internal/matcherino"
	"github.com/hitoshi/teamsync/internal/metrics"
	"github.com/hitoshi/teamsync/internal/middleware"
	"github.com/hitoshi/teamsync/internal/reconcile"
	"github.com/hitoshi/teamsync/internal/registration"
	"github.com/hitoshi/teamsync/internal/repository"
	"github.com/hitoshi/teamsync/internal/security"
	syncpkg "github.com/hitoshi/teamsync/internal/sync"
	"github.com/hitoshi/teamsync/internal/worker/syncjob"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("tournament_id", cfg.TournamentID),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// pipeline は同期パイプラインと周辺サービスを束ねる。
// serveモードとworkerモードの両方から使用する。
type pipeline struct {
	orchestrator *syncpkg.Orchestrator
	regService   *registration.Service
	regRepo      repository.RegistrationRepository
	runRepo      repository.SyncRunRepository
	registry     *prometheus.Registry
}

// buildPipeline は同期パイプライン全体の依存関係をワイヤリングする。
func buildPipeline(cfg *config.Config, db *sql.DB) (*pipeline, error) {
	log := slog.Default()

	// 1. セキュリティサービスの初期化
	urlGuard := security.NewURLGuard()
	if err := urlGuard.ValidateBaseURL(cfg.MatcherinoBaseURL); err != nil {
		return nil, fmt.Errorf("invalid Matcherino base URL: %w", err)
	}
	sanitizer := security.NewNameSanitizer()

	// 2. リポジトリの初期化
	regRepo := repository.NewPostgresRegistrationRepo(db)
	syncRepo := repository.NewPostgresSyncRepo(db)
	runRepo := repository.NewPostgresSyncRunRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 同期パイプラインの構築
	client := matcherino.NewClient(
		urlGuard.NewSafeClient(cfg.FetchTimeout),
		log,
		cfg.MatcherinoBaseURL,
		cfg.FetchMaxAttempts,
		cfg.FetchBackoffBase,
		cfg.FetchMaxSize,
	)
	parser := matcherino.NewParser(sanitizer, log)
	reconciler := reconcile.NewReconciler(reconcile.Policy{
		FuzzyThreshold: cfg.FuzzyThreshold,
		FuzzyMargin:    cfg.FuzzyMargin,
	}, log)
	persister := syncpkg.NewPersister(syncRepo, log)
	orchestrator := syncpkg.NewOrchestrator(
		client, parser, reconciler, persister,
		regRepo, runRepo, collector, log,
	)

	// 5. 登録サービスの初期化
	regService := registration.NewService(
		regRepo, client, cfg.TournamentID, cfg.JoinCode, cfg.SignupsOpen,
	)

	return &pipeline{
		orchestrator: orchestrator,
		regService:   regService,
		regRepo:      regRepo,
		runRepo:      runRepo,
		registry:     registry,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. パイプラインのワイヤリング
	p, err := buildPipeline(cfg, db)
	if err != nil {
		return err
	}

	// 3. レート制限の構成（configはreq/min単位なのでreq/secに変換）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.SyncRate = rate.Limit(float64(cfg.RateLimitSync) / 60.0)
	rateLimiterCfg.SyncBurst = cfg.RateLimitSync
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 4. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		AdminToken:  cfg.AdminToken,
		RateLimiter: rateLimiter,

		RegistrationService: p.regService,

		SyncRunner:   p.orchestrator,
		SyncRuns:     p.runRepo,
		TournamentID: cfg.TournamentID,

		DB:       db,
		Gatherer: p.registry,
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // 手動同期は外部APIのリトライ分まで待つ
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、定期同期ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. パイプラインのワイヤリング
	p, err := buildPipeline(cfg, db)
	if err != nil {
		return err
	}

	// 3. 定期同期ジョブの初期化
	job := syncjob.NewJob(p.orchestrator, cfg.TournamentID, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.String("tournament_id", cfg.TournamentID),
		slog.Duration("sync_interval", cfg.SyncInterval),
	)

	// 定期同期ジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.SyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
