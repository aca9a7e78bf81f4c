// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/babyfamily/internal/access"
	"github.com/hitoshi/babyfamily/internal/auth"
	"github.com/hitoshi/babyfamily/internal/clock"
	"github.com/hitoshi/babyfamily/internal/config"
	"github.com/hitoshi/babyfamily/internal/database"
	"github.com/hitoshi/babyfamily/internal/family"
	"github.com/hitoshi/babyfamily/internal/handler"
	"github.com/hitoshi/babyfamily/internal/invitation"
	"github.com/hitoshi/babyfamily/internal/logger"
	"github.com/hitoshi/babyfamily/internal/metrics"
	"github.com/hitoshi/babyfamily/internal/middleware"
	"github.com/hitoshi/babyfamily/internal/repository"
	"github.com/hitoshi/babyfamily/internal/security"
	"github.com/hitoshi/babyfamily/internal/user"
	"github.com/hitoshi/babyfamily/internal/wechat"
	"github.com/hitoshi/babyfamily/internal/worker/cleanup"
)

// dbPool はAPIサーバー・ワーカー共通のコネクションプール設定。
var dbPool = database.PoolConfig{
	MaxOpenConns:    20,
	MaxIdleConns:    5,
	ConnMaxLifetime: 30 * time.Minute,
}

// cleanupInterval はセッションクリーンアップジョブの実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

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
		slog.String("token_cache", cfg.TokenCacheBackend),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, dbPool)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// newTokenStore は設定されたバックエンドのアクセストークンストアを生成する。
// 返されるclose関数はRedisクライアントなど追加で開いた接続を閉じる。
func newTokenStore(cfg *config.Config, db *sql.DB, clk clock.Clock) (repository.AccessTokenStore, func() error, error) {
	switch cfg.TokenCacheBackend {
	case config.TokenCacheBackendRedis:
		client, err := repository.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		return repository.NewRedisTokenStore(client, clk), client.Close, nil
	default:
		return repository.NewPostgresTokenStore(db), func() error { return nil }, nil
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. 外部API送信先の検証
	egress := security.NewEgressGuard()
	if err := egress.ValidateBaseURL(cfg.WeChatAPIBaseURL); err != nil {
		return fmt.Errorf("invalid WECHAT_API_BASE_URL: %w", err)
	}

	// 2. DB接続
	db, err := openDB(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	clk := clock.SystemClock{}

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	babyRepo := repository.NewPostgresBabyRepo(db)
	membershipRepo := repository.NewPostgresMembershipRepo(db)
	invitationRepo := repository.NewPostgresInvitationRepo(db)

	tokenStore, closeTokenStore, err := newTokenStore(cfg, db, clk)
	if err != nil {
		return err
	}
	defer closeTokenStore()

	// 5. セキュリティサービスの初期化
	sanitizer := security.NewTextSanitizer()

	// 6. WeChat連携
	wxClient := wechat.NewClient(wechat.Config{
		AppID:      cfg.WeChatAppID,
		AppSecret:  cfg.WeChatAppSecret,
		BaseURL:    cfg.WeChatAPIBaseURL,
		HTTPClient: egress.NewSafeClient(cfg.WeChatHTTPTimeout),
	})
	tokenService := wechat.NewTokenService(
		wechat.TokenServiceConfig{
			AppID:        cfg.WeChatAppID,
			SafetyMargin: cfg.TokenSafetyMargin,
			MinTTL:       cfg.TokenMinTTL,
		},
		tokenStore, wxClient, clk, collector,
	)
	qrService := wechat.NewQRCodeService(tokenService, wxClient, cfg.WeChatQRCodePage)

	// 7. ドメインサービスの初期化
	gate := access.NewGate(membershipRepo, collector)

	authService := auth.NewService(
		wxClient, userRepo, sessionRepo, clk, collector,
		auth.ServiceConfig{SessionValidity: cfg.SessionValidity},
	)
	familyService := family.NewService(babyRepo, membershipRepo, userRepo, gate, sanitizer, clk)
	invitationService := invitation.NewService(
		invitationRepo, babyRepo, gate, qrService, sanitizer, clk, collector,
		invitation.Config{
			DefaultValidDays: cfg.InvitationValidDays,
			CodeLength:       cfg.InvitationCodeLength,
		},
	)
	userService := user.NewService(userRepo, sanitizer)

	// 8. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのレート制限はreq/min単位
	rateLimiterCfg.GeneralRate = middleware.PerMinute(cfg.RateLimitGeneral)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.RedeemRate = middleware.PerMinute(cfg.RateLimitRedeem)
	rateLimiterCfg.RedeemBurst = cfg.RateLimitRedeem
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     db,

		Metrics:         collector,
		MetricsGatherer: registry,

		AuthService:       authService,
		UserService:       userService,
		FamilyService:     familyService,
		InvitationService: invitationService,
	})

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
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
// DB接続を開き、期限切れセッションのクリーンアップジョブを日次で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	cleanupJob := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default(), clock.SystemClock{})
	cleanupJob.Retention = cfg.SessionRetention

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cleanupInterval),
		slog.Duration("session_retention", cfg.SessionRetention),
	)

	// ctxがキャンセルされるまでブロックする
	cleanupJob.Start(ctx, cleanupInterval)

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
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
