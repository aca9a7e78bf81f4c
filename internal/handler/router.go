package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/babyfamily/internal/metrics"
	"github.com/hitoshi/babyfamily/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通確認する依存先。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	HealthChecker     HealthChecker

	// メトリクス
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer

	// サービス
	AuthService       AuthServiceInterface
	UserService       UserServiceInterface
	FamilyService     FamilyServiceInterface
	InvitationService InvitationServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → Metrics → CORS → Session → RateLimit(General)
//
// ログイン・セッション確認・ヘルスチェックはSession以降のチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(metrics.NewStatusMiddleware(collector))
	if deps.CORSAllowedOrigin != "" {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	}

	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService)
	babyHandler := NewBabyHandler(deps.FamilyService)
	memberHandler := NewMemberHandler(deps.FamilyService)
	invitationHandler := NewInvitationHandler(deps.InvitationService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	r.Post("/auth/login", authHandler.Login)
	r.Get("/auth/check-session", authHandler.CheckSession)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.AuthService))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/auth/logout", authHandler.Logout)

		// ユーザー
		r.Route("/api/users/me", func(r chi.Router) {
			r.Get("/", userHandler.GetMe)
			r.Patch("/", userHandler.UpdateMe)
		})

		// 赤ちゃん・家族メンバー・招待管理
		r.Route("/api/babies", func(r chi.Router) {
			r.Get("/", babyHandler.ListBabies)
			r.Post("/", babyHandler.CreateBaby)

			r.Route("/{babyID}", func(r chi.Router) {
				r.Get("/", babyHandler.GetBaby)
				r.Patch("/", babyHandler.UpdateBaby)
				r.Delete("/", babyHandler.DeleteBaby)

				r.Route("/members", func(r chi.Router) {
					r.Get("/", memberHandler.ListMembers)
					r.Post("/", memberHandler.AddMember)
					r.Patch("/{userID}", memberHandler.UpdateMember)
					r.Delete("/{userID}", memberHandler.RemoveMember)
				})

				r.Route("/invitations", func(r chi.Router) {
					r.Get("/", invitationHandler.ListInvitations)
					r.Post("/", invitationHandler.CreateInvitation)
					r.Delete("/{invitationID}", invitationHandler.DeleteInvitation)
					r.Get("/{invitationID}/qrcode", invitationHandler.QRCode)
				})
			})
		})

		// 招待コードの参照・引き換え
		r.Route("/api/invitations", func(r chi.Router) {
			r.Get("/resolve", invitationHandler.Resolve)
			// POST /api/invitations/join - 引き換え専用レート制限を追加
			r.With(deps.RateLimiter.RedeemMiddleware()).Post("/join", invitationHandler.Join)
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.ErrorContext(r.Context(), "health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
