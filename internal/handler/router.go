package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/timeclock/internal/middleware"
)

// HealthChecker はヘルスチェックで依存先の疎通を確認するインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	StatusObserver    middleware.StatusObserver // nilの場合はステータスを集計しない

	// 運用エンドポイント
	HealthChecker  HealthChecker // nilの場合は常に正常
	MetricsHandler http.Handler  // nilの場合は/metricsを公開しない

	// サービス
	AuthService   AuthServiceInterface
	RecordService RecordServiceInterface
	ShiftService  ShiftServiceInterface
	AdminService  AdminServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Auth → RateLimit(General) → [RequireAdmin | RateLimit(Stamp)]
//
// 登録・ログイン・時刻・運用エンドポイントは認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))

	authHandler := NewAuthHandler(deps.AuthService)
	recordHandler := NewRecordHandler(deps.RecordService)
	shiftHandler := NewShiftHandler(deps.ShiftService)
	adminHandler := NewAdminHandler(deps.AdminService)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Post("/api/signup", authHandler.Signup)
	r.Post("/api/login", authHandler.Login)
	r.Get("/api/time", authHandler.Time)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/api/logout", authHandler.Logout)

		r.Route("/api/records", func(r chi.Router) {
			// 打刻は専用のレート制限を追加
			r.With(deps.RateLimiter.StampMiddleware()).Post("/", recordHandler.Create)

			// 本人または管理者（認可はサービス層）
			r.Get("/{username}", recordHandler.ListByUser)
			r.Get("/{username}/latest", recordHandler.Latest)
			r.Get("/{username}/month/{month}/{year}", recordHandler.ListByUserAndMonth)

			// 管理者のみ
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin())
				r.Get("/", recordHandler.ListAll)
				r.Get("/latest-all", recordHandler.LatestAll)
				r.Get("/month/{month}/{year}", recordHandler.ListByMonth)
				r.Put("/{id}", recordHandler.Update)
				r.Delete("/{id}", recordHandler.Delete)
			})
		})

		r.Route("/api/shifts", func(r chi.Router) {
			r.Get("/{username}/month/{month}/{year}", shiftHandler.ListByUserAndMonth)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin())
				r.Get("/month/{month}/{year}", shiftHandler.ListByMonth)
				r.Put("/{id}", shiftHandler.Edit)
				r.Delete("/{id}", shiftHandler.Delete)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin())
			r.Get("/api/anomalies", adminHandler.Anomalies)
			r.Get("/api/audits", adminHandler.Audits)
		})
	})

	return r
}

// healthHandler は依存先の疎通を確認するハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
