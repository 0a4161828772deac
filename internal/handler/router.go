package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/onthemap/internal/metrics"
	"github.com/hitoshi/onthemap/internal/middleware"
	"github.com/hitoshi/onthemap/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SessionProvider   middleware.SessionProvider
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface

	// 位置情報
	LocationService LocationServiceInterface
	Sanitizer       security.TextSanitizer

	// メトリクス。nilの場合は/metricsを提供しない
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → RateLimit(General)
//	/api 配下: CSRF → Session（ログイン以外）→ RateLimit(PinPost、投稿のみ)
//
// /health と /metrics はCSRF・セッションの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CSRFConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(deps.RateLimiter.GeneralMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.Logger)
	locationHandler := NewLocationHandler(deps.LocationService, deps.Sanitizer, deps.Logger)

	r.Get("/health", Health)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		// --- ログイン不要のルート ---
		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
		r.Post("/session", authHandler.Login)

		// --- ログインが必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionProvider))

			r.Get("/session", authHandler.Me)
			r.Delete("/session", authHandler.Logout)

			r.Get("/locations", locationHandler.ListLocations)
			r.Post("/locations/refresh", locationHandler.RefreshLocations)
			r.Post("/geocode", locationHandler.Geocode)

			// POST /api/pins - 新規投稿（投稿専用レート制限を追加）
			r.With(deps.RateLimiter.PinPostMiddleware()).Post("/pins", locationHandler.SubmitPin)
		})
	})

	return r
}
