// Package handler は管理APIのHTTPハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/HpilOsit/exloli-cat/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	AdminToken  string
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger

	// ヘルスチェック・メトリクス
	DB      Pinger
	Metrics http.Handler

	// ギャラリー操作
	Gallery *GalleryHandler

	// バッチ
	Batch *BatchHandler
}

// NewRouter は管理APIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → TokenAuth → RateLimit(General)
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.DB, deps.Logger))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: TokenAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewTokenAuthMiddleware(deps.AdminToken))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/galleries", func(r chi.Router) {
			r.Post("/upload", deps.Gallery.Upload)
			r.Post("/update", deps.Gallery.Update)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/republish", deps.Gallery.Republish)
				r.Put("/poll", deps.Gallery.PutVotes)
			})
		})

		// バッチ起動（バッチ専用レート制限を追加）
		r.Route("/api/batch", func(r chi.Router) {
			r.Use(deps.RateLimiter.BatchMiddleware())
			r.Post("/reupload", deps.Batch.Reupload)
			r.Post("/recheck", deps.Batch.Recheck)
		})
	})

	return r
}
