package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/propquant/courier/internal/metrics"
	"github.com/propquant/courier/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// 配信
	DeliveryService DeliveryServiceInterface

	// ヘルスチェック
	BotIdentity BotIdentity
	StartedAt   time.Time

	// メトリクス公開。nilの場合は/metricsを公開しない。
	Gatherer prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → SecurityHeadersMiddleware → LoggingMiddleware
//
// レート制限は/deliverにのみ適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	deliveryHandler := NewDeliveryHandler(deps.DeliveryService, deps.Logger)
	healthHandler := NewHealthHandler(deps.BotIdentity, deps.StartedAt)

	// 配信Webhook
	r.With(deps.RateLimiter.DeliverMiddleware()).Post("/deliver", deliveryHandler.Deliver)

	// ヘルスチェック
	r.Get("/", healthHandler.Health)
	r.Get("/health", healthHandler.Health)

	// Prometheusスクレイプ
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}
