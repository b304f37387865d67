package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oriys/stratus/internal/auth"
	"github.com/oriys/stratus/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter 组装完整的路由与中间件链。
// 日志流端点不挂超时中间件，其余端点统一 60 秒超时。
func NewRouter(h *Handler, ws *WSHandler, authMW *auth.Middleware) http.Handler {
	r := chi.NewRouter()

	r.Use(telemetry.HTTPMiddleware("stratus-server"))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(authMW.Identify)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// 非流式端点
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/requests", h.ScheduleRequest)
			r.Get("/requests", h.ListRequests)
			r.Get("/requests/latest", h.LatestRequest)
			r.Get("/requests/{id}", h.GetRequest)
			r.Post("/requests/cancel", h.CancelRequests)
		})

		// 流式端点：连接持续到记录终止或客户端断开
		r.Get("/requests/{id}/logs", h.StreamRequestLogs)
		r.Get("/requests/{id}/logs/ws", ws.StreamRequestLogs)
		r.Get("/logs", h.StreamPathLogs)
	})

	return r
}
