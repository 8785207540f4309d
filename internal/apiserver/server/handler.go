package server

import (
	"context"
	"net/http"

	"natours/internal/apiserver/auth"
	"natours/internal/apiserver/httpx"
	"natours/internal/apiserver/review"
	"natours/internal/apiserver/tour"
	"natours/internal/apiserver/user"
	"natours/internal/shared/model"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查与指标:
//   - GET /health
//   - GET /metrics
//
// 线路 (Tour):
//   - GET    /api/v1/tours                     - 列出线路
//   - POST   /api/v1/tours                     - 创建线路（admin, lead-guide）
//   - GET    /api/v1/tours/{id}                - 线路详情（含评论）
//   - PATCH  /api/v1/tours/{id}                - 更新线路（admin, lead-guide）
//   - DELETE /api/v1/tours/{id}                - 删除线路及其评论（admin, lead-guide）
//   - GET    /api/v1/tours/top-5-cheap
//   - GET    /api/v1/tours/tour-stats
//   - GET    /api/v1/tours/monthly-plan/{year} - （admin, lead-guide, guide）
//   - GET    /api/v1/tours/tours-within/{distance}/center/{latlng}/unit/{unit}
//   - GET    /api/v1/tours/distances/{latlng}/unit/{unit}
//
// 评论 (Review)，均需登录:
//   - GET    /api/v1/reviews, /api/v1/tours/{tourId}/reviews, /api/v1/users/me/reviews
//   - POST   /api/v1/reviews, /api/v1/tours/{tourId}/reviews    - （user）
//   - GET    /api/v1/reviews/{id}
//   - PATCH  /api/v1/reviews/{id}                               - （user, admin）
//   - DELETE /api/v1/reviews/{id}                               - （user, admin）
//
// 用户 (User):
//   - GET/PATCH/DELETE /api/v1/users/me                         - 当前用户
//   - GET/POST /api/v1/users, GET/PATCH/DELETE /api/v1/users/{id} - （admin）
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", MetricsHandler(h.gatherer))

	guard := auth.NewGuard(h.authCfg, h.logger)

	reviewHandler := review.NewHandler(h.registry, guard, h.logger)
	reviewHandler.RegisterRoutes(mux)

	tourHandler := tour.NewHandler(h.registry, guard, h.logger)
	tourHandler.RegisterRoutes(mux, reviewHandler.ListForTour())

	userHandler := user.NewHandler(h.registry, guard, h.logger)
	userHandler.RegisterRoutes(mux)

	// 未匹配的路由
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, h.logger, httpx.NotFound("can't find "+r.URL.Path+" on this server"))
	})

	// 认证中间件：令牌中的用户必须仍然存在且处于活跃状态
	authed := auth.Middleware(h.authCfg, h.lookupActor, h.logger)(mux)

	// 限流先于认证，无效令牌也计入配额
	limited := h.rateLimitMiddleware(authed)

	// 应用指标中间件
	measured := h.metrics.MetricsMiddleware(limited)

	logged := accessLogMiddleware(h.logger)(measured)
	return corsMiddleware(requestIDMiddleware(logged))
}

// lookupActor 按 id 读取活跃用户
func (h *Handler) lookupActor(ctx context.Context, id string) (*model.User, error) {
	return h.registry.Users.GetOne(ctx, id)
}
