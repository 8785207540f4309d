// Package tour 线路 HTTP 接口
package tour

import (
	"net/http"

	"natours/internal/apiserver/auth"
	"natours/internal/apiserver/factory"
	"natours/internal/apiserver/httpx"
	"natours/internal/domain"
	"natours/internal/shared/model"
	"natours/pkg/logging"
)

// Handler 线路 HTTP 处理器
type Handler struct {
	res     *factory.Resource[model.Tour, *model.Tour]
	reports *domain.Reports
	guard   *auth.Guard
	logger  *logging.Logger
}

// NewHandler 创建线路处理器
func NewHandler(reg *domain.Registry, guard *auth.Guard, logger *logging.Logger) *Handler {
	return &Handler{
		res:     factory.New(reg.Tours, logger),
		reports: reg.Reports,
		guard:   guard,
		logger:  logger.Named("http.tour"),
	}
}

// RegisterRoutes 注册线路路由
//
// nestedReviews 处理 GET /api/v1/tours/{tourId}/reviews。该路径与
// /api/v1/tours/monthly-plan/{year} 形状相同，ServeMux 不允许同时注册，
// 因此由 subroute 统一分发。
func (h *Handler) RegisterRoutes(mux *http.ServeMux, nestedReviews http.HandlerFunc) {
	manage := h.guard.RestrictTo(model.UserRoleAdmin, model.UserRoleLeadGuide)
	id := factory.PathValue("id")

	mux.HandleFunc("GET /api/v1/tours", h.res.List(nil))
	mux.HandleFunc("POST /api/v1/tours", manage(h.res.Create(nil)))
	mux.HandleFunc("GET /api/v1/tours/{id}", h.res.Get(id, domain.ExpandReviews))
	mux.HandleFunc("PATCH /api/v1/tours/{id}", manage(h.res.Update(id, nil)))
	mux.HandleFunc("DELETE /api/v1/tours/{id}", manage(h.res.Delete(id)))

	mux.HandleFunc("GET /api/v1/tours/top-5-cheap", h.TopCheap)
	mux.HandleFunc("GET /api/v1/tours/tour-stats", h.Stats)
	mux.HandleFunc("GET /api/v1/tours/tours-within/{distance}/center/{latlng}/unit/{unit}", h.Within)
	mux.HandleFunc("GET /api/v1/tours/distances/{latlng}/unit/{unit}", h.Distances)

	monthlyPlan := h.guard.RestrictTo(model.UserRoleAdmin, model.UserRoleLeadGuide, model.UserRoleGuide)(h.MonthlyPlan)
	mux.HandleFunc("GET /api/v1/tours/{id}/{sub}", func(w http.ResponseWriter, r *http.Request) {
		first, sub := r.PathValue("id"), r.PathValue("sub")
		switch {
		case first == "monthly-plan":
			r.SetPathValue("year", sub)
			monthlyPlan(w, r)
		case sub == "reviews" && nestedReviews != nil:
			r.SetPathValue("tourId", first)
			nestedReviews(w, r)
		default:
			httpx.WriteError(w, r, h.logger, httpx.NotFound("can't find "+r.URL.Path+" on this server"))
		}
	})
}

// TopCheap 评分最高且最便宜的五条线路
//
// 路由: GET /api/v1/tours/top-5-cheap
func (h *Handler) TopCheap(w http.ResponseWriter, r *http.Request) {
	u := *r.URL
	u.RawQuery = domain.Top5Cheap(r.URL.Query()).Encode()
	r2 := r.WithContext(r.Context())
	r2.URL = &u
	h.res.List(nil)(w, r2)
}

// Stats 按难度分组的线路统计
//
// 路由: GET /api/v1/tours/tour-stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reports.Stats(r.Context())
	if err != nil {
		h.res.Fail(w, r, err)
		return
	}
	httpx.List(w, stats, int64(len(stats)))
}

// MonthlyPlan 某年每月出发的线路
//
// 路由: GET /api/v1/tours/monthly-plan/{year}
func (h *Handler) MonthlyPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.reports.MonthlyPlan(r.Context(), r.PathValue("year"))
	if err != nil {
		h.res.Fail(w, r, err)
		return
	}
	httpx.List(w, plan, int64(len(plan)))
}

// Within 起点在指定范围内的线路
//
// 路由: GET /api/v1/tours/tours-within/{distance}/center/{latlng}/unit/{unit}
func (h *Handler) Within(w http.ResponseWriter, r *http.Request) {
	tours, err := h.reports.Within(r.Context(), r.PathValue("distance"), r.PathValue("latlng"), r.PathValue("unit"))
	if err != nil {
		h.res.Fail(w, r, err)
		return
	}
	httpx.List(w, tours, int64(len(tours)))
}

// Distances 所有线路到指定点的距离
//
// 路由: GET /api/v1/tours/distances/{latlng}/unit/{unit}
func (h *Handler) Distances(w http.ResponseWriter, r *http.Request) {
	distances, err := h.reports.Distances(r.Context(), r.PathValue("latlng"), r.PathValue("unit"))
	if err != nil {
		h.res.Fail(w, r, err)
		return
	}
	httpx.List(w, distances, int64(len(distances)))
}
