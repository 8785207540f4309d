// Package review 评论 HTTP 接口
package review

import (
	"net/http"

	"natours/internal/apiserver/auth"
	"natours/internal/apiserver/factory"
	"natours/internal/apiserver/httpx"
	"natours/internal/domain"
	"natours/internal/shared/model"
	"natours/internal/shared/query"
	"natours/internal/shared/storage"
	"natours/pkg/logging"
)

// Handler 评论 HTTP 处理器
type Handler struct {
	res   *factory.Resource[model.Review, *model.Review]
	guard *auth.Guard
}

// NewHandler 创建评论处理器
func NewHandler(reg *domain.Registry, guard *auth.Guard, logger *logging.Logger) *Handler {
	return &Handler{res: factory.New(reg.Reviews, logger), guard: guard}
}

// RegisterRoutes 注册评论路由
//
// GET /api/v1/tours/{tourId}/reviews 由 tour 包分发到 ListForTour。
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	write := h.guard.RestrictTo(model.UserRoleUser)
	manage := h.guard.RestrictTo(model.UserRoleUser, model.UserRoleAdmin)
	id := factory.PathValue("id")

	mux.HandleFunc("GET /api/v1/reviews", h.guard.Protect(h.res.List(nil)))
	mux.HandleFunc("POST /api/v1/reviews", write(h.res.Create(bindTourUser)))
	mux.HandleFunc("POST /api/v1/tours/{tourId}/reviews", write(h.res.Create(bindTourUser)))
	mux.HandleFunc("GET /api/v1/reviews/{id}", h.guard.Protect(h.res.Get(id)))
	mux.HandleFunc("PATCH /api/v1/reviews/{id}", manage(h.res.Update(id, nil)))
	mux.HandleFunc("DELETE /api/v1/reviews/{id}", manage(h.res.Delete(id)))
	mux.HandleFunc("GET /api/v1/users/me/reviews", h.guard.Protect(h.res.List(myReviews)))
}

// ListForTour 某条线路的评论
func (h *Handler) ListForTour() http.HandlerFunc {
	return h.guard.Protect(h.res.List(tourScope))
}

// tourScope tour = {tourId}
func tourScope(r *http.Request) ([]query.Predicate, error) {
	id, err := httpx.PathID(r, "tourId")
	if err != nil {
		return nil, err
	}
	return []query.Predicate{query.Eq("tour", id)}, nil
}

// myReviews user = 当前操作者
func myReviews(r *http.Request) ([]query.Predicate, error) {
	actor, err := auth.RequireActor(r)
	if err != nil {
		return nil, err
	}
	id, ok := model.ParseID(actor.ID)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return []query.Predicate{query.Eq("user", id)}, nil
}

// bindTourUser 嵌套路径中的 tourId 覆盖请求体；已登录时作者固定为操作者
func bindTourUser(r *http.Request, rv *model.Review) error {
	if r.PathValue("tourId") != "" {
		id, err := httpx.PathID(r, "tourId")
		if err != nil {
			return err
		}
		rv.Tour = id
	}
	if actor := auth.ActorFrom(r.Context()); actor != nil {
		id, ok := model.ParseID(actor.ID)
		if !ok {
			return httpx.Unauthorized("invalid actor id")
		}
		rv.User = id
	}
	return nil
}
