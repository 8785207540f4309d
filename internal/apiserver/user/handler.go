// Package user 用户 HTTP 接口
package user

import (
	"encoding/json"
	"fmt"
	"net/http"

	"natours/internal/apiserver/auth"
	"natours/internal/apiserver/factory"
	"natours/internal/domain"
	"natours/internal/shared/crud"
	"natours/internal/shared/model"
	"natours/internal/shared/query"
	"natours/pkg/logging"
)

// selfEditable /users/me 允许修改的字段
var selfEditable = []string{"name", "email"}

// Handler 用户 HTTP 处理器
type Handler struct {
	res   *factory.Resource[model.User, *model.User]
	guard *auth.Guard
}

// NewHandler 创建用户处理器
func NewHandler(reg *domain.Registry, guard *auth.Guard, logger *logging.Logger) *Handler {
	return &Handler{res: factory.New(reg.Users, logger), guard: guard}
}

// RegisterRoutes 注册用户路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	admin := h.guard.RestrictTo(model.UserRoleAdmin)
	id := factory.PathValue("id")

	mux.HandleFunc("GET /api/v1/users/me", h.guard.Protect(h.res.Get(actorID)))
	mux.HandleFunc("PATCH /api/v1/users/me", h.guard.Protect(h.res.Update(actorID, updateMe)))
	mux.HandleFunc("DELETE /api/v1/users/me", h.guard.Protect(h.res.Delete(actorID)))

	mux.HandleFunc("GET /api/v1/users", admin(h.res.List(nil)))
	mux.HandleFunc("POST /api/v1/users", admin(h.res.Create(nil)))
	mux.HandleFunc("GET /api/v1/users/{id}", admin(h.res.Get(id)))
	mux.HandleFunc("PATCH /api/v1/users/{id}", admin(h.res.Update(id, nil)))
	mux.HandleFunc("DELETE /api/v1/users/{id}", admin(h.res.Delete(id)))
}

// actorID 当前操作者的用户 id
func actorID(r *http.Request) (string, error) {
	actor, err := auth.RequireActor(r)
	if err != nil {
		return "", err
	}
	return actor.ID, nil
}

// updateMe 只接受 name/email，携带密码字段直接拒绝
func updateMe(_ *http.Request, body []byte) (crud.Patch[model.User], error) {
	if len(body) == 0 {
		return crud.JSONPatch[model.User](nil), nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: request body must be a JSON object", query.ErrBadRequest)
	}
	if _, ok := fields["password"]; ok {
		return nil, domain.ErrPasswordUpdate
	}
	if _, ok := fields["passwordConfirm"]; ok {
		return nil, domain.ErrPasswordUpdate
	}
	filtered := make(map[string]json.RawMessage, len(selfEditable))
	for _, k := range selfEditable {
		if v, ok := fields[k]; ok {
			filtered[k] = v
		}
	}
	out, err := json.Marshal(filtered)
	if err != nil {
		return nil, err
	}
	return crud.JSONPatch[model.User](out), nil
}
