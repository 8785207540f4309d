// Package factory 把 crud.Executor 暴露为标准的 REST 处理函数
//
// 三种实体共用同一套 List/Get/Create/Update/Delete，
// 路由差异（嵌套路径、/me、固定查询参数）通过回调注入。
package factory

import (
	"net/http"

	"natours/internal/apiserver/httpx"
	"natours/internal/shared/crud"
	"natours/internal/shared/query"
	"natours/internal/shared/storage"
	"natours/pkg/logging"
)

// ScopeFunc 路由附加的过滤条件
type ScopeFunc func(r *http.Request) ([]query.Predicate, error)

// IDFunc 目标文档 id
type IDFunc func(r *http.Request) (string, error)

// BindFunc 创建前由路由补全字段（如嵌套路径中的 tourId）
type BindFunc[T any] func(r *http.Request, doc *T) error

// PatchFunc 把请求体转换为 patch
type PatchFunc[T any] func(r *http.Request, body []byte) (crud.Patch[T], error)

// PathValue 从路径参数取 id
func PathValue(name string) IDFunc {
	return func(r *http.Request) (string, error) {
		return r.PathValue(name), nil
	}
}

// Resource 单个实体的 REST 处理函数
type Resource[T any, P storage.Document[T]] struct {
	exec   *crud.Executor[T, P]
	logger *logging.Logger
}

// New 创建 Resource
func New[T any, P storage.Document[T]](exec *crud.Executor[T, P], logger *logging.Logger) *Resource[T, P] {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Resource[T, P]{exec: exec, logger: logger.Named("http." + exec.Entity())}
}

// Executor 底层执行器
func (h *Resource[T, P]) Executor() *crud.Executor[T, P] { return h.exec }

// Fail 写入失败响应
func (h *Resource[T, P]) Fail(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(w, r, h.logger, err)
}

// List GET 列表，支持过滤/排序/字段投影/分页
func (h *Resource[T, P]) List(scope ScopeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var extra []query.Predicate
		if scope != nil {
			var err error
			if extra, err = scope(r); err != nil {
				h.Fail(w, r, err)
				return
			}
		}
		page, err := h.exec.GetAll(r.Context(), r.URL.Query(), extra...)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		docs, err := page.Documents()
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		httpx.List(w, docs, page.Total)
	}
}

// Get GET 单个文档
func (h *Resource[T, P]) Get(id IDFunc, expand ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := id(r)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		doc, err := h.exec.GetOne(r.Context(), docID, expand...)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		httpx.OK(w, http.StatusOK, doc)
	}
}

// Create POST 创建
func (h *Resource[T, P]) Create(bind BindFunc[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := httpx.ReadBody(w, r)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		doc, err := crud.DecodeNew[T](body)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		if bind != nil {
			if err := bind(r, doc); err != nil {
				h.Fail(w, r, err)
				return
			}
		}
		created, err := h.exec.CreateOne(r.Context(), doc)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		h.logger.WithContext(r.Context()).Info("created", "id", P(created).DocumentID().Hex())
		httpx.OK(w, http.StatusCreated, created)
	}
}

// Update PATCH 部分更新；patch 为 nil 时按 JSON 合并
func (h *Resource[T, P]) Update(id IDFunc, patch PatchFunc[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := id(r)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		body, err := httpx.ReadBody(w, r)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		var p crud.Patch[T]
		if patch != nil {
			p, err = patch(r, body)
			if err != nil {
				h.Fail(w, r, err)
				return
			}
		} else {
			p = crud.JSONPatch[T](body)
		}
		updated, err := h.exec.UpdateOne(r.Context(), docID, p)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		httpx.OK(w, http.StatusOK, updated)
	}
}

// Delete DELETE，成功返回 204
func (h *Resource[T, P]) Delete(id IDFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := id(r)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		if err := h.exec.DeleteOne(r.Context(), docID); err != nil {
			h.Fail(w, r, err)
			return
		}
		h.logger.WithContext(r.Context()).Info("deleted", "id", docID)
		httpx.NoContent(w)
	}
}
