// Package server 路由配置与核心基础设施
//
// 文件组织：
//   - common.go: Handler 定义与健康检查
//   - handler.go: 路由
//   - middleware.go: 请求 ID / 访问日志 / 限流 / CORS
//   - metrics.go: Prometheus 指标
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"natours/internal/apiserver/auth"
	"natours/internal/apiserver/httpx"
	"natours/internal/domain"
	"natours/internal/shared/ratelimit"
	"natours/pkg/logging"
)

// Options Handler 依赖
type Options struct {
	Auth auth.Config

	// Limiter 为 nil 时不限流
	Limiter ratelimit.Limiter

	// Registerer / Gatherer 为 nil 时使用 prometheus 默认注册表
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	Logger *logging.Logger
}

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 路由请求到各实体的处理函数
//   - 挂载认证、限流、指标等中间件
type Handler struct {
	registry *domain.Registry
	authCfg  auth.Config
	limiter  ratelimit.Limiter
	gatherer prometheus.Gatherer
	metrics  *Metrics
	logger   *logging.Logger
}

// NewHandler 创建 Handler 实例
func NewHandler(reg *domain.Registry, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		registry: reg,
		authCfg:  opts.Auth,
		limiter:  opts.Limiter,
		gatherer: gatherer,
		metrics:  NewMetrics(registerer, "natours"),
		logger:   logger.Named("http"),
	}
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 存储不可用时返回 503。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.registry.Backend().Ping(ctx); err != nil {
		h.logger.WithError(err).Warn("health check failed")
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
