package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"natours/internal/apiserver/httpx"
	"natours/internal/shared/model"
	"natours/internal/shared/storage"
	"natours/pkg/logging"
)

// TokenCookie 浏览器客户端携带令牌的 cookie 名
const TokenCookie = "jwt"

// LookupFunc 按 ID 读取活跃用户
type LookupFunc func(ctx context.Context, id string) (*model.User, error)

// Middleware 创建 JWT 解析中间件
//
// 未携带令牌的请求以匿名身份继续；携带了无效令牌返回 401。
// lookup 非 nil 时以存储中的用户为准：已停用或令牌签发后改过密码的用户被拒绝。
// cfg.Enabled() == false 时直接放行所有请求（无认证模式）。
func Middleware(cfg Config, lookup LookupFunc, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := ParseToken(cfg, token)
			if err != nil {
				logger.WithContext(r.Context()).Debug("token rejected", "error", err)
				httpx.WriteError(w, r, logger, httpx.Unauthorized("invalid or expired token, please log in again"))
				return
			}

			actor := &Actor{ID: claims.Subject, Role: model.UserRole(claims.Role)}
			if lookup != nil {
				user, err := lookup(r.Context(), claims.Subject)
				if errors.Is(err, storage.ErrNotFound) {
					httpx.WriteError(w, r, logger, httpx.Unauthorized("the user belonging to this token no longer exists"))
					return
				}
				if err != nil {
					httpx.WriteError(w, r, logger, err)
					return
				}
				if claims.IssuedAt != nil && user.ChangedPasswordAfter(claims.IssuedAt.Time) {
					httpx.WriteError(w, r, logger, httpx.Unauthorized("user recently changed password, please log in again"))
					return
				}
				actor.Role = user.Role
			}

			ctx := WithActor(r.Context(), actor)
			ctx = logging.WithActorID(ctx, actor.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken Authorization: Bearer 优先，其次 jwt cookie
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "loggedout" {
		return c.Value
	}
	return ""
}

// ============================================================================
// Guard - 路由级限制
// ============================================================================

// Guard 路由级身份与角色限制；认证关闭时不做任何限制
type Guard struct {
	enabled bool
	logger  *logging.Logger
}

// NewGuard 创建 Guard
func NewGuard(cfg Config, logger *logging.Logger) *Guard {
	return &Guard{enabled: cfg.Enabled(), logger: logger}
}

// Protect 要求已登录
func (g *Guard) Protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.enabled && ActorFrom(r.Context()) == nil {
			httpx.WriteError(w, r, g.logger, httpx.Unauthorized("you are not logged in, please log in to get access"))
			return
		}
		next(w, r)
	}
}

// RestrictTo 要求已登录且角色在 roles 中
func (g *Guard) RestrictTo(roles ...model.UserRole) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return g.Protect(func(w http.ResponseWriter, r *http.Request) {
			if g.enabled && !slices.Contains(roles, ActorFrom(r.Context()).Role) {
				httpx.WriteError(w, r, g.logger, httpx.Forbidden("you do not have permission to perform this action"))
				return
			}
			next(w, r)
		})
	}
}

// RequireActor 需要操作者身份的接口（/me 系列）取出操作者；匿名返回 401
func RequireActor(r *http.Request) (*Actor, error) {
	actor := ActorFrom(r.Context())
	if actor == nil {
		return nil, httpx.Unauthorized("you are not logged in, please log in to get access")
	}
	return actor, nil
}
