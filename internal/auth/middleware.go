package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey 是 context 存储键的私有类型，避免跨包冲突。
type contextKey string

// userIDKey 是请求上下文中用户标识的键。
const userIDKey contextKey = "user_id"

// UserHeader 是认证关闭时携带自报用户标识的请求头。
const UserHeader = "X-Stratus-User"

// AnonymousUser 是没有任何身份信息时的兜底用户标识。
const AnonymousUser = "anonymous"

// Middleware 是身份识别中间件。
type Middleware struct {
	jwt     *JWTManager
	enabled bool
}

// NewMiddleware 创建身份识别中间件。
// enabled 为 false 时不校验令牌，从 UserHeader 读取用户标识。
func NewMiddleware(jwt *JWTManager, enabled bool) *Middleware {
	return &Middleware{jwt: jwt, enabled: enabled}
}

// Identify 解析请求方身份并写入请求上下文。
// 启用认证时缺失或非法的 Bearer Token 返回 401。
func (m *Middleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			userID := r.Header.Get(UserHeader)
			if userID == "" {
				userID = AnonymousUser
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
			return
		}

		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := m.jwt.Verify(strings.TrimPrefix(authz, "Bearer "))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
	})
}

// WithUserID 把用户标识写入上下文。
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID 从上下文读取用户标识，缺失时返回 AnonymousUser。
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok && v != "" {
		return v
	}
	return AnonymousUser
}
