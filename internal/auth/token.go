// Package auth 保护控制接口：配置了访问令牌时，请求必须携带相同的 Bearer 令牌。
package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"VizBridge/pkg/logger"
)

var (
	// ErrMissingToken 表示请求未携带令牌。
	ErrMissingToken = errors.New("缺少访问令牌")
	// ErrInvalidToken 表示令牌不匹配。
	ErrInvalidToken = errors.New("访问令牌无效")
)

// QueryParam 是无法设置请求头的客户端（如浏览器 websocket）使用的查询参数名。
const QueryParam = "access_token"

// TokenGuard 校验静态访问令牌。令牌为空时放行所有请求。
type TokenGuard struct {
	token []byte
}

// NewTokenGuard 创建 TokenGuard。
func NewTokenGuard(token string) *TokenGuard {
	return &TokenGuard{token: []byte(strings.TrimSpace(token))}
}

// Enabled 报告是否需要校验。
func (g *TokenGuard) Enabled() bool {
	return g != nil && len(g.token) > 0
}

// Check 校验请求携带的令牌。
func (g *TokenGuard) Check(r *http.Request) error {
	if !g.Enabled() {
		return nil
	}
	presented := bearer(r.Header.Get("Authorization"))
	if presented == "" {
		presented = r.URL.Query().Get(QueryParam)
	}
	if presented == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(presented), g.token) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Middleware 拒绝未通过校验的请求并写入审计日志。通过的请求原样交给 next。
func (g *TokenGuard) Middleware(next http.Handler) http.Handler {
	if !g.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Check(r); err != nil {
			logger.Audit().Warn("access_denied",
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method),
				slog.String("remote", r.RemoteAddr),
				slog.String("error", err.Error()))
			w.Header().Set("WWW-Authenticate", `Bearer realm="vizbridge"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
