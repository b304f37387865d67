// Package auth 提供请求方身份识别。
package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestJWTManager_GenerateAndVerify 测试令牌的签发与校验闭环。
func TestJWTManager_GenerateAndVerify(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Hour)

	token, err := mgr.Generate("alice")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	claims, err := mgr.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.UserID != "alice" {
		t.Errorf("claims user = %s, want alice", claims.UserID)
	}
}

// TestJWTManager_VerifyRejections 测试各种非法令牌的拒绝。
func TestJWTManager_VerifyRejections(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Hour)

	// 过期令牌
	expired := NewJWTManager("test-secret", -time.Hour)
	token, err := expired.Generate("alice")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if _, err := mgr.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expired token error = %v, want ErrExpiredToken", err)
	}

	// 错误密钥签发的令牌
	other := NewJWTManager("other-secret", time.Hour)
	token, _ = other.Generate("alice")
	if _, err := mgr.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong-secret token error = %v, want ErrInvalidToken", err)
	}

	// 格式错误的令牌
	if _, err := mgr.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("malformed token error = %v, want ErrInvalidToken", err)
	}
}

// identityEcho 返回把上下文用户标识写回响应的处理器。
func identityEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserID(r.Context())))
	})
}

// TestMiddleware_Disabled 测试认证关闭时的自报身份与匿名兜底。
func TestMiddleware_Disabled(t *testing.T) {
	mw := NewMiddleware(nil, false)
	handler := mw.Identify(identityEcho())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeader, "alice")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Body.String() != "alice" {
		t.Errorf("identity = %s, want alice", rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Body.String() != AnonymousUser {
		t.Errorf("identity = %s, want %s", rr.Body.String(), AnonymousUser)
	}
}

// TestMiddleware_Enabled 测试启用认证时的令牌校验路径。
func TestMiddleware_Enabled(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Hour)
	mw := NewMiddleware(mgr, true)
	handler := mw.Identify(identityEcho())

	// 缺少令牌
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", rr.Code)
	}

	// 合法令牌
	token, err := mgr.Generate("bob")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "bob" {
		t.Errorf("valid token: status=%d identity=%s", rr.Code, rr.Body.String())
	}
}
