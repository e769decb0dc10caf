package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

func newAdminRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("ADMIN_JWT_SECRET", "test-secret")
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	auth, err := NewAdminAuth(log)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	r := gin.New()
	admin := r.Group("/admin")
	admin.Use(auth.RequireAdmin())
	admin.POST("/schema/refresh", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func postRefresh(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/admin/schema/refresh", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAdminAuthAcceptsAdminToken(t *testing.T) {
	r := newAdminRouter(t)
	token := signToken(t, "test-secret", jwt.MapClaims{
		"mode": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	if rec := postRefresh(r, token); rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminAuthRejectsMissingToken(t *testing.T) {
	r := newAdminRouter(t)
	if rec := postRefresh(r, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestAdminAuthRejectsNonAdminMode(t *testing.T) {
	r := newAdminRouter(t)
	token := signToken(t, "test-secret", jwt.MapClaims{
		"mode": "read_only",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	if rec := postRefresh(r, token); rec.Code != http.StatusForbidden {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestAdminAuthRejectsWrongSecret(t *testing.T) {
	r := newAdminRouter(t)
	token := signToken(t, "other-secret", jwt.MapClaims{
		"mode": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	if rec := postRefresh(r, token); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}
