package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pipectl/pipectl/internal/auth"

	. "github.com/pipectl/pipectl/internal/api/middleware"
)

func newTestRouter(shared *auth.SharedKeyAuthenticator) *gin.Engine {
	router := gin.New()
	router.POST("/write", WriteAuth(AuthConfig{Shared: shared}), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return router
}

func TestWriteAuth_RejectsMissingKey(t *testing.T) {
	router := newTestRouter(auth.NewSharedKeyAuthenticator("secret"))
	req := httptest.NewRequest("POST", "/write", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestWriteAuth_AcceptsCorrectKey(t *testing.T) {
	router := newTestRouter(auth.NewSharedKeyAuthenticator("secret"))
	req := httptest.NewRequest("POST", "/write", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestWriteAuth_RejectsWrongKey(t *testing.T) {
	router := newTestRouter(auth.NewSharedKeyAuthenticator("secret"))
	req := httptest.NewRequest("POST", "/write", nil)
	req.Header.Set("X-API-Key", "wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestWriteAuth_OpenWhenNoKeyConfigured(t *testing.T) {
	router := newTestRouter(auth.NewSharedKeyAuthenticator(""))
	req := httptest.NewRequest("POST", "/write", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 when no key configured, got %d", w.Code)
	}
}
