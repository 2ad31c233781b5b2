package csrf

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newRouter(g *Guard) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(g.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestMiddlewareSkipsSafeMethods(t *testing.T) {
	r := newRouter(New(false))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET should pass, got %d", w.Code)
	}
}

func TestMiddlewareRejectsMissingOrMismatchedToken(t *testing.T) {
	g := New(false)
	r := newRouter(g)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("missing token should be rejected, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.AddCookie(&http.Cookie{Name: g.CookieName(), Value: "a"})
	req.Header.Set(g.HeaderName(), "b")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("mismatched token should be rejected, got %d", w.Code)
	}
}

func TestMiddlewareAcceptsMatchingToken(t *testing.T) {
	g := New(false)
	r := newRouter(g)
	token, err := g.NewToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("unexpected token length %d", len(token))
	}

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.AddCookie(&http.Cookie{Name: g.CookieName(), Value: token})
	req.Header.Set(g.HeaderName(), token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("matching token should pass, got %d", w.Code)
	}
}

func TestEnsureReusesCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := New(true)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Request.AddCookie(&http.Cookie{Name: g.CookieName(), Value: "existing"})
	token, err := g.Ensure(c)
	if err != nil || token != "existing" {
		t.Fatalf("expected existing token, got %q %v", token, err)
	}
	if w.Header().Get("Set-Cookie") != "" {
		t.Fatalf("existing token must not be reissued")
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	token, err = g.Ensure(c)
	if err != nil || token == "" {
		t.Fatalf("expected new token, got %q %v", token, err)
	}
	if w.Header().Get("Set-Cookie") == "" {
		t.Fatalf("new token must be set as cookie")
	}
}
