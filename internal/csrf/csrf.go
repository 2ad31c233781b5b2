// Package csrf implements double-submit cookie protection for the chat
// endpoints that change view state.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	DefaultCookieName = "csrf_token"
	DefaultHeaderName = "X-CSRF-Token"
	defaultTTL        = 12 * time.Hour
)

// Guard issues tokens and checks them on unsafe requests.
type Guard struct {
	cookieName string
	headerName string
	ttl        time.Duration
	secure     bool
}

// New returns a guard. secure marks the cookie Secure, which release mode does.
func New(secure bool) *Guard {
	return &Guard{
		cookieName: DefaultCookieName,
		headerName: DefaultHeaderName,
		ttl:        defaultTTL,
		secure:     secure,
	}
}

// NewToken returns a random token.
func (g *Guard) NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SetCookie stores token in a script-readable cookie so the page can echo it
// back in the header.
func (g *Guard) SetCookie(c *gin.Context, token string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     g.cookieName,
		Value:    token,
		MaxAge:   int(g.ttl.Seconds()),
		Path:     "/",
		Secure:   g.secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

// Ensure reuses the request's token cookie or issues a new one.
func (g *Guard) Ensure(c *gin.Context) (string, error) {
	if token, err := c.Cookie(g.cookieName); err == nil && token != "" {
		return token, nil
	}
	token, err := g.NewToken()
	if err != nil {
		return "", err
	}
	g.SetCookie(c, token)
	return token, nil
}

// Middleware enforces that the header token matches the cookie token.
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requiresCSRFCheck(c.Request.Method) {
			c.Next()
			return
		}
		headerToken := c.GetHeader(g.headerName)
		cookieToken, err := c.Cookie(g.cookieName)
		if err != nil || headerToken == "" || cookieToken == "" ||
			subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookieToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid csrf token"})
			return
		}
		c.Next()
	}
}

// CookieName returns the cookie used for CSRF tokens.
func (g *Guard) CookieName() string { return g.cookieName }

// HeaderName returns the CSRF header name.
func (g *Guard) HeaderName() string { return g.headerName }

func requiresCSRFCheck(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
