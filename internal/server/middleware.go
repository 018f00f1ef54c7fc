package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aspect-build/veritas/internal/server/metrics"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// corsPolicy is the parsed VERITAS_CORS_ORIGINS list.
type corsPolicy struct {
	any     bool
	origins map[string]struct{}
}

func newCORSPolicy(origins []string) corsPolicy {
	p := corsPolicy{origins: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		if o == "*" {
			p.any = true
			continue
		}
		p.origins[strings.TrimRight(o, "/")] = struct{}{}
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when the origin is not allowed.
func (p corsPolicy) allowOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	if p.any {
		return "*"
	}
	if _, ok := p.origins[strings.TrimRight(origin, "/")]; ok {
		return origin
	}
	return ""
}

// CORS lets browser-based verifier consoles call the relay. "*" allows any
// origin; preflight requests are answered with 204 without reaching a handler.
func CORS(origins []string) gin.HandlerFunc {
	policy := newCORSPolicy(origins)
	return func(c *gin.Context) {
		allow := policy.allowOrigin(c.GetHeader("Origin"))
		if allow == "" {
			c.Next()
			return
		}
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", allow)
		if allow != "*" {
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+RequestIDHeader)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader)
		h.Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestID propagates a caller-supplied X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AdminAuth guards the nonce inspection routes with a static bearer token.
// Rejections are counted by reason and never echo the presented credential.
func AdminAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	deny := func(c *gin.Context, reason, detail string) {
		metrics.AdminAuthFailure(reason)
		c.Header("WWW-Authenticate", `Bearer realm="veritas-admin"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "detail": detail})
	}
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			deny(c, "missing", "missing Authorization header")
			return
		}
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			deny(c, "scheme", "Authorization header must use Bearer scheme")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			deny(c, "invalid", "invalid admin token")
			return
		}
		c.Next()
	}
}
