package emulator

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/veritas/internal/logx"
)

const decodeSuffix = ":decodeIntegrityToken"

var log = logx.Named("emulator")

// NewRouter serves the emulator over HTTP:
//
//	POST /token                                 issue a token for {nonce, packageName}
//	POST /v1/{packageName}:decodeIntegrityToken decode a token, bearer auth
//
// When accessToken is empty any bearer token is accepted.
func NewRouter(a *Authority, accessToken string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.POST("/token", issueToken(a))
	r.POST("/v1/*call", bearerAuth(accessToken), decodeToken(a))
	return r
}

func issueToken(a *Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "detail": err.Error()})
			return
		}
		token, err := a.IssueToken(req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Debugf("issued token for %s (profile=%q, len=%d)", req.PackageName, req.Profile, len(token))
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

func decodeToken(a *Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		call := strings.TrimPrefix(c.Param("call"), "/")
		if !strings.HasSuffix(call, decodeSuffix) {
			apiError(c, http.StatusNotFound, "NOT_FOUND", "unknown method")
			return
		}
		pkg, err := url.PathUnescape(strings.TrimSuffix(call, decodeSuffix))
		if err != nil || pkg == "" {
			apiError(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid package name")
			return
		}

		var body struct {
			IntegrityToken string `json:"integrityToken"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.IntegrityToken == "" {
			apiError(c, http.StatusBadRequest, "INVALID_ARGUMENT", "integrityToken is required")
			return
		}

		resp, err := a.Decode(pkg, body.IntegrityToken)
		if err != nil {
			status := "INVALID_ARGUMENT"
			if errors.Is(err, ErrPackageMismatch) {
				status = "PERMISSION_DENIED"
				apiError(c, http.StatusForbidden, status, err.Error())
				return
			}
			apiError(c, http.StatusBadRequest, status, err.Error())
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// apiError writes the error envelope Google APIs use so googleapi clients can
// parse it.
func apiError(c *gin.Context, code int, status, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": gin.H{
		"code":    code,
		"message": message,
		"status":  status,
	}})
}

func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || got == "" {
			apiError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer credential")
			return
		}
		if token != "" && subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			apiError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid bearer credential")
			return
		}
		c.Next()
	}
}
