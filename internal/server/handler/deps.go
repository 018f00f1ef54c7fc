package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mssola/useragent"

	"github.com/aspect-build/veritas/internal/logx"
	"github.com/aspect-build/veritas/internal/nonce"
	"github.com/aspect-build/veritas/internal/relay"
)

var log = logx.Named("http")

// Nonces is the part of *nonce.Registry the handlers use.
type Nonces interface {
	Issue(ctx context.Context) (nonce.Record, error)
	Consume(ctx context.Context, id string) (nonce.Record, error)
	Lookup(ctx context.Context, id string) (nonce.Record, error)
}

// Decoder is satisfied by *relay.Relay.
type Decoder interface {
	Decode(ctx context.Context, req relay.Request) (*relay.Result, error)
}

// writeNonceError maps registry failures to HTTP answers. It returns the
// outcome label used for metrics.
func writeNonceError(c *gin.Context, err error) string {
	switch {
	case errors.Is(err, nonce.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "nonce_not_found"})
		return "nonce_not_found"
	case errors.Is(err, nonce.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "nonce_expired"})
		return "nonce_expired"
	case errors.Is(err, nonce.ErrAlreadyUsed):
		c.JSON(http.StatusConflict, gin.H{"error": "nonce_already_used"})
		return "nonce_already_used"
	default:
		requestLog(c).Errorf("nonce store error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "nonce store unavailable"})
		return "nonce_store_error"
	}
}

// writeRelayError maps relay failures to HTTP answers and returns the
// outcome label.
func writeRelayError(c *gin.Context, err error) string {
	var re *relay.Error
	if !errors.As(err, &re) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return "error"
	}
	switch re.Kind {
	case relay.KindInvalidRequest:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "detail": re.Message})
	case relay.KindServiceAccountFileNotFound:
		c.JSON(http.StatusBadRequest, gin.H{"error": "service_account_file_not_found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": re.Error(), "kind": re.Kind})
	}
	return string(re.Kind)
}

// requestLog tags lines with the request id set by the RequestID middleware.
func requestLog(c *gin.Context) logx.Logger {
	return log.With("rid", c.GetString("request_id"))
}

// auditClient logs who is calling without recording request secrets.
func auditClient(c *gin.Context, endpoint, pkg string, tokenLen int) {
	ua := useragent.New(c.Request.UserAgent())
	name, ver := ua.Browser()
	requestLog(c).Infof("%s from %s package=%s token.len=%d client=%s/%s os=%q mobile=%t bot=%t",
		endpoint, c.ClientIP(), pkg, tokenLen, name, ver, ua.OS(), ua.Mobile(), ua.Bot())
}
