package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/veritas/internal/nonce"
)

// HandleIssueNonce handles GET /nonce.
func HandleIssueNonce(nonces Nonces) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := nonces.Issue(c.Request.Context())
		if err != nil {
			requestLog(c).Errorf("issue nonce: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue nonce"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"nonceId": rec.ID,
			"nonce":   rec.Value,
			"byteLen": nonce.ValueBytes,
		})
	}
}
