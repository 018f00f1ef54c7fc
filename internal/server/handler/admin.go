package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/veritas/internal/nonce"
)

// HandleGetNonce handles GET /admin/nonces/:id. The value is returned so an
// operator can correlate it with a decoded verdict.
func HandleGetNonce(nonces Nonces) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		rec, err := nonces.Lookup(c.Request.Context(), id)
		if errors.Is(err, nonce.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "nonce not found"})
			return
		}
		if err != nil {
			requestLog(c).Errorf("Lookup(%q) error: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve nonce"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"nonceId":   rec.ID,
			"nonce":     rec.Value,
			"expiresAt": rec.ExpiresAt.UTC().Format(time.RFC3339),
			"expired":   rec.Expired(time.Now()),
			"used":      rec.Used,
		})
	}
}
