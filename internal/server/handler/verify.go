package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/veritas/internal/integrity"
	"github.com/aspect-build/veritas/internal/risk"
	"github.com/aspect-build/veritas/internal/server/metrics"
)

type verifyBody struct {
	NonceID     string          `json:"nonceId" binding:"required"`
	PackageName string          `json:"packageName" binding:"required"`
	Token       string          `json:"token" binding:"required"`
	Root        json.RawMessage `json:"root"`
}

// HandleVerify handles POST /integrity/verify: decode with mandatory nonce
// binding, then score the verdict together with the optional root report.
func HandleVerify(nonces Nonces, dec Decoder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body verifyBody
		if err := c.ShouldBindJSON(&body); err != nil {
			metrics.DecodeOutcome("verify", "invalid_body")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "detail": err.Error()})
			return
		}

		var root *integrity.RootReport
		if len(body.Root) > 0 && string(body.Root) != "null" {
			r, err := integrity.ParseRootReport(body.Root)
			if err != nil {
				metrics.DecodeOutcome("verify", "invalid_body")
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "detail": err.Error()})
				return
			}
			root = r
		}

		res, outcome := decodeBound(c, nonces, dec, decodeBody{
			PackageName: body.PackageName,
			Token:       body.Token,
			NonceID:     body.NonceID,
		}, true)
		metrics.DecodeOutcome("verify", outcome)
		if res == nil {
			return
		}

		signals, score := risk.Explain(root, res.Verdict())
		metrics.RiskScore(score)
		c.JSON(http.StatusOK, gin.H{
			"verdict":   res.Verdict(),
			"riskScore": score,
			"signals":   signals,
		})
	}
}
