package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/veritas/internal/nonce"
	"github.com/aspect-build/veritas/internal/relay"
	"github.com/aspect-build/veritas/internal/server/metrics"
)

// DecodeOptions tunes POST /integrity/decode.
type DecodeOptions struct {
	// RequireNonce rejects decode requests that carry no nonceId.
	RequireNonce bool
}

type decodeBody struct {
	PackageName        string `json:"packageName" binding:"required"`
	Token              string `json:"token" binding:"required"`
	ServiceAccountFile string `json:"serviceAccountFile"`
	NonceID            string `json:"nonceId"`
}

// HandleDecode handles POST /integrity/decode. The upstream body is returned
// unmodified on success.
func HandleDecode(nonces Nonces, dec Decoder, opts DecodeOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body decodeBody
		if err := c.ShouldBindJSON(&body); err != nil {
			metrics.DecodeOutcome("decode", "invalid_body")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "detail": err.Error()})
			return
		}

		res, outcome := decodeBound(c, nonces, dec, body, opts.RequireNonce)
		metrics.DecodeOutcome("decode", outcome)
		if res == nil {
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", res.Raw)
	}
}

// decodeBound validates the request, consumes its nonce when one is named,
// and decodes the token. On failure the response has already been written
// and the returned result is nil.
func decodeBound(c *gin.Context, nonces Nonces, dec Decoder, body decodeBody, requireNonce bool) (*relay.Result, string) {
	ctx := c.Request.Context()

	pkg, err := relay.Validate(body.PackageName, body.Token)
	if err != nil {
		return nil, writeRelayError(c, err)
	}
	if requireNonce && body.NonceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "detail": "nonceId is required"})
		return nil, "invalid_body"
	}

	var creds relay.Credentials
	if body.ServiceAccountFile != "" {
		key, err := relay.LoadServiceAccountFile(body.ServiceAccountFile)
		if err != nil {
			return nil, writeRelayError(c, err)
		}
		creds = key
	}

	auditClient(c, c.FullPath(), pkg, len(body.Token))

	var issued nonce.Record
	if body.NonceID != "" {
		issued, err = nonces.Consume(ctx, body.NonceID)
		if err != nil {
			return nil, writeNonceError(c, err)
		}
	}

	res, err := dec.Decode(ctx, relay.Request{
		PackageName: body.PackageName,
		Token:       body.Token,
		Credentials: creds,
	})
	if err != nil {
		return nil, writeRelayError(c, err)
	}

	rlog := requestLog(c).With("nonceId", body.NonceID)
	v := res.Verdict()
	if echo := v.RequestPackageName(); echo != "" && echo != pkg {
		rlog.Warnf("packageName mismatch: request=%s payload=%s", pkg, echo)
	}
	if body.NonceID != "" && v.Nonce() != issued.Value {
		rlog.Warnf("verdict nonce does not match the issued nonce")
		c.JSON(http.StatusConflict, gin.H{"error": "nonce_mismatch"})
		return nil, "nonce_mismatch"
	}
	rlog.Debugf("decoded via %s strategy: %s", res.Strategy, res.Raw)
	return res, "ok"
}
