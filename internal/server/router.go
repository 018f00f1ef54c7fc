package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aspect-build/veritas/internal/server/handler"
	"github.com/aspect-build/veritas/internal/server/metrics"
	"github.com/aspect-build/veritas/internal/version"
)

// Deps are the long-lived objects the routes are served from. Both are
// created by the server's startup routine and shared by every request.
type Deps struct {
	Nonces handler.Nonces
	Relay  handler.Decoder
}

// NewRouter creates and configures the Gin router with all routes.
func NewRouter(deps Deps, cfg *Config) *gin.Engine {
	r := gin.Default()
	r.Use(RequestID(), metrics.Instrument())

	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, version.Get())
	})

	r.GET("/nonce", handler.HandleIssueNonce(deps.Nonces))

	integrity := r.Group("/integrity")
	{
		integrity.POST("/decode", handler.HandleDecode(deps.Nonces, deps.Relay, handler.DecodeOptions{
			RequireNonce: cfg.RequireNonce,
		}))
		integrity.POST("/verify", handler.HandleVerify(deps.Nonces, deps.Relay))
	}

	if cfg.AdminToken != "" {
		admin := r.Group("/admin", AdminAuth(cfg.AdminToken))
		admin.GET("/nonces/:id", handler.HandleGetNonce(deps.Nonces))
	}

	return r
}
