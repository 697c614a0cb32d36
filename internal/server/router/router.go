package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/fieldops/internal/server/handlers"
)

// New wires the Gin engine with required routes and middlewares. The UI
// shell's origins are allowed cross-origin; none means no CORS headers.
func New(handler *handlers.DispatchHandler, allowOrigins []string, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))
	if len(allowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:       allowOrigins,
			AllowMethods:       []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:       []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:      []string{"Content-Length"},
			AllowCustomSchemes: true,
			MaxAge:             12 * time.Hour,
		}))
	}

	sessions := r.Group("/sessions")
	sessions.POST("", handler.OpenSession)
	sessions.GET("/:id", handler.GetSession)
	sessions.DELETE("/:id", handler.CloseSession)
	sessions.POST("/:id/scans", handler.Scan)
	sessions.POST("/:id/override/confirm", handler.ConfirmOverride)
	sessions.POST("/:id/override/cancel", handler.CancelOverride)
	sessions.POST("/:id/post", handler.Post)

	r.POST("/dispatched-bales/:id/cancel", handler.CancelBale)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if logger != nil {
		logger.Info("router initialized")
	}

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
