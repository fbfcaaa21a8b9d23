package http

import (
	"net/http"
	"time"

	"wordchain-server/internal/delivery/http/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

// RouterConfig - параметры HTTP-роутера.
type RouterConfig struct {
	JWTSecret      []byte
	AllowedOrigins []string
	// Live обслуживает websocket-подключения, nil - маршрут не регистрируется.
	Live gin.HandlerFunc
}

const defaultAllowedOrigin = "http://localhost:3000"

// NewRouter собирает gin.Engine: логирование, метрики, CORS, health и API под /api/v1.
func NewRouter(cfg RouterConfig, h *Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(middleware.ZapLoggingMiddlewareForGin(logger.Named("HTTP")))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{defaultAllowedOrigin}
		logger.Info("CORS_ALLOWED_ORIGINS not set, allowing default", zap.String("origin", defaultAllowedOrigin))
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	api := router.Group("/api/v1", middleware.JWTAuth(cfg.JWTSecret, logger))
	h.RegisterRoutes(api)
	if cfg.Live != nil {
		api.GET("/live", cfg.Live)
	}
	return router
}
