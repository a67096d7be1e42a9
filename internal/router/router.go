package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/molekcbt/session-gateway/internal/auth"
	"github.com/molekcbt/session-gateway/internal/config"
	"github.com/molekcbt/session-gateway/internal/handler"
	"github.com/molekcbt/session-gateway/internal/middleware"
	"github.com/molekcbt/session-gateway/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Portal *handler.PortalHandler
	WS     *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	verifier *auth.Verifier,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for session starts. A reload storm at exam open time
	// must not fan out into a backend start-request storm.
	startLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── Student Group (JWT) ───────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(verifier))
	{
		studentAPI.POST("/exams/:exam_id/session", startLimiter.Middleware(), handlers.Portal.StartSession)
		studentAPI.GET("/exams/:exam_id/session", handlers.Portal.GetState)
		studentAPI.PUT("/exams/:exam_id/session/answers", handlers.Portal.SelectAnswer)
		studentAPI.PUT("/exams/:exam_id/session/marks", handlers.Portal.ToggleMark)
		studentAPI.PUT("/exams/:exam_id/session/connectivity", handlers.Portal.ReportConnectivity)
		studentAPI.GET("/exams/:exam_id/session/summary", handlers.Portal.GetSummary)
		studentAPI.POST("/exams/:exam_id/session/submit", handlers.Portal.Submit)
		studentAPI.POST("/exams/:exam_id/session/exit", handlers.Portal.Exit)
	}

	// ─── WebSocket Group (Student WS Auth) ─────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(verifier))
	{
		ws.GET("/student/exams/:exam_id/stream", handlers.WS.SessionStream)
	}

	return router
}
