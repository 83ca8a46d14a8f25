package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/proctor-backend/internal/config"
	"github.com/stemsi/proctor-backend/internal/handler"
	"github.com/stemsi/proctor-backend/internal/metrics"
	"github.com/stemsi/proctor-backend/internal/middleware"
	"github.com/stemsi/proctor-backend/internal/response"
	"github.com/stemsi/proctor-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	Session *handler.SessionHandler
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(
		response.RequestIDMiddleware(),
		middleware.RequestLogger(log),
		metrics.Middleware(),
	)

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", metrics.Handler())

	// ─── 1. Participant Group ──────────────────────────────────────────
	participantAPI := router.Group("/api/v1/participant")
	participantAPI.Use(middleware.RequireParticipant(authService), limiter.Middleware())
	{
		participantAPI.POST("/sessions/:id/join", handlers.Attempt.JoinSession)

		participantAPI.POST("/attempts/:id/start", handlers.Attempt.Start)
		participantAPI.POST("/attempts/:id/checkpoint", handlers.Attempt.SubmitCheckpoint)
		participantAPI.GET("/attempts/:id/state", handlers.Attempt.State)
		participantAPI.GET("/attempts/:id/questions", handlers.Attempt.Questions)
		participantAPI.PUT("/attempts/:id/answers", handlers.Attempt.SaveAnswer)
		participantAPI.POST("/attempts/:id/submit", handlers.Attempt.Submit)
	}

	// ─── 2. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireParticipant(authService))
	{
		ws.GET("/attempts/:id/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Teacher Group ──────────────────────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(middleware.RequireTeacher(authService))
	{
		teacherAPI.POST("/sessions", handlers.Session.Create)
		teacherAPI.GET("/sessions/:id", handlers.Session.Get)
		teacherAPI.POST("/sessions/:id/start", handlers.Session.Start)
		teacherAPI.POST("/sessions/:id/end", handlers.Session.End)
		teacherAPI.GET("/sessions/:id/token", handlers.Session.Token)
		teacherAPI.GET("/sessions/:id/roster", handlers.Session.Roster)
		teacherAPI.GET("/sessions/:id/checkpoint-logs", handlers.Session.CheckpointLog)

		// Server-sent event streams.
		teacherAPI.GET("/sessions/:id/monitor", handlers.Monitor.MonitorSessionSSE)
		teacherAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
