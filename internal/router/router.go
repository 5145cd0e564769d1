package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/handler"
	"github.com/inkgrade/inkgrade-backend/internal/middleware"
	"github.com/inkgrade/inkgrade-backend/internal/response"
	"github.com/inkgrade/inkgrade-backend/internal/service"
)

// catalogCacheSeconds is how long clients may cache the exam catalog.
// Short on purpose: exam windows open and close on the minute.
const catalogCacheSeconds = 30

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth     *handler.AuthHandler
	Exam     *handler.ExamHandler
	Session  *handler.SessionHandler
	Review   *handler.ReviewHandler
	Progress *handler.ProgressHandler
	System   *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID before the access log so every log line carries one.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.AccessLog(log))

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Probes.
	router.GET("/healthz", handlers.System.Healthz)
	router.GET("/readyz", handlers.System.Readyz)

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/student/login", handlers.Auth.StudentLogin)
		auth.POST("/teacher/login", handlers.Auth.TeacherLogin)
		auth.POST("/refresh", handlers.Auth.Refresh)

		// Authenticated profile routes
		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.Me)
		auth.GET("/teacher/me", middleware.RequireTeacherJWT(authService), handlers.Auth.Me)
	}

	// ─── 2. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		// Exam catalog. Read-mostly, so responses carry a short private
		// Cache-Control.
		studentAPI.GET("/exams", middleware.CacheControl(catalogCacheSeconds), handlers.Exam.List)
		studentAPI.GET("/exams/:exam_id", middleware.CacheControl(catalogCacheSeconds), handlers.Exam.GetDetail)
		studentAPI.POST("/exams/:exam_id/enter", handlers.Session.Enter)

		// Exam-taking flow.
		studentAPI.GET("/sessions", handlers.Session.MySessions)
		studentAPI.GET("/sessions/:session_id", handlers.Session.GetState)
		studentAPI.POST("/sessions/:session_id/auto-save", handlers.Session.AutoSave)
		studentAPI.POST("/sessions/:session_id/submit", handlers.Session.Submit)
		studentAPI.POST("/sessions/:session_id/images", handlers.Session.UploadImage)
		studentAPI.DELETE("/sessions/:session_id/images/:image_id", handlers.Session.DeleteImage)
		studentAPI.GET("/sessions/:session_id/result", handlers.Session.Result)
	}

	// ─── 3. Review Group (Teacher JWT) ─────────────────────────────────
	reviewAPI := router.Group("/api/v1/review")
	reviewAPI.Use(middleware.RequireTeacherJWT(authService))
	{
		reviewAPI.GET("/exams/:exam_id/submissions", handlers.Review.ListSubmissions)
		reviewAPI.GET("/exams/:exam_id/progress", handlers.Progress.GetProgress)

		reviewAPI.GET("/submissions/:submission_id", handlers.Review.GetSubmission)
		reviewAPI.POST("/submissions/:submission_id/approve", handlers.Review.Approve)
		reviewAPI.POST("/submissions/:submission_id/override", handlers.Review.Override)
		reviewAPI.POST("/submissions/:submission_id/regrade", handlers.Review.Regrade)
		reviewAPI.POST("/submissions/:submission_id/reject", handlers.Review.Reject)

		// Ops view.
		reviewAPI.GET("/system/metrics", handlers.System.MetricsSSE)
	}

	// ─── 4. Progress WebSocket (Teacher WS Auth) ───────────────────────
	// Browsers cannot set Authorization headers on WebSocket upgrades, so
	// this route authenticates via a token query parameter instead of the
	// review group's bearer middleware.
	router.GET("/api/v1/review/exams/:exam_id/progress/ws",
		middleware.RequireTeacherWSAuth(authService),
		handlers.Progress.StreamProgress,
	)

	return router
}
