package server

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"opencrm/api/internal/config"
	"opencrm/api/internal/handler"
	"opencrm/api/internal/middleware"
	"opencrm/api/internal/service"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Server represents the HTTP server
type Server struct {
	router    *gin.Engine
	config    *config.Config
	db        *gorm.DB
	redis     *redis.Client
	nats      *nats.Conn
	wsHub     *handler.WSHub
	wsHandler *handler.WSHandler
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) *Server {
	return &Server{
		config: cfg,
		db:     db,
		redis:  redisClient,
		nats:   natsConn,
	}
}

// Setup initializes routes and handlers
func (s *Server) Setup() {
	// Initialize WebSocket hub first so the dashboard feed is live before traffic
	s.wsHub = handler.NewWSHub(s.nats)
	s.wsHandler = handler.NewWSHandler(s.wsHub)

	// Initialize services
	authService := service.NewAuthService(s.db)
	policyService := service.NewPolicyService(s.db, s.redis)
	qrService := service.NewQRSecretService(s.db, s.redis)
	evidenceService := service.NewEvidenceService(s.db)
	recordStore := service.NewGormRecordStore(s.db)
	directory := service.NewGormDirectory(s.db, s.config.DefaultTimezone)
	eventPublisher := service.NewNATSEventPublisher(s.nats)
	attendanceService := service.NewAttendanceService(
		recordStore,
		directory,
		policyService,
		evidenceService,
		qrService,
		qrService,
		eventPublisher,
	)
	reportService := service.NewReportService(s.db)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authService, s.config)
	attendanceHandler := handler.NewAttendanceHandler(attendanceService, evidenceService, qrService)
	policyHandler := handler.NewPolicyHandler(policyService)
	reportHandler := handler.NewReportHandler(reportService)

	// Start WebSocket hub in background
	go s.wsHub.Run()
	log.Println("[Server] WebSocket hub started")

	// Setup Gin router
	s.router = gin.Default()

	// CORS middleware
	s.router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Rate limiting. User-keyed rules are attached after the auth middleware
	// so the key can be the authenticated user; everything else runs globally.
	var limiter middleware.RateLimiter
	if s.config.RateLimit.Enabled && s.redis != nil {
		limiter = middleware.NewRedisRateLimiter(s.redis)
		group := middleware.NewRateLimitGroup(limiter, s.config.RateLimit.DefaultRule.ToMiddlewareConfig())
		for i := range s.config.RateLimit.SpecificRules {
			rule := &s.config.RateLimit.SpecificRules[i]
			if rule.Type == middleware.RateLimitByUser {
				continue
			}
			group.AddSpecificConfig(rule.Path, rule.ToMiddlewareConfig())
		}
		s.router.Use(group.Middleware())
		log.Println("[Server] Rate limiting enabled")
	}

	checkInLimit := func(c *gin.Context) { c.Next() }
	if limiter != nil {
		rule := s.config.GetRateLimitRuleForPath("/api/v1/attendance/check-in")
		if rule.Type == middleware.RateLimitByUser {
			checkInLimit = middleware.NewRateLimitMiddleware(limiter, rule.ToMiddlewareConfig()).Middleware()
		}
	}

	// Swagger UI
	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Public routes
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	s.router.POST("/api/v1/auth/login", authHandler.Login)

	// WebSocket routes - public but can add auth middleware if needed
	s.router.GET("/ws/attendance", s.wsHandler.HandleAttendance)
	s.router.GET("/ws/stats", s.wsHandler.GetStats)

	// Protected routes
	api := s.router.Group("/api/v1")
	api.Use(authHandler.AuthMiddleware())
	{
		// Auth
		api.GET("/auth/me", authHandler.GetMe)

		// Attendance
		api.POST("/attendance/check-in", checkInLimit, attendanceHandler.CheckIn)
		api.POST("/attendance/check-out", checkInLimit, attendanceHandler.CheckOut)
		api.GET("/attendance/today", attendanceHandler.Today)
		api.GET("/attendance/records", attendanceHandler.History)
		api.GET("/attendance/evidence/:ref", attendanceHandler.GetEvidence)

		// Admin
		admin := api.Group("")
		admin.Use(handler.RequireRole("admin", "manager"))
		{
			admin.GET("/attendance/qr", attendanceHandler.CurrentQRCode)
			admin.GET("/attendance/policy", policyHandler.Get)
			admin.PUT("/attendance/policy", policyHandler.Update)
			admin.GET("/attendance/report", reportHandler.Download)
			admin.GET("/attendance/summary", reportHandler.Summary)
		}
	}
}

// Run starts the HTTP server
func (s *Server) Run(addr string) error {
	log.Printf("[Server] HTTP server listening on %s", addr)
	return s.router.Run(addr)
}

// GetWSHub returns the WebSocket hub for external use
func (s *Server) GetWSHub() *handler.WSHub {
	return s.wsHub
}

// GetRouter returns the gin router for testing
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() {
	if s.wsHub != nil {
		s.wsHub.Stop()
		log.Println("[Server] WebSocket hub stopped")
	}
}
