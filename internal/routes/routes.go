package routes

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/vidnet/backend/internal/handlers"
	"github.com/vidnet/backend/internal/middleware"
	"github.com/vidnet/backend/internal/utils"
)

// Handlers groups the HTTP handlers served by the API
type Handlers struct {
	Auth       *handlers.AuthHandler
	User       *handlers.UserHandler
	Payment    *handlers.PaymentHandler
	MLM        *handlers.MLMHandler
	Room       *handlers.RoomHandler
	Moderation *handlers.ModerationHandler
	Admin      *handlers.AdminHandler
}

// Options carries the router's infrastructure
type Options struct {
	Tokens      *utils.TokenIssuer
	RateLimiter *middleware.RateLimiter
	Gatherer    prometheus.Gatherer
	FrontendURL string
	Environment string
	Log         logrus.FieldLogger
}

// NewRouter builds the gin engine with every route registered
func NewRouter(h Handlers, opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(opts.Log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{opts.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.SecureHeadersMiddleware(middleware.DefaultSecureHeadersConfig(opts.Environment)))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.IPRateLimiterMiddleware())
	}
	auth := middleware.AuthMiddleware(opts.Tokens)

	RegisterAuthRoutes(api, h.Auth, auth, opts.RateLimiter)
	RegisterUserRoutes(api, h.User, auth)
	RegisterPaymentRoutes(api, h.Payment, auth)
	RegisterMLMRoutes(api, h.MLM, auth)
	RegisterRoomRoutes(api, h.Room, auth)
	RegisterModerationRoutes(api, h.Moderation, auth)
	RegisterAdminRoutes(api, h, auth)

	return router
}

// RegisterAuthRoutes registers authentication routes
func RegisterAuthRoutes(api *gin.RouterGroup, h *handlers.AuthHandler, auth gin.HandlerFunc, rateLimiter *middleware.RateLimiter) {
	authGroup := api.Group("/auth")
	if rateLimiter != nil {
		authGroup.POST("/register", rateLimiter.AuthRateLimiterMiddleware(), h.Register)
		authGroup.POST("/login", rateLimiter.AuthRateLimiterMiddleware(), h.Login)
	} else {
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
	}
	authGroup.GET("/me", auth, h.Me)
	authGroup.POST("/refresh", auth, h.Refresh)
}

// RegisterUserRoutes registers self-service account routes
func RegisterUserRoutes(api *gin.RouterGroup, h *handlers.UserHandler, auth gin.HandlerFunc) {
	users := api.Group("/users", auth)
	{
		users.PUT("/profile", h.UpdateProfile)
		users.PUT("/change-password", h.ChangePassword)
	}
}

// RegisterPaymentRoutes registers membership payment routes
func RegisterPaymentRoutes(api *gin.RouterGroup, h *handlers.PaymentHandler, auth gin.HandlerFunc) {
	payments := api.Group("/payments", auth)
	{
		payments.POST("", h.ProcessPayment)
		payments.GET("", h.GetPayments)
		payments.GET("/stats", h.GetStats)
		payments.GET("/:id", h.GetPayment)
	}
}

// RegisterMLMRoutes registers network and earnings routes
func RegisterMLMRoutes(api *gin.RouterGroup, h *handlers.MLMHandler, auth gin.HandlerFunc) {
	mlm := api.Group("/mlm", auth)
	{
		mlm.GET("/network", h.GetNetwork)
		mlm.GET("/stats", h.GetStats)
		mlm.GET("/commissions", h.GetCommissions)
		mlm.GET("/levels/:level", h.GetLevel)
		mlm.GET("/referral-link", h.GetReferralLink)
		mlm.GET("/earnings-report", h.GetEarningsReport)
	}
}

// RegisterRoomRoutes registers room routes
func RegisterRoomRoutes(api *gin.RouterGroup, h *handlers.RoomHandler, auth gin.HandlerFunc) {
	rooms := api.Group("/rooms", auth)
	{
		rooms.GET("", h.ListRooms)
		rooms.POST("", h.CreateRoom)
		rooms.GET("/mine", h.MyRooms)
		rooms.GET("/:id", h.GetRoom)
		rooms.PUT("/:id", h.UpdateRoom)
		rooms.DELETE("/:id", h.CloseRoom)
		rooms.POST("/:id/join", h.JoinRoom)
		rooms.POST("/:id/leave", h.LeaveRoom)
	}
}

// RegisterModerationRoutes registers voting routes
func RegisterModerationRoutes(api *gin.RouterGroup, h *handlers.ModerationHandler, auth gin.HandlerFunc) {
	moderation := api.Group("/moderation", auth)
	{
		moderation.POST("/votings", h.StartVoting)
		moderation.POST("/votings/:id/votes", h.CastVote)
		moderation.GET("/rooms/:roomId/votings", h.ActiveVotings)
		moderation.GET("/rooms/:roomId/logs", h.RoomLogs)
		moderation.GET("/users/:userId/expulsions", h.UserExpulsions)
	}
}

// RegisterAdminRoutes registers routes restricted to admins
func RegisterAdminRoutes(api *gin.RouterGroup, h Handlers, auth gin.HandlerFunc) {
	admin := api.Group("/admin", auth, middleware.AdminMiddleware())
	{
		admin.PUT("/users/:id/status", h.Admin.UpdateUserStatus)
		admin.POST("/payments/:id/verify", h.Payment.VerifyPayment)
		admin.GET("/moderation/logs", h.Moderation.Logs)
	}
}
