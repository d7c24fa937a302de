// Package app wires configuration, storage and services into a runnable server.
package app

import (
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/vidnet/backend/internal/config"
	"github.com/vidnet/backend/internal/events"
	"github.com/vidnet/backend/internal/handlers"
	"github.com/vidnet/backend/internal/jobs"
	"github.com/vidnet/backend/internal/metrics"
	"github.com/vidnet/backend/internal/middleware"
	"github.com/vidnet/backend/internal/routes"
	"github.com/vidnet/backend/internal/services/account"
	"github.com/vidnet/backend/internal/services/commission"
	"github.com/vidnet/backend/internal/services/mlm"
	"github.com/vidnet/backend/internal/services/moderation"
	"github.com/vidnet/backend/internal/services/payment"
	"github.com/vidnet/backend/internal/services/room"
	"github.com/vidnet/backend/internal/utils"
	"gorm.io/gorm"
)

// authRequestsPerMinute and authBurst bound login and registration attempts per IP
const (
	authRequestsPerMinute = 10
	authBurst             = 5
)

// Services holds the domain services
type Services struct {
	Accounts   *account.AccountService
	Commission *commission.Engine
	Payments   *payment.PaymentService
	MLM        *mlm.MLMService
	Rooms      *room.RoomService
	Moderation *moderation.Service
}

// App is the assembled server
type App struct {
	Router      *gin.Engine
	Services    Services
	Scheduler   *jobs.Scheduler
	RateLimiter *middleware.RateLimiter
	Tokens      *utils.TokenIssuer
}

// New assembles the server. A nil redisClient selects the database-backed
// cooldown and disables event publishing.
func New(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, log logrus.FieldLogger) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var (
		cooldown  moderation.CooldownStore = moderation.NewLedgerCooldown(cfg.Moderation.VoteCooldown)
		publisher events.Publisher         = events.NopPublisher{}
	)
	if redisClient != nil {
		cooldown = moderation.NewRedisCooldown(redisClient, cfg.Moderation.VoteCooldown)
		publisher = events.NewRedisPublisher(redisClient)
	}

	tokens := utils.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Expiration)
	engine := commission.NewEngine(db, cfg.MLM, log.WithField("component", "commission"), m)
	moderationSvc := moderation.NewService(db, cfg.Moderation, cooldown, publisher, log.WithField("component", "moderation"), m)

	services := Services{
		Accounts:   account.NewAccountService(db, tokens, cfg.FrontendURL, log.WithField("component", "account")),
		Commission: engine,
		Payments:   payment.NewPaymentService(db, engine, cfg.Membership, log.WithField("component", "payment"), m),
		MLM:        mlm.NewMLMService(db, cfg.MLM),
		Rooms:      room.NewRoomService(db, moderationSvc, cfg.Moderation.TargetLeavePolicy, log.WithField("component", "room")),
		Moderation: moderationSvc,
	}

	scheduler := jobs.NewScheduler(log.WithField("component", "scheduler"))
	expiry := jobs.NewVotingExpiryJob(moderationSvc, cfg.Moderation.SweepInterval, log)
	if err := scheduler.Every("voting_expiry", cfg.Moderation.SweepInterval, expiry); err != nil {
		return nil, err
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, authRequestsPerMinute, cfg.RateLimit.Burst, authBurst)

	httpLog := log.WithField("component", "http")
	router := routes.NewRouter(routes.Handlers{
		Auth:       handlers.NewAuthHandler(services.Accounts, httpLog),
		User:       handlers.NewUserHandler(services.Accounts, httpLog),
		Payment:    handlers.NewPaymentHandler(services.Payments, httpLog),
		MLM:        handlers.NewMLMHandler(services.MLM, services.Accounts, httpLog),
		Room:       handlers.NewRoomHandler(services.Rooms, httpLog),
		Moderation: handlers.NewModerationHandler(moderationSvc, httpLog),
		Admin:      handlers.NewAdminHandler(services.Accounts, httpLog),
	}, routes.Options{
		Tokens:      tokens,
		RateLimiter: rateLimiter,
		Gatherer:    registry,
		FrontendURL: cfg.FrontendURL,
		Environment: cfg.Environment,
		Log:         httpLog,
	})

	return &App{
		Router:      router,
		Services:    services,
		Scheduler:   scheduler,
		RateLimiter: rateLimiter,
		Tokens:      tokens,
	}, nil
}

// Close stops the background workers
func (a *App) Close() {
	a.Scheduler.Stop()
	a.RateLimiter.Stop()
}
