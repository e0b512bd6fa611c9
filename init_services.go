package main

import (
	"log"
	"time"

	"github.com/commsapp/server/config"
	"github.com/commsapp/server/models"
	"github.com/commsapp/server/pkg/cache"
	"github.com/commsapp/server/pkg/email"
	"github.com/commsapp/server/pkg/ratelimit"
	"github.com/commsapp/server/services"
	"github.com/commsapp/server/ws"
)

// Services holds every service instance.
type Services struct {
	Auth   services.AuthService
	Server services.ServerService
}

// RateLimiters holds the rate limiter instances.
type RateLimiters struct {
	Login *ratelimit.LoginRateLimiter
}

// initServices wires the service layer: the aggregate cache, the
// optional email sender and the services themselves.
func initServices(repos *Repositories, hub ws.EventPublisher, cfg *config.Config) (*Services, *RateLimiters) {
	aggregateCache := cache.New[string, *models.Server](
		time.Duration(cfg.Cache.TTLMinutes)*time.Minute,
		time.Duration(cfg.Cache.CleanupMinutes)*time.Minute,
	)

	// Email is optional; invitations fail with a clear error when the
	// sender is nil.
	var emailSender email.EmailSender
	if cfg.Email.APIKey != "" {
		emailSender = email.NewResendSender(cfg.Email.APIKey, cfg.Email.FromEmail, cfg.Email.AppURL)
		log.Printf("[main] email service enabled (from=%s)", cfg.Email.FromEmail)
	} else {
		log.Println("[main] email service disabled (RESEND_API_KEY not set)")
	}

	authService := services.NewAuthService(repos.User, cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	serverService := services.NewServerService(repos.Server, repos.Message, aggregateCache, hub, emailSender)

	return &Services{
			Auth:   authService,
			Server: serverService,
		}, &RateLimiters{
			Login: ratelimit.NewLoginRateLimiter(5, 2*time.Minute),
		}
}
