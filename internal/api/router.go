package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	iauth "github.com/lcourbet/promogate/internal/auth"
	"github.com/lcourbet/promogate/internal/handlers"
	"github.com/lcourbet/promogate/internal/middleware"
	"github.com/lcourbet/promogate/internal/services"
)

// Dependencies bundles the constructed services the router exposes over HTTP.
type Dependencies struct {
	Invitations *services.InvitationService
	Onboarding  *services.OnboardingService
	KYC         *services.KYCService
	TwoFactor   *services.TwoFactorService
	Sessions    *services.SessionService
	StepUp      *services.StepUpService
	Access      *services.AccessService
	Activity    *services.ActivityService
}

// MonitoringOptions toggles the operational endpoints.
type MonitoringOptions struct {
	MetricsEnabled  bool
	MetricsEndpoint string
	HealthEnabled   bool
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, deps Dependencies, mon MonitoringOptions) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Invitations == nil || deps.Onboarding == nil || deps.KYC == nil ||
		deps.TwoFactor == nil || deps.Sessions == nil || deps.StepUp == nil ||
		deps.Access == nil || deps.Activity == nil {
		return nil, fmt.Errorf("all services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimit(100, time.Minute))

	// Health endpoint (public)
	if mon.HealthEnabled {
		r.GET("/health", handlers.Health(db))
	}

	invitationHandler := handlers.NewInvitationHandler(deps.Invitations)

	// Invitation links are usable before project membership exists; info is
	// public, acceptance requires an authenticated caller.
	requireAuth := middleware.Auth(jwt)
	r.GET("/api/invitations/:id", invitationHandler.Info)
	r.POST("/api/invitations/:id/accept", requireAuth, invitationHandler.Accept)

	// Protected routes
	requireAdmin := middleware.RequireAdmin(db)

	api := r.Group("/api")
	api.Use(requireAuth)

	registerInvitationRoutes(api, invitationHandler)
	registerKYCRoutes(api, handlers.NewKYCHandler(deps.KYC), requireAdmin)
	registerTwoFactorRoutes(api, handlers.NewTwoFactorHandler(deps.TwoFactor, deps.StepUp))
	registerSessionRoutes(api, handlers.NewSessionHandler(deps.Sessions, jwt))
	registerOnboardingRoutes(api, handlers.NewOnboardingHandler(deps.Onboarding), requireAdmin)
	registerAccessRoutes(api, handlers.NewAccessHandler(deps.Access))

	api.GET("/activity", requireAdmin, handlers.NewActivityHandler(deps.Activity).List)

	// Metrics endpoint
	if mon.MetricsEnabled {
		endpoint := mon.MetricsEndpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
