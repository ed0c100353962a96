package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/app"
	iauth "github.com/charlesng35/clinicauth/internal/auth"
	"github.com/charlesng35/clinicauth/internal/auth/mfa"
	"github.com/charlesng35/clinicauth/internal/auth/providers"
	"github.com/charlesng35/clinicauth/internal/authz"
	"github.com/charlesng35/clinicauth/internal/handlers"
	"github.com/charlesng35/clinicauth/internal/middleware"
	"github.com/charlesng35/clinicauth/internal/monitoring"
	"github.com/charlesng35/clinicauth/internal/permissions"
	"github.com/charlesng35/clinicauth/internal/security"
	"github.com/charlesng35/clinicauth/internal/services"
)

// Options carries the optional collaborators of the router.
type Options struct {
	// Grants holds session temporary grants. Defaults to process memory.
	Grants iauth.GrantStore
	// RateStore backs the public endpoint limiter. Defaults to process memory.
	RateStore middleware.RateStore
	// Checks are extra readiness probes reported on /health.
	Checks []monitoring.Check
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, sessions *iauth.SessionService, opts Options) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if opts.Grants == nil {
		opts.Grants = iauth.NewMemoryGrantStore()
	}
	if opts.RateStore == nil {
		opts.RateStore = middleware.NewMemoryRateStore()
	}

	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	checker, err := permissions.NewChecker(db)
	if err != nil {
		return nil, err
	}
	local, err := providers.NewLocalProvider(db, cfg.Auth.LocalProviderConfig())
	if err != nil {
		return nil, err
	}
	totp, err := newTOTPService(db, cfg)
	if err != nil {
		return nil, err
	}
	codeCfg := cfg.AccessCodes.ServiceConfig()
	codeCfg.Sessions = sessions
	codes, err := services.NewAccessCodeService(db, opts.Grants, audit, codeCfg)
	if err != nil {
		return nil, err
	}
	gate, err := authz.NewGate(checker, opts.Grants, codes, audit, authz.WithSessions(sessions))
	if err != nil {
		return nil, err
	}
	users, err := services.NewUserService(db, audit, sessions)
	if err != nil {
		return nil, err
	}
	roles, err := services.NewRoleService(db, audit)
	if err != nil {
		return nil, err
	}
	authHandler, err := handlers.NewAuthHandler(db, jwt, sessions, local, totp, audit)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	r.Use(middleware.ClientContext())

	health := monitoring.NewHealthManager(append([]monitoring.Check{monitoring.DatabaseCheck(db, 0)}, opts.Checks...)...)
	r.GET("/health", handlers.Health(health))

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	publicLimit := middleware.RateLimit(opts.RateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window)

	api := r.Group("/api")
	api.Use(middleware.Auth(jwt, audit))

	registerAuthRoutes(r, api, authHandler, gate, publicLimit)
	registerAuthorizeRoutes(api, handlers.NewAuthorizeHandler(gate), handlers.NewPermissionHandler(db, gate))
	registerRoleRoutes(api, handlers.NewRoleHandler(roles), gate)
	registerUserRoutes(api, handlers.NewUserHandler(users), handlers.NewRoleHandler(roles), gate)
	registerAccessCodeRoutes(api, handlers.NewAccessCodeHandler(codes), gate,
		middleware.NewThrottle(cfg.AccessCodes.ActivationRate, cfg.AccessCodes.ActivationBurst).
			WithAudit(audit, services.ActionActivateCode))
	registerAuditRoutes(api, handlers.NewAuditHandler(audit), gate)
	registerProfileRoutes(api, handlers.NewMFAHandler(db, totp, audit), handlers.NewProfileHandler(local, audit), gate)
	registerSecurityRoutes(api, handlers.NewSecurityHandler(security.NewPostureService(db, cfg)), gate)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

// newTOTPService returns nil when no encryption key is configured, which
// leaves the second factor endpoints answering 503.
func newTOTPService(db *gorm.DB, cfg *app.Config) (*mfa.TOTPService, error) {
	key, err := cfg.Security.EncryptionKeyBytes()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, nil
	}

	var opts []mfa.Option
	if cfg.Auth.MFA.Issuer != "" {
		opts = append(opts, mfa.WithIssuer(cfg.Auth.MFA.Issuer))
	}
	return mfa.NewTOTPService(db, key, opts...)
}
