package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/api"
	"github.com/charlesng35/clinicauth/internal/app"
	"github.com/charlesng35/clinicauth/internal/app/maintenance"
	iauth "github.com/charlesng35/clinicauth/internal/auth"
	"github.com/charlesng35/clinicauth/internal/cache"
	"github.com/charlesng35/clinicauth/internal/database"
	"github.com/charlesng35/clinicauth/internal/middleware"
	"github.com/charlesng35/clinicauth/internal/monitoring"
	"github.com/charlesng35/clinicauth/internal/permissions"
	"github.com/charlesng35/clinicauth/internal/security"
	"github.com/charlesng35/clinicauth/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      *cache.RedisStore
	SessionSvc *iauth.SessionService
	Grants     iauth.GrantStore
	RateStore  middleware.RateStore
	Cleaner    *maintenance.Cleaner
	Router     *gin.Engine
}

// bootstrapRuntime initialises the database, caches, services and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			if shutdownErr := stack.Shutdown(context.Background()); shutdownErr != nil {
				log.Warn("partial bootstrap cleanup", zap.Error(shutdownErr))
			}
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	if path := strings.TrimSpace(cfg.Permissions.Vocabulary); path != "" {
		added, err := permissions.LoadVocabularyFile(path)
		if err != nil {
			return nil, err
		}
		log.Info("permission vocabulary extended", zap.String("file", path), zap.Strings("added", added))
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	logSecurityPosture(stack.DB, cfg, log)

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed stores", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	var sharedCache cache.Store = dbStore
	var checks []monitoring.Check
	if stack.Redis != nil {
		sharedCache = stack.Redis
		checks = append(checks, monitoring.RedisCheck(stack.Redis, 0))

		if stack.Grants, err = iauth.NewRedisGrantStore(stack.Redis); err != nil {
			return nil, fmt.Errorf("initialise grant store: %w", err)
		}
		stack.RateStore = middleware.NewRedisRateStore(stack.Redis)
	} else {
		// Without Redis, grants live in this process only.
		stack.Grants = iauth.NewMemoryGrantStore()
		stack.RateStore = middleware.NewDatabaseRateStore(dbStore)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Cache = iauth.NewSessionCache(sharedCache)
	sessionCfg.Grants = stack.Grants

	stack.SessionSvc, err = iauth.NewSessionService(stack.DB, jwtSvc, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(stack.SessionSvc, dbStore,
		maintenance.WithSessionSchedule(cfg.Maintenance.SessionCleanup),
		maintenance.WithCacheSchedule(cfg.Maintenance.CacheCleanup),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(stack.DB, jwtSvc, cfg, stack.SessionSvc, api.Options{
		Grants:    stack.Grants,
		RateStore: stack.RateStore,
		Checks:    checks,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs and releases resources. Every step runs even
// when an earlier one fails.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		if stopCtx := s.Cleaner.Stop(); stopCtx != nil {
			<-stopCtx.Done()
		}
		errs = multierr.Append(errs, s.Cleaner.RunOnce(ctx))
	}

	if s.Redis != nil {
		errs = multierr.Append(errs, s.Redis.Close())
	}

	if s.DB != nil {
		errs = multierr.Append(errs, database.Close(s.DB))
	}

	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

// logSecurityPosture reports every check that did not pass.
func logSecurityPosture(db *gorm.DB, cfg *app.Config, log *zap.Logger) {
	result := security.NewPostureService(db, cfg).Run(context.Background())
	for _, check := range result.Checks {
		fields := []zap.Field{zap.String("check", check.ID), zap.String("remediation", check.Remediation)}
		switch check.Status {
		case security.StatusFail:
			log.Error(check.Message, fields...)
		case security.StatusWarn:
			log.Warn(check.Message, fields...)
		}
	}
}
