package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/api"
	"github.com/lcourbet/promogate/internal/app"
	"github.com/lcourbet/promogate/internal/app/maintenance"
	iauth "github.com/lcourbet/promogate/internal/auth"
	"github.com/lcourbet/promogate/internal/database"
	"github.com/lcourbet/promogate/internal/services"
	"github.com/lcourbet/promogate/internal/storage"
	"github.com/lcourbet/promogate/pkg/logger"
	"github.com/lcourbet/promogate/pkg/mail"
	"github.com/lcourbet/promogate/pkg/sms"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("promogate-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	cfg.Auth.JWT.Secret = strings.TrimSpace(cfg.Auth.JWT.Secret)
	if cfg.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(mail.SMTPSettings{
		Enabled:  cfg.Email.SMTP.Enabled,
		Host:     cfg.Email.SMTP.Host,
		Port:     cfg.Email.SMTP.Port,
		Username: cfg.Email.SMTP.Username,
		Password: cfg.Email.SMTP.Password,
		From:     cfg.Email.SMTP.From,
		UseTLS:   cfg.Email.SMTP.UseTLS,
		Timeout:  cfg.Email.SMTP.Timeout,
	})
	if err != nil {
		return fmt.Errorf("initialise mailer: %w", err)
	}

	smsSender, err := sms.NewGatewaySender(sms.GatewaySettings{
		Enabled: cfg.SMS.Gateway.Enabled,
		URL:     cfg.SMS.Gateway.URL,
		APIKey:  cfg.SMS.Gateway.APIKey,
		From:    cfg.SMS.Gateway.From,
		Timeout: cfg.SMS.Gateway.Timeout,
	})
	if err != nil {
		return fmt.Errorf("initialise sms sender: %w", err)
	}

	store, err := storage.NewLocalStore(cfg.Storage.Directory, cfg.Storage.MaxFileSize)
	if err != nil {
		return fmt.Errorf("initialise document store: %w", err)
	}

	deps, err := buildServices(db, cfg, mailer, smsSender, store)
	if err != nil {
		return err
	}

	if cfg.Maintenance.Enabled {
		cleaner := maintenance.NewCleaner(
			deps.Invitations, deps.TwoFactor, deps.KYC, deps.Sessions, deps.Activity,
			maintenance.WithSchedule(cfg.Maintenance.Schedule),
			maintenance.WithActivityRetention(cfg.Maintenance.ActivityRetention),
		)
		if err := cleaner.Start(); err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer func() {
			stopCtx := cleaner.Stop()
			if err := cleaner.RunOnce(stopCtx); err != nil {
				log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
			}
		}()
	}

	router, err := api.NewRouter(db, jwtService, deps, api.MonitoringOptions{
		MetricsEnabled:  cfg.Monitoring.Prometheus.Enabled,
		MetricsEndpoint: cfg.Monitoring.Prometheus.Endpoint,
		HealthEnabled:   cfg.Monitoring.Health.Enabled,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func buildServices(db *gorm.DB, cfg *app.Config, mailer mail.Mailer, smsSender sms.Sender, store *storage.LocalStore) (api.Dependencies, error) {
	activity, err := services.NewActivityService(db)
	if err != nil {
		return api.Dependencies{}, fmt.Errorf("initialise activity service: %w", err)
	}

	invitations, err := services.NewInvitationService(db, mailer, activity,
		services.WithInvitationBaseURL(cfg.Server.BaseURL),
		services.WithInvitationExpiry(time.Duration(cfg.Invitations.ExpiryDays)*24*time.Hour),
	)
	if err != nil {
		return api.Dependencies{}, fmt.Errorf("initialise invitation service: %w", err)
	}

	onboarding, err := services.NewOnboardingService(db, activity, mailer)
	if err != nil {
		return api.Dependencies{}, fmt.Errorf("initialise onboarding service: %w", err)
	}

	kyc, err := services.NewKYCService(db, store, activity, mailer,
		services.WithApprovalValidity(time.Duration(cfg.KYC.ApprovalValidityDays)*24*time.Hour),
	)
	if err != nil {
		return api.Dependencies{}, fmt.Errorf("initialise kyc service: %w", err)
	}

	twofactor, err := services.NewTwoFactorService(db, smsSender, activity, services.TwoFactorConfig{
		DailyLimit:     cfg.SMS.DailyLimit,
		CodeTTL:        cfg.SMS.CodeTTL,
		CodeDigits:     cfg.SMS.CodeDigits,
		MaxAttempts:    cfg.SMS.MaxAttempts,
		ResendCooldown: cfg.SMS.ResendCooldown,
		Strict:         cfg.SMS.Strict,
	})
	if err != nil {
		return api.Dependencies{}, fmt.Errorf("initialise twofactor service: %w", err)
	}

	sessions, err := services.NewSessionService(db,
		services.WithSessionTTL(cfg.Auth.Session.TTL),
		services.WithSessionTokenLength(cfg.Auth.Session.TokenLength),
	)
	if err != nil {
		return api.Dependencies{}, fmt.Errorf("initialise session service: %w", err)
	}

	stepUp, err := services.NewStepUpService(twofactor, sessions,
		services.WithStepUpWindow(cfg.Auth.StepUp.Window),
	)
	if err != nil {
		return api.Dependencies{}, fmt.Errorf("initialise stepup service: %w", err)
	}

	access, err := services.NewAccessService(db, sessions, stepUp)
	if err != nil {
		return api.Dependencies{}, fmt.Errorf("initialise access service: %w", err)
	}

	return api.Dependencies{
		Invitations: invitations,
		Onboarding:  onboarding,
		KYC:         kyc,
		TwoFactor:   twofactor,
		Sessions:    sessions,
		StepUp:      stepUp,
		Access:      access,
		Activity:    activity,
	}, nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
