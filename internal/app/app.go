// Package app wires configuration into the components shared by the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"identity-provisioning/internal/config"
	"identity-provisioning/internal/db"
	"identity-provisioning/internal/events"
	"identity-provisioning/internal/identity/domain"
	"identity-provisioning/internal/identity/repository"
	"identity-provisioning/internal/identity/service"
	"identity-provisioning/internal/idp"
	"identity-provisioning/internal/policy"
	"identity-provisioning/internal/security"
	telemetryotel "identity-provisioning/internal/telemetry/otel"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	DB        *sql.DB
	Roles     *policy.OPAEvaluator
	Gateway   *idp.Client
	Events    *events.AsyncProducer
	Telemetry *telemetryotel.Providers
	Service   *service.ProvisioningService
	logger    *slog.Logger
}

// IDPConfig maps application config to the identity provider client config.
func IDPConfig(cfg *config.Config) idp.Config {
	return idp.Config{
		BaseURL:       cfg.IDPBaseURL,
		Realm:         cfg.IDPRealm,
		AdminRealm:    cfg.IDPAdminRealm,
		AdminUsername: cfg.IDPAdminUsername,
		AdminPassword: cfg.IDPAdminPassword,
		AdminClientID: cfg.IDPAdminClientID,
		ClientID:      cfg.IDPClientID,
		ClientSecret:  cfg.IDPClientSecret,
		Timeout:       cfg.IDPTimeout(),
		MaxRetries:    cfg.IDPMaxRetries,
		TokenTTL:      cfg.IDPTokenTTL(),
		RateLimit:     cfg.IDPRateLimit,
		Roles: map[domain.RoleTag]string{
			domain.RolePlain:  cfg.IDPRolePlain,
			domain.RoleAuthor: cfg.IDPRoleAuthor,
		},
		Groups: map[domain.RoleTag]string{
			domain.RolePlain:  cfg.IDPGroupPlain,
			domain.RoleAuthor: cfg.IDPGroupAuthor,
		},
	}
}

// New builds telemetry, the database pool, the role policy, the identity provider client, the event
// producer and the provisioning service. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	if err := cfg.ValidateIDP(); err != nil {
		return nil, err
	}

	a.Telemetry, err = telemetryotel.NewProviders(ctx, cfg.OTelEndpoint, cfg.OTelServiceName, cfg.OTelInsecure)
	if err != nil {
		return nil, err
	}
	a.Telemetry.SetGlobal()

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a.DB, err = db.Open(openCtx, cfg.DatabaseURL, db.PoolOptions{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	cancel()
	if err != nil {
		return nil, err
	}

	a.Roles, err = policy.LoadOPAEvaluator(ctx, cfg.RolePolicyFile)
	if err != nil {
		return nil, err
	}

	a.Gateway, err = idp.New(IDPConfig(cfg), idp.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	var sink events.Producer = events.NopProducer{}
	if kp := events.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.EventsTopic, logger); kp != nil {
		sink = kp
		logger.Info("publishing lifecycle events to kafka", "topic", cfg.EventsTopic)
	}
	a.Events = events.NewAsyncProducer(sink, logger)

	tracer, meter := a.Telemetry.Instrumentation("identity-provisioning/service")
	a.Service, err = service.New(service.Deps{
		Store:    repository.NewPostgresRepository(a.DB),
		Gateway:  a.Gateway,
		Encoder:  security.NewHasher(cfg.BcryptCost),
		Roles:    a.Roles,
		Events:   a.Events,
		Warnings: telemetryotel.NewWarningEmitter(a.Telemetry.LoggerProvider),
		Logger:   logger,
		Tracer:   tracer,
		Meter:    meter,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close drains pending events, then closes the producer, the database and the telemetry exporters.
func (a *App) Close(ctx context.Context) {
	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			a.logger.Warn("close event producer", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	}
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("otel shutdown", "error", err)
		}
	}
}
