package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"marketplace/internal/client"
	"marketplace/internal/config"
	"marketplace/internal/handler"
	"marketplace/internal/hashing"
	"marketplace/internal/mail"
	"marketplace/internal/repository/postgres"
	redisrepo "marketplace/internal/repository/redis"
	"marketplace/internal/service"
	"marketplace/internal/token"
	"marketplace/internal/util"
)

// Factory owns the lifecycle of every application dependency. Construction is
// eager for infrastructure clients and lazy for repositories and services.
type Factory struct {
	config *config.Config

	redisClient    *client.RedisClient
	postgresClient *postgres.PostgresClient
	kafkaProducer  *client.KafkaProducer

	tokenManager *token.Manager
	hasher       *hashing.PasswordHasher
	mailer       mail.Mailer

	otpService        *service.OTPService
	authService       *service.AuthService
	shopService       *service.ShopService
	productService    *service.ProductService
	siteConfigService *service.SiteConfigService

	closeOnce sync.Once
}

// NewFactory loads configuration and connects the infrastructure clients.
// Redis and Postgres are required; Kafka is optional and degrades to a nil
// producer.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{config: cfg}

	redisClient, err := client.NewRedisClient(cfg, util.Get())
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient

	postgresClient, err := postgres.NewPostgresClient(cfg, util.Get())
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	f.postgresClient = postgresClient

	if producer, err := client.NewKafkaProducer(cfg, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	tokenManager, err := token.NewManager(cfg.JWT)
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}
	f.tokenManager = tokenManager
	f.hasher = hashing.NewPasswordHasher()
	f.mailer = mail.NewSMTPMailer(cfg.SMTP, util.Get())

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kafka_enabled", f.kafkaProducer != nil),
	)
	return f, nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) OTPService() *service.OTPService {
	if f.otpService == nil {
		cache := redisrepo.NewOTPCache(f.redisClient)
		f.otpService = service.NewOTPService(cache, f.mailer, f.kafkaProducer, f.config.OTP, util.Get())
	}
	return f.otpService
}

func (f *Factory) AuthService() *service.AuthService {
	if f.authService == nil {
		accounts := postgres.NewAccountRepository(f.postgresClient, util.Get())
		f.authService = service.NewAuthService(accounts, f.OTPService(), f.tokenManager, f.hasher, f.kafkaProducer, util.Get())
	}
	return f.authService
}

func (f *Factory) SiteConfigService() *service.SiteConfigService {
	if f.siteConfigService == nil {
		repo := postgres.NewSiteConfigRepository(f.postgresClient, util.Get())
		f.siteConfigService = service.NewSiteConfigService(repo, util.Get())
	}
	return f.siteConfigService
}

func (f *Factory) ShopService() *service.ShopService {
	if f.shopService == nil {
		shops := postgres.NewShopRepository(f.postgresClient, util.Get())
		f.shopService = service.NewShopService(shops, f.SiteConfigService(), util.Get())
	}
	return f.shopService
}

func (f *Factory) ProductService() *service.ProductService {
	if f.productService == nil {
		products := postgres.NewProductRepository(f.postgresClient, util.Get())
		shops := postgres.NewShopRepository(f.postgresClient, util.Get())
		f.productService = service.NewProductService(products, shops, f.SiteConfigService(), util.Get())
	}
	return f.productService
}

// Router assembles the HTTP surface over the services.
func (f *Factory) Router() http.Handler {
	authHandler := handler.NewAuthHandler(f.AuthService(), f.config, util.Get())
	marketplaceHandler := handler.NewMarketplaceHandler(f.ShopService(), f.ProductService(), f.SiteConfigService(), util.Get())
	authMW := handler.NewAuthMiddleware(f.tokenManager, f.AuthService())

	return handler.NewRouter(handler.RouterDeps{
		Config:      f.config,
		Logger:      util.Get(),
		Auth:        authHandler,
		Marketplace: marketplaceHandler,
		AuthMW:      authMW,
		Redis:       f.redisClient,
		Postgres:    f.postgresClient,
	})
}

// EnsureSiteConfig seeds the default category tree on first boot.
func (f *Factory) EnsureSiteConfig(ctx context.Context) error {
	return f.SiteConfigService().EnsureDefaults(ctx)
}

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		healthErrors["redis"] = err
	}
	if err := f.postgresClient.HealthCheck(ctx); err != nil {
		healthErrors["postgres"] = err
	}
	return healthErrors
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if err := f.kafkaProducer.Close(); err != nil {
			util.Error("Failed to close Kafka producer", util.ErrorField(err))
		}
		if f.postgresClient != nil {
			_ = f.postgresClient.Close()
		}
		if f.redisClient != nil {
			_ = f.redisClient.Close()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})
	return nil
}
