package main

import (
	"context"
	"os"
	"time"

	module "github.com/dmitrymomot/subsync/modules/billing"
	"github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/entitlement"
	"github.com/dmitrymomot/subsync/pkg/httpserver"
	"github.com/dmitrymomot/subsync/pkg/logger"
	"github.com/dmitrymomot/subsync/pkg/plan"
	"github.com/dmitrymomot/subsync/pkg/redis"
	"github.com/dmitrymomot/subsync/pkg/subscription"
)

func main() {
	if err := run(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		logger.New().Error("failed to load configuration", logger.Error(err))
		return err
	}

	log := logger.NewFromConfig(cfg.Log, logger.WithAttrs(logger.Component("subsyncd")))

	db, err := entitlement.Connect(ctx, cfg.Mongo)
	if err != nil {
		log.Error("failed to connect to mongodb", logger.Error(err))
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Client().Disconnect(shutdownCtx); err != nil {
			log.Warn("mongodb disconnect failed", logger.Error(err))
		}
	}()

	redisClient, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", logger.Error(err))
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Warn("redis close failed", logger.Error(err))
		}
	}()

	catalog, err := plan.NewCatalog(cfg.Plans)
	if err != nil {
		log.Error("invalid plan catalog", logger.Error(err))
		return err
	}

	provider, err := billing.NewStripeProvider(cfg.Stripe)
	if err != nil {
		log.Error("failed to initialize billing provider", logger.Error(err))
		return err
	}

	auth, err := module.NewAuthenticator(cfg.Auth)
	if err != nil {
		log.Error("failed to initialize authenticator", logger.Error(err))
		return err
	}

	store := entitlement.NewMongoStore(db)
	deduper := subscription.NewRedisDeduper(redisClient, time.Duration(cfg.EventDedupTTL)*time.Hour)

	svc := subscription.NewService(store, provider, catalog,
		subscription.WithTrialDays(cfg.TrialDays),
		subscription.WithDeduper(deduper),
		subscription.WithLogger(log),
	)

	router := module.Router(svc, auth, log, module.RouterOptions{
		HealthChecks: []func(context.Context) error{
			entitlement.Healthcheck(db),
			redis.Healthcheck(redisClient),
		},
	})

	srv := httpserver.New(cfg.HTTP, log)
	if err := srv.Run(ctx, router); err != nil {
		log.Error("http server failed", logger.Error(err))
		return err
	}
	return nil
}
