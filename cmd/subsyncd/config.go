package main

import (
	module "github.com/dmitrymomot/subsync/modules/billing"
	"github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/config"
	"github.com/dmitrymomot/subsync/pkg/entitlement"
	"github.com/dmitrymomot/subsync/pkg/httpserver"
	"github.com/dmitrymomot/subsync/pkg/logger"
	"github.com/dmitrymomot/subsync/pkg/plan"
	"github.com/dmitrymomot/subsync/pkg/redis"
)

type appConfig struct {
	Log    logger.Config
	HTTP   httpserver.Config
	Mongo  entitlement.MongoConfig
	Redis  redis.Config
	Stripe billing.StripeConfig
	Plans  plan.Config
	Auth   module.AuthConfig

	TrialDays     int `env:"TRIAL_PERIOD_DAYS" envDefault:"14"`
	EventDedupTTL int `env:"EVENT_DEDUP_TTL_HOURS" envDefault:"24"`
}

// loadConfig reads .env when present, then the process environment.
func loadConfig() (appConfig, error) {
	var cfg appConfig
	err := config.Load(&cfg)
	return cfg, err
}
