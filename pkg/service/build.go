package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ShinTechz/fraud-detection-system/pkg/alert"
	"github.com/ShinTechz/fraud-detection-system/pkg/config"
	"github.com/ShinTechz/fraud-detection-system/pkg/detectors"
	"github.com/ShinTechz/fraud-detection-system/pkg/detectors/iforest"
	"github.com/ShinTechz/fraud-detection-system/pkg/detectors/lof"
	"github.com/ShinTechz/fraud-detection-system/pkg/detectors/rules"
	"github.com/ShinTechz/fraud-detection-system/pkg/detectors/zscore"
	"github.com/ShinTechz/fraud-detection-system/pkg/engine"
	"github.com/ShinTechz/fraud-detection-system/pkg/ensemble"
	"github.com/ShinTechz/fraud-detection-system/pkg/features"
	"github.com/ShinTechz/fraud-detection-system/pkg/geo"
	"github.com/ShinTechz/fraud-detection-system/pkg/store/memory"
	"github.com/ShinTechz/fraud-detection-system/pkg/store/postgres"
	"github.com/ShinTechz/fraud-detection-system/pkg/store/redis"
)

// NewEngine builds the engine described by cfg. locator may be nil for the
// default gazetteer.
func NewEngine(cfg *config.Config, locator geo.Locator, logger *zap.Logger) (*engine.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fc, err := cfg.FeaturesConfig()
	if err != nil {
		return nil, err
	}
	builderOpts := []features.Option{features.WithConfig(fc)}
	if locator != nil {
		builderOpts = append(builderOpts, features.WithLocator(locator))
	}
	builder, err := features.NewBuilder(builderOpts...)
	if err != nil {
		return nil, err
	}

	iso, err := iforest.NewDetector(iforest.WithConfig(cfg.IsolationConfig()))
	if err != nil {
		return nil, err
	}
	dens, err := lof.New(lof.WithConfig(cfg.LOFConfig()))
	if err != nil {
		return nil, err
	}
	stat, err := zscore.New(zscore.WithConfig(cfg.ZScoreConfig()))
	if err != nil {
		return nil, err
	}
	rc, err := cfg.RulesConfig()
	if err != nil {
		return nil, err
	}
	rl, err := rules.New(rules.WithConfig(rc))
	if err != nil {
		return nil, err
	}

	ec, err := cfg.EnsembleConfig()
	if err != nil {
		return nil, err
	}
	agg, err := ensemble.New(ensemble.WithConfig(ec))
	if err != nil {
		return nil, err
	}

	return engine.New(builder,
		[]detectors.Detector{iso, dens, stat, rl},
		agg,
		engine.WithLogger(logger.Named("engine")),
		engine.WithWorkers(cfg.Engine.Workers),
	)
}

// FromConfig wires a Service with the stores and locators cfg enables. The
// returned close function releases every connection that was opened.
func FromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*Service, func() error, error) {
		_ = closeAll()
		return nil, nil, err
	}

	locator := geo.DefaultLocator()
	if cfg.Geo.GeoIPPath != "" {
		ip, err := geo.OpenGeoIP(cfg.Geo.GeoIPPath)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, ip.Close)
		locator = geo.Chain{locator, ip}
	}

	eng, err := NewEngine(cfg, locator, logger)
	if err != nil {
		return fail(err)
	}

	opts := []Option{
		WithLogger(logger.Named("service")),
		WithNotifier(alert.NewLogNotifier(logger)),
		WithHistories(features.NewHistories(cfg.HistoryOptions()...)),
	}

	if cfg.Postgres.URL != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres.URL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() error { pool.Close(); return nil })
		if err := postgres.Migrate(ctx, pool); err != nil {
			return fail(err)
		}
		opts = append(opts, WithVerdictStore(postgres.NewVerdictStore(pool)))
		logger.Info("verdicts persisted to postgres")
	} else {
		opts = append(opts, WithVerdictStore(memory.NewVerdictStore()))
	}

	if cfg.Redis.Addr != "" {
		client, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fail(fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err))
		}
		closers = append(closers, client.Close)
		opts = append(opts, WithHistoryStore(redis.NewHistoryStore(client,
			redis.WithKeyPrefix(cfg.Redis.KeyPrefix),
			redis.WithTTL(cfg.Redis.TTL),
		)))
		logger.Info("histories kept in redis", zap.String("addr", cfg.Redis.Addr))
	}

	return New(eng, opts...), closeAll, nil
}
