package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// FRAUDGUARD_ZSCORE_THRESHOLD=2.5.
const EnvPrefix = "FRAUDGUARD"

// Load reads configuration from defaults, the YAML file at path (optional,
// may be empty) and the environment. The result is not validated.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// setDefaults sets default values in viper.
func setDefaults(v *viper.Viper) {
	d := Default()

	// Features defaults
	v.SetDefault("features.time_zone", d.Features.TimeZone)
	v.SetDefault("features.night_start_hour", d.Features.NightStartHour)
	v.SetDefault("features.night_end_hour", d.Features.NightEndHour)
	v.SetDefault("features.velocity_window", d.Features.VelocityWindow)
	v.SetDefault("features.deviation_epsilon", d.Features.DeviationEpsilon)
	v.SetDefault("features.history_max_entries", d.Features.HistoryMaxEntries)
	v.SetDefault("features.history_max_age", d.Features.HistoryMaxAge)

	// Detector defaults
	v.SetDefault("zscore.threshold", d.ZScore.Threshold)
	v.SetDefault("zscore.min_history", d.ZScore.MinHistory)
	v.SetDefault("lof.neighbors", d.LOF.Neighbors)
	v.SetDefault("lof.ratio_threshold", d.LOF.RatioThreshold)
	v.SetDefault("isolation.trees", d.Isolation.Trees)
	v.SetDefault("isolation.sample_size", d.Isolation.SampleSize)
	v.SetDefault("isolation.contamination", d.Isolation.Contamination)
	v.SetDefault("isolation.min_population", d.Isolation.MinPopulation)
	v.SetDefault("isolation.seed", d.Isolation.Seed)

	// Rules defaults
	v.SetDefault("rules.velocity_max_count", d.Rules.VelocityMaxCount)
	v.SetDefault("rules.default_limit", d.Rules.DefaultLimit)
	v.SetDefault("rules.night_limit", d.Rules.NightLimit)
	v.SetDefault("rules.category_limits", d.Rules.CategoryLimits)
	v.SetDefault("rules.max_speed_kmh", d.Rules.MaxSpeedKmh)
	v.SetDefault("rules.min_jump_km", d.Rules.MinJumpKm)

	// Ensemble defaults
	v.SetDefault("ensemble.weights", d.Ensemble.Weights)
	v.SetDefault("ensemble.threshold", d.Ensemble.Threshold)
	v.SetDefault("ensemble.high_cutoff", d.Ensemble.HighCutoff)
	v.SetDefault("ensemble.medium_cutoff", d.Ensemble.MediumCutoff)
	v.SetDefault("ensemble.min_consensus", d.Ensemble.MinConsensus)

	v.SetDefault("engine.workers", d.Engine.Workers)
	v.SetDefault("geo.geoip_path", d.Geo.GeoIPPath)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)

	// Server defaults
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_batch_size", d.Server.MaxBatchSize)

	// Storage defaults
	v.SetDefault("postgres.url", d.Postgres.URL)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
	v.SetDefault("redis.ttl", d.Redis.TTL)
}

// unmarshal copies viper values into a Config.
func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	// Features
	cfg.Features.TimeZone = v.GetString("features.time_zone")
	cfg.Features.NightStartHour = v.GetInt("features.night_start_hour")
	cfg.Features.NightEndHour = v.GetInt("features.night_end_hour")
	cfg.Features.VelocityWindow = v.GetDuration("features.velocity_window")
	cfg.Features.DeviationEpsilon = v.GetFloat64("features.deviation_epsilon")
	cfg.Features.HistoryMaxEntries = v.GetInt("features.history_max_entries")
	cfg.Features.HistoryMaxAge = v.GetDuration("features.history_max_age")

	// Detectors
	cfg.ZScore.Threshold = v.GetFloat64("zscore.threshold")
	cfg.ZScore.MinHistory = v.GetInt("zscore.min_history")
	cfg.LOF.Neighbors = v.GetInt("lof.neighbors")
	cfg.LOF.RatioThreshold = v.GetFloat64("lof.ratio_threshold")
	cfg.Isolation.Trees = v.GetInt("isolation.trees")
	cfg.Isolation.SampleSize = v.GetInt("isolation.sample_size")
	cfg.Isolation.Contamination = v.GetFloat64("isolation.contamination")
	cfg.Isolation.MinPopulation = v.GetInt("isolation.min_population")
	cfg.Isolation.Seed = v.GetInt64("isolation.seed")

	// Rules
	cfg.Rules.VelocityMaxCount = v.GetInt("rules.velocity_max_count")
	cfg.Rules.DefaultLimit = v.GetString("rules.default_limit")
	cfg.Rules.NightLimit = v.GetString("rules.night_limit")
	cfg.Rules.CategoryLimits = v.GetStringMapString("rules.category_limits")
	cfg.Rules.MaxSpeedKmh = v.GetFloat64("rules.max_speed_kmh")
	cfg.Rules.MinJumpKm = v.GetFloat64("rules.min_jump_km")

	// Ensemble
	if err := v.UnmarshalKey("ensemble.weights", &cfg.Ensemble.Weights); err != nil {
		return nil, fmt.Errorf("ensemble.weights: %w", err)
	}
	cfg.Ensemble.Threshold = v.GetInt("ensemble.threshold")
	cfg.Ensemble.HighCutoff = v.GetInt("ensemble.high_cutoff")
	cfg.Ensemble.MediumCutoff = v.GetInt("ensemble.medium_cutoff")
	cfg.Ensemble.MinConsensus = v.GetInt("ensemble.min_consensus")

	cfg.Engine.Workers = v.GetInt("engine.workers")
	cfg.Geo.GeoIPPath = v.GetString("geo.geoip_path")

	// Logging
	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Logging.File = v.GetString("logging.file")
	cfg.Logging.MaxSize = v.GetInt("logging.max_size")
	cfg.Logging.MaxBackups = v.GetInt("logging.max_backups")
	cfg.Logging.MaxAge = v.GetInt("logging.max_age")
	cfg.Logging.Compress = v.GetBool("logging.compress")

	// Server
	cfg.Server.Addr = v.GetString("server.addr")
	cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	cfg.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")
	cfg.Server.MaxBatchSize = v.GetInt("server.max_batch_size")

	// Storage
	cfg.Postgres.URL = v.GetString("postgres.url")
	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")
	cfg.Redis.KeyPrefix = v.GetString("redis.key_prefix")
	cfg.Redis.TTL = v.GetDuration("redis.ttl")

	return cfg, nil
}
