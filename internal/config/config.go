package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Places    PlacesConfig    `yaml:"places" mapstructure:"places"`
	Grid      GridConfig      `yaml:"grid" mapstructure:"grid"`
	Collector CollectorConfig `yaml:"collector" mapstructure:"collector"`
	Profiler  ProfilerConfig  `yaml:"profiler" mapstructure:"profiler"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PlacesConfig holds places API credentials and endpoint settings.
type PlacesConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GridConfig configures the profiling grid and its bounding box.
type GridConfig struct {
	South    float64 `yaml:"south" mapstructure:"south"`
	North    float64 `yaml:"north" mapstructure:"north"`
	West     float64 `yaml:"west" mapstructure:"west"`
	East     float64 `yaml:"east" mapstructure:"east"`
	SpacingM float64 `yaml:"spacing_m" mapstructure:"spacing_m"`
}

// CollectorConfig configures POI collection behavior.
type CollectorConfig struct {
	Concurrency     int      `yaml:"concurrency" mapstructure:"concurrency"`
	RetryMax        int      `yaml:"retry_max" mapstructure:"retry_max"`
	BatchTiles      int      `yaml:"batch_tiles" mapstructure:"batch_tiles"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	Types           []string `yaml:"types" mapstructure:"types"`
	Keywords        []string `yaml:"keywords" mapstructure:"keywords"`
}

// ProfilerConfig configures the spatial aggregation model. The saturation
// values are the divisors at which footfall and confidence reach 1.0.
type ProfilerConfig struct {
	SigmaM               float64 `yaml:"sigma_m" mapstructure:"sigma_m"`
	MaxInfluenceM        float64 `yaml:"max_influence_m" mapstructure:"max_influence_m"`
	BatchSize            int     `yaml:"batch_size" mapstructure:"batch_size"`
	FootfallSaturation   float64 `yaml:"footfall_saturation" mapstructure:"footfall_saturation"`
	ConfidenceSaturation float64 `yaml:"confidence_saturation" mapstructure:"confidence_saturation"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GRIDPROFILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("places.key", "")
	v.SetDefault("places.base_url", "")
	v.SetDefault("store.database_url", "gridprofiler.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:8000", "http://localhost:3000"})
	v.SetDefault("grid.south", 28.35)
	v.SetDefault("grid.north", 28.53)
	v.SetDefault("grid.west", 76.82)
	v.SetDefault("grid.east", 77.15)
	v.SetDefault("grid.spacing_m", 200.0)
	v.SetDefault("collector.concurrency", 10)
	v.SetDefault("collector.retry_max", 3)
	v.SetDefault("collector.batch_tiles", 50)
	v.SetDefault("collector.rate_limit_per_sec", 20.0)
	v.SetDefault("collector.types", []string{
		"hospital", "school", "university", "shopping_mall", "store",
		"restaurant", "transit_station", "park", "gym", "movie_theater",
		"bar", "night_club", "place_of_worship", "lodging",
	})
	v.SetDefault("collector.keywords", []string{
		"corporate office", "coworking space", "IT park",
		"residential apartment", "housing society",
	})
	v.SetDefault("profiler.sigma_m", 200.0)
	v.SetDefault("profiler.max_influence_m", 1000.0)
	v.SetDefault("profiler.batch_size", 500)
	v.SetDefault("profiler.footfall_saturation", 20.0)
	v.SetDefault("profiler.confidence_saturation", 15.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
