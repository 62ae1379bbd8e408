package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Default single-band layer: WorldPop 2020 population density for Pakistan.
const (
	DefaultBand     = "density"
	DefaultBandFile = "pak_pd_2020_1km.tif"
	DefaultBandURL  = "https://data.worldpop.org/GIS/Population_Density/Global_2000_2020_1km/2020/PAK/pak_pd_2020_1km.tif"
)

// Config holds the full application configuration.
type Config struct {
	Raster RasterConfig `yaml:"raster" mapstructure:"raster"`
	Query  QueryConfig  `yaml:"query" mapstructure:"query"`
	Assets AssetsConfig `yaml:"assets" mapstructure:"assets"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// RasterConfig maps band names to raster files and tunes how they are read.
type RasterConfig struct {
	// Dir is the base directory for relative band paths.
	Dir                string            `yaml:"dir" mapstructure:"dir"`
	Bands              map[string]string `yaml:"bands" mapstructure:"bands"`
	DefaultMode        string            `yaml:"default_mode" mapstructure:"default_mode"`
	ReadTimeoutSecs    int               `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	HeaderCacheSize    int               `yaml:"header_cache_size" mapstructure:"header_cache_size"`
	HeaderCacheTTLSecs int               `yaml:"header_cache_ttl_secs" mapstructure:"header_cache_ttl_secs"`
	MinFileBytes       int64             `yaml:"min_file_bytes" mapstructure:"min_file_bytes"`
}

// BandPaths returns the band map with relative paths joined onto Dir.
func (r RasterConfig) BandPaths() map[string]string {
	out := make(map[string]string, len(r.Bands))
	for name, p := range r.Bands {
		if r.Dir != "" && !filepath.IsAbs(p) {
			p = filepath.Join(r.Dir, p)
		}
		out[name] = p
	}
	return out
}

// ReadTimeout returns the per-query raster I/O deadline.
func (r RasterConfig) ReadTimeout() time.Duration {
	return time.Duration(r.ReadTimeoutSecs) * time.Second
}

// HeaderCacheTTL returns how long parsed headers stay cached.
func (r RasterConfig) HeaderCacheTTL() time.Duration {
	return time.Duration(r.HeaderCacheTTLSecs) * time.Second
}

// QueryConfig bounds user input and sets query defaults.
type QueryConfig struct {
	MinRadiusKm       float64  `yaml:"min_radius_km" mapstructure:"min_radius_km"`
	MaxRadiusKm       float64  `yaml:"max_radius_km" mapstructure:"max_radius_km"`
	DefaultRadiusKm   float64  `yaml:"default_radius_km" mapstructure:"default_radius_km"`
	DefaultLat        float64  `yaml:"default_lat" mapstructure:"default_lat"`
	DefaultLon        float64  `yaml:"default_lon" mapstructure:"default_lon"`
	PrimaryFraction   float64  `yaml:"primary_fraction" mapstructure:"primary_fraction"`
	SecondaryFraction float64  `yaml:"secondary_fraction" mapstructure:"secondary_fraction"`
	DefaultBands      []string `yaml:"default_bands" mapstructure:"default_bands"`
	BatchConcurrency  int      `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
}

// AssetsConfig configures raster downloads.
type AssetsConfig struct {
	// Sources maps band names to http(s):// or ftp:// URLs.
	Sources     map[string]string `yaml:"sources" mapstructure:"sources"`
	TimeoutSecs int               `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int               `yaml:"max_attempts" mapstructure:"max_attempts"`
	UserAgent   string            `yaml:"user_agent" mapstructure:"user_agent"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimitRPS        float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst      int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the settings a command mode needs. Mode is one of
// "query", "serve" or "fetch". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "query", "serve":
		if len(c.Raster.Bands) == 0 {
			errs = append(errs, "raster.bands must name at least one band")
		}
		q := c.Query
		if q.MinRadiusKm <= 0 || q.MaxRadiusKm < q.MinRadiusKm {
			errs = append(errs, fmt.Sprintf("query radius bounds [%v, %v] are invalid", q.MinRadiusKm, q.MaxRadiusKm))
		} else if q.DefaultRadiusKm < q.MinRadiusKm || q.DefaultRadiusKm > q.MaxRadiusKm {
			errs = append(errs, fmt.Sprintf("query.default_radius_km %v is outside [%v, %v]", q.DefaultRadiusKm, q.MinRadiusKm, q.MaxRadiusKm))
		}
		for _, f := range []float64{q.PrimaryFraction, q.SecondaryFraction} {
			if f < 0 || f > 1 {
				errs = append(errs, "query fractions must be between 0 and 1")
				break
			}
		}
		for _, b := range q.DefaultBands {
			if _, ok := c.Raster.Bands[b]; !ok {
				errs = append(errs, fmt.Sprintf("query.default_bands entry %q is not in raster.bands", b))
			}
		}
		if q.BatchConcurrency < 1 || q.BatchConcurrency > 64 {
			errs = append(errs, "query.batch_concurrency must be between 1 and 64")
		}
		if mode == "serve" {
			if c.Server.Port <= 0 {
				errs = append(errs, "server.port must be > 0")
			}
			if c.Server.RateLimitRPS < 0 {
				errs = append(errs, "server.rate_limit_rps must be >= 0")
			}
		}
	case "fetch":
		if len(c.Assets.Sources) == 0 {
			errs = append(errs, "assets.sources must name at least one band")
		}
		for band := range c.Assets.Sources {
			if _, ok := c.Raster.Bands[band]; !ok {
				errs = append(errs, fmt.Sprintf("assets.sources band %q is not in raster.bands", band))
			}
		}
		if c.Assets.MaxAttempts < 1 {
			errs = append(errs, "assets.max_attempts must be >= 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("POPRADIUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("raster.dir", ".")
	v.SetDefault("raster.default_mode", "window_sum")
	v.SetDefault("raster.read_timeout_secs", 10)
	v.SetDefault("raster.header_cache_size", 16)
	v.SetDefault("raster.header_cache_ttl_secs", 600)
	v.SetDefault("raster.min_file_bytes", 1024)
	v.SetDefault("query.min_radius_km", 0.1)
	v.SetDefault("query.max_radius_km", 500.0)
	v.SetDefault("query.default_radius_km", 2.0)
	v.SetDefault("query.default_lat", 24.8607)
	v.SetDefault("query.default_lon", 67.0011)
	v.SetDefault("query.primary_fraction", 0.15)
	v.SetDefault("query.secondary_fraction", 0.12)
	v.SetDefault("query.default_bands", []string{"density"})
	v.SetDefault("query.batch_concurrency", 4)
	v.SetDefault("assets.timeout_secs", 600)
	v.SetDefault("assets.max_attempts", 3)
	v.SetDefault("assets.user_agent", "popradius/1.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.shutdown_timeout_secs", 10)

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

	// Map defaults are applied here because viper deep-merges nested maps,
	// which would leak the default band into every configured set.
	if len(cfg.Raster.Bands) == 0 {
		cfg.Raster.Bands = map[string]string{DefaultBand: DefaultBandFile}
	}
	if len(cfg.Assets.Sources) == 0 && cfg.Raster.Bands[DefaultBand] == DefaultBandFile {
		cfg.Assets.Sources = map[string]string{DefaultBand: DefaultBandURL}
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
