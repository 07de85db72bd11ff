package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/dataset"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/raster"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/render"
	"github.com/kjstillabower/himalayan-rainfall-viewer/internal/validation"
)

// Figure is a static illustration shown in the page's Mind Maps section.
type Figure struct {
	ID          string
	Path        string
	Caption     string
	Type        string
	Description string
}

// Config holds service configuration loaded from YAML and env.
type Config struct {
	// Root is the directory relative paths in the file are resolved against.
	Root string

	ServerPort   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	DatasetPattern string
	Variable       string
	LatName        string
	LonName        string
	DateSegment    int
	LoadTimeout    time.Duration
	Region         raster.Window

	CellSize   int
	PlotTitle  string
	ColorLabel string

	RequestTimeout time.Duration

	CacheBackend          string // "in_memory" or "memcached"
	CacheTTL              time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	BreakerFailures       int
	BreakerSuccesses      int
	BreakerTimeout        time.Duration
	WarmCache             bool
	WarmConcurrency       int
	WarmFormat            render.Format
	CoalesceEnabled       bool
	CoalesceTimeout       time.Duration

	RateLimitRPS         int
	RateLimitBurst       int
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	PageTitle string
	Figures   []Figure
}

type fileConfig struct {
	Server struct {
		Port         string `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"server"`

	Dataset struct {
		Pattern     string `yaml:"pattern"`
		Variable    string `yaml:"variable"`
		Lat         string `yaml:"lat"`
		Lon         string `yaml:"lon"`
		DateSegment *int   `yaml:"date_segment"`
		LoadTimeout string `yaml:"load_timeout"`
		Region      *struct {
			LatMin float64 `yaml:"lat_min"`
			LatMax float64 `yaml:"lat_max"`
			LonMin float64 `yaml:"lon_min"`
			LonMax float64 `yaml:"lon_max"`
		} `yaml:"region"`
	} `yaml:"dataset"`

	Render struct {
		CellSize   int    `yaml:"cell_size"`
		Title      string `yaml:"title"`
		ColorLabel string `yaml:"color_label"`
	} `yaml:"render"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
			Breaker      struct {
				FailureThreshold int    `yaml:"failure_threshold"`
				SuccessThreshold int    `yaml:"success_threshold"`
				Timeout          string `yaml:"timeout"`
			} `yaml:"breaker"`
		} `yaml:"memcached"`
		Warm            bool   `yaml:"warm"`
		WarmConcurrency int    `yaml:"warm_concurrency"`
		WarmFormat      string `yaml:"warm_format"`
		Coalesce        *bool  `yaml:"coalesce"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS         int    `yaml:"rate_limit_rps"`
		RateLimitBurst       int    `yaml:"rate_limit_burst"`
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Content struct {
		Title   string `yaml:"title"`
		Figures []struct {
			ID          string `yaml:"id"`
			Path        string `yaml:"path"`
			Caption     string `yaml:"caption"`
			Type        string `yaml:"type"`
			Description string `yaml:"description"`
		} `yaml:"figures"`
	} `yaml:"content"`
}

// ErrConfigNotFound is returned when config/{ENV_NAME}.yaml does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) under the working directory.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom reads configuration from root/config/{ENV_NAME}.yaml, applies env overrides
// (SERVER_PORT, DATASET_PATTERN, CACHE_BACKEND, MEMCACHED_ADDRS) and validates the result.
// Relative dataset and figure paths are resolved against root.
func LoadFrom(root string) (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(root, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{Root: root}

	cfg.ServerPort = envOr("SERVER_PORT", fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.ReadTimeout = parseDuration(fc.Server.ReadTimeout, 10*time.Second)
	cfg.WriteTimeout = parseDuration(fc.Server.WriteTimeout, 30*time.Second)

	cfg.DatasetPattern = envOr("DATASET_PATTERN", fc.Dataset.Pattern)
	if cfg.DatasetPattern == "" {
		cfg.DatasetPattern = filepath.Join("datasets", dataset.DefaultGlob)
	}
	cfg.DatasetPattern = resolve(root, cfg.DatasetPattern)
	cfg.Variable = orDefault(fc.Dataset.Variable, raster.DefaultSchema.Variable)
	cfg.LatName = orDefault(fc.Dataset.Lat, raster.DefaultSchema.Lat)
	cfg.LonName = orDefault(fc.Dataset.Lon, raster.DefaultSchema.Lon)
	cfg.DateSegment = dataset.DefaultDateSegment
	if fc.Dataset.DateSegment != nil {
		cfg.DateSegment = *fc.Dataset.DateSegment
	}
	cfg.LoadTimeout = parseDuration(fc.Dataset.LoadTimeout, 2*time.Minute)
	cfg.Region = raster.Himalaya
	if r := fc.Dataset.Region; r != nil {
		cfg.Region = raster.Window{LatMin: r.LatMin, LatMax: r.LatMax, LonMin: r.LonMin, LonMax: r.LonMax}
	}

	def := render.DefaultOptions()
	cfg.CellSize = fc.Render.CellSize
	if cfg.CellSize == 0 {
		cfg.CellSize = def.CellSize
	}
	cfg.PlotTitle = orDefault(fc.Render.Title, def.Title)
	cfg.ColorLabel = orDefault(fc.Render.ColorLabel, def.ColorLabel)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.CacheBackend = strings.ToLower(envOr("CACHE_BACKEND", fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, time.Hour)
	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.BreakerFailures = fc.Cache.Memcached.Breaker.FailureThreshold
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	cfg.BreakerSuccesses = fc.Cache.Memcached.Breaker.SuccessThreshold
	if cfg.BreakerSuccesses <= 0 {
		cfg.BreakerSuccesses = 2
	}
	cfg.BreakerTimeout = parseDuration(fc.Cache.Memcached.Breaker.Timeout, 30*time.Second)
	cfg.WarmCache = fc.Cache.Warm
	cfg.WarmConcurrency = fc.Cache.WarmConcurrency
	if cfg.WarmConcurrency <= 0 {
		cfg.WarmConcurrency = 4
	}
	cfg.WarmFormat = render.FormatPNG
	if s := strings.TrimSpace(fc.Cache.WarmFormat); s != "" {
		f, err := render.ParseFormat(s)
		if err != nil {
			return nil, fmt.Errorf("cache.warm_format: %w", err)
		}
		cfg.WarmFormat = f
	}
	cfg.CoalesceEnabled = true
	if fc.Cache.Coalesce != nil {
		cfg.CoalesceEnabled = *fc.Cache.Coalesce
	}
	cfg.CoalesceTimeout = parseDurationOrZero(fc.Cache.CoalesceTimeout, 10*time.Second)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}
	cfg.OverloadWindow = parseDuration(fc.Reliability.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Reliability.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Reliability.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Reliability.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 25
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.PageTitle = orDefault(fc.Content.Title, "Himalayan Extreme Rainfall Explorer")
	for _, f := range fc.Content.Figures {
		cfg.Figures = append(cfg.Figures, Figure{
			ID:          strings.TrimSpace(f.ID),
			Path:        resolve(root, strings.TrimSpace(f.Path)),
			Caption:     f.Caption,
			Type:        f.Type,
			Description: strings.TrimSpace(f.Description),
		})
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DatasetOptions returns the loader options described by the config.
func (c *Config) DatasetOptions() dataset.Options {
	return dataset.Options{
		Schema:      raster.Schema{Variable: c.Variable, Lat: c.LatName, Lon: c.LonName},
		Window:      c.Region,
		DateSegment: c.DateSegment,
	}
}

// RenderOptions returns the heatmap renderer options described by the config.
func (c *Config) RenderOptions() render.Options {
	return render.Options{CellSize: c.CellSize, Title: c.PlotTitle, ColorLabel: c.ColorLabel}
}

// Figure returns the figure with id.
func (c *Config) Figure(id string) (Figure, bool) {
	for _, f := range c.Figures {
		if f.ID == id {
			return f, true
		}
	}
	return Figure{}, false
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// LoadTimeout is raised above RequestTimeout so a first page view can wait for the load.
func validate(cfg *Config) error {
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.DateSegment < 0 {
		return fmt.Errorf("dataset.date_segment must be >= 0, got %d", cfg.DateSegment)
	}
	if err := cfg.Region.Validate(); err != nil {
		return fmt.Errorf("dataset.region: %w", err)
	}
	if cfg.CellSize < 1 || cfg.CellSize > 64 {
		return fmt.Errorf("render.cell_size must be between 1 and 64, got %d", cfg.CellSize)
	}
	seen := make(map[string]struct{}, len(cfg.Figures))
	for i, f := range cfg.Figures {
		if _, err := validation.ValidateFigureID(f.ID); err != nil {
			return fmt.Errorf("content.figures[%d]: %w: %q", i, err, f.ID)
		}
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("content.figures[%d]: duplicate id %q", i, f.ID)
		}
		seen[f.ID] = struct{}{}
		if f.Path == "" {
			return fmt.Errorf("content.figures[%d]: path is required", i)
		}
	}
	if cfg.LoadTimeout < cfg.RequestTimeout {
		cfg.LoadTimeout = cfg.RequestTimeout
	}
	return nil
}
