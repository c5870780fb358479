package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Server
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	// Logging
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Redis
	RedisURL           string        `mapstructure:"REDIS_URL"`
	CacheTTL           time.Duration `mapstructure:"CACHE_TTL"`
	CacheSweepSchedule string        `mapstructure:"CACHE_SWEEP_SCHEDULE"`

	// CORS
	CorsOrigins []string `mapstructure:"CORS_ORIGINS"`

	// Pool defaults
	DefaultPoolSize float64 `mapstructure:"DEFAULT_POOL_SIZE"`

	// Exact enumeration
	MaxExactPlayers       int `mapstructure:"MAX_EXACT_PLAYERS"`
	MaxEnumerationPlayers int `mapstructure:"MAX_ENUMERATION_PLAYERS"`
	EnumerationWorkers    int `mapstructure:"ENUMERATION_WORKERS"`
	ParallelThreshold     int `mapstructure:"PARALLEL_THRESHOLD"`

	// Monte Carlo
	MonteCarloIterations    int `mapstructure:"MONTE_CARLO_ITERATIONS"`
	MaxMonteCarloPlayers    int `mapstructure:"MAX_MONTE_CARLO_PLAYERS"`
	MaxMonteCarloIterations int `mapstructure:"MAX_MONTE_CARLO_ITERATIONS"`

	// Resilience
	CircuitBreakerThreshold int     `mapstructure:"CIRCUIT_BREAKER_THRESHOLD"`
	ComputeRateLimit        float64 `mapstructure:"COMPUTE_RATE_LIMIT"`
	ComputeRateBurst        int     `mapstructure:"COMPUTE_RATE_BURST"`
}

func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")

	// Set defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("REDIS_URL", "") // empty keeps results in process memory
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("CACHE_SWEEP_SCHEDULE", "@every 5m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")
	v.SetDefault("DEFAULT_POOL_SIZE", 1000)
	v.SetDefault("MAX_EXACT_PLAYERS", 15)
	v.SetDefault("MAX_ENUMERATION_PLAYERS", 20)
	v.SetDefault("ENUMERATION_WORKERS", 0) // 0 means one per CPU
	v.SetDefault("PARALLEL_THRESHOLD", 14)
	v.SetDefault("MONTE_CARLO_ITERATIONS", 100000)
	v.SetDefault("MAX_MONTE_CARLO_PLAYERS", 100)
	v.SetDefault("MAX_MONTE_CARLO_ITERATIONS", 5000000)
	v.SetDefault("CIRCUIT_BREAKER_THRESHOLD", 5)
	v.SetDefault("COMPUTE_RATE_LIMIT", 20) // requests per second, 0 disables
	v.SetDefault("COMPUTE_RATE_BURST", 40)

	// Read from environment
	v.AutomaticEnv()

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Parse CORS origins from comma-separated string
	if corsStr := v.GetString("CORS_ORIGINS"); corsStr != "" {
		config.CorsOrigins = strings.Split(corsStr, ",")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the calculators cannot run with.
func (c *Config) Validate() error {
	if c.DefaultPoolSize <= 0 {
		return fmt.Errorf("DEFAULT_POOL_SIZE must be positive, got %v", c.DefaultPoolSize)
	}
	if c.MaxExactPlayers < 1 {
		return fmt.Errorf("MAX_EXACT_PLAYERS must be at least 1, got %d", c.MaxExactPlayers)
	}
	if c.MaxEnumerationPlayers < c.MaxExactPlayers {
		return fmt.Errorf("MAX_ENUMERATION_PLAYERS (%d) must not be below MAX_EXACT_PLAYERS (%d)",
			c.MaxEnumerationPlayers, c.MaxExactPlayers)
	}
	if c.MaxEnumerationPlayers > 62 {
		return fmt.Errorf("MAX_ENUMERATION_PLAYERS must not exceed 62, got %d", c.MaxEnumerationPlayers)
	}
	if c.MonteCarloIterations < 1 || c.MonteCarloIterations > c.MaxMonteCarloIterations {
		return fmt.Errorf("MONTE_CARLO_ITERATIONS must be in [1, %d], got %d",
			c.MaxMonteCarloIterations, c.MonteCarloIterations)
	}
	if c.ComputeRateLimit < 0 || c.ComputeRateBurst < 0 {
		return fmt.Errorf("COMPUTE_RATE_LIMIT and COMPUTE_RATE_BURST must not be negative")
	}
	return nil
}

// Workers resolves the enumeration worker count.
func (c *Config) Workers() int {
	if c.EnumerationWorkers > 0 {
		return c.EnumerationWorkers
	}
	return runtime.NumCPU()
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
