// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds everything the analyzer needs at runtime. All values come
// from GITHUB_-prefixed environment variables, optionally seeded from a
// .env file in the working directory.
type Config struct {
	// Token authenticates every API request. Its absence is a precondition
	// failure: the run terminates before any network call.
	Token string `validate:"required"`
	// Username is the GitHub login whose contributions are counted. When
	// empty, the login of the token's owner is resolved at startup.
	Username string

	CacheFile string        `split_words:"true" default:"github_stats_cache.json"`
	CacheTTL  time.Duration `envconfig:"CACHE_TTL" default:"24h" validate:"gt=0"`

	// RequestDelay spaces consecutive API requests to stay under the
	// provider's rate limit.
	RequestDelay time.Duration `split_words:"true" default:"1s" validate:"gte=0"`
	// StatsRetryDelay is the pause between polls while the provider is
	// still computing statistics (HTTP 202).
	StatsRetryDelay time.Duration `split_words:"true" default:"5s" validate:"gte=0"`
	MaxStatsRetries int           `split_words:"true" default:"6" validate:"gt=0"`
	// CommitSampleSize bounds how many of the user's recent commits the
	// sampling strategy inspects per repository.
	CommitSampleSize int `split_words:"true" default:"10" validate:"gt=0"`
}

// Loader reads and validates a Config from the environment.
type Loader struct {
	Prefix   string
	Validate *validator.Validate
}

func NewLoader(prefix string) *Loader {
	return &Loader{Prefix: prefix, Validate: validator.New()}
}

func (l *Loader) Load() (Config, error) {
	var cfg Config

	loadDotEnv()
	if err := envconfig.Process(l.Prefix, &cfg); err != nil {
		return cfg, fmt.Errorf("env load: %w", err)
	}
	if err := l.Validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// loadDotEnv seeds the environment from a local .env file when one exists.
// Variables already set in the environment win.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	_ = godotenv.Load(".env")
}
