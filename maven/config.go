package maven

import (
	"errors"
	"flag"
	"time"

	"github.com/grafana/dskit/flagext"
)

// Config for the HTTP repository client.
type Config struct {
	URL     flagext.URLValue `yaml:"url"`
	Timeout time.Duration    `yaml:"timeout"`

	// hedge requests (0 means disabled)
	HedgeRequestsAt   time.Duration `yaml:"hedge_requests_at"`
	HedgeRequestsUpTo int           `yaml:"hedge_requests_up_to"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls the circuit breaker in front of the repository.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker. 0 disables it.
	ConsecutiveFailures uint          `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
	HalfOpenRequests    uint          `yaml:"half_open_requests"`
}

// RegisterFlagsAndApplyDefaults registers the flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.Var(&cfg.URL, prefix+"url", "Base URL of the Maven repository to load javadoc jars from.")
	f.DurationVar(&cfg.Timeout, prefix+"timeout", 30*time.Second, "Timeout for a single repository request, including reading the body.")
	f.DurationVar(&cfg.HedgeRequestsAt, prefix+"hedge-requests-at", 0, "If set to a non-zero value a second request will be issued at the provided duration.")
	f.IntVar(&cfg.HedgeRequestsUpTo, prefix+"hedge-requests-up-to", 2, "The maximum number of requests to execute when hedging. Requires hedge-requests-at to be set.")
	f.UintVar(&cfg.Breaker.ConsecutiveFailures, prefix+"breaker.consecutive-failures", 5, "Consecutive transport failures that open the circuit breaker. 0 disables the breaker.")
	f.DurationVar(&cfg.Breaker.OpenTimeout, prefix+"breaker.open-timeout", 30*time.Second, "How long the breaker stays open before letting trial requests through.")
	f.UintVar(&cfg.Breaker.HalfOpenRequests, prefix+"breaker.half-open-requests", 1, "Trial requests allowed while the breaker is half-open.")
}

// Validate checks the config.
func (cfg *Config) Validate() error {
	if cfg.URL.URL == nil || cfg.URL.String() == "" {
		return errors.New("maven url is required")
	}
	if s := cfg.URL.Scheme; s != "http" && s != "https" {
		return errors.New("maven url must be http or https")
	}
	if cfg.HedgeRequestsAt > 0 && cfg.HedgeRequestsUpTo < 2 {
		return errors.New("hedge-requests-up-to must be at least 2 when hedging is enabled")
	}
	return nil
}
