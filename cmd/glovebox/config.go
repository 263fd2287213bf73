package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/drone/envsubst"
	dslog "github.com/grafana/dskit/log"
	"gopkg.in/yaml.v3"

	"github.com/IvanBrykalov/glovebox/internal/bytesize"
	"github.com/IvanBrykalov/glovebox/maven"
	"github.com/IvanBrykalov/glovebox/server"
)

const defaultJarCacheSize = "100MiB"

// Config is the root config for glovebox.
type Config struct {
	Server   server.Config `yaml:"server"`
	Maven    maven.Config  `yaml:"maven"`
	Cache    CacheConfig   `yaml:"cache"`
	LogLevel dslog.Level   `yaml:"log_level"`
}

// CacheConfig bounds the in-memory caches.
type CacheConfig struct {
	// JarSize is the budget for extracted javadoc jars, in uncompressed bytes.
	JarSize         bytesize.Size `yaml:"jar_size"`
	// MaxDownloadSize caps a compressed jar while it is buffered. Zero means JarSize.
	MaxDownloadSize bytesize.Size `yaml:"max_download_size"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets default values.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	cfg.Server.RegisterFlagsAndApplyDefaults(prefix+"server.", f)
	cfg.Maven.RegisterFlagsAndApplyDefaults(prefix+"maven.", f)

	cfg.Cache.JarSize = bytesize.MustParse(defaultJarCacheSize)
	f.Var(&cfg.Cache.JarSize, prefix+"cache.jar-size", "Memory budget for extracted javadoc jars, e.g. 100MiB or 1.5GB.")
	cfg.Cache.MaxDownloadSize = bytesize.MustParse("0")
	f.Var(&cfg.Cache.MaxDownloadSize, prefix+"cache.max-download-size", "Largest compressed jar that is downloaded for extraction. 0 means cache.jar-size.")

	cfg.LogLevel.RegisterFlags(f)
}

// Validate validates the configuration.
func (cfg *Config) Validate() error {
	if err := cfg.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := cfg.Maven.Validate(); err != nil {
		return fmt.Errorf("invalid maven config: %w", err)
	}
	if _, err := cfg.jarCacheBytes(); err != nil {
		return err
	}
	if _, err := cfg.Cache.MaxDownloadSize.Bytes(); err != nil {
		return fmt.Errorf("invalid cache.max-download-size: %w", err)
	}
	return nil
}

func (cfg *Config) jarCacheBytes() (int64, error) {
	n, err := cfg.Cache.JarSize.Bytes()
	if err != nil {
		return 0, fmt.Errorf("invalid cache.jar-size: %w", err)
	}
	if n <= 0 {
		return 0, errors.New("cache.jar-size must be greater than zero")
	}
	return n, nil
}

// overlayFile applies a YAML config document on top of cfg. Unknown fields are
// rejected.
func overlayFile(buff []byte, expandEnv bool, cfg *Config) error {
	if expandEnv {
		s, err := envsubst.EvalEnv(string(buff))
		if err != nil {
			return fmt.Errorf("failed to expand env vars: %w", err)
		}
		buff = []byte(s)
	}

	dec := yaml.NewDecoder(bytes.NewReader(buff))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ExampleConfig returns an example configuration YAML.
func ExampleConfig() string {
	return `# glovebox configuration
server:
  http_listen_address: "localhost"
  http_listen_port: 58972
  not_found_page: "./404.html"

maven:
  url: "https://repo1.maven.org/maven2/"
  timeout: 30s
  # hedge_requests_at: 2s
  # hedge_requests_up_to: 2
  breaker:
    consecutive_failures: 5
    open_timeout: 30s
    half_open_requests: 1

cache:
  jar_size: 100MiB
  # max_download_size: 200MiB

log_level: info
`
}
