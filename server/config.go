package server

import (
	"errors"
	"flag"
	"io/fs"
	"os"
)

// DefaultNotFoundPage is served when the configured 404 page cannot be read.
const DefaultNotFoundPage = "This page does not exist."

// Config for the HTTP server.
type Config struct {
	HTTPListenAddress string `yaml:"http_listen_address"`
	HTTPListenPort    int    `yaml:"http_listen_port"`
	NotFoundPage      string `yaml:"not_found_page"`
}

// RegisterFlagsAndApplyDefaults registers the flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.HTTPListenAddress, prefix+"http-listen-address", "localhost", "HTTP server listen address.")
	f.IntVar(&cfg.HTTPListenPort, prefix+"http-listen-port", 58972, "HTTP server listen port.")
	f.StringVar(&cfg.NotFoundPage, prefix+"not-found-page", "./404.html", "HTML page served for missing javadoc. A built-in text is used if the file does not exist.")
}

// Validate checks the config.
func (cfg *Config) Validate() error {
	if cfg.HTTPListenPort < 0 || cfg.HTTPListenPort > 65535 {
		return errors.New("http-listen-port must be between 0 and 65535")
	}
	return nil
}

// LoadNotFoundPage reads the configured 404 page, falling back to
// DefaultNotFoundPage when the file does not exist. Other read errors are
// returned.
func LoadNotFoundPage(path string) ([]byte, error) {
	if path == "" {
		return []byte(DefaultNotFoundPage), nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []byte(DefaultNotFoundPage), nil
	}
	return b, err
}
