// Command glovebox serves javadoc pages straight out of the javadoc jars of
// a Maven repository.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/flagext"
	"github.com/prometheus/client_golang/prometheus"
	ver "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/version"

	"github.com/IvanBrykalov/glovebox/javadoc"
	"github.com/IvanBrykalov/glovebox/maven"
	pmet "github.com/IvanBrykalov/glovebox/metrics/prom"
	"github.com/IvanBrykalov/glovebox/server"
)

const appName = "glovebox"

// Version is set via build flag -ldflags -X main.Version
var (
	Version  string
	Branch   string
	Revision string
)

func init() {
	version.Version = Version
	version.Branch = Branch
	version.Revision = Revision

	prometheus.MustRegister(ver.NewCollector(appName))
}

func main() {
	printVersion := flag.Bool("version", false, "Print version and exit")
	_ = flag.Bool("config.example", false, "Print example configuration and exit")

	for _, arg := range os.Args[1:] {
		if arg == "-config.example" || arg == "--config.example" {
			fmt.Print(ExampleConfig())
			os.Exit(0)
		}
	}

	cfg, configVerify, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}
	if *printVersion {
		fmt.Println(version.Print(appName))
		os.Exit(0)
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = level.NewFilter(logger, cfg.LogLevel.Option)

	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}
	if configVerify {
		level.Info(logger).Log("msg", "configuration is valid")
		os.Exit(0)
	}

	if err := run(cfg, logger); err != nil {
		level.Error(logger).Log("msg", "error running glovebox", "err", err)
		os.Exit(1)
	}
}

func run(cfg *Config, logger log.Logger) error {
	jarBytes, err := cfg.jarCacheBytes()
	if err != nil {
		return err
	}
	downloadBytes, err := cfg.Cache.MaxDownloadSize.Bytes()
	if err != nil {
		return err
	}

	level.Info(logger).Log(
		"msg", "starting glovebox",
		"version", Version,
		"repository", cfg.Maven.URL.String(),
		"jar_cache", humanize.IBytes(uint64(jarBytes)),
	)

	client, err := maven.New(cfg.Maven, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return fmt.Errorf("failed to create maven client: %w", err)
	}

	manager := javadoc.NewManager(client, javadoc.Options{
		CacheSize:       jarBytes,
		MaxDownloadSize: downloadBytes,
		Metrics:         pmet.New(prometheus.DefaultRegisterer, appName, "jar_cache", nil),
		Logger:          logger,
	})

	notFound, err := server.LoadNotFoundPage(cfg.Server.NotFoundPage)
	if err != nil {
		return fmt.Errorf("failed to read not found page: %w", err)
	}

	h := server.NewHandler(manager, server.Options{
		NotFoundPage: notFound,
		Registerer:   prometheus.DefaultRegisterer,
		Gatherer:     prometheus.DefaultGatherer,
		Logger:       logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTPListenAddress, cfg.Server.HTTPListenPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(done)
		<-quit
		level.Info(logger).Log("msg", "shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			level.Error(logger).Log("msg", "error during shutdown", "err", err)
		}
	}()

	level.Info(logger).Log("msg", "server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-done
	stats := manager.CacheStats()
	level.Info(logger).Log("msg", "server stopped", "jar_hits", stats.Hits, "jar_misses", stats.Misses, "jar_evictions", stats.Evictions)
	return nil
}

func loadConfig() (*Config, bool, error) {
	const (
		configFileOption      = "config.file"
		configExpandEnvOption = "config.expand-env"
		configVerifyOption    = "config.verify"
	)

	var (
		configFile      string
		configExpandEnv bool
		configVerify    bool
	)

	args := os.Args[1:]
	config := &Config{}

	// first get the config file
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&configFile, configFileOption, "", "")
	fs.BoolVar(&configExpandEnv, configExpandEnvOption, false, "")
	fs.BoolVar(&configVerify, configVerifyOption, false, "")

	// Parsing stops on the first unknown flag, so keep dropping leading
	// arguments until the config flags are found or nothing is left.
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	// load config defaults and register flags
	config.RegisterFlagsAndApplyDefaults("", flag.CommandLine)

	// overlay with config file if provided
	if configFile != "" {
		buff, err := os.ReadFile(configFile)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read configFile %s: %w", configFile, err)
		}
		if err := overlayFile(buff, configExpandEnv, config); err != nil {
			return nil, false, fmt.Errorf("failed to parse configFile %s: %w", configFile, err)
		}
	}

	// overlay with cli
	flagext.IgnoredFlag(flag.CommandLine, configFileOption, "Configuration file to load")
	flagext.IgnoredFlag(flag.CommandLine, configExpandEnvOption, "Whether to expand environment variables in config file")
	flagext.IgnoredFlag(flag.CommandLine, configVerifyOption, "Verify configuration and exit")
	flag.Parse()

	return config, configVerify, nil
}
