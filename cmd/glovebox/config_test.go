package main

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{}
	cfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("test", flag.PanicOnError))
	return cfg
}

func TestConfig_Defaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, "localhost", cfg.Server.HTTPListenAddress)
	assert.Equal(t, 58972, cfg.Server.HTTPListenPort)
	assert.Equal(t, "./404.html", cfg.Server.NotFoundPage)
	assert.Equal(t, 30*time.Second, cfg.Maven.Timeout)
	assert.Equal(t, "info", cfg.LogLevel.String())

	n, err := cfg.jarCacheBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(100<<20), n)

	// no repository configured yet
	assert.Error(t, cfg.Validate())
}

func TestConfig_OverlayFile(t *testing.T) {
	t.Setenv("GLOVEBOX_TEST_REPO", "https://repo.example.com/maven2/")
	cfg := defaultConfig(t)

	doc := []byte(`
server:
  http_listen_port: 9000
maven:
  url: ${GLOVEBOX_TEST_REPO}
  hedge_requests_at: 2s
cache:
  jar_size: 1.5GiB
  max_download_size: 200MiB
log_level: debug
`)
	require.NoError(t, overlayFile(doc, true, cfg))

	assert.Equal(t, 9000, cfg.Server.HTTPListenPort)
	assert.Equal(t, "localhost", cfg.Server.HTTPListenAddress, "unset fields keep defaults")
	assert.Equal(t, "https://repo.example.com/maven2/", cfg.Maven.URL.String())
	assert.Equal(t, 2*time.Second, cfg.Maven.HedgeRequestsAt)
	assert.Equal(t, "debug", cfg.LogLevel.String())

	n, err := cfg.jarCacheBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(3<<29), n)
	dl, err := cfg.Cache.MaxDownloadSize.Bytes()
	require.NoError(t, err)
	assert.Equal(t, int64(200<<20), dl)

	require.NoError(t, cfg.Validate())
}

func TestConfig_OverlayRejectsUnknownFields(t *testing.T) {
	cfg := defaultConfig(t)
	err := overlayFile([]byte("cache:\n  size: 10MiB\n"), false, cfg)
	require.Error(t, err)
}

func TestConfig_OverlayEmptyDocument(t *testing.T) {
	cfg := defaultConfig(t)
	require.NoError(t, overlayFile(nil, false, cfg))
	assert.Equal(t, 58972, cfg.Server.HTTPListenPort)
}

func TestConfig_ValidateJarSize(t *testing.T) {
	cfg := defaultConfig(t)
	require.NoError(t, cfg.Maven.URL.Set("http://localhost:8081/repository/maven-public/"))

	require.NoError(t, cfg.Cache.JarSize.Set("0"))
	assert.ErrorContains(t, cfg.Validate(), "greater than zero")

	require.NoError(t, cfg.Cache.JarSize.Set("16EiB"))
	assert.ErrorContains(t, cfg.Validate(), "cache.jar-size")

	require.NoError(t, cfg.Cache.JarSize.Set("64MiB"))
	assert.NoError(t, cfg.Validate())
}

func TestExampleConfigParses(t *testing.T) {
	cfg := defaultConfig(t)
	require.NoError(t, overlayFile([]byte(ExampleConfig()), false, cfg))
	require.NoError(t, cfg.Validate())
}
