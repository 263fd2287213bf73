package maven

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/IvanBrykalov/glovebox/internal/singleflight"
)

const metadataFile = "maven-metadata.xml"

// Client is an API backed by an HTTP Maven repository.
type Client struct {
	base    *url.URL
	http    *http.Client
	breaker *gobreaker.CircuitBreaker // nil when disabled
	logger  log.Logger

	metadata singleflight.Group[string, *Metadata]

	requests *prometheus.CounterVec
}

var _ API = (*Client)(nil)

// New creates a Client for cfg. If reg is non-nil the client's metrics are
// registered with it.
func New(cfg Config, reg prometheus.Registerer, logger log.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.With(logger, "component", "maven")

	base := *cfg.URL.URL
	base.Path = strings.TrimSuffix(base.Path, "/")

	c := &Client{
		base:   &base,
		logger: logger,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "glovebox",
			Subsystem: "maven",
			Name:      "requests_total",
			Help:      "Requests to the Maven repository by kind and outcome.",
		}, []string{"kind", "result"}),
	}

	var transport http.RoundTripper = http.DefaultTransport
	var stats *hedgedhttp.Stats

	// hedge if desired (0 means disabled)
	if cfg.HedgeRequestsAt != 0 {
		var err error
		transport, stats, err = hedgedhttp.NewRoundTripperAndStats(cfg.HedgeRequestsAt, cfg.HedgeRequestsUpTo, transport)
		if err != nil {
			return nil, fmt.Errorf("creating hedged transport: %w", err)
		}
	}
	// gzip sits outside the hedger: it writes request headers, and hedged
	// copies of a request share them
	transport = gzhttp.Transport(transport)
	c.http = &http.Client{Transport: transport, Timeout: cfg.Timeout}

	if cfg.Breaker.ConsecutiveFailures > 0 {
		c.breaker = gobreaker.NewCircuitBreaker(breakerSettings(cfg.Breaker, logger))
	}

	if reg != nil {
		reg.MustRegister(c.requests)
		if stats != nil {
			reg.MustRegister(hedgedCounter(stats))
		}
	}
	return c, nil
}

func breakerSettings(cfg BreakerConfig, logger log.Logger) gobreaker.Settings {
	threshold := uint32(cfg.ConsecutiveFailures)
	return gobreaker.Settings{
		Name:        "maven",
		MaxRequests: uint32(cfg.HalfOpenRequests),
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			level.Warn(logger).Log("msg", "circuit breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
		// absence and caller cancellation say nothing about repository health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
	}
}

// hedgedCounter exports the number of extra round trips issued by hedging.
func hedgedCounter(s *hedgedhttp.Stats) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "glovebox",
		Subsystem: "maven",
		Name:      "hedged_roundtrips_total",
		Help:      "Total number of hedged repository requests.",
	}, func() float64 {
		snap := s.Snapshot()
		hedged := int64(snap.ActualRoundTrips) - int64(snap.RequestedRoundTrips)
		if hedged < 0 {
			hedged = 0
		}
		return float64(hedged)
	})
}

// FetchArtifact implements API. A -SNAPSHOT file version is first pinned to the
// timestamped version listed in the version-level metadata.
func (c *Client) FetchArtifact(ctx context.Context, req ArtifactRequest) (io.ReadCloser, error) {
	if req.IsSnapshot() {
		fixed, err := c.fixSnapshot(ctx, req)
		if err != nil {
			return nil, err
		}
		req = fixed
	}

	file := req.Name + "-" + req.FileVersion
	if req.Classifier != "" {
		file += "-" + req.Classifier
	}
	file += "." + req.Extension

	u := c.resolve(req.Group, req.Name, req.PathVersion, file)
	resp, err := c.get(ctx, "artifact", u)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req, err)
	}
	level.Debug(c.logger).Log("msg", "fetching artifact", "artifact", req.String(), "url", u)
	return resp.Body, nil
}

func (c *Client) fixSnapshot(ctx context.Context, req ArtifactRequest) (ArtifactRequest, error) {
	md, err := c.FetchMetadata(ctx, MetadataRequest{Group: req.Group, Name: req.Name, Version: req.PathVersion})
	if err != nil {
		return req, err
	}
	v, ok := md.SnapshotFor(req.Classifier, req.Extension)
	if !ok {
		return req, fmt.Errorf("no matching snapshot version for %s: %w", req, ErrNotFound)
	}
	req.FileVersion = v
	return req, nil
}

// FetchMetadata implements API. Identical concurrent lookups share one request.
func (c *Client) FetchMetadata(ctx context.Context, req MetadataRequest) (*Metadata, error) {
	parts := []string{req.Name}
	if req.Version != "" {
		parts = append(parts, req.Version)
	}
	u := c.resolve(req.Group, append(parts, metadataFile)...)

	md, _, err := c.metadata.Do(ctx, u, func(ctx context.Context) (*Metadata, error) {
		resp, err := c.get(ctx, "metadata", u)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var md Metadata
		if err := xml.NewDecoder(resp.Body).Decode(&md); err != nil {
			return nil, fmt.Errorf("decode %s: %w", u, err)
		}
		return &md, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s metadata: %w", req, err)
	}
	return md, nil
}

// resolve builds {base}/{group as path}/{rest...}.
func (c *Client) resolve(group string, rest ...string) string {
	segs := append(strings.Split(group, "."), rest...)
	return c.base.JoinPath(segs...).String()
}

// get issues a GET for u. 404 maps to ErrNotFound, any other non-2xx status is
// an error. On success the caller owns resp.Body.
func (c *Client) get(ctx context.Context, kind, u string) (*http.Response, error) {
	do := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusNotFound {
			drain(resp.Body)
			return nil, fmt.Errorf("received 404 for %s: %w", u, ErrNotFound)
		}
		if resp.StatusCode/100 != 2 {
			drain(resp.Body)
			return nil, fmt.Errorf("unexpected status %s for %s", resp.Status, u)
		}
		return resp, nil
	}

	start := time.Now()
	var resp *http.Response
	var err error
	if c.breaker == nil {
		resp, err = do()
	} else {
		var v interface{}
		v, err = c.breaker.Execute(func() (interface{}, error) { return do() })
		if err == nil {
			resp = v.(*http.Response)
		}
	}
	c.requests.WithLabelValues(kind, outcome(err)).Inc()
	if err != nil && !errors.Is(err, ErrNotFound) {
		level.Debug(c.logger).Log("msg", "repository request failed", "url", u, "duration", time.Since(start), "err", err)
	}
	return resp, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	default:
		return "error"
	}
}

func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64<<10))
	_ = rc.Close()
}
