// Package javadoc serves files out of javadoc jars published to a Maven
// repository. Version aliases are resolved through a TTL cache and extracted
// jars are kept in a size-bounded LRU cache.
package javadoc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/IvanBrykalov/glovebox/archive"
	"github.com/IvanBrykalov/glovebox/cache"
	"github.com/IvanBrykalov/glovebox/maven"
)

// ErrContentMissing means the requested javadoc, version or file does not exist.
// It is an expected outcome, not a failure.
var ErrContentMissing = errors.New("javadoc: content missing")

// Classifier of the artifacts served for explicit versions.
const Classifier = "javadoc"

// JarKey identifies one extracted jar.
type JarKey struct {
	Group   string
	Name    string
	Version string
}

func (k JarKey) String() string { return k.Group + ":" + k.Name + ":" + k.Version }

// Entry is one file ready to be sent.
type Entry struct {
	Bytes       []byte
	ContentType string
	// ETag is a hex content hash, unquoted.
	ETag string
}

// Options configures a Manager.
type Options struct {
	// CacheSize is the byte budget for extracted jars.
	CacheSize       int64
	// MaxDownloadSize caps a jar's compressed size while it is buffered for
	// extraction. 0 means CacheSize.
	MaxDownloadSize int64
	Metrics         cache.Metrics
	Clock           cache.Clock
	Logger          log.Logger
}

// Manager answers content requests.
type Manager struct {
	api      maven.API
	versions *VersionCache
	jars     *cache.Cache[JarKey, *archive.VirtualArchive]
	limits   archive.ExtractOptions
	logger   log.Logger
}

// NewManager returns a Manager fetching from api. It panics if CacheSize <= 0.
func NewManager(api maven.API, opt Options) *Manager {
	logger := opt.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if opt.MaxDownloadSize <= 0 {
		opt.MaxDownloadSize = opt.CacheSize
	}
	m := &Manager{
		api:      api,
		versions: NewVersionCache(api, opt.Clock, logger),
		limits:   archive.ExtractOptions{MaxSize: opt.CacheSize, MaxArchiveSize: opt.MaxDownloadSize},
		logger:   log.With(logger, "component", "javadoc"),
	}
	m.jars = cache.New[JarKey, *archive.VirtualArchive](cache.Options[JarKey, *archive.VirtualArchive]{
		MaxBytes: opt.CacheSize,
		Metrics:  opt.Metrics,
		Clock:    opt.Clock,
		Logger:   logger,
		OnEvict: func(k JarKey, a *archive.VirtualArchive) {
			level.Debug(m.logger).Log("msg", "evicting jar", "jar", k.String(), "bytes", a.Size())
		},
	})
	return m
}

// Get returns the file at path inside the javadoc jar of group:name:version.
//
// A version of "release" or "snapshot" (any case) is resolved first; anything
// else is used as is. A directory path serves its index.html. Missing
// artifacts, unresolvable aliases and missing paths fail with an error matching
// ErrContentMissing.
func (m *Manager) Get(ctx context.Context, group, name, version, path string) (*Entry, error) {
	req, err := m.resolveRequest(ctx, group, name, version)
	if err != nil {
		return nil, err
	}
	key := JarKey{Group: req.Group, Name: req.Name, Version: req.FileVersion}

	return cache.Use(ctx, m.jars, key, m.fill(req), func(a *archive.VirtualArchive) (*Entry, error) {
		file, data, err := a.Lookup(path)
		switch {
		case errors.Is(err, fs.ErrNotExist), errors.Is(err, archive.ErrNotRegular):
			level.Debug(m.logger).Log("msg", "path not in jar", "jar", key.String(), "path", path)
			return nil, fmt.Errorf("%w: %w", ErrContentMissing, err)
		case err != nil:
			return nil, err
		}
		return &Entry{
			Bytes:       data,
			ContentType: archive.ContentType(file),
			ETag:        fmt.Sprintf("%016x", xxhash.Sum64(data)),
		}, nil
	})
}

func (m *Manager) resolveRequest(ctx context.Context, group, name, version string) (maven.ArtifactRequest, error) {
	var kind VersionKind
	switch strings.ToLower(version) {
	case "release":
		kind = Release
	case "snapshot":
		kind = Snapshot
	default:
		return maven.NewArtifactRequest(group, name, version, Classifier), nil
	}

	rv, err := m.versions.Resolve(ctx, group, name, kind)
	if err != nil {
		return maven.ArtifactRequest{}, err
	}
	if !rv.Found {
		return maven.ArtifactRequest{}, fmt.Errorf("%w: no %s version of %s:%s", ErrContentMissing, kind, group, name)
	}
	return maven.NewArtifactRequest(group, name, rv.Version, Classifier), nil
}

// fill downloads and extracts req. Jars that could never fit in the cache are
// abandoned as soon as the download or the extraction passes its limit, and
// fail like any other oversized entry.
func (m *Manager) fill(req maven.ArtifactRequest) cache.FillFunc[JarKey, *archive.VirtualArchive] {
	return func(ctx context.Context, key JarKey) (*archive.VirtualArchive, error) {
		body, err := m.api.FetchArtifact(ctx, req)
		if errors.Is(err, maven.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrContentMissing, err)
		}
		if err != nil {
			return nil, err
		}
		defer body.Close()

		a, err := archive.Extract(ctx, key.String(), body, m.limits)
		if errors.Is(err, archive.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %w", cache.ErrOversizedEntry, err)
		}
		if err != nil {
			return nil, err
		}
		level.Info(m.logger).Log("msg", "loaded jar", "jar", key.String(), "files", a.Files(), "bytes", a.Size())
		return a, nil
	}
}

// CacheStats reports the jar cache's activity.
func (m *Manager) CacheStats() cache.Stats { return m.jars.Stats() }

// Versions exposes the alias cache.
func (m *Manager) Versions() *VersionCache { return m.versions }
