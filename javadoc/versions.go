package javadoc

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/IvanBrykalov/glovebox/cache"
	"github.com/IvanBrykalov/glovebox/maven"
)

// VersionTTL is how long an alias resolution, positive or negative, is reused.
const VersionTTL = 30 * time.Minute

// VersionKind is a symbolic version alias.
type VersionKind int

const (
	// Release resolves through the metadata's <release> element.
	Release VersionKind = iota
	// Snapshot resolves through the metadata's <latest> element.
	Snapshot
)

func (k VersionKind) String() string {
	switch k {
	case Release:
		return "release"
	case Snapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

func (k VersionKind) extract(md *maven.Metadata) string {
	switch k {
	case Release:
		return md.Versioning.Release
	case Snapshot:
		return md.Versioning.Latest
	default:
		return ""
	}
}

// VersionKey identifies one alias resolution slot.
type VersionKey struct {
	Group string
	Name  string
	Kind  VersionKind
}

// ResolvedVersion is the outcome of resolving an alias. Found is false when the
// alias could not be resolved; that outcome is cached too.
type ResolvedVersion struct {
	Version string
	Found   bool
	Expires time.Time
}

// VersionCache resolves version aliases against repository metadata and keeps
// each result for VersionTTL.
type VersionCache struct {
	api    maven.API
	m      *cache.GuardedMap[VersionKey, ResolvedVersion]
	clock  cache.Clock
	logger log.Logger
}

// NewVersionCache returns an empty VersionCache. A nil clock means wall time.
func NewVersionCache(api maven.API, clock cache.Clock, logger log.Logger) *VersionCache {
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &VersionCache{
		api:    api,
		m:      cache.NewGuardedMap[VersionKey, ResolvedVersion](),
		clock:  clock,
		logger: log.With(logger, "component", "version-cache"),
	}
}

// Resolve returns the concrete version kind points to for group:name.
//
// A live cached result is returned without touching the repository and without
// extending its expiry. Otherwise the artifact metadata is fetched. A missing
// metadata document or a missing alias element yields a negative result that is
// cached like a positive one. Any other fetch error is returned and nothing is
// cached.
func (vc *VersionCache) Resolve(ctx context.Context, group, name string, kind VersionKind) (ResolvedVersion, error) {
	key := VersionKey{Group: group, Name: name, Kind: kind}
	v, _, err := vc.m.Compute(ctx, key, func(ctx context.Context, key VersionKey, old ResolvedVersion, present bool) (ResolvedVersion, bool, error) {
		if present && vc.now().Before(old.Expires) {
			return old, true, nil
		}
		rv, err := vc.fetch(ctx, key)
		if err != nil {
			return ResolvedVersion{}, false, err
		}
		rv.Expires = vc.now().Add(VersionTTL)
		return rv, true, nil
	})
	return v, err
}

func (vc *VersionCache) fetch(ctx context.Context, key VersionKey) (ResolvedVersion, error) {
	md, err := vc.api.FetchMetadata(ctx, maven.MetadataRequest{Group: key.Group, Name: key.Name})
	switch {
	case errors.Is(err, maven.ErrNotFound):
		level.Info(vc.logger).Log("msg", "no maven-metadata.xml available", "group", key.Group, "name", key.Name, "kind", key.Kind, "err", err)
		return ResolvedVersion{}, nil
	case err != nil:
		return ResolvedVersion{}, err
	}

	v := key.Kind.extract(md)
	if v == "" {
		level.Info(vc.logger).Log("msg", "alias not present in maven-metadata.xml", "group", key.Group, "name", key.Name, "kind", key.Kind)
		return ResolvedVersion{}, nil
	}
	return ResolvedVersion{Version: v, Found: true}, nil
}

// Len returns the number of cached resolutions, expired ones included.
func (vc *VersionCache) Len() int { return vc.m.Len() }

func (vc *VersionCache) now() time.Time { return time.Unix(0, vc.clock.NowUnixNano()) }

type wallClock struct{}

func (wallClock) NowUnixNano() int64 { return time.Now().UnixNano() }
