package javadoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/glovebox/archive"
	"github.com/IvanBrykalov/glovebox/cache"
	"github.com/IvanBrykalov/glovebox/maven"
)

type fakeClock struct {
	mu sync.Mutex
	t  int64
}

func (f *fakeClock) NowUnixNano() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) add(d time.Duration) {
	f.mu.Lock()
	f.t += int64(d)
	f.mu.Unlock()
}

// fakeRepo is an in-memory maven.API.
type fakeRepo struct {
	mu        sync.Mutex
	metadata  map[string]*maven.Metadata // group:name
	jars      map[string][]byte          // group:name:fileVersion
	mdErr     error
	mdCalls   int
	jarCalls  int
	requested []maven.ArtifactRequest
}

func (r *fakeRepo) FetchArtifact(_ context.Context, req maven.ArtifactRequest) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jarCalls++
	r.requested = append(r.requested, req)
	data, ok := r.jars[req.Group+":"+req.Name+":"+req.FileVersion]
	if !ok {
		return nil, fmt.Errorf("received 404 for %s: %w", req, maven.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (r *fakeRepo) FetchMetadata(_ context.Context, req maven.MetadataRequest) (*maven.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mdCalls++
	if r.mdErr != nil {
		return nil, r.mdErr
	}
	md, ok := r.metadata[req.Group+":"+req.Name]
	if !ok {
		return nil, fmt.Errorf("received 404 for %s: %w", req, maven.ErrNotFound)
	}
	return md, nil
}

func (r *fakeRepo) calls() (metadata, jars int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mdCalls, r.jarCalls
}

func buildJar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func releaseMetadata(release, latest string) *maven.Metadata {
	return &maven.Metadata{Versioning: maven.Versioning{Release: release, Latest: latest}}
}

func TestVersionCache_TTL(t *testing.T) {
	repo := &fakeRepo{metadata: map[string]*maven.Metadata{"g:n": releaseMetadata("1.2.3", "")}}
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano()}
	vc := NewVersionCache(repo, clk, nil)
	ctx := context.Background()

	rv, err := vc.Resolve(ctx, "g", "n", Release)
	require.NoError(t, err)
	require.True(t, rv.Found)
	require.Equal(t, "1.2.3", rv.Version)
	stored := rv.Expires

	clk.add(29 * time.Minute)
	rv, err = vc.Resolve(ctx, "g", "n", Release)
	require.NoError(t, err)
	require.Equal(t, "1.2.3", rv.Version)
	require.Equal(t, stored, rv.Expires, "a hit must not refresh the expiry")
	md, _ := repo.calls()
	require.Equal(t, 1, md)

	clk.add(2 * time.Minute) // T+31m
	rv, err = vc.Resolve(ctx, "g", "n", Release)
	require.NoError(t, err)
	md, _ = repo.calls()
	require.Equal(t, 2, md, "an expired entry must be resolved again")
	require.True(t, rv.Expires.After(stored))
}

func TestVersionCache_NegativeCaching(t *testing.T) {
	repo := &fakeRepo{}
	clk := &fakeClock{}
	vc := NewVersionCache(repo, clk, nil)

	for i := 0; i < 3; i++ {
		rv, err := vc.Resolve(context.Background(), "g", "missing", Snapshot)
		require.NoError(t, err)
		require.False(t, rv.Found)
		clk.add(time.Minute)
	}
	md, _ := repo.calls()
	require.Equal(t, 1, md, "a not-found lookup is cached for the TTL")
}

func TestVersionCache_MissingAliasElement(t *testing.T) {
	repo := &fakeRepo{metadata: map[string]*maven.Metadata{"g:n": releaseMetadata("1.0", "")}}
	vc := NewVersionCache(repo, &fakeClock{}, nil)

	rv, err := vc.Resolve(context.Background(), "g", "n", Snapshot)
	require.NoError(t, err)
	require.False(t, rv.Found)

	rv, err = vc.Resolve(context.Background(), "g", "n", Release)
	require.NoError(t, err)
	require.Equal(t, "1.0", rv.Version)
	require.Equal(t, 2, vc.Len())
}

func TestVersionCache_TransportErrorNotCached(t *testing.T) {
	boom := errors.New("connection reset")
	repo := &fakeRepo{mdErr: boom}
	vc := NewVersionCache(repo, &fakeClock{}, nil)

	_, err := vc.Resolve(context.Background(), "g", "n", Release)
	require.ErrorIs(t, err, boom)
	require.Zero(t, vc.Len())

	repo.mu.Lock()
	repo.mdErr = nil
	repo.metadata = map[string]*maven.Metadata{"g:n": releaseMetadata("2.0", "")}
	repo.mu.Unlock()

	rv, err := vc.Resolve(context.Background(), "g", "n", Release)
	require.NoError(t, err)
	require.Equal(t, "2.0", rv.Version)
}

func newTestManager(t *testing.T, repo *fakeRepo, size int64) *Manager {
	t.Helper()
	// zip framing outweighs the tiny test bodies, keep downloads unbounded
	return NewManager(repo, Options{CacheSize: size, MaxDownloadSize: 1 << 20, Clock: &fakeClock{}})
}

func TestManager_Get(t *testing.T) {
	repo := &fakeRepo{jars: map[string][]byte{
		"g:n:1.0": buildJar(t, map[string]string{
			"index.html":     "0123456789",
			"pkg/Foo.html":   "01234567890123456789",
			"stylesheet.css": "body{}",
		}),
	}}
	m := newTestManager(t, repo, 1<<20)
	ctx := context.Background()

	e, err := m.Get(ctx, "g", "n", "1.0", "")
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(e.Bytes))
	require.Equal(t, "text/html; charset=utf-8", e.ContentType)
	require.Len(t, e.ETag, 16)

	e2, err := m.Get(ctx, "g", "n", "1.0", "index.html")
	require.NoError(t, err)
	require.Equal(t, e.ETag, e2.ETag)

	e, err = m.Get(ctx, "g", "n", "1.0", "pkg/Foo.html")
	require.NoError(t, err)
	require.Len(t, e.Bytes, 20)

	e, err = m.Get(ctx, "g", "n", "1.0", "stylesheet.css")
	require.NoError(t, err)
	require.Equal(t, "text/css; charset=utf-8", e.ContentType)

	_, err = m.Get(ctx, "g", "n", "1.0", "missing.txt")
	require.ErrorIs(t, err, ErrContentMissing)

	_, jars := repo.calls()
	require.Equal(t, 1, jars, "the jar is fetched once and then served from the cache")

	st := m.CacheStats()
	require.Equal(t, 1, st.Entries)
	require.Zero(t, st.Pinned)
	require.Equal(t, int64(36), st.Bytes)

	require.Equal(t, []maven.ArtifactRequest{maven.NewArtifactRequest("g", "n", "1.0", "javadoc")}, repo.requested)
}

func TestManager_MissingArtifact(t *testing.T) {
	m := newTestManager(t, &fakeRepo{}, 1<<20)
	_, err := m.Get(context.Background(), "g", "n", "9.9", "index.html")
	require.ErrorIs(t, err, ErrContentMissing)
	require.ErrorIs(t, err, maven.ErrNotFound)
	require.Zero(t, m.CacheStats().Entries)
}

func TestManager_ResolvesAliases(t *testing.T) {
	repo := &fakeRepo{
		metadata: map[string]*maven.Metadata{"g:n": releaseMetadata("1.0", "2.0-SNAPSHOT")},
		jars: map[string][]byte{
			"g:n:1.0":          buildJar(t, map[string]string{"index.html": "release"}),
			"g:n:2.0-SNAPSHOT": buildJar(t, map[string]string{"index.html": "snapshot"}),
		},
	}
	m := newTestManager(t, repo, 1<<20)

	for _, tc := range []struct{ alias, want string }{
		{"release", "release"},
		{"RELEASE", "release"},
		{"snapshot", "snapshot"},
		{"Snapshot", "snapshot"},
	} {
		e, err := m.Get(context.Background(), "g", "n", tc.alias, "")
		require.NoError(t, err, tc.alias)
		require.Equal(t, tc.want, string(e.Bytes), tc.alias)
	}
	md, jars := repo.calls()
	require.Equal(t, 2, md, "one metadata fetch per alias kind")
	require.Equal(t, 2, jars)
}

func TestManager_UnresolvableAlias(t *testing.T) {
	repo := &fakeRepo{metadata: map[string]*maven.Metadata{"g:n": releaseMetadata("", "")}}
	m := newTestManager(t, repo, 1<<20)

	_, err := m.Get(context.Background(), "g", "n", "release", "")
	require.ErrorIs(t, err, ErrContentMissing)
	_, jars := repo.calls()
	require.Zero(t, jars)
}

func TestManager_MalformedJar(t *testing.T) {
	repo := &fakeRepo{jars: map[string][]byte{"g:n:1.0": []byte("not a zip")}}
	m := newTestManager(t, repo, 1<<20)

	_, err := m.Get(context.Background(), "g", "n", "1.0", "")
	require.ErrorIs(t, err, archive.ErrExtractionFailed)
	require.NotErrorIs(t, err, ErrContentMissing)
	require.Zero(t, m.CacheStats().Entries)
}

func TestManager_JarLargerThanCache(t *testing.T) {
	repo := &fakeRepo{jars: map[string][]byte{
		"g:n:exact": buildJar(t, map[string]string{"index.html": "0123456789"}),
		"g:n:over":  buildJar(t, map[string]string{"index.html": "0123456789a"}),
	}}
	m := newTestManager(t, repo, 10)

	_, err := m.Get(context.Background(), "g", "n", "exact", "")
	require.ErrorIs(t, err, cache.ErrOversizedEntry)

	// abandoned during extraction, reported the same way
	_, err = m.Get(context.Background(), "g", "n", "over", "")
	require.ErrorIs(t, err, cache.ErrOversizedEntry)
	require.ErrorIs(t, err, archive.ErrTooLarge)
	require.Zero(t, m.CacheStats().Bytes)
	require.Zero(t, m.CacheStats().Entries)
}

func TestManager_DownloadLargerThanLimit(t *testing.T) {
	jar := buildJar(t, map[string]string{"index.html": "0123456789"})
	repo := &fakeRepo{jars: map[string][]byte{"g:n:1.0": jar}}
	m := NewManager(repo, Options{CacheSize: 1 << 20, MaxDownloadSize: int64(len(jar)) - 1, Clock: &fakeClock{}})

	_, err := m.Get(context.Background(), "g", "n", "1.0", "")
	require.ErrorIs(t, err, cache.ErrOversizedEntry)
	require.NotErrorIs(t, err, ErrContentMissing)
	require.Zero(t, m.CacheStats().Entries)
}

func TestManager_EvictsOldJars(t *testing.T) {
	repo := &fakeRepo{jars: map[string][]byte{
		"g:a:1": buildJar(t, map[string]string{"index.html": "aaaaaaaaaa"}),
		"g:b:1": buildJar(t, map[string]string{"index.html": "bbbbbbbbbb"}),
	}}
	m := newTestManager(t, repo, 15)

	for _, name := range []string{"a", "b", "a"} {
		_, err := m.Get(context.Background(), "g", name, "1", "")
		require.NoError(t, err)
	}
	_, jars := repo.calls()
	require.Equal(t, 3, jars, "a must be fetched again after b evicted it")
	require.Equal(t, uint64(2), m.CacheStats().Evictions)
}

func TestManager_ConcurrentGetsFetchOnce(t *testing.T) {
	repo := &fakeRepo{jars: map[string][]byte{
		"g:n:1.0": buildJar(t, map[string]string{"index.html": "hello"}),
	}}
	m := newTestManager(t, repo, 1<<20)

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			e, err := m.Get(context.Background(), "g", "n", "1.0", "index.html")
			if err != nil {
				return err
			}
			if string(e.Bytes) != "hello" {
				return errors.New("unexpected content")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	_, jars := repo.calls()
	require.Equal(t, 1, jars)
}
