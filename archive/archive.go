// Package archive extracts zip archives (javadoc jars) into in-memory
// filesystems that can be served path by path.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/zip"
)

var (
	// ErrExtractionFailed is returned when the input is not a readable zip archive.
	ErrExtractionFailed = errors.New("archive: extraction failed")
	// ErrTooLarge is returned when the archive exceeds ExtractOptions.MaxArchiveSize
	// or its uncompressed content exceeds ExtractOptions.MaxSize.
	ErrTooLarge = errors.New("archive: content exceeds limit")
	// ErrClosed is returned by lookups on a closed archive.
	ErrClosed = errors.New("archive: closed")
	// ErrNotRegular is returned when a path resolves to something other than a regular file.
	ErrNotRegular = errors.New("archive: not a regular file")
)

// IndexFile is served for directory paths.
const IndexFile = "index.html"

// ExtractOptions bounds an extraction.
type ExtractOptions struct {
	// MaxSize caps the total uncompressed size. 0 means unlimited.
	MaxSize int64
	// MaxArchiveSize caps the compressed stream, which is buffered whole before
	// decoding. 0 means unlimited.
	MaxArchiveSize int64
}

// VirtualArchive is an extracted archive held in memory. Its Size is the total
// uncompressed byte length of its files. Close drops the backing store; reads
// after Close fail with ErrClosed.
type VirtualArchive struct {
	name  string
	size  int64
	files int

	mu sync.RWMutex
	fs billy.Filesystem // nil once closed
}

// Extract reads a zip archive from r into a fresh in-memory filesystem named
// name. Directory entries become directories, file entries are copied verbatim.
// A malformed stream fails with ErrExtractionFailed and nothing is retained.
func Extract(ctx context.Context, name string, r io.Reader, opts ExtractOptions) (*VirtualArchive, error) {
	// zip needs random access to the central directory
	if opts.MaxArchiveSize > 0 {
		r = io.LimitReader(r, opts.MaxArchiveSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", name, err)
	}
	if opts.MaxArchiveSize > 0 && int64(len(data)) > opts.MaxArchiveSize {
		return nil, fmt.Errorf("%w: %s is over %d bytes compressed", ErrTooLarge, name, opts.MaxArchiveSize)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExtractionFailed, name, err)
	}

	a := &VirtualArchive{name: name, fs: memfs.New()}
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		member, ok := normalize(f.Name)
		if !ok {
			continue
		}
		if f.FileInfo().IsDir() {
			if err := a.fs.MkdirAll(member, 0o755); err != nil {
				return nil, fmt.Errorf("%w: %s: mkdir %s: %w", ErrExtractionFailed, name, member, err)
			}
			continue
		}

		n, err := a.extractFile(f, member, remaining(opts.MaxSize, a.size))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s: %w", ErrExtractionFailed, name, member, err)
		}
		a.size += n
		a.files++
		if opts.MaxSize > 0 && a.size > opts.MaxSize {
			return nil, fmt.Errorf("%w: %s is over %d bytes", ErrTooLarge, name, opts.MaxSize)
		}
	}
	return a, nil
}

// extractFile copies at most limit+1 bytes of f into member and returns the
// number of bytes written. limit < 0 means unlimited.
func (a *VirtualArchive) extractFile(f *zip.File, member string, limit int64) (int64, error) {
	if dir := path.Dir(member); dir != "." {
		if err := a.fs.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	w, err := a.fs.Create(member)
	if err != nil {
		return 0, err
	}
	var src io.Reader = rc
	if limit >= 0 {
		src = io.LimitReader(rc, limit+1)
	}
	n, err := io.Copy(w, src)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func remaining(max, used int64) int64 {
	if max <= 0 {
		return -1
	}
	return max - used
}

// normalize turns an archive member or request path into a clean relative path.
// It reports false for the root itself.
func normalize(p string) (string, bool) {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return p, p != ""
}

// Name returns the archive's name.
func (a *VirtualArchive) Name() string { return a.name }

// Size returns the total uncompressed size of the archive's files.
func (a *VirtualArchive) Size() int64 { return a.size }

// Files returns the number of regular files extracted.
func (a *VirtualArchive) Files() int { return a.files }

// Close releases the in-memory store. It is safe to call more than once.
func (a *VirtualArchive) Close() error {
	a.mu.Lock()
	a.fs = nil
	a.mu.Unlock()
	return nil
}

// Lookup returns the contents of the file at p. A directory, including the
// archive root, resolves to its index.html. Paths that do not exist fail with
// an error matching fs.ErrNotExist; anything that is not a regular file fails
// with ErrNotRegular. The returned name is the path actually read.
func (a *VirtualArchive) Lookup(p string) (name string, data []byte, err error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.fs == nil {
		return "", nil, ErrClosed
	}

	name, ok := normalize(p)
	if !ok {
		// the root directory has no entry of its own
		name = IndexFile
	}

	fi, err := a.fs.Stat(name)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %s: %w", a.name, name, fs.ErrNotExist)
	}
	if fi.IsDir() {
		name = path.Join(name, IndexFile)
		if fi, err = a.fs.Stat(name); err != nil {
			return "", nil, fmt.Errorf("%s: %s: %w", a.name, name, fs.ErrNotExist)
		}
	}
	if !fi.Mode().IsRegular() {
		return "", nil, fmt.Errorf("%s: %s: %w", a.name, name, ErrNotRegular)
	}

	data, err = util.ReadFile(a.fs, name)
	if err != nil {
		return "", nil, err
	}
	return name, data, nil
}

// ContentType maps a file name to the media type it is served with.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "text/javascript; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
