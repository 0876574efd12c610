package tilefits

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/goburrow/cache"
)

// FileInfo is the minimal stat result a Source exposes — just enough for
// FitsFile.Stat to compose a logical size on top of the source's own
// metadata (mode and mtime pass through unchanged; only Size is
// overridden).
type FileInfo struct {
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
}

// RegularFileSource is the random-access byte source this reader consumes
// to fetch physical bytes from the compressed FITS file. It is the sole
// external collaborator this package depends on for I/O — this package
// only ever calls through this interface to touch bytes on disk;
// everything else is computed from cards already read through it.
type RegularFileSource interface {
	Close() error
	Stat() (FileInfo, error)
	// ReadAt is positional, handles partial reads internally, retries on
	// interruption, and returns (0, io.EOF) at end of file.
	ReadAt(buf []byte, offset int64) (int, error)
}

// DirEntry is one entry returned by DirectorySource.ReadEntry.
type DirEntry struct {
	Name string
}

// DirectorySource is the external directory-handle abstraction: a FITS
// file may be one member of a larger directory-backed store. This
// reader's own Open path does not use it: Open opens its path directly.
// A RegularFileSource obtained through OpenAt can be passed to
// OpenSource.
type DirectorySource interface {
	Close() error
	Stat() (FileInfo, error)
	ReadEntry(offset int) (DirEntry, bool, error)
	StatAt(name string) (FileInfo, error)
	OpenAt(name string) (RegularFileSource, error)
}

// osFileSource is a RegularFileSource backed by an *os.File.
type osFileSource struct {
	f *os.File
}

// NewOSFileSource opens path as a RegularFileSource.
func NewOSFileSource(path string) (RegularFileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, wrapErr(KindNotFound, err)
		}
		return nil, wrapErr(KindIO, err)
	}
	return &osFileSource{f: f}, nil
}

func (s *osFileSource) Close() error {
	return s.f.Close()
}

func (s *osFileSource) Stat() (FileInfo, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return FileInfo{}, wrapErr(KindIO, err)
	}
	return FileInfo{Size: fi.Size(), Mode: fi.Mode(), ModTime: fi.ModTime()}, nil
}

func (s *osFileSource) ReadAt(buf []byte, offset int64) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.f.ReadAt(buf[total:], offset+int64(total))
		total += n
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			if err == io.EOF {
				if total > 0 {
					return total, nil
				}
				return 0, io.EOF
			}
			return total, wrapErr(KindIO, err)
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// osDirSource is a DirectorySource backed by an *os.File opened on a
// directory, with an LRU cache of recently-openat'd member file handles.
// Unlike the tiled decoder's tile cache (never evicted — see tiled.go),
// file descriptors are a finite OS resource, so eviction here is correct:
// a closed, evicted handle simply gets reopened on next use.
type osDirSource struct {
	dir     *os.File
	path    string
	handles cache.LoadingCache
}

const maxCachedDirHandles = 64

// NewOSDirSource opens path as a DirectorySource.
func NewOSDirSource(path string) (DirectorySource, error) {
	dir, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, wrapErr(KindNotFound, err)
		}
		return nil, wrapErr(KindIO, err)
	}
	d := &osDirSource{dir: dir, path: path}
	d.handles = cache.NewLoadingCache(
		d.loadHandle,
		cache.WithMaximumSize(maxCachedDirHandles),
		cache.WithRemovalListener(d.onEvict),
	)
	return d, nil
}

func (d *osDirSource) loadHandle(key cache.Key) (cache.Value, error) {
	name := key.(string)
	return NewOSFileSource(filepath.Join(d.path, name))
}

func (d *osDirSource) onEvict(_ cache.Key, v cache.Value) {
	if fs, ok := v.(RegularFileSource); ok {
		_ = fs.Close()
	}
}

func (d *osDirSource) Close() error {
	d.handles.InvalidateAll()
	return d.dir.Close()
}

func (d *osDirSource) Stat() (FileInfo, error) {
	fi, err := d.dir.Stat()
	if err != nil {
		return FileInfo{}, wrapErr(KindIO, err)
	}
	return FileInfo{Size: fi.Size(), Mode: fi.Mode(), ModTime: fi.ModTime()}, nil
}

func (d *osDirSource) ReadEntry(offset int) (DirEntry, bool, error) {
	// os.File.Readdirnames advances the directory's own read cursor, so a
	// fresh Seek is required before every call: otherwise the second
	// ReadEntry in a row would see zero remaining names instead of the
	// same listing re-indexed by offset.
	if _, err := d.dir.Seek(0, io.SeekStart); err != nil {
		return DirEntry{}, false, wrapErr(KindIO, err)
	}
	names, err := d.dir.Readdirnames(-1)
	if err != nil {
		return DirEntry{}, false, wrapErr(KindIO, err)
	}
	if offset < 0 || offset >= len(names) {
		return DirEntry{}, false, nil
	}
	return DirEntry{Name: names[offset]}, true, nil
}

func (d *osDirSource) StatAt(name string) (FileInfo, error) {
	fi, err := os.Stat(filepath.Join(d.path, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FileInfo{}, wrapErr(KindNotFound, err)
		}
		return FileInfo{}, wrapErr(KindIO, err)
	}
	return FileInfo{Size: fi.Size(), Mode: fi.Mode(), ModTime: fi.ModTime()}, nil
}

func (d *osDirSource) OpenAt(name string) (RegularFileSource, error) {
	v, err := d.handles.Get(name)
	if err != nil {
		return nil, err
	}
	return v.(RegularFileSource), nil
}
