package tilefits

import (
	"math"
	"sync"
)

// Options configures how a FitsFile decodes its HDU chain.
type Options struct {
	// NumThreads, when > 0, both bounds how many goroutines a predecode
	// fans out across and switches ReadAt into eager mode: the first
	// read that touches a tiled HDU's body decodes every one of its tiles
	// (via its decoder's idempotent PredecodeAll) before serving the
	// requested slice, rather
	// than decoding only the tiles the request happens to intersect.
	// <= 0 means lazy, per-tile, serial decoding.
	NumThreads int
}

// FitsFile presents a GZIP_2 tile-compressed FITS file as if it were the
// equivalent plain (uncompressed) FITS file: random-access reads at any
// logical offset transparently resolve to the owning HDU, decode whatever
// tiles the requested range intersects, and serve the bytes the
// uncompressed file would have had at that offset.
type FitsFile struct {
	src   RegularFileSource
	owned bool

	chain *hduChain
	mu    sync.Mutex // coarse gate shared with every tiled HDU's Predecode
	opts  Options
}

// Open opens path and wraps it in a FitsFile. The returned file owns the
// underlying source and closes it on Close.
func Open(path string, opts Options) (*FitsFile, error) {
	src, err := NewOSFileSource(path)
	if err != nil {
		return nil, err
	}
	return newFitsFile(src, true, opts), nil
}

// OpenSource wraps an already-open RegularFileSource in a FitsFile. The
// caller retains ownership of src; Close on the returned file is a no-op.
func OpenSource(src RegularFileSource, opts Options) (*FitsFile, error) {
	return newFitsFile(src, false, opts), nil
}

func newFitsFile(src RegularFileSource, owned bool, opts Options) *FitsFile {
	return &FitsFile{src: src, owned: owned, chain: newHDUChain(src), opts: opts}
}

// Close releases the underlying source, if this FitsFile owns it.
func (f *FitsFile) Close() error {
	if f.owned {
		return f.src.Close()
	}
	return nil
}

// Stat reports the logical (equivalent-uncompressed) size of the file,
// which requires walking the full HDU chain — an O(number of HDUs)
// operation, not O(file size), since no tile decoding is involved.
func (f *FitsFile) Stat() (FileInfo, error) {
	fi, err := f.src.Stat()
	if err != nil {
		return FileInfo{}, err
	}
	size, err := f.chain.totalLogicalSize()
	if err != nil {
		return FileInfo{}, err
	}
	fi.Size = size
	return fi, nil
}

// Predecode eagerly decodes every tile of every tiled HDU in the file.
// Idempotent and safe to call concurrently with ReadAt. A tiled HDU whose
// tile index an earlier ReadAt or Predecode already loaded is skipped, so
// tiles that call did not decode stay undecoded until a read needs them.
func (f *FitsFile) Predecode() error {
	return f.chain.predecodeAll(f.opts.NumThreads, &f.mu)
}

// ReadAt serves [offset, offset+len(buf)) of the logical (equivalent
// uncompressed) file, transparently decoding whatever tiles the range
// intersects. It returns fewer than len(buf) bytes only when the range
// extends past the logical end of file.
func (f *FitsFile) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, wrapErrf(KindInvalidArgument, "fitsio: negative read offset (%d)", offset)
	}
	if offset > math.MaxInt64-int64(len(buf)) {
		return 0, wrapErrf(KindInvalidArgument, "fitsio: offset+size overflows int64 (offset=%d, size=%d)", offset, len(buf))
	}
	return f.chain.readAt(buf, offset, f.opts.NumThreads, &f.mu)
}

// StatPath is the §6 "auxiliary call": it opens path as a logical FitsFile,
// stats it, and closes it again, for a caller that only wants the
// equivalent-uncompressed size (or existence/permission errors) without
// keeping a handle open. Go's error return replaces the spec's
// errno-in-thread-local convention — there is no analogous global to set.
func StatPath(path string, opts Options) (FileInfo, error) {
	f, err := Open(path, opts)
	if err != nil {
		return FileInfo{}, err
	}
	defer f.Close()
	return f.Stat()
}
