package tilefits

import (
	"bytes"
	"compress/gzip"
	"io"
)

// InflateResult is the three-valued outcome of a gzip inflate attempt.
type InflateResult int

const (
	// InflateOK means exactly destLen bytes were produced.
	InflateOK InflateResult = iota
	// InflateDataError means the compressed stream was corrupt or
	// truncated.
	InflateDataError
	// InflateOtherError means some other failure occurred (short read
	// from the source, allocation failure, etc).
	InflateOtherError
)

// inflateGZIP decompresses a raw gzip member (window bits 31) from src into
// dst, requiring the decompressed length to equal len(dst) exactly — a
// tile's decompressed size is always known in advance from its geometry,
// so short or long output is itself a sign of a corrupt tile.
//
// Tile sizes only ever differ in whether a 32-bit or 64-bit pointer
// width was used to address them, never in decode behavior; Go has no
// integer-width overloading, so inflateGZIP32/inflateGZIP64 below are
// both thin callers of this single shared implementation, kept only to
// preserve the two-entry-point shape callers expect at the tile/body
// call sites.
func inflateGZIP(dst []byte, src []byte) InflateResult {
	zr, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return InflateDataError
	}
	defer zr.Close()

	n, err := io.ReadFull(zr, dst)
	if err != nil || n != len(dst) {
		return InflateDataError
	}

	// Confirm there is no trailing tile data beyond what was requested;
	// a well-formed tile stream ends exactly at len(dst).
	var extra [1]byte
	if m, _ := zr.Read(extra[:]); m > 0 {
		return InflateDataError
	}

	return InflateOK
}

// inflateGZIP32 decompresses src into dst where the tile's logical length
// fits a 32-bit counter.
func inflateGZIP32(dst []byte, src []byte) InflateResult {
	return inflateGZIP(dst, src)
}

// inflateGZIP64 decompresses src into dst where the tile's logical length
// requires a 64-bit counter.
func inflateGZIP64(dst []byte, src []byte) InflateResult {
	return inflateGZIP(dst, src)
}
