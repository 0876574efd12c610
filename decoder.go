package tilefits

import "sync"

// Decoder is the polymorphic abstraction over how an HDU's body maps onto
// the logical (uncompressed) view — either a direct passthrough of the
// physical bytes (plainDecoder) or a GZIP_2 tile-compressed BINTABLE
// reinterpreted as an image (tiledDecoder).
type Decoder interface {
	// LogicalBodySize is the number of logical bytes the body occupies
	// in the uncompressed view, always a multiple of blockSize.
	LogicalBodySize(e Essential) int64

	// DecodeHeader may mutate h in place so it describes the logical
	// layout rather than the physical one. Called once, right after the
	// decoder is selected.
	DecodeHeader(e Essential, h *Header) error

	// DecodeBody fills buf with the logical body bytes
	// [logicalOffset, logicalOffset+len(buf)). It must be safe to call
	// concurrently for disjoint ranges on the same decoder. It returns
	// len(buf) on success.
	DecodeBody(src RegularFileSource, buf []byte, logicalOffset int64) (int, error)

	// PredecodeAll eagerly warms the decoder's cache (a no-op for the
	// plain decoder). Idempotent and safe under concurrent calls; mu is
	// the owning FitsFile's coarse serialization gate.
	PredecodeAll(src RegularFileSource, numThreads int, mu *sync.Mutex) error
}

// naxisElements computes the element count implied by NAXIS/NAXIS1/NAXIS2,
// the only axes this reader's essential-card set tracks: compressed
// images are always ZNAXIS=2, and the primary/plain HDUs this package is
// asked to pass through in practice never exceed 2 axes either.
func naxisElements(e Essential) int64 {
	if e.Naxis <= 0 {
		return 0
	}
	n := e.Naxis1
	if e.Naxis >= 2 {
		n *= e.Naxis2
	}
	return n
}

func pixelSize(bitpix int64) int64 {
	if bitpix < 0 {
		return -bitpix / 8
	}
	return bitpix / 8
}
