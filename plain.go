package tilefits

import "sync"

// plainDecoder serves an HDU's body as a direct passthrough read of the
// underlying physical bytes — used for ordinary IMAGE/primary HDUs and
// for any BINTABLE the tiled decoder declines (see tiled.go's
// construction guard).
type plainDecoder struct {
	physicalOffsetOfBody int64
}

func newPlainDecoder(physicalOffsetOfBody int64) *plainDecoder {
	return &plainDecoder{physicalOffsetOfBody: physicalOffsetOfBody}
}

func (d *plainDecoder) LogicalBodySize(e Essential) int64 {
	sz := pixelSize(e.Bitpix) * e.Gcount * (e.Pcount + naxisElements(e))
	return align2880(sz)
}

func (d *plainDecoder) DecodeHeader(e Essential, h *Header) error {
	return nil
}

func (d *plainDecoder) DecodeBody(src RegularFileSource, buf []byte, logicalOffset int64) (int, error) {
	n, err := src.ReadAt(buf, d.physicalOffsetOfBody+logicalOffset)
	if err != nil {
		return n, err
	}
	return n, nil
}

func (d *plainDecoder) PredecodeAll(src RegularFileSource, numThreads int, mu *sync.Mutex) error {
	return nil
}
