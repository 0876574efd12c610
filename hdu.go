package tilefits

import "sync"

// hduNode is one parsed link in the HDU chain: its header (already
// rewritten to the logical/uncompressed view, if the tiled decoder
// claimed it), its chosen decoder, and the physical/logical offset
// bookkeeping needed to place it within the file.
type hduNode struct {
	header    *Header
	decoder   Decoder
	essential Essential

	physicalOffsetOfHeader int64
	physicalOffsetOfBody   int64

	logicalOffsetOfHeader int64
	logicalOffsetOfBody   int64
	logicalBodySize       int64
	logicalSize           int64 // header.Size() + logicalBodySize

	// nextPhysicalOffsetOfHeader is where the following HDU's header
	// begins on disk, computed from this HDU's *physical* (on-disk, as
	// declared by its own BITPIX/NAXIS*/PCOUNT/GCOUNT) body size — which
	// is independent of whether this HDU's body is served tiled or plain.
	nextPhysicalOffsetOfHeader int64
}

// hduChain is the lazy, append-only, mutex-guarded list of HDUs making up
// one FITS file. Nodes are only ever appended, never removed or mutated
// after construction, so readers may hold a *hduNode across calls without
// the chain's mutex.
type hduChain struct {
	mu    sync.Mutex
	src   RegularFileSource
	nodes []*hduNode
	ended bool
	err   error // sticky: once chain growth fails, every later call fails identically
}

func newHDUChain(src RegularFileSource) *hduChain {
	return &hduChain{src: src}
}

// nodeAt returns the i-th HDU (0 = primary), growing the chain as needed.
// It returns (nil, nil) if the file has fewer than i+1 HDUs.
func (c *hduChain) nodeAt(i int) (*hduNode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	for len(c.nodes) <= i {
		if c.ended {
			return nil, nil
		}
		node, err := c.growNext()
		if err != nil {
			c.err = err
			return nil, err
		}
		if node == nil {
			c.ended = true
			return nil, nil
		}
		c.nodes = append(c.nodes, node)
	}
	return c.nodes[i], nil
}

// growNext parses and appends the one HDU immediately following whatever
// has already been parsed. Caller holds c.mu.
func (c *hduChain) growNext() (*hduNode, error) {
	var physicalOffsetOfHeader, logicalOffsetOfHeader int64
	if n := len(c.nodes); n > 0 {
		prev := c.nodes[n-1]
		physicalOffsetOfHeader = prev.nextPhysicalOffsetOfHeader
		logicalOffsetOfHeader = prev.logicalOffsetOfHeader + prev.logicalSize
	}

	header, err := readHeader(c.src, physicalOffsetOfHeader)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, nil
	}

	essential, err := extractEssential(header)
	if err != nil {
		return nil, err
	}
	physicalOffsetOfBody := physicalOffsetOfHeader + header.Size()

	decoder, err := selectDecoder(physicalOffsetOfBody, essential)
	if err != nil {
		return nil, err
	}
	if err := decoder.DecodeHeader(essential, header); err != nil {
		return nil, err
	}

	logicalOffsetOfBody := logicalOffsetOfHeader + header.Size()
	logicalBodySize := decoder.LogicalBodySize(essential)

	return &hduNode{
		header:                 header,
		decoder:                decoder,
		essential:              essential,
		physicalOffsetOfHeader: physicalOffsetOfHeader,
		physicalOffsetOfBody:   physicalOffsetOfBody,
		logicalOffsetOfHeader:  logicalOffsetOfHeader,
		logicalOffsetOfBody:    logicalOffsetOfBody,
		logicalBodySize:        logicalBodySize,
		logicalSize:            header.Size() + logicalBodySize,
		nextPhysicalOffsetOfHeader: physicalOffsetOfBody + physicalBodySize(essential),
	}, nil
}

// selectDecoder tries the tiled decoder first and falls back to the plain
// passthrough decoder when the header doesn't describe a GZIP_2
// tile-compressed image — every other decoder construction failure is
// propagated as-is.
func selectDecoder(physicalOffsetOfBody int64, e Essential) (Decoder, error) {
	d, err := newTiledDecoder(physicalOffsetOfBody, e)
	if err == nil {
		return d, nil
	}
	if Kind(err) == KindIllegalSequence {
		return newPlainDecoder(physicalOffsetOfBody), nil
	}
	return nil, err
}

// physicalBodySize is the body's on-disk footprint as FITS itself
// declares it (via BITPIX/NAXIS*/PCOUNT/GCOUNT) — the same regardless of
// whether this reader serves that body tiled or plain, since tiling never
// changes where the *next* HDU starts on disk.
func physicalBodySize(e Essential) int64 {
	return align2880(pixelSize(e.Bitpix) * e.Gcount * (e.Pcount + naxisElements(e)))
}

// findNode locates the HDU whose logical span contains offset, growing
// the chain as far as necessary. It returns (nil, nil) past end of file.
func (c *hduChain) findNode(offset int64) (*hduNode, error) {
	for i := 0; ; i++ {
		node, err := c.nodeAt(i)
		if err != nil {
			return nil, err
		}
		if node == nil {
			return nil, nil
		}
		if offset < node.logicalOffsetOfHeader+node.logicalSize {
			return node, nil
		}
	}
}

// totalLogicalSize walks the entire chain (cheap: one header per HDU, no
// tile decoding) and returns the logical length of the equivalent
// uncompressed file.
func (c *hduChain) totalLogicalSize() (int64, error) {
	var last *hduNode
	for i := 0; ; i++ {
		node, err := c.nodeAt(i)
		if err != nil {
			return 0, err
		}
		if node == nil {
			break
		}
		last = node
	}
	if last == nil {
		return 0, nil
	}
	return last.logicalOffsetOfHeader + last.logicalSize, nil
}

// readAt serves [offset, offset+len(buf)) of the logical file, walking
// across HDU and header/body region boundaries as needed. It returns
// fewer than len(buf) bytes only at end of file. Per HDU touched, if
// numThreads > 0 it triggers that HDU's (idempotent) eager predecode
// before serving any of its body bytes — the "optional eager parallel
// pre-decode" §4.6 step 3 describes.
func (c *hduChain) readAt(buf []byte, offset int64, numThreads int, mu *sync.Mutex) (int, error) {
	total := 0
	for total < len(buf) {
		node, err := c.findNode(offset)
		if err != nil {
			return total, err
		}
		if node == nil {
			break
		}

		relInHDU := offset - node.logicalOffsetOfHeader
		remaining := buf[total:]

		if relInHDU < node.header.Size() {
			n := node.header.ReadAt(remaining, relInHDU)
			if n == 0 {
				break
			}
			total += n
			offset += int64(n)
			continue
		}

		if numThreads > 0 {
			if err := node.decoder.PredecodeAll(c.src, numThreads, mu); err != nil {
				return total, err
			}
		}

		bodyOffset := relInHDU - node.header.Size()
		bodyRemaining := node.logicalBodySize - bodyOffset
		if bodyRemaining <= 0 {
			offset = node.logicalOffsetOfHeader + node.logicalSize
			continue
		}

		want := int64(len(remaining))
		if want > bodyRemaining {
			want = bodyRemaining
		}
		n, err := node.decoder.DecodeBody(c.src, remaining[:want], bodyOffset)
		if err != nil {
			return total, err
		}
		total += n
		offset += int64(n)
		if int64(n) < want {
			break
		}
	}
	return total, nil
}

// predecodeAll eagerly decodes every tile of every tiled HDU in the
// chain, growing the chain to completion first.
func (c *hduChain) predecodeAll(numThreads int, mu *sync.Mutex) error {
	for i := 0; ; i++ {
		node, err := c.nodeAt(i)
		if err != nil {
			return err
		}
		if node == nil {
			return nil
		}
		if err := node.decoder.PredecodeAll(c.src, numThreads, mu); err != nil {
			return err
		}
	}
}
