package tilefits

import (
	"strings"
	"sync"
	"sync/atomic"
)

// tiledDecoder serves an HDU whose body is a GZIP_2 tile-compressed
// BINTABLE reinterpreted as its equivalent IMAGE extension.
type tiledDecoder struct {
	physicalOffsetOfBody int64
	elementSize          int64
	imageWidth           int64 // ZNAXIS1
	imageHeight          int64 // ZNAXIS2
	pointerSize          int64 // 4 or 8, from TFORM1
	tileWidth            int64 // ZTILE1 (defaulted)
	tileHeight           int64 // ZTILE2 (defaulted)
	numTilesAlongX       int64
	numTilesAlongY       int64
	numTiles             int64
	physicalOffsetOfHeap int64

	// tileEntries is the publish-once (size,offset) index, loaded lazily
	// on first access from any reader goroutine.
	tileEntries atomic.Pointer[[]tileEntry]

	// tiles is the per-tile publish-once cache. Its length (numTiles) is
	// known from header geometry alone, with no I/O required, so unlike
	// the C original it is allocated once at construction rather than
	// lazily CAS-installed — see DESIGN.md.
	tiles []atomic.Pointer[[]byte]
}

type tileEntry struct {
	size   int64
	offset int64
}

// newTiledDecoder constructs a tiledDecoder, or fails with KindIllegalSequence
// if the header does not describe a GZIP_2 2-D tile-compressed image —
// the caller (the HDU chain, see hdu.go) falls back to the plain decoder
// in that case.
func newTiledDecoder(physicalOffsetOfBody int64, e Essential) (*tiledDecoder, error) {
	if !e.Zimage ||
		e.Znaxis != 2 ||
		e.Xtension != "BINTABLE" ||
		e.Zcmptype != "GZIP_2" ||
		!(e.Zbitpix >= 0 || e.Zquantiz == "NONE") {
		return nil, wrapErrf(KindIllegalSequence, "fitsio: header is not a GZIP_2 tile-compressed image")
	}

	d := &tiledDecoder{
		physicalOffsetOfBody: physicalOffsetOfBody,
		elementSize:          pixelSize(e.Zbitpix),
		imageWidth:           e.Znaxis1,
		imageHeight:          e.Znaxis2,
	}

	if strings.Contains(e.Tform1, "Q") {
		d.pointerSize = 8
	} else {
		d.pointerSize = 4
	}

	tileWidth, tileHeight := e.Ztile1, e.Ztile2
	if tileWidth == 0 && tileHeight == 0 {
		tileWidth = e.Znaxis1
		tileHeight = 1
	} else {
		if tileWidth == 0 {
			tileWidth = 1
		}
		if tileHeight == 0 {
			tileHeight = 1
		}
	}
	d.tileWidth = tileWidth
	d.tileHeight = tileHeight

	d.numTilesAlongX = ceilDiv(e.Znaxis1, tileWidth)
	d.numTilesAlongY = ceilDiv(e.Znaxis2, tileHeight)
	d.numTiles = e.Naxis2

	if d.numTilesAlongX*d.numTilesAlongY != d.numTiles {
		return nil, wrapErrf(KindIllegalSequence, "fitsio: tile grid (%dx%d) does not match NAXIS2 (%d)",
			d.numTilesAlongX, d.numTilesAlongY, d.numTiles)
	}

	offsetOfHeapInBody := e.Theap
	if offsetOfHeapInBody == 0 {
		offsetOfHeapInBody = pixelSize(e.Bitpix) * e.Naxis1 * e.Naxis2
	}
	d.physicalOffsetOfHeap = physicalOffsetOfBody + offsetOfHeapInBody

	d.tiles = make([]atomic.Pointer[[]byte], d.numTiles)

	return d, nil
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func (d *tiledDecoder) LogicalBodySize(e Essential) int64 {
	nelem := e.Znaxis1 * e.Znaxis2
	return align2880(pixelSize(e.Zbitpix) * nelem)
}

// decodeHeaderKeysToDelete are retired by decodeHeader, replaced with a
// blank COMMENT card each (§4.4.1).
var decodeHeaderKeysToDelete = map[string]bool{
	"ZIMAGE": true, "ZCMPTYPE": true, "ZBITPIX": true, "ZNAXIS": true,
	"ZNAXIS1": true, "ZNAXIS2": true, "ZTILE1": true, "ZTILE2": true,
	"ZQUANTIZ": true, "ZSIMPLE": true, "ZTENSION": true,
	"TFIELDS": true, "TFORM1": true, "TTYPE1": true, "THEAP": true,
}

func (d *tiledDecoder) DecodeHeader(e Essential, h *Header) error {
	if !e.Zimage {
		return nil
	}

	h.replaceWithComment(decodeHeaderKeysToDelete)

	for _, r := range []struct {
		name string
		card Card
	}{
		{"XTENSION", Card{Kind: CardString, Str: "IMAGE"}},
		{"BITPIX", Card{Kind: CardInt, Int: e.Zbitpix}},
		{"NAXIS", Card{Kind: CardInt, Int: e.Znaxis}},
		{"NAXIS1", Card{Kind: CardInt, Int: e.Znaxis1}},
		{"NAXIS2", Card{Kind: CardInt, Int: e.Znaxis2}},
		{"PCOUNT", Card{Kind: CardInt, Int: 0}},
		{"GCOUNT", Card{Kind: CardInt, Int: 1}},
	} {
		if err := h.set(r.name, r.card); err != nil {
			return err
		}
	}

	return nil
}

// ensureTileEntries loads the tile index on first use (from any
// goroutine); concurrent callers race to decode and publish, and losers
// simply discard their draft — Go's GC makes the C original's explicit
// free(tile_entries) on the losing side unnecessary.
func (d *tiledDecoder) ensureTileEntries(src RegularFileSource) error {
	if d.tileEntries.Load() != nil {
		return nil
	}

	nelems := 2 * d.numTiles
	entries := make([]tileEntry, d.numTiles)

	if d.pointerSize == 8 {
		raw := make([]byte, nelems*8)
		n, err := src.ReadAt(raw, d.physicalOffsetOfBody)
		if err != nil {
			return wrapErr(KindIO, err)
		}
		if int64(n) != nelems*8 {
			return wrapErrf(KindIllegalSequence, "fitsio: short read loading tile index")
		}
		vals := make([]uint64, nelems)
		swap64(vals, raw)
		// Negative 64-bit tile pointers are not inspected — §9 Open
		// Question 3; only the 32-bit path rejects a set sign bit.
		for i := int64(0); i < d.numTiles; i++ {
			entries[i] = tileEntry{size: int64(vals[2*i]), offset: int64(vals[2*i+1])}
		}
	} else {
		raw := make([]byte, nelems*4)
		n, err := src.ReadAt(raw, d.physicalOffsetOfBody)
		if err != nil {
			return wrapErr(KindIO, err)
		}
		if int64(n) != nelems*4 {
			return wrapErrf(KindIllegalSequence, "fitsio: short read loading tile index")
		}
		vals := make([]uint32, nelems)
		swap32(vals, raw)
		var reducedOr uint32
		for _, v := range vals {
			reducedOr |= v
		}
		if reducedOr&0x80000000 != 0 {
			return wrapErrf(KindIllegalSequence, "fitsio: negative 32-bit tile pointer")
		}
		for i := int64(0); i < d.numTiles; i++ {
			entries[i] = tileEntry{size: int64(vals[2*i]), offset: int64(vals[2*i+1])}
		}
	}

	d.tileEntries.CompareAndSwap(nil, &entries)
	return nil
}

// getTile resolves the decoded (y,x) tile, decoding and publishing it if
// this is the first access.
func (d *tiledDecoder) getTile(src RegularFileSource, y, x int64) ([]byte, error) {
	tilepos := y*d.numTilesAlongX + x
	if buf := d.tiles[tilepos].Load(); buf != nil {
		return *buf, nil
	}

	if err := d.ensureTileEntries(src); err != nil {
		return nil, err
	}

	entries := *d.tileEntries.Load()
	entry := entries[tilepos]

	compressed := make([]byte, entry.size)
	n, err := src.ReadAt(compressed, d.physicalOffsetOfHeap+entry.offset)
	if err != nil {
		return nil, wrapErr(KindIO, err)
	}
	if int64(n) != entry.size {
		return nil, wrapErrf(KindIllegalSequence, "fitsio: short read of tile (%d,%d)", y, x)
	}

	tileSize := d.elementSize * d.tileWidth * d.tileHeight
	inflated := make([]byte, tileSize)
	if res := inflateGZIP64(inflated, compressed); res != InflateOK {
		return nil, wrapErrf(KindIllegalSequence, "fitsio: gzip inflate failed for tile (%d,%d)", y, x)
	}

	decoded := shuffleInverse(inflated, d.elementSize)

	d.tiles[tilepos].CompareAndSwap(nil, &decoded)
	return *d.tiles[tilepos].Load(), nil
}

// shuffleInverse reverses the GZIP_2 byte-split encoding: the inflated
// stream holds elementSize consecutive planes of numElements bytes;
// decoded[j*elementSize+i] = inflated[i*numElements+j].
func shuffleInverse(inflated []byte, elementSize int64) []byte {
	numElements := int64(len(inflated)) / elementSize
	out := make([]byte, len(inflated))
	for i := int64(0); i < elementSize; i++ {
		plane := inflated[i*numElements : (i+1)*numElements]
		for j := int64(0); j < numElements; j++ {
			out[j*elementSize+i] = plane[j]
		}
	}
	return out
}

// DecodeBody assembles [logicalOffset, logicalOffset+len(buf)) of the
// logical image body from whichever tiles it intersects, zero-filling
// image-to-alignment padding.
//
// This reproduces the indexing of the format's reference decoder
// verbatim, including a latent defect at the image's right edge:
// `thisTileWidthInBytes` (the image-clipped visible width) is used both
// as the copy length *and* as the in-tile row stride — correct only when
// that edge tile happens to be exactly one tile wide. Do not "fix" this;
// see DESIGN.md for why it is kept as-is.
func (d *tiledDecoder) DecodeBody(src RegularFileSource, buf []byte, logicalOffset int64) (int, error) {
	size := int64(len(buf))
	if size == 0 {
		return 0, nil
	}

	imageWidthBytes := d.imageWidth * d.elementSize
	tileWidthBytes := d.tileWidth * d.elementSize
	xtileMax := d.numTilesAlongX - 1

	iStart := logicalOffset
	iEnd := logicalOffset + size
	iTrueEnd := iEnd

	imageSizeBytes := imageWidthBytes * d.imageHeight
	if iEnd > imageSizeBytes {
		iEnd = imageSizeBytes
	}

	if iEnd <= iStart {
		for i := range buf {
			buf[i] = 0
		}
		return len(buf), nil
	}

	yStart := iStart / imageWidthBytes
	xStart := iStart % imageWidthBytes
	yLast := (iEnd - 1) / imageWidthBytes
	xLast := (iEnd - 1) % imageWidthBytes

	ytileStart := yStart / d.tileHeight
	xtileStart := xStart / tileWidthBytes
	ytileLast := yLast / d.tileHeight
	xtileLast := xLast / tileWidthBytes

	for ytile := ytileStart; ytile <= ytileLast; ytile++ {
		// The start/end pixel columns only clip this tile row when the
		// range does not reach another image row inside it.
		xtileStartInRow := int64(0)
		if ytile == ytileStart && (yStart == yLast || (yStart+1)/d.tileHeight != ytile) {
			xtileStartInRow = xtileStart
		}
		xtileLastInRow := xtileMax
		if ytile == ytileLast && (yStart == yLast || (yLast-1)/d.tileHeight != ytile) {
			xtileLastInRow = xtileLast
		}
		offsetOfTileY := ytile * d.tileHeight * imageWidthBytes

		for xtile := xtileStartInRow; xtile <= xtileLastInRow; xtile++ {
			rowoffsetOfTileX := xtile * tileWidthBytes
			rowoffsetOfTileXEnd := rowoffsetOfTileX + tileWidthBytes
			if rowoffsetOfTileXEnd > imageWidthBytes {
				rowoffsetOfTileXEnd = imageWidthBytes
			}
			thisTileWidthBytes := rowoffsetOfTileXEnd - rowoffsetOfTileX

			offsetOfTileYX := offsetOfTileY + rowoffsetOfTileX

			tile, err := d.getTile(src, ytile, xtile)
			if err != nil {
				return 0, err
			}

			for q := int64(0); q < d.tileHeight; q++ {
				offsetOfQ := offsetOfTileYX + q*imageWidthBytes
				offsetOfQEnd := offsetOfQ + thisTileWidthBytes

				if offsetOfQEnd <= iStart {
					continue
				}
				if iEnd <= offsetOfQ {
					break
				}

				copyStart := offsetOfQ
				if copyStart < iStart {
					copyStart = iStart
				}
				copyEnd := offsetOfQEnd
				if copyEnd > iEnd {
					copyEnd = iEnd
				}

				dst := buf[copyStart-iStart : copyEnd-iStart]
				tileSlice := tile[q*thisTileWidthBytes+(copyStart-offsetOfQ) : q*thisTileWidthBytes+(copyStart-offsetOfQ)+(copyEnd-copyStart)]
				copy(dst, tileSlice)
			}
		}
	}

	for i := iEnd - iStart; i < iTrueEnd-iStart; i++ {
		buf[i] = 0
	}

	return len(buf), nil
}

// PredecodeAll eagerly decodes every tile, idempotent and safe under
// concurrent calls; mu is the FitsFile's coarse per-file mutex (§5).
// It returns at once, decoding nothing, when the tile index is already
// loaded — including when an earlier lazy DecodeBody loaded it.
func (d *tiledDecoder) PredecodeAll(src RegularFileSource, numThreads int, mu *sync.Mutex) error {
	if d.numTiles == 0 {
		return nil
	}
	if d.tileEntries.Load() != nil {
		return nil
	}

	mu.Lock()
	defer mu.Unlock()

	if d.tileEntries.Load() != nil {
		return nil
	}
	if err := d.ensureTileEntries(src); err != nil {
		return err
	}

	return ParallelFor(0, int(d.numTiles), numThreads, func(i int) error {
		y := int64(i) / d.numTilesAlongX
		x := int64(i) % d.numTilesAlongX
		_, err := d.getTile(src, y, x)
		return err
	})
}
