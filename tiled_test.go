package tilefits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShuffleInverse(t *testing.T) {
	// 2 elements of size 2 bytes: pixel0 = 0x0001, pixel1 = 0x0203 (big
	// endian). GZIP_2 shuffles into 2 planes of 2 bytes: plane0 holds the
	// high byte of each pixel (0x00, 0x02), plane1 holds the low byte
	// (0x01, 0x03).
	shuffled := []byte{0x00, 0x02, 0x01, 0x03}
	got := shuffleInverse(shuffled, 2)
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0x03}, got)
}

// buildTiledFixture assembles a minimal two-HDU FITS byte stream: an empty
// primary HDU followed by a GZIP_2 tile-compressed BINTABLE describing an
// imageWidth x imageHeight i16 image split into tileWidth x tileHeight
// tiles, with raw holding the image's big-endian i16 pixels in row-major
// order. pointerWidth is 4 or 8.
func buildTiledFixture(t *testing.T, raw []byte, imageWidth, imageHeight, tileWidth, tileHeight int64, pointerWidth int) []byte {
	t.Helper()

	elementSize := int64(2)
	numTilesX := ceilDiv(imageWidth, tileWidth)
	numTilesY := ceilDiv(imageHeight, tileHeight)
	numTiles := numTilesX * numTilesY

	compressed := make([][]byte, numTiles)
	for ty := int64(0); ty < numTilesY; ty++ {
		for tx := int64(0); tx < numTilesX; tx++ {
			tileRaw := make([]byte, elementSize*tileWidth*tileHeight)
			for row := int64(0); row < tileHeight; row++ {
				imgY := ty*tileHeight + row
				if imgY >= imageHeight {
					continue
				}
				for col := int64(0); col < tileWidth; col++ {
					imgX := tx*tileWidth + col
					var px []byte
					if imgX < imageWidth {
						srcOff := (imgY*imageWidth + imgX) * elementSize
						px = raw[srcOff : srcOff+elementSize]
					} else {
						px = []byte{0, 0}
					}
					dstOff := (row*tileWidth + col) * elementSize
					copy(tileRaw[dstOff:dstOff+elementSize], px)
				}
			}
			compressed[ty*numTilesX+tx] = gzip2Encode(tileRaw, elementSize)
		}
	}

	tfWidth := "1PB(64)"
	if pointerWidth == 8 {
		tfWidth = "1QB(64)"
	}

	tableRowBytes := int64(2 * pointerWidth)
	tableBytes := tableRowBytes * numTiles

	heap := []byte{}
	entryOffsets := make([]int64, numTiles)
	for i, c := range compressed {
		entryOffsets[i] = int64(len(heap))
		heap = append(heap, c...)
	}

	index := make([]byte, tableBytes)
	for i := int64(0); i < numTiles; i++ {
		size := int64(len(compressed[i]))
		offset := entryOffsets[i]
		if pointerWidth == 8 {
			putBE64(index[i*16:], uint64(size))
			putBE64(index[i*16+8:], uint64(offset))
		} else {
			putBE32(index[i*8:], uint32(size))
			putBE32(index[i*8+4:], uint32(offset))
		}
	}

	primary := writeCards([]Card{
		boolCard("SIMPLE", true),
		intCard("BITPIX", 8),
		intCard("NAXIS", 0),
	})

	bintable := writeCards([]Card{
		strCard("XTENSION", "BINTABLE"),
		intCard("BITPIX", 8),
		intCard("NAXIS", 2),
		intCard("NAXIS1", tableRowBytes),
		intCard("NAXIS2", numTiles),
		intCard("PCOUNT", int64(len(heap))),
		intCard("GCOUNT", 1),
		intCard("TFIELDS", 1),
		strCard("TTYPE1", "COMPRESSED_DATA"),
		strCard("TFORM1", tfWidth),
		boolCard("ZIMAGE", true),
		strCard("ZCMPTYPE", "GZIP_2"),
		intCard("ZBITPIX", 16),
		intCard("ZNAXIS", 2),
		intCard("ZNAXIS1", imageWidth),
		intCard("ZNAXIS2", imageHeight),
		intCard("ZTILE1", tileWidth),
		intCard("ZTILE2", tileHeight),
	})

	body := append(append([]byte{}, index...), heap...)
	body = padTo2880(body)

	out := append(append([]byte{}, primary...), bintable...)
	out = append(out, body...)
	return out
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putBE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> uint(56-8*i))
	}
}

func rowMajorI16(values []int64) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		out[2*i] = byte(v >> 8)
		out[2*i+1] = byte(v)
	}
	return out
}

func TestTiledDecoderExactTileGrid(t *testing.T) {
	// 4x4 image, 2x2 tiles: no edge clipping, so the stride-reuse defect
	// documented on DecodeBody is harmless here since every tile is
	// exactly tile-width wide.
	raw := rowMajorI16([]int64{
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 10, 11,
		12, 13, 14, 15,
	})
	data := buildTiledFixture(t, raw, 4, 4, 2, 2, 4)
	src := newMemSource(data)

	f, err := OpenSource(src, Options{})
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, len(raw))
	n, err := f.ReadAt(buf, 2*blockSize)
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	assert.Equal(t, raw, buf)
}

func TestTiledDecoderQPointerWidth(t *testing.T) {
	raw := rowMajorI16([]int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15})
	data := buildTiledFixture(t, raw, 4, 4, 2, 2, 8)
	src := newMemSource(data)

	f, err := OpenSource(src, Options{})
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, len(raw))
	_, err = f.ReadAt(buf, 2*blockSize)
	require.NoError(t, err)
	assert.Equal(t, raw, buf)
}

// TestTiledDecoderEdgeTileStrideDefect exercises the documented edge-tile
// stride defect on DecodeBody: a 3 pixel wide image with 2 pixel wide
// tiles has a right-edge tile clipped
// to width 1. The decoder is documented to reuse that clipped width as
// both copy size and in-tile row stride, which scrambles that edge tile's
// second and later rows rather than "correctly" reading them at stride 2.
// This test pins the documented (buggy) behavior, not the naively-correct
// one.
func TestTiledDecoderEdgeTileStrideDefect(t *testing.T) {
	imageWidth, imageHeight := int64(3), int64(2)
	tileWidth, tileHeight := int64(2), int64(2)
	raw := rowMajorI16([]int64{
		100, 101, 102,
		200, 201, 202,
	})
	data := buildTiledFixture(t, raw, imageWidth, imageHeight, tileWidth, tileHeight, 4)
	src := newMemSource(data)

	f, err := OpenSource(src, Options{})
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, len(raw))
	_, err = f.ReadAt(buf, 2*blockSize)
	require.NoError(t, err)

	// The left tile (columns 0-1) is full width and decodes correctly for
	// both rows.
	assert.Equal(t, rowMajorI16([]int64{100, 101}), buf[0:4])
	assert.Equal(t, rowMajorI16([]int64{200, 201}), buf[6:10])

	// The right edge tile (column 2 only) is one pixel wide. Its second
	// row, per the documented defect, is read at the clipped stride
	// (1 pixel = 2 bytes) rather than the tile's true stride (2 pixels =
	// 4 bytes) — so row 1's edge pixel comes from in-tile byte offset 2,
	// the zero padding pixel of row 0, instead of the value actually
	// encoded in the fixture (202).
	gotEdgeRow1 := buf[10:12]
	assert.Equal(t, rowMajorI16([]int64{0}), gotEdgeRow1,
		"expected the documented stride defect to surface, not a naively-correct read")
}
