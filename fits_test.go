package tilefits

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPlainTwoHDUFixture assembles a primary HDU with a filled body
// followed by a second, bodiless extension HDU, entirely through the
// plain decoder — its physical and logical layouts are byte-identical,
// so any range read from the resulting FitsFile must equal the same
// range of the raw bytes used to build it.
func buildPlainTwoHDUFixture(t *testing.T) []byte {
	t.Helper()

	primaryHeader := writeCards([]Card{
		boolCard("SIMPLE", true),
		intCard("BITPIX", 8),
		intCard("NAXIS", 1),
		intCard("NAXIS1", 4),
	})
	body := make([]byte, blockSize)
	for i := range body {
		body[i] = byte(i % 251)
	}

	secondHeader := writeCards([]Card{
		strCard("XTENSION", "IMAGE"),
		intCard("BITPIX", 8),
		intCard("NAXIS", 0),
	})

	var out []byte
	out = append(out, primaryHeader...)
	out = append(out, body...)
	out = append(out, secondHeader...)
	return out
}

func TestPassThroughIdentity(t *testing.T) {
	raw := buildPlainTwoHDUFixture(t)
	f, err := OpenSource(newMemSource(raw), Options{})
	require.NoError(t, err)
	defer f.Close()

	for _, tc := range []struct{ offset, size int64 }{
		{0, 10},
		{int64(blockSize), 16},
		{int64(blockSize) * 2, int64(blockSize)},
	} {
		buf := make([]byte, tc.size)
		n, err := f.ReadAt(buf, tc.offset)
		require.NoError(t, err)
		require.Equal(t, int(tc.size), n)
		assert.Equal(t, raw[tc.offset:tc.offset+tc.size], buf)
	}
}

// TestReadAcrossHDUBoundary exercises S5: a read whose range straddles
// the last byte of HDU 1's body and the first bytes of HDU 2's header
// returns the concatenation of both pieces, matching a plain slice of
// the (physically == logically identical) raw bytes.
func TestReadAcrossHDUBoundary(t *testing.T) {
	raw := buildPlainTwoHDUFixture(t)
	f, err := OpenSource(newMemSource(raw), Options{})
	require.NoError(t, err)
	defer f.Close()

	offset := int64(2*blockSize) - 3
	buf := make([]byte, 6)
	n, err := f.ReadAt(buf, offset)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, raw[offset:offset+6], buf)
}

// TestShortReadAtEOF exercises S6: requesting a size extending past the
// logical end of file returns only the available bytes, with no error.
func TestShortReadAtEOF(t *testing.T) {
	raw := buildPlainTwoHDUFixture(t)
	f, err := OpenSource(newMemSource(raw), Options{})
	require.NoError(t, err)
	defer f.Close()

	fi, err := f.Stat()
	require.NoError(t, err)

	buf := make([]byte, 100)
	n, err := f.ReadAt(buf, fi.Size-10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, raw[fi.Size-10:], buf[:n])
}

func TestReadAtRejectsInvalidOffsets(t *testing.T) {
	raw := buildPlainTwoHDUFixture(t)
	f, err := OpenSource(newMemSource(raw), Options{})
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 10)

	_, err = f.ReadAt(buf, -1)
	require.Error(t, err)
	assert.Equal(t, KindInvalidArgument, Kind(err))

	_, err = f.ReadAt(buf, math.MaxInt64-5)
	require.Error(t, err)
	assert.Equal(t, KindInvalidArgument, Kind(err))
}

func TestStatIdempotent(t *testing.T) {
	raw := buildPlainTwoHDUFixture(t)
	f, err := OpenSource(newMemSource(raw), Options{})
	require.NoError(t, err)
	defer f.Close()

	fi1, err := f.Stat()
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)

	fi2, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, fi1.Size, fi2.Size)
}

// TestStatPath exercises the §6 auxiliary call: opening a real on-disk
// file by path, statting its logical size, and closing it again without
// the caller ever touching a FitsFile directly.
func TestStatPath(t *testing.T) {
	raw := buildPlainTwoHDUFixture(t)
	path := filepath.Join(t.TempDir(), "fixture.fits")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	fi, err := StatPath(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(len(raw)), fi.Size)
}

func TestStatPathMissingFile(t *testing.T) {
	_, err := StatPath(filepath.Join(t.TempDir(), "does-not-exist.fits"), Options{})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, Kind(err))
}

// TestTiledDecoderRejectsWithoutZquantiz exercises S4: a floating-point
// compressed image with no ZQUANTIZ card fails the tiled decoder's
// construction guard, so the HDU chain falls back to serving the raw
// BINTABLE bytes unchanged via the plain decoder.
func TestTiledDecoderRejectsWithoutZquantiz(t *testing.T) {
	primary := writeCards([]Card{
		boolCard("SIMPLE", true),
		intCard("BITPIX", 8),
		intCard("NAXIS", 0),
	})

	bintable := writeCards([]Card{
		strCard("XTENSION", "BINTABLE"),
		intCard("BITPIX", 8),
		intCard("NAXIS", 2),
		intCard("NAXIS1", 8),
		intCard("NAXIS2", 1),
		intCard("PCOUNT", 0),
		intCard("GCOUNT", 1),
		intCard("TFIELDS", 1),
		strCard("TTYPE1", "COMPRESSED_DATA"),
		strCard("TFORM1", "1PB(64)"),
		boolCard("ZIMAGE", true),
		strCard("ZCMPTYPE", "GZIP_2"),
		intCard("ZBITPIX", -32),
		intCard("ZNAXIS", 2),
		intCard("ZNAXIS1", 2),
		intCard("ZNAXIS2", 2),
		intCard("ZTILE1", 2),
		intCard("ZTILE2", 2),
		// deliberately no ZQUANTIZ card.
	})

	body := make([]byte, blockSize)
	for i := range body[:8] {
		body[i] = byte(0xA0 + i)
	}

	var raw []byte
	raw = append(raw, primary...)
	raw = append(raw, bintable...)
	raw = append(raw, body...)

	f, err := OpenSource(newMemSource(raw), Options{})
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, len(bintable))
	n, err := f.ReadAt(buf, int64(blockSize))
	require.NoError(t, err)
	assert.Equal(t, len(bintable), n)
	assert.Equal(t, bintable, buf, "plain fallback must leave the original BINTABLE header bytes unchanged")
}
