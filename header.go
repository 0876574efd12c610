package tilefits

import (
	"errors"
	"io"
)

const (
	blockSize     = 2880
	linesPerBlock = blockSize / cardSize // 36
)

// align2880 rounds sz up to the next multiple of the FITS block size.
func align2880(sz int64) int64 {
	pad := (blockSize - (sz % blockSize)) % blockSize
	return sz + pad
}

// Header is a finite sequence of 2880-byte chunks terminated by the chunk
// containing the END card, held as the exact bytes read from the source —
// mirroring FitsHeader_read_file (fitsfile.c:658), which never value-parses
// a card it isn't specifically looking for: it keeps the raw 80-byte
// records and only extracts the handful of essential cards it needs by
// key (fitsfile.c:806). raw is mutated in place, one 80-byte slot at a
// time, only by the tiled decoder's §4.4.1 header rewrite; every other
// byte — including every non-essential card (BSCALE, CRVALn, COMMENT,
// arbitrary float- or string-valued cards this reader never needs to
// understand) — survives untouched, so a plain HDU's header (whose
// DecodeHeader is a no-op) is served back byte-for-byte identical to the
// source.
type Header struct {
	raw []byte // always a multiple of blockSize

	// offsets maps a card's key to the byte offset of its 80-byte slot
	// within raw, recording only the first occurrence of a repeated key
	// (COMMENT, HISTORY, blank) — the same first-match semantics Get
	// exposes.
	offsets map[string]int
}

// Get parses and returns the card named n, and whether it was found.
// Parsing is lazy and scoped to exactly the one 80-byte slot requested —
// this is the only place a card's value is ever interpreted beyond its
// key, so a header full of cards this package has no opinion about
// (floats, arbitrary strings, HISTORY blocks) never has to parse cleanly
// for Open/Stat/ReadAt to succeed.
func (h *Header) Get(n string) (Card, bool, error) {
	off, ok := h.offsets[n]
	if !ok {
		return Card{}, false, nil
	}
	card, err := parseCard(h.raw[off : off+cardSize])
	if err != nil {
		return Card{}, false, err
	}
	return card, true, nil
}

// Size is the rendered byte length of the header, a multiple of
// blockSize.
func (h *Header) Size() int64 {
	return int64(len(h.raw))
}

// ReadAt copies the intersection of [offset, offset+len(buf)) with the
// header's raw bytes into buf, returning the number of bytes copied
// (which may be less than len(buf) if the requested range extends past
// the header).
func (h *Header) ReadAt(buf []byte, offset int64) int {
	if offset < 0 || offset >= int64(len(h.raw)) {
		return 0
	}
	n := copy(buf, h.raw[offset:])
	return n
}

// replaceWithComment overwrites, in place, every card slot whose key is
// in names with a blank-valued COMMENT card — §4.4.1's "replace with a
// COMMENT card whose value is all spaces" for a tiled HDU's retired
// Z-prefixed bookkeeping cards. Every byte outside those specific slots
// is untouched. A name with no slot in this header is silently skipped.
func (h *Header) replaceWithComment(names map[string]bool) {
	for off := 0; off+cardSize <= len(h.raw); off += cardSize {
		name := cardKeyName(h.raw[off : off+keySize])
		if name == "END" {
			break
		}
		if !names[name] {
			continue
		}
		copy(h.raw[off:off+cardSize], writeCard(Card{Name: "COMMENT", Kind: CardNone, Comment: ""}))
		delete(h.offsets, name)
	}
}

// set overwrites, in place, the 80-byte slot already occupied by the
// named card with a freshly rendered replacement — §4.4.1's mandatory
// card rewrite (XTENSION, BITPIX, NAXIS, NAXIS1, NAXIS2, PCOUNT, GCOUNT).
// Every one of those is a FITS-mandatory keyword for any HDU, so the
// slot is always present on a header the tiled decoder has already
// accepted; a missing slot is reported as a malformed header rather than
// silently inserted, since this package never needs to grow a header.
func (h *Header) set(name string, card Card) error {
	off, ok := h.offsets[name]
	if !ok {
		return wrapErrf(KindIllegalSequence, "fitsio: header rewrite: mandatory card %q not present", name)
	}
	card.Name = name
	copy(h.raw[off:off+cardSize], writeCard(card))
	return nil
}

// readHeader reads header chunks from src starting at physicalOffset
// until a chunk containing an END card is found. It returns (nil, nil)
// on clean EOF (a short, all-zero read at the very first chunk of this
// header), matching §3's terminating invariant.
//
// Only the 8-byte key of each card is ever inspected here — no value is
// parsed until a caller asks Get for one specific card by name, which is
// the fix for the eager-parse-every-card model this package used to use
// (it rejected any real FITS header carrying a float- or complex-valued
// card, e.g. BSCALE/BZERO/CRVALn, with KindIllegalSequence).
func readHeader(src RegularFileSource, physicalOffset int64) (*Header, error) {
	first := make([]byte, blockSize)
	n, err := src.ReadAt(first, physicalOffset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, wrapErr(KindIO, err)
	}
	if n == 0 {
		return nil, nil
	}
	if n < blockSize {
		if isAllZero(first[:n]) {
			return nil, nil
		}
		return nil, wrapErrf(KindIllegalSequence, "fitsio: truncated header chunk (%d/%d bytes)", n, blockSize)
	}

	firstKey := cardKeyName(first[:keySize])
	switch firstKey {
	case "SIMPLE", "XTENSION":
	default:
		return nil, wrapErrf(KindIllegalSequence, "fitsio: header does not start with SIMPLE or XTENSION (got %q)", firstKey)
	}

	h := &Header{raw: first, offsets: map[string]int{}}
	done := scanChunkKeys(first, 0, h.offsets)

	offset := physicalOffset + blockSize
	for !done {
		chunk := make([]byte, blockSize)
		n, err := src.ReadAt(chunk, offset)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, wrapErr(KindIO, err)
		}
		if n < blockSize {
			return nil, wrapErrf(KindIllegalSequence, "fitsio: truncated header chunk (%d/%d bytes)", n, blockSize)
		}
		baseOffset := len(h.raw)
		h.raw = append(h.raw, chunk...)
		done = scanChunkKeys(chunk, baseOffset, h.offsets)
		offset += blockSize
	}

	return h, nil
}

// scanChunkKeys records the byte offset (baseOffset-relative to the
// owning Header.raw) of each of a chunk's 36 card keys, first occurrence
// only, without parsing any value. It returns true once the END card is
// seen.
func scanChunkKeys(chunk []byte, baseOffset int, offsets map[string]int) bool {
	for i := 0; i < linesPerBlock; i++ {
		off := i * cardSize
		name := cardKeyName(chunk[off : off+keySize])
		if _, exists := offsets[name]; !exists {
			offsets[name] = baseOffset + off
		}
		if name == "END" {
			return true
		}
	}
	return false
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Essential holds the header cards the decoders actually consult, with
// FITS's documented defaults already applied (GCOUNT defaults to 1,
// everything else to its zero value). Extname/Extver are carried purely
// for a caller's own labeling of HDUs (mirroring the teacher's
// Header.Name()/Version() accessors); decoding never consults them.
type Essential struct {
	Xtension string
	Bitpix   int64
	Naxis    int64
	Naxis1   int64
	Naxis2   int64
	Pcount   int64
	Gcount   int64
	Zimage   bool
	Zcmptype string
	Zquantiz string
	Zbitpix  int64
	Znaxis   int64
	Znaxis1  int64
	Znaxis2  int64
	Ztile1   int64
	Ztile2   int64
	Tfields  int64
	Tform1   string
	Ttype1   string
	Theap    int64
	Extname  string
	Extver   int64
}

// extractEssential reads exactly the essential cards §3 lists (plus the
// informational EXTNAME/EXTVER) out of h by key, parsing each one's value
// on demand. A card that fails to parse against its expected type (a
// malformed BITPIX, say) is reported as KindIllegalSequence; every other
// card in the header — whatever its value grammar — is never touched.
func extractEssential(h *Header) (Essential, error) {
	e := Essential{Gcount: 1}
	var err error

	if e.Xtension, err = strOf(h, "XTENSION"); err != nil {
		return Essential{}, err
	}
	if e.Bitpix, err = intOf(h, "BITPIX"); err != nil {
		return Essential{}, err
	}
	if e.Naxis, err = intOf(h, "NAXIS"); err != nil {
		return Essential{}, err
	}
	if e.Naxis1, err = intOf(h, "NAXIS1"); err != nil {
		return Essential{}, err
	}
	if e.Naxis2, err = intOf(h, "NAXIS2"); err != nil {
		return Essential{}, err
	}
	if e.Pcount, err = intOf(h, "PCOUNT"); err != nil {
		return Essential{}, err
	}
	if c, ok, err := h.Get("GCOUNT"); err != nil {
		return Essential{}, err
	} else if ok && c.Kind == CardInt {
		e.Gcount = c.Int
	}
	if e.Zimage, err = boolOf(h, "ZIMAGE"); err != nil {
		return Essential{}, err
	}
	if e.Zcmptype, err = strOf(h, "ZCMPTYPE"); err != nil {
		return Essential{}, err
	}
	if e.Zquantiz, err = strOf(h, "ZQUANTIZ"); err != nil {
		return Essential{}, err
	}
	if e.Zbitpix, err = intOf(h, "ZBITPIX"); err != nil {
		return Essential{}, err
	}
	if e.Znaxis, err = intOf(h, "ZNAXIS"); err != nil {
		return Essential{}, err
	}
	if e.Znaxis1, err = intOf(h, "ZNAXIS1"); err != nil {
		return Essential{}, err
	}
	if e.Znaxis2, err = intOf(h, "ZNAXIS2"); err != nil {
		return Essential{}, err
	}
	if e.Ztile1, err = intOf(h, "ZTILE1"); err != nil {
		return Essential{}, err
	}
	if e.Ztile2, err = intOf(h, "ZTILE2"); err != nil {
		return Essential{}, err
	}
	if e.Tfields, err = intOf(h, "TFIELDS"); err != nil {
		return Essential{}, err
	}
	if e.Tform1, err = strOf(h, "TFORM1"); err != nil {
		return Essential{}, err
	}
	if e.Ttype1, err = strOf(h, "TTYPE1"); err != nil {
		return Essential{}, err
	}
	if e.Theap, err = intOf(h, "THEAP"); err != nil {
		return Essential{}, err
	}
	if e.Extname, err = strOf(h, "EXTNAME"); err != nil {
		return Essential{}, err
	}
	if e.Extver, err = intOf(h, "EXTVER"); err != nil {
		return Essential{}, err
	}

	return e, nil
}

func intOf(h *Header, name string) (int64, error) {
	c, ok, err := h.Get(name)
	if err != nil {
		return 0, err
	}
	if !ok || c.Kind != CardInt {
		return 0, nil
	}
	return c.Int, nil
}

func strOf(h *Header, name string) (string, error) {
	c, ok, err := h.Get(name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return c.StrValue(""), nil
}

func boolOf(h *Header, name string) (bool, error) {
	c, ok, err := h.Get(name)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return c.BoolValue(false), nil
}
