package tilefits

import (
	"bytes"
	"compress/gzip"
	"io"
)

// memSource is an in-memory RegularFileSource used to build synthetic FITS
// fixtures without touching the filesystem.
type memSource struct {
	data []byte
}

func newMemSource(data []byte) *memSource { return &memSource{data: data} }

func (m *memSource) Close() error { return nil }

func (m *memSource) Stat() (FileInfo, error) {
	return FileInfo{Size: int64(len(m.data))}, nil
}

func (m *memSource) ReadAt(buf []byte, offset int64) (int, error) {
	if offset >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(buf, m.data[offset:])
	return n, nil
}

// gzip2Encode shuffles raw (elementSize-wide pixels, row-major) into
// elementSize byte-planes and gzip-compresses the result — the inverse of
// shuffleInverse, used to build compressed tile fixtures in tests.
func gzip2Encode(raw []byte, elementSize int64) []byte {
	numElements := int64(len(raw)) / elementSize
	shuffled := make([]byte, len(raw))
	for i := int64(0); i < elementSize; i++ {
		for j := int64(0); j < numElements; j++ {
			shuffled[i*numElements+j] = raw[j*elementSize+i]
		}
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(shuffled); err != nil {
		panic(err)
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// padTo2880 right-pads b with zero bytes to the next block boundary.
func padTo2880(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for int64(len(out))%blockSize != 0 {
		out = append(out, 0)
	}
	return out
}

// writeCards renders a sequence of cards (and an implicit END) into a
// 2880-aligned header block, in the same form readHeader expects to parse.
func writeCards(cards []Card) []byte {
	var buf bytes.Buffer
	for _, c := range cards {
		buf.Write(writeCard(c))
	}
	buf.Write(writeCard(Card{Name: "END"}))
	for buf.Len()%blockSize != 0 {
		buf.Write(writeCard(Card{Name: ""}))
	}
	return buf.Bytes()
}

// rawCardLine builds one 80-byte header record directly from its key and
// value-field text, bypassing the Card model entirely — for fixtures that
// need a value grammar (e.g. a float) Card has no representation for.
func rawCardLine(name, valueField string) []byte {
	buf := make([]byte, cardSize)
	for i := range buf {
		buf[i] = ' '
	}
	copy(buf[:keySize], padRight(name, keySize))
	buf[keySize] = '='
	copy(buf[keySize+1:], padRight(valueField, valueSize))
	return buf
}

func strCard(name, v string) Card   { return Card{Name: name, Kind: CardString, Str: v} }
func intCard(name string, v int64) Card { return Card{Name: name, Kind: CardInt, Int: v} }
func boolCard(name string, v bool) Card { return Card{Name: name, Kind: CardBool, Bool: v} }
