package tilefits

import "encoding/binary"

// swap16 decodes the network-order (big-endian) uint16s in src into host
// order in dst. FITS tile pointers and pixel data are always big-endian
// on the wire; on a little-endian host every element must be swapped
// before use, on a big-endian host this is a no-op below the call site
// (Go's encoding/binary already accounts for that, so swap16/32/64 simply
// decode through binary.BigEndian rather than doing a manual mask/shift
// chain — see DESIGN.md for why the hand-rolled form wasn't carried over).
func swap16(dst []uint16, src []byte) {
	for i := range dst {
		dst[i] = binary.BigEndian.Uint16(src[i*2:])
	}
}

func swap32(dst []uint32, src []byte) {
	for i := range dst {
		dst[i] = binary.BigEndian.Uint32(src[i*4:])
	}
}

func swap64(dst []uint64, src []byte) {
	for i := range dst {
		dst[i] = binary.BigEndian.Uint64(src[i*8:])
	}
}
