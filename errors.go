package tilefits

import (
	"errors"
	"fmt"
)

// ErrKind is the abstract error taxonomy a caller can branch on. It mirrors
// the five error kinds the reader distinguishes between: an allocation
// failure, a missing source path, an I/O failure from the source handle, a
// malformed FITS byte stream, and an out-of-range request.
type ErrKind int

const (
	// KindNone is the zero value; never appears on a returned error.
	KindNone ErrKind = iota
	// KindOutOfMemory covers any allocation failure. Fatal for the operation.
	KindOutOfMemory
	// KindNotFound covers a source path that cannot be opened.
	KindNotFound
	// KindIO covers any error from the source handle other than interrupted.
	KindIO
	// KindIllegalSequence covers a byte stream that is not a valid FITS
	// structure: missing SIMPLE/XTENSION, a card that fails to parse
	// against its expected type, a negative 32-bit tile pointer, a gzip
	// decode failure, a decoded-tile length mismatch, or a tile-count
	// inconsistency.
	KindIllegalSequence
	// KindInvalidArgument covers a requested offset+size exceeding the
	// representable positive signed range.
	KindInvalidArgument
)

func (k ErrKind) String() string {
	switch k {
	case KindOutOfMemory:
		return "out of memory"
	case KindNotFound:
		return "not found"
	case KindIO:
		return "I/O error"
	case KindIllegalSequence:
		return "illegal sequence"
	case KindInvalidArgument:
		return "invalid argument"
	default:
		return "no error"
	}
}

// base sentinels, one per kind, so callers can match with errors.Is
// without caring about the wrapped message — the same double-%w chaining
// idiom go-dictzip uses for its own ErrHeader family.
var (
	errBase             = errors.New("tilefits")
	ErrOutOfMemory      = fmt.Errorf("%w: out of memory", errBase)
	ErrNotFound         = fmt.Errorf("%w: not found", errBase)
	ErrIO               = fmt.Errorf("%w: I/O error", errBase)
	ErrIllegalSequence  = fmt.Errorf("%w: illegal FITS sequence", errBase)
	ErrInvalidArgument  = fmt.Errorf("%w: invalid argument", errBase)
)

var kindSentinel = map[ErrKind]error{
	KindOutOfMemory:     ErrOutOfMemory,
	KindNotFound:        ErrNotFound,
	KindIO:              ErrIO,
	KindIllegalSequence: ErrIllegalSequence,
	KindInvalidArgument: ErrInvalidArgument,
}

// kindError carries both the abstract kind (for dispatch) and the
// underlying cause (for diagnostics).
type kindError struct {
	kind  ErrKind
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

func (e *kindError) Unwrap() []error {
	return []error{kindSentinel[e.kind], e.cause}
}

// wrapErr builds an error tagged with kind k wrapping cause. cause may be
// nil, in which case the error's message is the kind's name alone.
func wrapErr(k ErrKind, cause error) error {
	return &kindError{kind: k, cause: cause}
}

// wrapErrf is wrapErr with a formatted cause, following this package's
// "fitsio: <context>: <err>" wrapping convention.
func wrapErrf(k ErrKind, format string, args ...interface{}) error {
	return &kindError{kind: k, cause: fmt.Errorf(format, args...)}
}

// Kind extracts the ErrKind tagged onto err, or KindNone if err was not
// produced by this package (or is nil).
func Kind(err error) ErrKind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindNone
}
