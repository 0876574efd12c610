package tilefits

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindExtraction(t *testing.T) {
	err := wrapErrf(KindIllegalSequence, "bad card %q", "XYZ")
	assert.Equal(t, KindIllegalSequence, Kind(err))
	assert.True(t, errors.Is(err, ErrIllegalSequence))
}

func TestKindNoneForForeignError(t *testing.T) {
	assert.Equal(t, KindNone, Kind(errors.New("not ours")))
	assert.Equal(t, KindNone, Kind(nil))
}

func TestWrapErrPreservesCause(t *testing.T) {
	cause := errors.New("underlying")
	err := wrapErr(KindIO, cause)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrIO))
}
