package varint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	values := []Value{0, 1, 0x3f, 0x40, 0x3fff, 0x4000, 0x3fffffff, 0x40000000, Max}
	for _, v := range values {
		enc, err := Encode(nil, v)
		require.NoError(t, err)
		assert.Equal(t, Len(v), len(enc))

		got, n, err := Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, len(enc), n)
		assert.Equal(t, v, got)
	}
}

func TestEncodeOverflow(t *testing.T) {
	_, err := Encode(nil, Max+1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestDecodeTooShort(t *testing.T) {
	enc, err := Encode(nil, 0x40000000)
	require.NoError(t, err)
	_, _, err = Decode(enc[:2])
	assert.ErrorIs(t, err, ErrTooShort)

	_, _, err = Decode(nil)
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestCanonicalLength(t *testing.T) {
	// non-canonical 2-byte encoding of a value that fits in 1 byte still
	// decodes, but Encode always produces the minimum length class.
	enc, err := Encode(nil, 5)
	require.NoError(t, err)
	assert.Len(t, enc, 1)
}
