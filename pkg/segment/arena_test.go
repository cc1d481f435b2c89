package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocAndRelease(t *testing.T) {
	a := NewArena()
	h := a.Alloc(4, []byte{1, 2, 3, 4})
	assert.NotZero(t, h)

	b, err := a.Bytes(h)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, b)
	assert.Equal(t, 4, a.Len(h))

	a.Release(h)
	_, err = a.Bytes(h)
	assert.ErrorIs(t, err, ErrFreed)
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := NewArena()
	h := a.Alloc(10, nil)
	a.Release(h)
	a.Release(h)
	a.Release(Handle(9999))
}

func TestSlotReuse(t *testing.T) {
	a := NewArena()
	h1 := a.Alloc(8, nil)
	a.Release(h1)
	h2 := a.Alloc(8, nil)
	assert.Equal(t, h1, h2)
}

func TestJumboClass(t *testing.T) {
	a := NewArena()
	h := a.Alloc(JumboClassSize, make([]byte, JumboClassSize))
	b, err := a.Bytes(h)
	require.NoError(t, err)
	assert.Len(t, b, JumboClassSize)
}
