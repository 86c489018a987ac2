package rawmem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateZeroedAndTracked(t *testing.T) {
	before := AllocatedMemory()

	block, err := Allocate(4096)
	require.NoError(t, err)
	require.Len(t, block, 4096)

	for _, b := range block {
		require.Zero(t, b)
	}

	require.Equal(t, before+4096, AllocatedMemory())

	Free(block)
	require.Equal(t, before, AllocatedMemory())
}

func TestAllocateZeroSizeFails(t *testing.T) {
	_, err := Allocate(0)
	require.Error(t, err)
}

func TestSetAndSetZero(t *testing.T) {
	block, err := Allocate(16)
	require.NoError(t, err)
	defer Free(block)

	Set(block, 0xAB)
	for _, b := range block {
		require.Equal(t, byte(0xAB), b)
	}

	SetZero(block)
	for _, b := range block {
		require.Zero(t, b)
	}
}

func TestCopyAndMove(t *testing.T) {
	src := []byte("hello world")
	dst := make([]byte, len(src))

	n := Copy(dst, src)
	require.Equal(t, len(src), n)
	require.Equal(t, src, dst)

	overlap := []byte("abcdefghij")
	Move(overlap[2:], overlap[:8])
	require.Equal(t, []byte("ababcdefgh"), overlap)
}

func TestCompare(t *testing.T) {
	require.Equal(t, 0, Compare([]byte("abc"), []byte("abc")))
	require.Equal(t, -1, Compare([]byte("abb"), []byte("abc")))
	require.Equal(t, 1, Compare([]byte("abd"), []byte("abc")))
	require.Equal(t, -1, Compare([]byte("ab"), []byte("abc")))
}
