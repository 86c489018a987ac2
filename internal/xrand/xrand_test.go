package xrand

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSameSeedProducesSameSequence(t *testing.T) {
	a := New(42)
	b := New(42)

	for i := 0; i < 20; i++ {
		require.Equal(t, a.Int(0, 1000), b.Int(0, 1000))
	}
}

func TestIntStaysInRange(t *testing.T) {
	s := New(7)

	for i := 0; i < 1000; i++ {
		v := s.Int(10, 20)
		require.GreaterOrEqual(t, v, uint32(10))
		require.Less(t, v, uint32(20))
	}
}

func TestPermIsAPermutation(t *testing.T) {
	s := New(1)
	p := s.Perm(50)

	seen := make([]bool, 50)
	for _, v := range p {
		require.False(t, seen[v])
		seen[v] = true
	}
}
