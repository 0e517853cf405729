package storage

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitsetBasics(t *testing.T) {
	var b Bitset
	require.False(t, b.Test(0))
	require.False(t, b.Test(1000))
	require.Equal(t, 0, b.Count())

	b.EnsureBits(130)
	b.Set(0)
	b.Set(63)
	b.Set(64)
	b.Set(129)
	require.Equal(t, 4, b.Count())
	require.True(t, b.Test(64))
	b.Clear(64)
	require.False(t, b.Test(64))
	require.Equal(t, 3, b.Count())
}

func TestBitsetIterAscending(t *testing.T) {
	var b Bitset
	want := []int{3, 5, 64, 65, 200, 511}
	b.EnsureBits(512)
	for _, i := range want {
		b.Set(i)
	}
	var got []int
	b.Iter(func(i int) bool {
		got = append(got, i)
		return true
	})
	require.Equal(t, want, got)

	// Early stop.
	got = got[:0]
	b.Iter(func(i int) bool {
		got = append(got, i)
		return len(got) < 2
	})
	require.Equal(t, []int{3, 5}, got)
}

// Masked iteration over random bitsets must visit exactly the intersection,
// strictly ascending, regardless of where the set bits cluster.
func TestBitsetIterAndRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		var a, m Bitset
		n := 1 + rng.Intn(600)
		a.EnsureBits(n)
		m.EnsureBits(n)
		inA := make(map[int]bool)
		inM := make(map[int]bool)
		for i := 0; i < n; i++ {
			if rng.Intn(3) == 0 {
				a.Set(i)
				inA[i] = true
			}
			if rng.Intn(3) == 0 {
				m.Set(i)
				inM[i] = true
			}
		}
		var want []int
		for i := range inA {
			if inM[i] {
				want = append(want, i)
			}
		}
		sort.Ints(want)

		var got []int
		a.IterAnd(&m, func(i int) bool {
			got = append(got, i)
			return true
		})
		require.Equal(t, want, got, "trial %d", trial)
	}
}

func TestBitsetIterAndUnequalLengths(t *testing.T) {
	var a, m Bitset
	a.EnsureBits(300)
	a.Set(1)
	a.Set(299)
	m.EnsureBits(64)
	m.Set(1)

	var got []int
	a.IterAnd(&m, func(i int) bool {
		got = append(got, i)
		return true
	})
	require.Equal(t, []int{1}, got)
}

func TestBitsetCloneAndAnd(t *testing.T) {
	var a Bitset
	a.EnsureBits(128)
	a.Set(2)
	a.Set(100)

	c := a.Clone()
	c.Clear(2)
	require.True(t, a.Test(2), "clone must not alias")

	var m Bitset
	m.EnsureBits(128)
	m.Set(100)
	a.And(&m)
	require.False(t, a.Test(2))
	require.True(t, a.Test(100))
}
