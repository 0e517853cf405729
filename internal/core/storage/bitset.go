package storage

import "math/bits"

const bitsPerWord = 64

// Bitset is a growable occupancy set. Iteration cost is proportional to the
// word count, not the bit count, so large empty ranges are rejected a word
// at a time.
type Bitset struct {
	words []uint64
}

// EnsureBits grows the set so bit n-1 is addressable.
func (b *Bitset) EnsureBits(n int) {
	need := (n + bitsPerWord - 1) / bitsPerWord
	for len(b.words) < need {
		b.words = append(b.words, 0)
	}
}

// Set sets bit i, growing as needed.
func (b *Bitset) Set(i int) {
	b.EnsureBits(i + 1)
	b.words[i/bitsPerWord] |= 1 << (uint(i) % bitsPerWord)
}

// Clear clears bit i. Out-of-range bits are already clear.
func (b *Bitset) Clear(i int) {
	w := i / bitsPerWord
	if w < len(b.words) {
		b.words[w] &^= 1 << (uint(i) % bitsPerWord)
	}
}

// Test reports bit i.
func (b *Bitset) Test(i int) bool {
	w := i / bitsPerWord
	return w < len(b.words) && b.words[w]&(1<<(uint(i)%bitsPerWord)) != 0
}

// Count returns the number of set bits.
func (b *Bitset) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Reset clears every bit, keeping capacity.
func (b *Bitset) Reset() {
	for i := range b.words {
		b.words[i] = 0
	}
}

// Clone returns an independent copy.
func (b *Bitset) Clone() Bitset {
	words := make([]uint64, len(b.words))
	copy(words, b.words)
	return Bitset{words: words}
}

// And intersects b with other in place.
func (b *Bitset) And(other *Bitset) {
	for i := range b.words {
		if i < len(other.words) {
			b.words[i] &= other.words[i]
		} else {
			b.words[i] = 0
		}
	}
}

// Iter visits every set bit in strictly ascending order, stopping early
// when fn returns false.
func (b *Bitset) Iter(fn func(i int) bool) {
	b.IterAnd(nil, fn)
}

// IterAnd visits every bit set in both b and mask, in strictly ascending
// order. A nil mask means no restriction. Zero words are skipped whole,
// which is what makes shared-mask queries cheap over sparse stores.
func (b *Bitset) IterAnd(mask *Bitset, fn func(i int) bool) {
	for wi, w := range b.words {
		if mask != nil {
			if wi >= len(mask.words) {
				return
			}
			w &= mask.words[wi]
		}
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			if !fn(wi*bitsPerWord + tz) {
				return
			}
			w &= w - 1
		}
	}
}
