// Package hypothesis implements partial translations and their source coverage.
package hypothesis

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// Span is an inclusive range of 1-based source positions.
type Span struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Len returns the number of positions in the span.
func (s Span) Len() int { return s.Right - s.Left + 1 }

func (s Span) String() string { return fmt.Sprintf("[%d,%d]", s.Left, s.Right) }

// Coverage is an immutable set of covered source positions. Position j is
// stored at bit j-1.
type Coverage struct {
	bits  *bitset.BitSet
	n     int
	count int
	key   string
}

// NewCoverage returns an empty coverage over a sentence of n words.
func NewCoverage(n int) Coverage {
	return newCoverage(bitset.New(uint(n)), n)
}

func newCoverage(bits *bitset.BitSet, n int) Coverage {
	words := bits.Bytes()
	buf := make([]byte, 0, 8*len(words))
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	return Coverage{
		bits:  bits,
		n:     n,
		count: int(bits.Count()),
		key:   string(buf),
	}
}

// Len returns the sentence length.
func (c Coverage) Len() int { return c.n }

// Count returns the number of covered positions.
func (c Coverage) Count() int { return c.count }

// Key is a comparable encoding of the covered set.
func (c Coverage) Key() string { return c.key }

// Full reports whether every position is covered.
func (c Coverage) Full() bool { return c.count == c.n }

// Covered reports whether position j is covered.
func (c Coverage) Covered(j int) bool {
	if j < 1 || j > c.n {
		return false
	}
	return c.bits.Test(uint(j - 1))
}

// Valid reports whether the span lies inside the sentence.
func (c Coverage) Valid(s Span) bool {
	return s.Left >= 1 && s.Right <= c.n && s.Left <= s.Right
}

// Overlaps reports whether any position of s is covered.
func (c Coverage) Overlaps(s Span) bool {
	for j := s.Left; j <= s.Right; j++ {
		if c.Covered(j) {
			return true
		}
	}
	return false
}

// With returns a copy with s marked as covered.
func (c Coverage) With(s Span) Coverage {
	bits := c.bits.Clone()
	for j := s.Left; j <= s.Right; j++ {
		bits.Set(uint(j - 1))
	}
	return newCoverage(bits, c.n)
}

// Without returns a copy with s cleared.
func (c Coverage) Without(s Span) Coverage {
	bits := c.bits.Clone()
	for j := s.Left; j <= s.Right; j++ {
		bits.Clear(uint(j - 1))
	}
	return newCoverage(bits, c.n)
}

// FirstUncovered returns the leftmost uncovered position, or 0 when full.
func (c Coverage) FirstUncovered() int {
	i, ok := c.bits.NextClear(0)
	if !ok || int(i) >= c.n {
		return 0
	}
	return int(i) + 1
}

// Gaps returns the maximal runs of uncovered positions from left to right.
func (c Coverage) Gaps() []Span {
	var gaps []Span
	j := 1
	for j <= c.n {
		if c.Covered(j) {
			j++
			continue
		}
		start := j
		for j <= c.n && !c.Covered(j) {
			j++
		}
		gaps = append(gaps, Span{Left: start, Right: j - 1})
	}
	return gaps
}

// Equal reports whether both coverages hold the same positions.
func (c Coverage) Equal(o Coverage) bool {
	return c.n == o.n && c.key == o.key
}

func (c Coverage) String() string {
	var b strings.Builder
	for j := 1; j <= c.n; j++ {
		if c.Covered(j) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
