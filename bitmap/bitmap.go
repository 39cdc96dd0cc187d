// Package bitmap implements a bounded set over [0,N) with serializable
// storage, used by fs to track free disk sectors.
package bitmap

import (
	"fmt"
	"math"
)

type OutOfRange struct {
	Index    int
	MaxIndex int
}

func (o OutOfRange) Error() string {
	return fmt.Sprintf("bitmap index out of range [%d], maximal index is [%d]", o.Index, o.MaxIndex)
}

// BitMap is a fixed-size bit vector over [0,N). It is stored as a plain
// byte slice so it can be written to / read from a disk sector range
// directly.
type BitMap struct {
	bits []byte
	n    int
}

func New(n int) *BitMap {
	return &BitMap{
		bits: make([]byte, NeededBytes(n)),
		n:    n,
	}
}

func NeededBytes(n int) int {
	return int(math.Ceil(float64(n) / 8))
}

func (b *BitMap) Len() int {
	return b.n
}

func (b *BitMap) checkRange(i int) error {
	if i < 0 || i >= b.n {
		return OutOfRange{Index: i, MaxIndex: b.n - 1}
	}
	return nil
}

// Test reports whether bit i is set.
func (b *BitMap) Test(i int) (bool, error) {
	if err := b.checkRange(i); err != nil {
		return false, err
	}
	return b.bits[i/8]&(1<<uint(i%8)) != 0, nil
}

// Mark sets bit i.
func (b *BitMap) Mark(i int) error {
	if err := b.checkRange(i); err != nil {
		return err
	}
	b.bits[i/8] |= 1 << uint(i%8)
	return nil
}

// Clear unsets bit i.
func (b *BitMap) Clear(i int) error {
	if err := b.checkRange(i); err != nil {
		return err
	}
	b.bits[i/8] &^= 1 << uint(i%8)
	return nil
}

// Find returns the index of the first clear bit, marks it, and returns
// true. If no clear bit exists, returns (-1, false).
func (b *BitMap) Find() (int, bool) {
	for i := 0; i < b.n; i++ {
		set, _ := b.Test(i)
		if !set {
			_ = b.Mark(i)
			return i, true
		}
	}
	return -1, false
}

// NumClear returns the count of unset bits.
func (b *BitMap) NumClear() int {
	count := 0
	for i := 0; i < b.n; i++ {
		set, _ := b.Test(i)
		if !set {
			count++
		}
	}
	return count
}

// Bytes returns the raw backing bytes, suitable for writing to disk.
func (b *BitMap) Bytes() []byte {
	return b.bits
}

// FromBytes loads bitmap state from raw bytes previously produced by
// Bytes, for a bitmap of n bits.
func FromBytes(n int, data []byte) *BitMap {
	b := New(n)
	copy(b.bits, data)
	return b
}
