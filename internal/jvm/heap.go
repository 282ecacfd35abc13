package jvm

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

var (
	ErrInvalidHeapSize = errors.New("heap size must be a positive integer")
	ErrInvalidHeapUnit = errors.New("heap unit must be one of B, K, M, G")
	ErrHeapTooLarge    = errors.New("heap size does not fit in a signed 64-bit byte count")
)

// Unit is a memory unit. Each step up is worth 1000 of the previous one.
type Unit int

const (
	Byte Unit = iota
	Kilobyte
	Megabyte
	Gigabyte
)

func (u Unit) String() string {
	switch u {
	case Byte:
		return "BYTE"
	case Kilobyte:
		return "KILOBYTE"
	case Megabyte:
		return "MEGABYTE"
	case Gigabyte:
		return "GIGABYTE"
	default:
		return "UNKNOWN"
	}
}

// Letter returns the flag suffix for the unit: B, K, M or G.
func (u Unit) Letter() byte {
	return u.String()[0]
}

func unitFromLetter(c byte) (Unit, bool) {
	switch c {
	case 'B', 'b':
		return Byte, true
	case 'K', 'k':
		return Kilobyte, true
	case 'M', 'm':
		return Megabyte, true
	case 'G', 'g':
		return Gigabyte, true
	}
	return 0, false
}

// HeapArgument is a memory quantity passed to the runtime as -Xms / -Xmx.
type HeapArgument struct {
	size uint64
	unit Unit
}

// NewHeapArgument validates size and unit.
func NewHeapArgument(size uint64, unit Unit) (HeapArgument, error) {
	if size == 0 {
		return HeapArgument{}, ErrInvalidHeapSize
	}
	if unit < Byte || unit > Gigabyte {
		return HeapArgument{}, ErrInvalidHeapUnit
	}
	if _, ok := toBytes(size, unit); !ok {
		return HeapArgument{}, fmt.Errorf("%w: %d%c", ErrHeapTooLarge, size, unit.Letter())
	}
	return HeapArgument{size: size, unit: unit}, nil
}

// toBytes scales size by 1000 per unit step. ok is false when the result exceeds MaxInt64.
func toBytes(size uint64, unit Unit) (n uint64, ok bool) {
	n = size
	for u := Byte; u < unit; u++ {
		hi, lo := bits.Mul64(n, 1000)
		if hi != 0 {
			return 0, false
		}
		n = lo
	}
	return n, n <= math.MaxInt64
}

// MustHeap is NewHeapArgument for constants and tests.
func MustHeap(size uint64, unit Unit) HeapArgument {
	h, err := NewHeapArgument(size, unit)
	if err != nil {
		panic(err)
	}
	return h
}

// ParseHeap parses strings like "512M" or "8g". A bare number is read as bytes.
func ParseHeap(s string) (HeapArgument, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return HeapArgument{}, ErrInvalidHeapSize
	}
	unit := Byte
	digits := s
	if u, ok := unitFromLetter(s[len(s)-1]); ok {
		unit = u
		digits = s[:len(s)-1]
	} else if last := s[len(s)-1]; last < '0' || last > '9' {
		return HeapArgument{}, fmt.Errorf("%w: %q", ErrInvalidHeapUnit, s)
	}
	size, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return HeapArgument{}, fmt.Errorf("%w: %q", ErrInvalidHeapSize, s)
	}
	return NewHeapArgument(size, unit)
}

func (h HeapArgument) Size() uint64 { return h.size }
func (h HeapArgument) Unit() Unit   { return h.unit }

// IsZero reports whether h was never set.
func (h HeapArgument) IsZero() bool { return h.size == 0 }

// String renders the size with its unit letter, e.g. "8G". It is the inverse of ParseHeap.
func (h HeapArgument) String() string {
	return strconv.FormatUint(h.size, 10) + string(h.unit.Letter())
}

// MinFlag renders the minimum heap flag, e.g. -Xms2G.
func (h HeapArgument) MinFlag() string { return "-Xms" + h.String() }

// MaxFlag renders the maximum heap flag, e.g. -Xmx8G.
func (h HeapArgument) MaxFlag() string { return "-Xmx" + h.String() }

// Bytes normalizes to bytes using the x1000 step between units. Every HeapArgument built by
// NewHeapArgument or ParseHeap fits in an int64.
func (h HeapArgument) Bytes() uint64 {
	n, _ := toBytes(h.size, h.unit)
	return n
}

// Compare returns -1, 0 or 1 comparing the byte counts of h and o.
func (h HeapArgument) Compare(o HeapArgument) int {
	a, b := h.Bytes(), o.Bytes()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Equal compares by normalized value, so 1K equals 1000B.
func (h HeapArgument) Equal(o HeapArgument) bool { return h.Compare(o) == 0 }
