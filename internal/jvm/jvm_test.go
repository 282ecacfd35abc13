package jvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapRoundTrip(t *testing.T) {
	for _, unit := range []Unit{Byte, Kilobyte, Megabyte, Gigabyte} {
		for _, size := range []uint64{1, 2, 512, 1000, 65536} {
			h := MustHeap(size, unit)
			parsed, err := ParseHeap(h.String())
			require.NoError(t, err)
			assert.Equal(t, h, parsed, "round trip of %s", h)
		}
	}
}

func TestHeapCompare(t *testing.T) {
	assert.True(t, MustHeap(1, Kilobyte).Equal(MustHeap(1000, Byte)))
	assert.Equal(t, 1, MustHeap(1, Kilobyte).Compare(MustHeap(999, Byte)))
	assert.Equal(t, -1, MustHeap(999, Byte).Compare(MustHeap(1, Kilobyte)))
	assert.Equal(t, 1, MustHeap(8, Gigabyte).Compare(MustHeap(2, Gigabyte)))
	assert.True(t, MustHeap(2, Gigabyte).Equal(MustHeap(2000, Megabyte)))
	assert.Equal(t, uint64(2_000_000_000), MustHeap(2, Gigabyte).Bytes())
}

func TestParseHeap(t *testing.T) {
	h, err := ParseHeap("8g")
	require.NoError(t, err)
	assert.Equal(t, Gigabyte, h.Unit())
	assert.Equal(t, "-Xmx8G", h.MaxFlag())
	assert.Equal(t, "-Xms8G", h.MinFlag())

	h, err = ParseHeap("4096")
	require.NoError(t, err)
	assert.Equal(t, Byte, h.Unit())

	for _, bad := range []string{"", "0G", "-1M", "12X", "G", "1.5G"} {
		_, err := ParseHeap(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewHeapArgumentRejectsZero(t *testing.T) {
	_, err := NewHeapArgument(0, Megabyte)
	assert.ErrorIs(t, err, ErrInvalidHeapSize)
	_, err = NewHeapArgument(1, Unit(9))
	assert.ErrorIs(t, err, ErrInvalidHeapUnit)
}

func TestHeapTooLarge(t *testing.T) {
	// 18446744073709552K wraps a uint64 byte count to 384.
	_, err := ParseHeap("18446744073709552K")
	assert.ErrorIs(t, err, ErrHeapTooLarge)
	_, err = NewHeapArgument(9_223_372_036_854_776, Kilobyte)
	assert.ErrorIs(t, err, ErrHeapTooLarge)

	largest, err := NewHeapArgument(9_223_372_036_854_775, Kilobyte)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_223_372_036_854_775_000), largest.Bytes())
	assert.Equal(t, 1, largest.Compare(MustHeap(1000, Byte)))
	assert.Equal(t, -1, MustHeap(9, Gigabyte).Compare(largest))
}

func TestRuntimeOptionFlags(t *testing.T) {
	assert.Equal(t, "-XX:+UseG1GC", Enabled{Key: "UseG1GC", On: true}.Flag())
	assert.Equal(t, "-XX:-UseG1GC", Enabled{Key: "UseG1GC"}.Flag())
	assert.Equal(t, "-XX:MaxGCPauseMillis=200", Assigned{Key: "MaxGCPauseMillis", Value: "200"}.Flag())
}

func TestParseOption(t *testing.T) {
	tests := []struct {
		in   string
		flag string
	}{
		{"+UseG1GC", "-XX:+UseG1GC"},
		{"-AlwaysPreTouch", "-XX:-AlwaysPreTouch"},
		{"G1HeapRegionSize=8M", "-XX:G1HeapRegionSize=8M"},
		{"-XX:+ParallelRefProcEnabled", "-XX:+ParallelRefProcEnabled"},
		{"-XX:MaxGCPauseMillis=200", "-XX:MaxGCPauseMillis=200"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			o, err := ParseOption(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.flag, o.Flag())
		})
	}

	for _, bad := range []string{"", "+", "NoValue", "Key=", "bad name=1", "-XX:"} {
		_, err := ParseOption(bad)
		assert.ErrorIs(t, err, ErrInvalidOption, bad)
	}
}
