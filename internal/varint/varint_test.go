package varint

import (
	"math"
	"testing"
)

func TestUvarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 127, 128, 16383, 16384, math.MaxUint32, math.MaxInt64}

	for _, c := range cases {
		buf := AppendUvarint(nil, c)
		got, n, err := DecodeUvarint(buf)
		if err != nil {
			t.Fatalf("DecodeUvarint(%d) error: %v", c, err)
		}
		if n != len(buf) {
			t.Errorf("DecodeUvarint(%d) consumed %d bytes, want %d", c, n, len(buf))
		}
		if got != c {
			t.Errorf("DecodeUvarint(AppendUvarint(%d)) = %d", c, got)
		}
	}
}

func TestVarintRoundTrip(t *testing.T) {
	cases := []int64{0, 127, 128, 16383, 16384, -1, math.MinInt64, math.MaxInt64}

	for _, c := range cases {
		buf := AppendVarint(nil, c)
		got, n, err := DecodeVarint(buf)
		if err != nil {
			t.Fatalf("DecodeVarint(%d) error: %v", c, err)
		}
		if n != len(buf) {
			t.Errorf("DecodeVarint(%d) consumed %d bytes, want %d", c, n, len(buf))
		}
		if got != c {
			t.Errorf("DecodeVarint(AppendVarint(%d)) = %d", c, got)
		}
	}
}

func TestVarintSmallNegativeStaysShort(t *testing.T) {
	buf := AppendVarint(nil, -1)
	if len(buf) != 1 {
		t.Errorf("zig-zag encoding of -1 should fit in one byte, got %d bytes", len(buf))
	}
}

func TestDecodeUvarintMalformed(t *testing.T) {
	_, _, err := DecodeUvarint([]byte{0x80, 0x80, 0x80})
	if err == nil {
		t.Error("expected error decoding truncated varint")
	}
}
