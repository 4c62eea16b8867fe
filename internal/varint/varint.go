// Package varint provides the unsigned and zig-zag signed variable-width
// integer packing used by the entity store, the grid file, the tag codec and
// the custom binary format (internal/vex). The PBF codec (internal/pbf) does
// not use this package; it calls protowire's varint and zig-zag functions
// directly. The wire primitive is
// google.golang.org/protobuf/encoding/protowire's varint (de)serializer --
// the spec treats protobuf field (de)serialization as an available library
// service, and protowire's LEB128 varint is bit-for-bit the same encoding
// protobuf and the vex format both use. This package only adds the zig-zag
// transform and byte-slice framing on top.
package varint

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"osmstore/internal/errs"
)

// AppendUvarint appends the unsigned varint encoding of v to buf.
func AppendUvarint(buf []byte, v uint64) []byte {
	return protowire.AppendVarint(buf, v)
}

// AppendVarint appends the zig-zag encoded varint of v to buf, so that small
// magnitude negative numbers stay small on the wire.
func AppendVarint(buf []byte, v int64) []byte {
	return protowire.AppendVarint(buf, zigzagEncode(v))
}

// DecodeUvarint reads an unsigned varint from buf, returning the value and
// the number of bytes consumed. It returns errs.MalformedPbf if buf does not
// contain a complete, valid varint.
func DecodeUvarint(buf []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, 0, errors.Wrapf(errs.MalformedPbf, "invalid varint in %d bytes", len(buf))
	}
	return v, n, nil
}

// DecodeVarint reads a zig-zag encoded varint from buf, returning the value
// and the number of bytes consumed.
func DecodeVarint(buf []byte) (int64, int, error) {
	raw, n, err := DecodeUvarint(buf)
	if err != nil {
		return 0, 0, err
	}
	return zigzagDecode(raw), n, nil
}

func zigzagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func zigzagDecode(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
