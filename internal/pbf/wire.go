// Package pbf implements the OSM PBF wire format: blob framing, the
// phase-ordered rewindable reader, and the block-batched, string-table
// deduplicated writer.
//
// The OSM-specific messages (Blob, BlobHeader, PrimitiveBlock, ...) are
// hand-decoded against google.golang.org/protobuf/encoding/protowire
// instead of generated .pb.go stubs -- the low-level varint/tag framing is
// the "available library service" the storage core is specified to consume;
// the schema-specific field layout and phase logic are this package's own,
// grounded on m4o.io/pbf's decoder shape and on original_source/pbf-read.c's
// enforce_ordering/fast-forward design.
package pbf

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"osmstore/internal/errs"
)

// field is one decoded field of a protobuf message: its number, wire type,
// and either its length-delimited payload (data) or its varint value.
type field struct {
	num  protowire.Number
	typ  protowire.Type
	data []byte // for BytesType: the payload; for VarintType: unused, see varint
	varint uint64
}

// forEachField walks every top-level field of a protobuf message body,
// calling fn with the field number, wire type and value (decoded for varint
// fields, sliced for length-delimited fields). Fixed32/fixed64 fields are
// skipped without calling fn.
func forEachField(body []byte, fn func(f field) error) error {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return errors.Wrapf(errs.MalformedPbf, "bad field tag")
		}
		body = body[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return errors.Wrapf(errs.MalformedPbf, "bad varint field %d", num)
			}
			body = body[n:]
			if err := fn(field{num: num, typ: typ, varint: v}); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return errors.Wrapf(errs.MalformedPbf, "bad length-delimited field %d", num)
			}
			body = body[n:]
			if err := fn(field{num: num, typ: typ, data: v}); err != nil {
				return err
			}
		case protowire.Fixed32Type:
			_, n := protowire.ConsumeFixed32(body)
			if n < 0 {
				return errors.Wrapf(errs.MalformedPbf, "bad fixed32 field %d", num)
			}
			body = body[n:]
		case protowire.Fixed64Type:
			_, n := protowire.ConsumeFixed64(body)
			if n < 0 {
				return errors.Wrapf(errs.MalformedPbf, "bad fixed64 field %d", num)
			}
			body = body[n:]
		default:
			return errors.Wrapf(errs.MalformedPbf, "unsupported wire type %d on field %d", typ, num)
		}
	}
	return nil
}

func appendVarintField(buf []byte, num protowire.Number, v uint64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, v)
}

func appendBytesField(buf []byte, num protowire.Number, v []byte) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, v)
}

// consumePackedVarint decodes a packed repeated varint field's payload
// (plain, non-zigzag) into a slice of uint64s.
func consumePackedVarint(data []byte) ([]uint64, error) {
	var out []uint64
	for len(data) > 0 {
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, errors.Wrapf(errs.MalformedPbf, "bad packed varint")
		}
		out = append(out, v)
		data = data[n:]
	}
	return out, nil
}

// consumePackedSint decodes a packed repeated zig-zag varint ("sint64")
// field's payload into a slice of int64s.
func consumePackedSint(data []byte) ([]int64, error) {
	raw, err := consumePackedVarint(data)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(raw))
	for i, v := range raw {
		out[i] = protowire.DecodeZigZag(v)
	}
	return out, nil
}

func appendPackedVarint(buf []byte, num protowire.Number, vals []uint64) []byte {
	var payload []byte
	for _, v := range vals {
		payload = protowire.AppendVarint(payload, v)
	}
	return appendBytesField(buf, num, payload)
}

func appendPackedSint(buf []byte, num protowire.Number, vals []int64) []byte {
	raw := make([]uint64, len(vals))
	for i, v := range vals {
		raw[i] = protowire.EncodeZigZag(v)
	}
	return appendPackedVarint(buf, num, raw)
}
