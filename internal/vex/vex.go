// Package vex implements the "vex" custom binary output format: a flat
// stream of length-prefixed varint fields, grounded on
// original_source/vex.c's per-entity delta/zigzag record layout, but
// carrying decoded key/value tag pairs directly (as the PBF codec does)
// rather than vex.c's own compiled-node/way/relation arena structures --
// this package is an output serialization, not a second on-disk store.
package vex

import (
	"io"

	"github.com/pkg/errors"

	"osmstore/internal/errs"
	"osmstore/internal/pbf"
	"osmstore/internal/varint"
)

// Writer emits nodes and ways to the vex stream. Per §6: each node is
// id_delta, x_delta, y_delta (all zigzag), a tag-count varint, then that
// many (key,value) string pairs; each way is id_delta, ref-count varint,
// then that many zigzag ref deltas (delta-coded across the whole way
// stream, not reset per way), then tags the same way as a node.
type Writer struct {
	out io.Writer

	prevNodeID int64
	prevX      int64
	prevY      int64

	prevWayID int64
	prevRef   int64
}

// NewWriter returns a vex Writer over out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) write(buf []byte) error {
	if _, err := w.out.Write(buf); err != nil {
		return errors.Wrapf(errs.IoError, "vex write: %v", err)
	}
	return nil
}

func appendTags(buf []byte, tags []pbf.Tag) []byte {
	buf = varint.AppendUvarint(buf, uint64(len(tags)))
	for _, t := range tags {
		buf = varint.AppendUvarint(buf, uint64(len(t.Key)))
		buf = append(buf, t.Key...)
		buf = varint.AppendUvarint(buf, uint64(len(t.Value)))
		buf = append(buf, t.Value...)
	}
	return buf
}

// WriteNode appends one node record: id_delta, x_delta, y_delta (all
// zigzag-coded relative to the previous node written), a tag count, then
// that many inline (key,value) string pairs.
func (w *Writer) WriteNode(id int64, x, y int32, tags []pbf.Tag) error {
	var buf []byte
	buf = varint.AppendVarint(buf, id-w.prevNodeID)
	buf = varint.AppendVarint(buf, int64(x)-w.prevX)
	buf = varint.AppendVarint(buf, int64(y)-w.prevY)
	buf = appendTags(buf, tags)

	w.prevNodeID = id
	w.prevX = int64(x)
	w.prevY = int64(y)

	return w.write(buf)
}

// WriteWay appends one way record: id_delta, a ref-count varint, that many
// zigzag ref deltas (delta-coded across the whole stream of ways, per §6 --
// the running delta is never reset between ways), then tags as for a node.
func (w *Writer) WriteWay(id int64, refs []int64, tags []pbf.Tag) error {
	var buf []byte
	buf = varint.AppendVarint(buf, id-w.prevWayID)
	buf = varint.AppendUvarint(buf, uint64(len(refs)))
	for _, ref := range refs {
		buf = varint.AppendVarint(buf, ref-w.prevRef)
		w.prevRef = ref
	}
	buf = appendTags(buf, tags)

	w.prevWayID = id

	return w.write(buf)
}

// Reader decodes a vex stream written by Writer. Only nodes and ways are
// part of the format (per §6, vex carries no relations).
type Reader struct {
	data []byte

	prevNodeID int64
	prevX      int64
	prevY      int64

	prevWayID int64
	prevRef   int64
}

// NewReader returns a Reader over the complete, already-read vex stream.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func readString(data []byte) (string, int, error) {
	length, n, err := varint.DecodeUvarint(data)
	if err != nil {
		return "", 0, err
	}
	start := n
	end := start + int(length)
	if end > len(data) {
		return "", 0, errors.Wrapf(errs.MalformedPbf, "vex string of length %d truncated", length)
	}
	return string(data[start:end]), end, nil
}

func readTags(data []byte) ([]pbf.Tag, int, error) {
	count, n, err := varint.DecodeUvarint(data)
	if err != nil {
		return nil, 0, err
	}
	pos := n

	tags := make([]pbf.Tag, 0, count)
	for i := uint64(0); i < count; i++ {
		key, consumed, err := readString(data[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += consumed
		val, consumed, err := readString(data[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += consumed
		tags = append(tags, pbf.Tag{Key: key, Value: val})
	}
	return tags, pos, nil
}

// Node is one decoded vex node record.
type Node struct {
	ID   int64
	X, Y int32
	Tags []pbf.Tag
}

// Way is one decoded vex way record.
type Way struct {
	ID   int64
	Refs []int64
	Tags []pbf.Tag
}

// ReadNode decodes the next node record, returning the number of bytes
// consumed.
func (r *Reader) ReadNode() (Node, int, error) {
	idDelta, n, err := varint.DecodeVarint(r.data)
	if err != nil {
		return Node{}, 0, err
	}
	pos := n

	xDelta, n, err := varint.DecodeVarint(r.data[pos:])
	if err != nil {
		return Node{}, 0, err
	}
	pos += n

	yDelta, n, err := varint.DecodeVarint(r.data[pos:])
	if err != nil {
		return Node{}, 0, err
	}
	pos += n

	tags, n, err := readTags(r.data[pos:])
	if err != nil {
		return Node{}, 0, err
	}
	pos += n

	r.prevNodeID += idDelta
	r.prevX += xDelta
	r.prevY += yDelta
	r.data = r.data[pos:]

	return Node{ID: r.prevNodeID, X: int32(r.prevX), Y: int32(r.prevY), Tags: tags}, pos, nil
}

// ReadWay decodes the next way record, returning the number of bytes
// consumed.
func (r *Reader) ReadWay() (Way, int, error) {
	idDelta, n, err := varint.DecodeVarint(r.data)
	if err != nil {
		return Way{}, 0, err
	}
	pos := n

	count, n, err := varint.DecodeUvarint(r.data[pos:])
	if err != nil {
		return Way{}, 0, err
	}
	pos += n

	refs := make([]int64, count)
	for i := uint64(0); i < count; i++ {
		delta, n, err := varint.DecodeVarint(r.data[pos:])
		if err != nil {
			return Way{}, 0, err
		}
		pos += n
		r.prevRef += delta
		refs[i] = r.prevRef
	}

	tags, n, err := readTags(r.data[pos:])
	if err != nil {
		return Way{}, 0, err
	}
	pos += n

	r.prevWayID += idDelta
	r.data = r.data[pos:]

	return Way{ID: r.prevWayID, Refs: refs, Tags: tags}, pos, nil
}

// Len reports how many undecoded bytes remain.
func (r *Reader) Len() int {
	return len(r.data)
}
