package pbf

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"osmstore/internal/errs"
	"osmstore/internal/strtable"
)

// maxBlockElements is the per-type element count at which the writer
// flushes a block, per §4.7's 8k-element batching policy.
const maxBlockElements = 8000

const writingProgram = "osmstore"

type pendingNode struct {
	id              int64
	lonNano, latNano int64
	tags            []Tag
}

type pendingWay struct {
	id   int64
	refs []int64
	tags []Tag
}

type pendingRelation struct {
	id      int64
	members []Member
	tags    []Tag
}

// Writer produces a PBF stream: a header blob followed by one or more
// OSMData blobs, each a single PrimitiveBlock holding exactly one
// PrimitiveGroup of one entity type, per §4.7.
type Writer struct {
	out io.Writer

	nodes     []pendingNode
	ways      []pendingWay
	relations []pendingRelation

	strings *strtable.Table
}

// NewWriter returns a Writer that has not yet emitted the header blob; call
// Begin before writing entities.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out, strings: strtable.New()}
}

// Begin emits the OSMHeader blob with the required features this writer's
// output depends on (dense nodes).
func (w *Writer) Begin() error {
	body := encodeHeaderBlock()
	return w.writeBlob(BlobTypeHeader, body)
}

// WriteNode buffers a node, flushing the node block if it has reached
// capacity.
func (w *Writer) WriteNode(id int64, lonNano, latNano int64, tags []Tag) error {
	w.nodes = append(w.nodes, pendingNode{id: id, lonNano: lonNano, latNano: latNano, tags: tags})
	if len(w.nodes) >= maxBlockElements {
		return w.flushNodes()
	}
	return nil
}

// WriteWay buffers a way, flushing the way block if it has reached
// capacity.
func (w *Writer) WriteWay(id int64, refs []int64, tags []Tag) error {
	w.ways = append(w.ways, pendingWay{id: id, refs: refs, tags: tags})
	if len(w.ways) >= maxBlockElements {
		return w.flushWays()
	}
	return nil
}

// WriteRelation buffers a relation, flushing the relation block if it has
// reached capacity.
func (w *Writer) WriteRelation(id int64, members []Member, tags []Tag) error {
	w.relations = append(w.relations, pendingRelation{id: id, members: members, tags: tags})
	if len(w.relations) >= maxBlockElements {
		return w.flushRelations()
	}
	return nil
}

// Flush emits any partially filled blocks. Callers must call Flush after
// the last Write* call of each phase, and a final Flush once done, per the
// node-then-way-then-relation ordering contract the reader enforces.
func (w *Writer) Flush() error {
	if err := w.flushNodes(); err != nil {
		return err
	}
	if err := w.flushWays(); err != nil {
		return err
	}
	return w.flushRelations()
}

func (w *Writer) flushNodes() error {
	if len(w.nodes) == 0 {
		return nil
	}
	w.strings.Clear()
	group := encodeDenseNodesGroup(w.nodes, w.strings)
	nodes := w.nodes
	w.nodes = nil
	return w.writeBlockBlob(group, w.strings, len(nodes))
}

func (w *Writer) flushWays() error {
	if len(w.ways) == 0 {
		return nil
	}
	w.strings.Clear()
	group := encodeWaysGroup(w.ways, w.strings)
	ways := w.ways
	w.ways = nil
	return w.writeBlockBlob(group, w.strings, len(ways))
}

func (w *Writer) flushRelations() error {
	if len(w.relations) == 0 {
		return nil
	}
	w.strings.Clear()
	group := encodeRelationsGroup(w.relations, w.strings)
	rels := w.relations
	w.relations = nil
	return w.writeBlockBlob(group, w.strings, len(rels))
}

func (w *Writer) writeBlockBlob(group []byte, strings *strtable.Table, elementCount int) error {
	body := encodePrimitiveBlock(group, strings)
	if elementCount > maxBlockElements {
		return errors.Wrapf(errs.CapacityExceeded, "block holds %d elements, max %d", elementCount, maxBlockElements)
	}
	return w.writeBlob(BlobTypeData, body)
}

func (w *Writer) writeBlob(blobType string, raw []byte) error {
	const maxRawSize = 32 << 20
	const maxCompressedSize = 16 << 20

	if len(raw) > maxRawSize {
		return errors.Wrapf(errs.CapacityExceeded, "uncompressed blob size %d exceeds %d", len(raw), maxRawSize)
	}

	blobBody, err := encodeBlob(raw)
	if err != nil {
		return err
	}
	if len(blobBody) > maxCompressedSize {
		return errors.Wrapf(errs.CapacityExceeded, "compressed blob size %d exceeds %d", len(blobBody), maxCompressedSize)
	}

	headerBody := encodeBlobHeader(blobType, int32(len(blobBody)))

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(headerBody)))

	if _, err := w.out.Write(lenPrefix[:]); err != nil {
		return errors.Wrapf(errs.IoError, "write blob header length: %v", err)
	}
	if _, err := w.out.Write(headerBody); err != nil {
		return errors.Wrapf(errs.IoError, "write blob header: %v", err)
	}
	if _, err := w.out.Write(blobBody); err != nil {
		return errors.Wrapf(errs.IoError, "write blob: %v", err)
	}
	return nil
}

func encodeHeaderBlock() []byte {
	var buf []byte
	buf = appendBytesField(buf, fieldHeaderRequiredFeatures, []byte("OsmSchema-V0.6"))
	buf = appendBytesField(buf, fieldHeaderRequiredFeatures, []byte("DenseNodes"))
	buf = appendBytesField(buf, fieldHeaderWritingProgram, []byte(writingProgram))
	return buf
}

func encodePrimitiveBlock(group []byte, strings *strtable.Table) []byte {
	var buf []byte
	buf = appendBytesField(buf, fieldBlockStringTable, encodeStringTable(strings))
	buf = appendBytesField(buf, fieldBlockPrimitiveGroup, group)
	// granularity/lat_offset/lon_offset are left at their PBF defaults
	// (100/0/0); this writer always emits coordinates pre-scaled to that
	// granularity, so there is nothing non-default to record.
	return buf
}

func encodeStringTable(t *strtable.Table) []byte {
	var buf []byte
	for _, s := range t.Strings() {
		buf = appendBytesField(buf, fieldStringTableEntry, []byte(s))
	}
	return buf
}

// divRoundGranularity converts a nanodegree value to the block's
// granularity units (nearest, ties away from zero), the inverse of
// decodeDenseNodes'/decodeSparseNode's "offset + value*granularity"
// reconstruction. DenseNodes lat/lon fields are granularity units, not raw
// nanodegrees, so skipping this step would make every decoded coordinate
// off by a factor of defaultGranularity.
func divRoundGranularity(nano int64) int64 {
	if nano >= 0 {
		return (nano + defaultGranularity/2) / defaultGranularity
	}
	return -((-nano + defaultGranularity/2) / defaultGranularity)
}

func encodeDenseNodesGroup(nodes []pendingNode, strings *strtable.Table) []byte {
	ids := make([]int64, len(nodes))
	lats := make([]int64, len(nodes))
	lons := make([]int64, len(nodes))
	var keysVals []uint64

	var prevID, prevLat, prevLon int64
	for i, n := range nodes {
		latUnits := divRoundGranularity(n.latNano)
		lonUnits := divRoundGranularity(n.lonNano)

		ids[i] = n.id - prevID
		lats[i] = latUnits - prevLat
		lons[i] = lonUnits - prevLon
		prevID, prevLat, prevLon = n.id, latUnits, lonUnits

		for _, tag := range n.tags {
			keysVals = append(keysVals, uint64(strings.Dedup(tag.Key)), uint64(strings.Dedup(tag.Value)))
		}
		keysVals = append(keysVals, 0)
	}

	var dense []byte
	dense = appendPackedSint(dense, fieldDenseID, ids)
	dense = appendPackedVarint(dense, fieldDenseKV, keysVals)
	dense = appendPackedSint(dense, fieldDenseLat, lats)
	dense = appendPackedSint(dense, fieldDenseLon, lons)

	return appendBytesField(nil, fieldGroupDense, dense)
}

func encodeWaysGroup(ways []pendingWay, strings *strtable.Table) []byte {
	var group []byte
	for _, w := range ways {
		group = appendBytesField(group, fieldGroupWays, encodeWayMessage(w, strings))
	}
	return group
}

func encodeWayMessage(w pendingWay, strings *strtable.Table) []byte {
	var keys, vals []uint64
	for _, tag := range w.tags {
		keys = append(keys, uint64(strings.Dedup(tag.Key)))
		vals = append(vals, uint64(strings.Dedup(tag.Value)))
	}

	refDeltas := make([]int64, len(w.refs))
	var prev int64
	for i, ref := range w.refs {
		refDeltas[i] = ref - prev
		prev = ref
	}

	var buf []byte
	buf = appendVarintField(buf, fieldWayID, uint64(w.id))
	buf = appendPackedVarint(buf, fieldWayKeys, keys)
	buf = appendPackedVarint(buf, fieldWayVals, vals)
	buf = appendPackedSint(buf, fieldWayRefs, refDeltas)
	return buf
}

func encodeRelationsGroup(rels []pendingRelation, strings *strtable.Table) []byte {
	var group []byte
	for _, r := range rels {
		group = appendBytesField(group, fieldGroupRelations, encodeRelationMessage(r, strings))
	}
	return group
}

func encodeRelationMessage(r pendingRelation, strings *strtable.Table) []byte {
	var keys, vals []uint64
	for _, tag := range r.tags {
		keys = append(keys, uint64(strings.Dedup(tag.Key)))
		vals = append(vals, uint64(strings.Dedup(tag.Value)))
	}

	rolesSid := make([]uint64, len(r.members))
	types := make([]uint64, len(r.members))
	memDeltas := make([]int64, len(r.members))
	var prev int64
	for i, m := range r.members {
		rolesSid[i] = uint64(strings.Dedup(m.Role))
		types[i] = uint64(m.Type)
		memDeltas[i] = m.ID - prev
		prev = m.ID
	}

	var buf []byte
	buf = appendVarintField(buf, fieldRelID, uint64(r.id))
	buf = appendPackedVarint(buf, fieldRelKeys, keys)
	buf = appendPackedVarint(buf, fieldRelVals, vals)
	buf = appendPackedVarint(buf, fieldRelRolesSid, rolesSid)
	buf = appendPackedSint(buf, fieldRelMemIDs, memDeltas)
	buf = appendPackedVarint(buf, fieldRelTypes, types)
	return buf
}
