package grid

import (
	"github.com/pkg/errors"

	"osmstore/internal/errs"
	"osmstore/internal/varint"
)

// Encode serializes the grid to a self-contained byte slice: every
// populated cell (index, way-block head, relation head), the way-block
// arena, and the relation next-pointer chain. Extraction runs as a
// separate process invocation from load, so the grid built in memory
// during Load must round-trip through this encoding via internal/load's
// grid.bin file rather than being rebuilt from the entity store.
func (g *Grid) Encode() []byte {
	var buf []byte

	buf = varint.AppendUvarint(buf, uint64(len(g.cells)))
	for idx, head := range g.cells {
		buf = varint.AppendUvarint(buf, uint64(idx.X))
		buf = varint.AppendUvarint(buf, uint64(idx.Y))
		buf = varint.AppendUvarint(buf, uint64(head.headWayBlock))
		buf = varint.AppendVarint(buf, head.headRelation)
	}

	buf = varint.AppendUvarint(buf, uint64(len(g.blocks)-1))
	for i := 1; i < len(g.blocks); i++ {
		blk := g.blocks[i]
		for _, ref := range blk.Refs {
			buf = varint.AppendVarint(buf, int64(ref))
		}
		buf = varint.AppendUvarint(buf, uint64(blk.Next))
	}

	buf = varint.AppendUvarint(buf, uint64(len(g.relNext)))
	for relID, next := range g.relNext {
		buf = varint.AppendVarint(buf, relID)
		buf = varint.AppendVarint(buf, next)
	}

	return buf
}

// Decode reconstructs a Grid from the byte slice produced by Encode.
func Decode(data []byte) (*Grid, error) {
	g := New()

	cellCount, n, err := varint.DecodeUvarint(data)
	if err != nil {
		return nil, errors.Wrap(err, "decoding grid cell count")
	}
	data = data[n:]

	for i := uint64(0); i < cellCount; i++ {
		x, n, err := varint.DecodeUvarint(data)
		if err != nil {
			return nil, errors.Wrap(err, "decoding cell x")
		}
		data = data[n:]

		y, n, err := varint.DecodeUvarint(data)
		if err != nil {
			return nil, errors.Wrap(err, "decoding cell y")
		}
		data = data[n:]

		wayBlock, n, err := varint.DecodeUvarint(data)
		if err != nil {
			return nil, errors.Wrap(err, "decoding cell head way block")
		}
		data = data[n:]

		relHead, n, err := varint.DecodeVarint(data)
		if err != nil {
			return nil, errors.Wrap(err, "decoding cell head relation")
		}
		data = data[n:]

		g.cells[CellIndex{X: uint32(x), Y: uint32(y)}] = &cellHead{
			headWayBlock: uint32(wayBlock),
			headRelation: relHead,
		}
	}

	blockCount, n, err := varint.DecodeUvarint(data)
	if err != nil {
		return nil, errors.Wrap(err, "decoding way block count")
	}
	data = data[n:]

	g.blocks = make([]WayBlock, 1, blockCount+1)
	for i := uint64(0); i < blockCount; i++ {
		var blk WayBlock
		for j := range blk.Refs {
			v, n, err := varint.DecodeVarint(data)
			if err != nil {
				return nil, errors.Wrap(err, "decoding way block ref")
			}
			data = data[n:]
			blk.Refs[j] = int32(v)
		}

		next, n, err := varint.DecodeUvarint(data)
		if err != nil {
			return nil, errors.Wrap(err, "decoding way block next")
		}
		data = data[n:]
		blk.Next = uint32(next)

		g.blocks = append(g.blocks, blk)
	}

	relCount, n, err := varint.DecodeUvarint(data)
	if err != nil {
		return nil, errors.Wrap(err, "decoding relation chain count")
	}
	data = data[n:]

	for i := uint64(0); i < relCount; i++ {
		relID, n, err := varint.DecodeVarint(data)
		if err != nil {
			return nil, errors.Wrap(err, "decoding relation chain id")
		}
		data = data[n:]

		next, n, err := varint.DecodeVarint(data)
		if err != nil {
			return nil, errors.Wrap(err, "decoding relation chain next")
		}
		data = data[n:]

		g.relNext[relID] = next
	}

	if len(data) != 0 {
		return nil, errors.Wrapf(errs.MalformedPbf, "%d trailing bytes after grid encoding", len(data))
	}

	return g, nil
}
