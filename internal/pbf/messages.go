package pbf

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"osmstore/internal/errs"
)

// Field numbers, matching the OSM PBF fileformat.proto / osmformat.proto
// schemas bit-for-bit so this package's writer output is readable by any
// conformant PBF reader and its reader accepts any conformant PBF file.
const (
	fieldBlobRaw      protowire.Number = 1
	fieldBlobRawSize  protowire.Number = 2
	fieldBlobZlib     protowire.Number = 3

	fieldBlobHeaderType     protowire.Number = 1
	fieldBlobHeaderDataSize protowire.Number = 3

	fieldHeaderRequiredFeatures protowire.Number = 4
	fieldHeaderOptionalFeatures protowire.Number = 5
	fieldHeaderWritingProgram   protowire.Number = 16

	fieldBlockStringTable     protowire.Number = 1
	fieldBlockPrimitiveGroup  protowire.Number = 2
	fieldBlockGranularity     protowire.Number = 17
	fieldBlockLatOffset       protowire.Number = 19
	fieldBlockLonOffset       protowire.Number = 20

	fieldGroupNodes     protowire.Number = 1
	fieldGroupDense     protowire.Number = 2
	fieldGroupWays      protowire.Number = 3
	fieldGroupRelations protowire.Number = 4

	fieldStringTableEntry protowire.Number = 1

	fieldDenseID   protowire.Number = 1
	fieldDenseKV   protowire.Number = 8
	fieldDenseLat  protowire.Number = 9
	fieldDenseLon  protowire.Number = 10

	fieldWayID   protowire.Number = 1
	fieldWayKeys protowire.Number = 2
	fieldWayVals protowire.Number = 3
	fieldWayRefs protowire.Number = 8

	fieldRelID       protowire.Number = 1
	fieldRelKeys     protowire.Number = 2
	fieldRelVals     protowire.Number = 3
	fieldRelRolesSid protowire.Number = 8
	fieldRelMemIDs   protowire.Number = 9
	fieldRelTypes    protowire.Number = 10

	fieldNodeID   protowire.Number = 1
	fieldNodeKeys protowire.Number = 2
	fieldNodeVals protowire.Number = 3
	fieldNodeLat  protowire.Number = 8
	fieldNodeLon  protowire.Number = 9
)

const (
	defaultGranularity = 100
	defaultDateGranularity = 1000
)

// Blob type strings.
const (
	BlobTypeHeader = "OSMHeader"
	BlobTypeData   = "OSMData"
)

// decodeBlobHeader decodes a BlobHeader message body, returning its type
// string and the declared size of the following Blob message.
func decodeBlobHeader(body []byte) (blobType string, dataSize int32, err error) {
	err = forEachField(body, func(f field) error {
		switch f.num {
		case fieldBlobHeaderType:
			blobType = string(f.data)
		case fieldBlobHeaderDataSize:
			dataSize = int32(f.varint)
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	if blobType == "" {
		return "", 0, errors.Wrapf(errs.MalformedPbf, "blob header missing type")
	}
	return blobType, dataSize, nil
}

func encodeBlobHeader(blobType string, dataSize int32) []byte {
	var buf []byte
	buf = appendBytesField(buf, fieldBlobHeaderType, []byte(blobType))
	buf = appendVarintField(buf, fieldBlobHeaderDataSize, uint64(dataSize))
	return buf
}

// decodeBlob decompresses a Blob message body to its raw payload bytes.
func decodeBlob(body []byte) ([]byte, error) {
	var raw []byte
	var zdata []byte
	var rawSize int32

	err := forEachField(body, func(f field) error {
		switch f.num {
		case fieldBlobRaw:
			raw = f.data
		case fieldBlobZlib:
			zdata = f.data
		case fieldBlobRawSize:
			rawSize = int32(f.varint)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if raw != nil {
		return raw, nil
	}
	if zdata == nil {
		return nil, errors.Wrapf(errs.MalformedPbf, "blob has neither raw nor zlib payload")
	}

	zr, err := zlib.NewReader(bytes.NewReader(zdata))
	if err != nil {
		return nil, errors.Wrapf(errs.MalformedPbf, "zlib init: %v", err)
	}
	defer zr.Close()

	out := make([]byte, 0, rawSize)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, zr); err != nil {
		return nil, errors.Wrapf(errs.MalformedPbf, "zlib inflate: %v", err)
	}
	return buf.Bytes(), nil
}

// encodeBlob zlib-compresses raw and frames it as a Blob message.
func encodeBlob(raw []byte) ([]byte, error) {
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(raw); err != nil {
		return nil, errors.Wrapf(errs.IoError, "zlib deflate: %v", err)
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrapf(errs.IoError, "zlib close: %v", err)
	}

	var buf []byte
	buf = appendVarintField(buf, fieldBlobRawSize, uint64(len(raw)))
	buf = appendBytesField(buf, fieldBlobZlib, compressed.Bytes())
	return buf, nil
}

// rawBlock is a decoded PrimitiveBlock: its string table and the raw bytes
// of each contained PrimitiveGroup (left undecoded until the group's
// entity type, hence phase, is known).
type rawBlock struct {
	strings     [][]byte
	groups      [][]byte
	granularity int64
	latOffset   int64
	lonOffset   int64
}

func decodePrimitiveBlock(body []byte) (*rawBlock, error) {
	b := &rawBlock{granularity: defaultGranularity}

	err := forEachField(body, func(f field) error {
		switch f.num {
		case fieldBlockStringTable:
			strs, err := decodeStringTable(f.data)
			if err != nil {
				return err
			}
			b.strings = strs
		case fieldBlockPrimitiveGroup:
			b.groups = append(b.groups, f.data)
		case fieldBlockGranularity:
			b.granularity = int64(f.varint)
		case fieldBlockLatOffset:
			b.latOffset = int64(f.varint)
		case fieldBlockLonOffset:
			b.lonOffset = int64(f.varint)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func decodeStringTable(body []byte) ([][]byte, error) {
	var out [][]byte
	err := forEachField(body, func(f field) error {
		if f.num == fieldStringTableEntry {
			out = append(out, f.data)
		}
		return nil
	})
	return out, err
}

func (b *rawBlock) stringAt(idx uint64) (string, error) {
	if idx >= uint64(len(b.strings)) {
		return "", errors.Wrapf(errs.MalformedPbf, "string table index %d out of range (%d entries)", idx, len(b.strings))
	}
	return string(b.strings[idx]), nil
}

// rawGroup holds one PrimitiveGroup's entity payloads, still undecoded; its
// phase method classifies the group as a Phase.
type rawGroup struct {
	dense     []byte
	nodes     [][]byte
	ways      [][]byte
	relations [][]byte
}

func decodePrimitiveGroup(body []byte) (*rawGroup, error) {
	g := &rawGroup{}
	err := forEachField(body, func(f field) error {
		switch f.num {
		case fieldGroupDense:
			g.dense = f.data
		case fieldGroupNodes:
			g.nodes = append(g.nodes, f.data)
		case fieldGroupWays:
			g.ways = append(g.ways, f.data)
		case fieldGroupRelations:
			g.relations = append(g.relations, f.data)
		}
		return nil
	})
	return g, err
}

func (g *rawGroup) phase() (Phase, error) {
	switch {
	case g.dense != nil || len(g.nodes) > 0:
		return PhaseNode, nil
	case len(g.ways) > 0:
		return PhaseWay, nil
	case len(g.relations) > 0:
		return PhaseRelation, nil
	default:
		return 0, errors.Wrapf(errs.MalformedPbf, "primitive group has no entities")
	}
}
