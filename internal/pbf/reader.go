package pbf

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"

	"osmstore/internal/errs"
)

// probeInterval is how often the reader decodes a blob while fast-forwarding
// purely to check which phase has started.
const probeInterval = 1000

// Callbacks groups the per-entity-type handlers a Reader drives. A nil
// handler means "this phase is of no interest", which the reader uses to
// decide when fast-forward is safe.
type Callbacks struct {
	Node     func(id int64, lonNano, latNano int64, tags []Tag) error
	Way      func(id int64, refs []int64, tags []Tag) error
	Relation func(id int64, members []Member, tags []Tag) error
}

// Reader drives a phase-ordered, rewindable walk over a PBF file, calling
// back into Callbacks for each entity it decodes.
type Reader struct {
	f    *os.File
	size int64
	cb   Callbacks

	arena Arena
}

// Open opens the PBF file at path for reading. It does not validate the
// header blob until Run is called.
func Open(path string, cb Callbacks) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(errs.IoError, "open %s: %v", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(errs.IoError, "stat %s: %v", path, err)
	}
	return &Reader{f: f, size: info.Size(), cb: cb}, nil
}

// Close releases the underlying file descriptor.
func (r *Reader) Close() error {
	return r.f.Close()
}

func (r *Reader) readAt(off int64, n int32) ([]byte, error) {
	if n < 0 {
		return nil, errors.Wrapf(errs.MalformedPbf, "negative length %d at offset %d", n, off)
	}
	buf := make([]byte, n)
	if _, err := r.f.ReadAt(buf, off); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(errs.MalformedPbf, "truncated file at offset %d", off)
		}
		return nil, errors.Wrapf(errs.IoError, "read at %d: %v", off, err)
	}
	return buf, nil
}

// frame is one blob's framing metadata: its declared type, the size and
// offset of its Blob body, and the offset where the next frame begins.
type frame struct {
	blobType string
	dataSize int32
	bodyOff  int64
	nextOff  int64
}

func (r *Reader) readFrame(pos int64) (frame, error) {
	if pos >= r.size {
		return frame{}, io.EOF
	}

	lenBytes, err := r.readAt(pos, 4)
	if err != nil {
		return frame{}, err
	}
	headerLen := int32(binary.BigEndian.Uint32(lenBytes))

	headerBytes, err := r.readAt(pos+4, headerLen)
	if err != nil {
		return frame{}, err
	}

	blobType, dataSize, err := decodeBlobHeader(headerBytes)
	if err != nil {
		return frame{}, err
	}

	bodyOff := pos + 4 + int64(headerLen)
	return frame{
		blobType: blobType,
		dataSize: dataSize,
		bodyOff:  bodyOff,
		nextOff:  bodyOff + int64(dataSize),
	}, nil
}

func (r *Reader) decodeBlockAt(fr frame) (*rawBlock, error) {
	raw, err := r.readAt(fr.bodyOff, fr.dataSize)
	if err != nil {
		return nil, err
	}
	payload, err := decodeBlob(raw)
	if err != nil {
		return nil, err
	}
	return decodePrimitiveBlock(payload)
}

// Run walks the whole file, validating the header blob and then driving
// Callbacks over every OSMData blob subject to the phase-ordering,
// fast-forward and rewind rules described in the package documentation.
func (r *Reader) Run() error {
	headerFrame, err := r.readFrame(0)
	if err != nil {
		return err
	}
	if headerFrame.blobType != BlobTypeHeader {
		return errors.Wrapf(errs.MalformedPbf, "first blob type %q, want %q", headerFrame.blobType, BlobTypeHeader)
	}
	headerBlock, err := r.decodeBlockAt(headerFrame)
	if err != nil {
		return err
	}
	_ = headerBlock // the required-features/bbox fields carry no decisions this reader needs to make

	pos := headerFrame.nextOff
	phase := PhaseNode
	ffActive := false
	ffUsed := false
	var rewindPos int64
	probeCount := 0

	for {
		markPos := pos
		fr, err := r.readFrame(pos)
		if err == io.EOF {
			if ffActive {
				sigolo.Debugf("pbf reader: eof while fast-forwarding, rewinding to %d", rewindPos)
				pos = rewindPos
				ffActive = false
				continue
			}
			return nil
		}
		if err != nil {
			return err
		}
		if fr.blobType != BlobTypeData {
			return errors.Wrapf(errs.MalformedPbf, "unexpected blob type %q at offset %d", fr.blobType, markPos)
		}

		probe := !ffActive || probeCount%probeInterval == 0
		probeCount++

		if !probe {
			pos = fr.nextOff
			continue
		}

		block, err := r.decodeBlockAt(fr)
		if err != nil {
			return err
		}
		pos = fr.nextOff

		newPhase, err := blockPhase(block)
		if err != nil {
			return err
		}
		if newPhase < phase {
			return errors.Wrapf(errs.MalformedPbf, "phase ordering violation: %s block after %s phase at offset %d", newPhase, phase, markPos)
		}
		if newPhase > phase {
			sigolo.Debugf("pbf reader: phase transition %s -> %s at offset %d", phase, newPhase, markPos)
		}
		phase = newPhase

		if ffActive {
			if r.callbackApplies(phase) {
				sigolo.Debugf("pbf reader: rewinding to %d to resume slow decode at %s phase", rewindPos, phase)
				pos = rewindPos
				ffActive = false
				continue
			}
			if !r.callbackAppliesFromPhase(phase) {
				return nil
			}
			continue
		}

		if err := r.emitBlock(block); err != nil {
			return err
		}

		if !r.callbackAppliesFromPhase(phase) {
			return nil
		}

		if !r.callbackApplies(phase) && !ffUsed {
			sigolo.Debugf("pbf reader: entering fast-forward at offset %d (%s phase has no callback)", markPos, phase)
			ffActive = true
			ffUsed = true
			rewindPos = markPos
			probeCount = 0
		}
	}
}

func (r *Reader) callbackApplies(phase Phase) bool {
	switch phase {
	case PhaseNode:
		return r.cb.Node != nil
	case PhaseWay:
		return r.cb.Way != nil
	case PhaseRelation:
		return r.cb.Relation != nil
	default:
		return false
	}
}

func (r *Reader) callbackAppliesFromPhase(phase Phase) bool {
	switch phase {
	case PhaseNode:
		return r.cb.Node != nil || r.cb.Way != nil || r.cb.Relation != nil
	case PhaseWay:
		return r.cb.Way != nil || r.cb.Relation != nil
	case PhaseRelation:
		return r.cb.Relation != nil
	default:
		return false
	}
}

func blockPhase(b *rawBlock) (Phase, error) {
	if len(b.groups) == 0 {
		return 0, errors.Wrapf(errs.MalformedPbf, "primitive block has no groups")
	}

	var phase Phase
	for i, raw := range b.groups {
		g, err := decodePrimitiveGroup(raw)
		if err != nil {
			return 0, err
		}
		p, err := g.phase()
		if err != nil {
			return 0, err
		}
		if i == 0 {
			phase = p
		} else if p != phase {
			return 0, errors.Wrapf(errs.MalformedPbf, "mixed entity types within one primitive block")
		}
	}
	return phase, nil
}

func (r *Reader) emitBlock(block *rawBlock) error {
	for _, raw := range block.groups {
		g, err := decodePrimitiveGroup(raw)
		if err != nil {
			return err
		}

		r.arena.Reset()

		if g.dense != nil {
			nodes, err := decodeDenseNodes(g.dense, block, &r.arena)
			if err != nil {
				return err
			}
			if r.cb.Node != nil {
				for _, n := range nodes {
					if err := r.cb.Node(n.ID, n.LonNano, n.LatNano, n.Tags); err != nil {
						return err
					}
				}
			}
		}

		for _, nodeRaw := range g.nodes {
			n, err := decodeSparseNode(nodeRaw, block, &r.arena)
			if err != nil {
				return err
			}
			if r.cb.Node != nil {
				if err := r.cb.Node(n.ID, n.LonNano, n.LatNano, n.Tags); err != nil {
					return err
				}
			}
		}

		for _, wayRaw := range g.ways {
			w, err := decodeWay(wayRaw, block, &r.arena)
			if err != nil {
				return err
			}
			if r.cb.Way != nil {
				if err := r.cb.Way(w.ID, w.Refs, w.Tags); err != nil {
					return err
				}
			}
		}

		for _, relRaw := range g.relations {
			rel, err := decodeRelation(relRaw, block, &r.arena)
			if err != nil {
				return err
			}
			if r.cb.Relation != nil {
				if err := r.cb.Relation(rel.ID, rel.Members, rel.Tags); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
