package pbf

import (
	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"osmstore/internal/entity"
	"osmstore/internal/errs"
)

// Tag is a decoded key/value pair, resolved from string-table indices.
type Tag struct {
	Key   string
	Value string
}

// Member is a decoded relation member, with its role already resolved from
// the string table.
type Member struct {
	Type entity.MemberType
	ID   int64
	Role string
}

// maxTagsPerNode caps the number of tags reconstructed per dense node; a
// node with more than this many key/value pairs has the excess discarded
// with a warning rather than failing the load.
const maxTagsPerNode = 256

// decodedNode is one entity yielded while walking a DenseNodes group.
type decodedNode struct {
	ID      int64
	LonNano int64
	LatNano int64
	Tags    []Tag
}

// decodeDenseNodes reconstructs absolute IDs and coordinates from a
// DenseNodes message's parallel delta-coded arrays, and splits the
// zero-separated keys_vals stream back into per-node tag lists.
func decodeDenseNodes(body []byte, block *rawBlock, arena *Arena) ([]decodedNode, error) {
	var ids, lats, lons []int64
	var keysVals []uint64

	err := forEachField(body, func(f field) error {
		switch f.num {
		case fieldDenseID:
			v, err := consumePackedSint(f.data)
			if err != nil {
				return err
			}
			ids = v
		case fieldDenseLat:
			v, err := consumePackedSint(f.data)
			if err != nil {
				return err
			}
			lats = v
		case fieldDenseLon:
			v, err := consumePackedSint(f.data)
			if err != nil {
				return err
			}
			lons = v
		case fieldDenseKV:
			v, err := consumePackedVarint(f.data)
			if err != nil {
				return err
			}
			keysVals = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(ids) != len(lats) || len(ids) != len(lons) {
		return nil, errors.Wrapf(errs.MalformedPbf, "dense node array length mismatch: %d ids, %d lats, %d lons", len(ids), len(lats), len(lons))
	}

	out := make([]decodedNode, len(ids))
	var id, lat, lon int64
	kvPos := 0

	for i := range ids {
		id += ids[i]
		lat += lats[i]
		lon += lons[i]

		var tags []Tag
		if len(keysVals) > 0 {
			tags, kvPos, err = consumeDenseTags(keysVals, kvPos, block, arena)
			if err != nil {
				return nil, err
			}
		}

		out[i] = decodedNode{
			ID:      id,
			LonNano: block.lonOffset + lon*block.granularity,
			LatNano: block.latOffset + lat*block.granularity,
			Tags:    tags,
		}
	}
	return out, nil
}

// consumeDenseTags reads one node's run of (key_idx, val_idx) pairs from the
// shared keys_vals stream starting at pos, terminated by a 0 entry.
func consumeDenseTags(keysVals []uint64, pos int, block *rawBlock, arena *Arena) ([]Tag, int, error) {
	start := pos
	count := 0
	for pos < len(keysVals) && keysVals[pos] != 0 {
		pos += 2
		count++
	}
	if pos < len(keysVals) {
		pos++ // consume the terminating zero
	}

	if count == 0 {
		return nil, pos, nil
	}
	if count > maxTagsPerNode {
		sigolo.Warnf("dense node has %d tags, capping at %d", count, maxTagsPerNode)
		count = maxTagsPerNode
	}

	tags := arena.Tags(count)
	for i := 0; i < count; i++ {
		key, err := block.stringAt(keysVals[start+2*i])
		if err != nil {
			return nil, 0, err
		}
		val, err := block.stringAt(keysVals[start+2*i+1])
		if err != nil {
			return nil, 0, err
		}
		tags[i] = Tag{Key: key, Value: val}
	}
	return tags, pos, nil
}

// decodedWay is one entity yielded while decoding a Way group.
type decodedWay struct {
	ID   int64
	Refs []int64
	Tags []Tag
}

func decodeWay(body []byte, block *rawBlock, arena *Arena) (decodedWay, error) {
	var w decodedWay
	var keys, vals []uint64
	var refDeltas []int64

	err := forEachField(body, func(f field) error {
		switch f.num {
		case fieldWayID:
			w.ID = int64(f.varint)
		case fieldWayKeys:
			v, err := consumePackedVarint(f.data)
			if err != nil {
				return err
			}
			keys = v
		case fieldWayVals:
			v, err := consumePackedVarint(f.data)
			if err != nil {
				return err
			}
			vals = v
		case fieldWayRefs:
			v, err := consumePackedSint(f.data)
			if err != nil {
				return err
			}
			refDeltas = v
		}
		return nil
	})
	if err != nil {
		return decodedWay{}, err
	}

	w.Tags, err = resolveTags(keys, vals, block, arena)
	if err != nil {
		return decodedWay{}, err
	}

	refs := make([]int64, len(refDeltas))
	var ref int64
	for i, d := range refDeltas {
		ref += d
		refs[i] = ref
	}
	w.Refs = refs

	return w, nil
}

// decodedRelation is one entity yielded while decoding a Relation group.
type decodedRelation struct {
	ID      int64
	Members []Member
	Tags    []Tag
}

func decodeRelation(body []byte, block *rawBlock, arena *Arena) (decodedRelation, error) {
	var r decodedRelation
	var keys, vals, rolesSid, types []uint64
	var memDeltas []int64

	err := forEachField(body, func(f field) error {
		switch f.num {
		case fieldRelID:
			r.ID = int64(f.varint)
		case fieldRelKeys:
			v, err := consumePackedVarint(f.data)
			if err != nil {
				return err
			}
			keys = v
		case fieldRelVals:
			v, err := consumePackedVarint(f.data)
			if err != nil {
				return err
			}
			vals = v
		case fieldRelRolesSid:
			v, err := consumePackedVarint(f.data)
			if err != nil {
				return err
			}
			rolesSid = v
		case fieldRelMemIDs:
			v, err := consumePackedSint(f.data)
			if err != nil {
				return err
			}
			memDeltas = v
		case fieldRelTypes:
			v, err := consumePackedVarint(f.data)
			if err != nil {
				return err
			}
			types = v
		}
		return nil
	})
	if err != nil {
		return decodedRelation{}, err
	}

	r.Tags, err = resolveTags(keys, vals, block, arena)
	if err != nil {
		return decodedRelation{}, err
	}

	if len(memDeltas) != len(rolesSid) || len(memDeltas) != len(types) {
		return decodedRelation{}, errors.Wrapf(errs.MalformedPbf, "relation %d member array length mismatch", r.ID)
	}

	members := arena.Members(len(memDeltas))
	var id int64
	for i := range memDeltas {
		id += memDeltas[i]
		role, err := block.stringAt(rolesSid[i])
		if err != nil {
			return decodedRelation{}, err
		}
		memberType, err := decodeMemberType(types[i])
		if err != nil {
			return decodedRelation{}, err
		}
		members[i] = Member{Type: memberType, ID: id, Role: role}
	}
	r.Members = members

	return r, nil
}

// decodeSparseNode decodes a non-dense Node message, the rarely-used
// alternative to DenseNodes that some non-planet extracts still emit.
func decodeSparseNode(body []byte, block *rawBlock, arena *Arena) (decodedNode, error) {
	var id, lat, lon int64
	var keys, vals []uint64
	var haveLat, haveLon bool

	err := forEachField(body, func(f field) error {
		switch f.num {
		case fieldNodeID:
			id = protowire.DecodeZigZag(f.varint)
		case fieldNodeKeys:
			v, err := consumePackedVarint(f.data)
			if err != nil {
				return err
			}
			keys = v
		case fieldNodeVals:
			v, err := consumePackedVarint(f.data)
			if err != nil {
				return err
			}
			vals = v
		case fieldNodeLat:
			lat = protowire.DecodeZigZag(f.varint)
			haveLat = true
		case fieldNodeLon:
			lon = protowire.DecodeZigZag(f.varint)
			haveLon = true
		}
		return nil
	})
	if err != nil {
		return decodedNode{}, err
	}
	if !haveLat || !haveLon {
		return decodedNode{}, errors.Wrapf(errs.MalformedPbf, "node %d missing lat/lon", id)
	}

	tags, err := resolveTags(keys, vals, block, arena)
	if err != nil {
		return decodedNode{}, err
	}

	return decodedNode{
		ID:      id,
		LonNano: block.lonOffset + lon*block.granularity,
		LatNano: block.latOffset + lat*block.granularity,
		Tags:    tags,
	}, nil
}

func decodeMemberType(v uint64) (entity.MemberType, error) {
	switch v {
	case 0:
		return entity.MemberNode, nil
	case 1:
		return entity.MemberWay, nil
	case 2:
		return entity.MemberRelation, nil
	default:
		return 0, errors.Wrapf(errs.MalformedPbf, "unknown relation member type %d", v)
	}
}

func resolveTags(keys, vals []uint64, block *rawBlock, arena *Arena) ([]Tag, error) {
	if len(keys) != len(vals) {
		return nil, errors.Wrapf(errs.MalformedPbf, "keys/vals length mismatch: %d vs %d", len(keys), len(vals))
	}
	if len(keys) == 0 {
		return nil, nil
	}
	tags := arena.Tags(len(keys))
	for i := range keys {
		k, err := block.stringAt(keys[i])
		if err != nil {
			return nil, err
		}
		v, err := block.stringAt(vals[i])
		if err != nil {
			return nil, err
		}
		tags[i] = Tag{Key: k, Value: v}
	}
	return tags, nil
}
