// Package store implements the transactional entity store: ordered,
// durable storage for nodes, ways and relations keyed by their OSM ID.
//
// The spec allows either a transactional ordered key-value engine or a
// direct mmap-sparse-file layout. This implementation takes the KV form,
// backed by go.etcd.io/bbolt, because bbolt buckets are already
// ID-ordered B+trees: the ascending-key contract (errs.OutOfOrderKey) and
// ordered iteration (what the mmap form gets from writing sequentially into
// a growable array) come from the bucket itself rather than from hand-rolled
// offset bookkeeping. The spec's "up to 20 tag subfiles, partitioned by ID
// range" invariant is specific to the mmap layout's need to keep any single
// file under a practical size limit; a bbolt bucket has no such ceiling, so
// that partitioning has no equivalent here (recorded as an Open Question
// decision in DESIGN.md).
package store

import (
	"encoding/binary"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"osmstore/internal/coord"
	"osmstore/internal/entity"
	"osmstore/internal/errs"
	"osmstore/internal/varint"
)

var (
	nodesBucket     = []byte("nodes")
	waysBucket      = []byte("ways")
	relationsBucket = []byte("relations")
)

// DB is an open entity store.
type DB struct {
	bolt *bolt.DB

	writeTx *bolt.Tx // set between BeginWrite and Commit

	lastNodeID int64
	lastWayID  int64
	lastRelID  int64
}

// BeginWrite starts a single long-lived write transaction spanning an
// entire load, so bulk inserts pay one fsync at Commit instead of one per
// entity. Callers that never call BeginWrite still work: Put* falls back to
// one bbolt transaction per call.
func (db *DB) BeginWrite() error {
	if db.writeTx != nil {
		return errors.Wrapf(errs.IoError, "BeginWrite: a write transaction is already open")
	}
	tx, err := db.bolt.Begin(true)
	if err != nil {
		return errors.Wrapf(errs.IoError, "begin write transaction: %v", err)
	}
	db.writeTx = tx
	return nil
}

// Commit flushes and closes the transaction opened by BeginWrite. It is a
// no-op if no such transaction is open.
func (db *DB) Commit() error {
	if db.writeTx == nil {
		return nil
	}
	tx := db.writeTx
	db.writeTx = nil
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(errs.IoError, "commit: %v", err)
	}
	return nil
}

func (db *DB) update(fn func(tx *bolt.Tx) error) error {
	if db.writeTx != nil {
		return fn(db.writeTx)
	}
	return db.bolt.Update(fn)
}

// Open opens (creating if necessary) the entity store at path.
func Open(path string) (*DB, error) {
	b, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, errors.Wrapf(errs.IoError, "open store %s: %v", path, err)
	}

	db := &DB{bolt: b}

	err = b.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{nodesBucket, waysBucket, relationsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Close()
		return nil, errors.Wrapf(errs.IoError, "init buckets: %v", err)
	}

	if err := db.seedLastIDs(); err != nil {
		b.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) seedLastIDs() error {
	return db.bolt.View(func(tx *bolt.Tx) error {
		db.lastNodeID = lastKeyID(tx.Bucket(nodesBucket))
		db.lastWayID = lastKeyID(tx.Bucket(waysBucket))
		db.lastRelID = lastKeyID(tx.Bucket(relationsBucket))
		return nil
	})
}

func lastKeyID(b *bolt.Bucket) int64 {
	k, _ := b.Cursor().Last()
	if k == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(k))
}

// Close closes the underlying database file.
func (db *DB) Close() error {
	return db.bolt.Close()
}

func keyFor(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

// PutNode writes a node. id must be strictly greater than the ID of every
// node written so far, per the ascending-key load contract.
func (db *DB) PutNode(id int64, n entity.Node) error {
	if id <= db.lastNodeID {
		return errors.Wrapf(errs.OutOfOrderKey, "node %d after %d", id, db.lastNodeID)
	}

	err := db.update(func(tx *bolt.Tx) error {
		return tx.Bucket(nodesBucket).Put(keyFor(id), encodeNode(n))
	})
	if err != nil {
		return errors.Wrapf(errs.IoError, "put node %d: %v", id, err)
	}
	db.lastNodeID = id
	return nil
}

// PutWay writes a way. id must be strictly greater than the ID of every way
// written so far.
func (db *DB) PutWay(id int64, w entity.Way) error {
	if id <= db.lastWayID {
		return errors.Wrapf(errs.OutOfOrderKey, "way %d after %d", id, db.lastWayID)
	}

	err := db.update(func(tx *bolt.Tx) error {
		return tx.Bucket(waysBucket).Put(keyFor(id), encodeWay(w))
	})
	if err != nil {
		return errors.Wrapf(errs.IoError, "put way %d: %v", id, err)
	}
	db.lastWayID = id
	return nil
}

// PutRelation writes a relation. id must be strictly greater than the ID of
// every relation written so far.
func (db *DB) PutRelation(id int64, r entity.Relation) error {
	if id <= db.lastRelID {
		return errors.Wrapf(errs.OutOfOrderKey, "relation %d after %d", id, db.lastRelID)
	}

	err := db.update(func(tx *bolt.Tx) error {
		return tx.Bucket(relationsBucket).Put(keyFor(id), encodeRelation(r))
	})
	if err != nil {
		return errors.Wrapf(errs.IoError, "put relation %d: %v", id, err)
	}
	db.lastRelID = id
	return nil
}

// GetNode looks up a node by ID.
func (db *DB) GetNode(id int64) (entity.Node, bool, error) {
	var n entity.Node
	var found bool
	err := db.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(nodesBucket).Get(keyFor(id))
		if v == nil {
			return nil
		}
		found = true
		var err error
		n, err = decodeNode(v)
		return err
	})
	return n, found, err
}

// GetWay looks up a way by ID.
func (db *DB) GetWay(id int64) (entity.Way, bool, error) {
	var w entity.Way
	var found bool
	err := db.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(waysBucket).Get(keyFor(id))
		if v == nil {
			return nil
		}
		found = true
		var err error
		w, err = decodeWay(v)
		return err
	})
	return w, found, err
}

// GetRelation looks up a relation by ID.
func (db *DB) GetRelation(id int64) (entity.Relation, bool, error) {
	var r entity.Relation
	var found bool
	err := db.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(relationsBucket).Get(keyFor(id))
		if v == nil {
			return nil
		}
		found = true
		var err error
		r, err = decodeRelation(v)
		return err
	})
	return r, found, err
}

// ForEachNode calls fn for every node in ascending ID order, stopping early
// if fn returns an error.
func (db *DB) ForEachNode(fn func(id int64, n entity.Node) error) error {
	return db.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(nodesBucket).ForEach(func(k, v []byte) error {
			n, err := decodeNode(v)
			if err != nil {
				return err
			}
			return fn(int64(binary.BigEndian.Uint64(k)), n)
		})
	})
}

// ForEachWay calls fn for every way in ascending ID order, stopping early if
// fn returns an error.
func (db *DB) ForEachWay(fn func(id int64, w entity.Way) error) error {
	return db.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(waysBucket).ForEach(func(k, v []byte) error {
			w, err := decodeWay(v)
			if err != nil {
				return err
			}
			return fn(int64(binary.BigEndian.Uint64(k)), w)
		})
	})
}

// ForEachRelation calls fn for every relation in ascending ID order,
// stopping early if fn returns an error.
func (db *DB) ForEachRelation(fn func(id int64, r entity.Relation) error) error {
	return db.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(relationsBucket).ForEach(func(k, v []byte) error {
			r, err := decodeRelation(v)
			if err != nil {
				return err
			}
			return fn(int64(binary.BigEndian.Uint64(k)), r)
		})
	})
}

func encodeNode(n entity.Node) []byte {
	buf := make([]byte, 0, 10+len(n.Tags))
	buf = varint.AppendVarint(buf, int64(n.Coord.X))
	buf = varint.AppendVarint(buf, int64(n.Coord.Y))
	buf = append(buf, n.Tags...)
	return buf
}

func decodeNode(data []byte) (entity.Node, error) {
	x, n, err := varint.DecodeVarint(data)
	if err != nil {
		return entity.Node{}, err
	}
	data = data[n:]

	y, n, err := varint.DecodeVarint(data)
	if err != nil {
		return entity.Node{}, err
	}
	data = data[n:]

	return entity.Node{
		Coord: coord.Coord{X: int32(x), Y: int32(y)},
		Tags:  append([]byte(nil), data...),
	}, nil
}

func encodeWay(w entity.Way) []byte {
	buf := varint.AppendUvarint(nil, uint64(len(w.Refs)))
	var prev int64
	for _, ref := range w.Refs {
		buf = varint.AppendVarint(buf, ref-prev)
		prev = ref
	}
	buf = append(buf, w.Tags...)
	return buf
}

func decodeWay(data []byte) (entity.Way, error) {
	count, n, err := varint.DecodeUvarint(data)
	if err != nil {
		return entity.Way{}, err
	}
	data = data[n:]

	refs := make([]int64, 0, count)
	var prev int64
	for i := uint64(0); i < count; i++ {
		delta, n, err := varint.DecodeVarint(data)
		if err != nil {
			return entity.Way{}, err
		}
		data = data[n:]
		prev += delta
		refs = append(refs, prev)
	}

	return entity.Way{
		Refs: refs,
		Tags: append([]byte(nil), data...),
	}, nil
}

func encodeRelation(r entity.Relation) []byte {
	buf := varint.AppendUvarint(nil, uint64(len(r.Members)))
	var prev int64
	for _, m := range r.Members {
		buf = append(buf, m.Role, byte(m.Type))
		buf = varint.AppendVarint(buf, m.ID-prev)
		prev = m.ID
	}
	buf = append(buf, r.Tags...)
	return buf
}

func decodeRelation(data []byte) (entity.Relation, error) {
	count, n, err := varint.DecodeUvarint(data)
	if err != nil {
		return entity.Relation{}, err
	}
	data = data[n:]

	members := make([]entity.Member, 0, count)
	var prev int64
	for i := uint64(0); i < count; i++ {
		if len(data) < 2 {
			return entity.Relation{}, errors.Wrapf(errs.MalformedPbf, "truncated relation member header")
		}
		role, typ := data[0], entity.MemberType(data[1])
		data = data[2:]

		delta, n, err := varint.DecodeVarint(data)
		if err != nil {
			return entity.Relation{}, err
		}
		data = data[n:]
		prev += delta

		members = append(members, entity.Member{Role: role, Type: typ, ID: prev})
	}

	return entity.Relation{
		Members: members,
		Tags:    append([]byte(nil), data...),
	}, nil
}
