// Package load drives the two-pass PBF ingest described in spec section 2:
// pass 1 filters and stores accepted ways while marking their referenced
// node IDs in the ID Tracker; pass 2 re-reads the same file, storing only
// the nodes the tracker marked, plus every relation. The spatial grid is
// then populated in a third, in-process pass over the committed store,
// since a way's grid cell is keyed by its first node's coordinate and that
// coordinate is only known, for certain, once all tracked nodes have been
// written (see DESIGN.md's Open Question on grid-population ordering).
//
// Grounded on the teacher's import flow (main.go's "import" command driving
// importing.Import) and on original_source/vex.c's single-pass load, here
// split into the filtered two-pass shape spec.md requires.
package load

import (
	"os"
	"path/filepath"

	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"

	"osmstore/internal/coord"
	"osmstore/internal/entity"
	"osmstore/internal/errs"
	"osmstore/internal/grid"
	"osmstore/internal/idtracker"
	"osmstore/internal/lockfile"
	"osmstore/internal/pbf"
	"osmstore/internal/store"
	"osmstore/internal/tagcodec"
)

// defaultMaxNodeID bounds the ID Tracker: current active node IDs run
// around 2^33, so 2^34 leaves headroom without over-committing memory for
// the growable segment bitset.
const defaultMaxNodeID = 1 << 34

// maxTagBytes is the §4.9 "Fixed 1 MiB per-entity tag buffer" cap: an
// entity whose encoded tag payload would exceed it fails the load instead
// of being silently truncated.
const maxTagBytes = 1 << 20

// EntitiesFileName and friends name the files Load/Extract expect under a
// database directory.
const (
	EntitiesFileName = "entities.db"
	GridFileName     = "grid.bin"
	LockFileName     = "lock"
)

// Stats summarizes what a Load run committed.
type Stats struct {
	NodesLoaded     int64
	WaysLoaded      int64
	RelationsLoaded int64
}

// Load ingests the PBF file at inputPath into the database directory
// dbDir, creating it if necessary.
func Load(dbDir, inputPath string) (Stats, error) {
	var stats Stats

	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return stats, errors.Wrapf(errs.IoError, "create database directory %s: %v", dbDir, err)
	}

	lock, err := lockfile.AcquireExclusive(filepath.Join(dbDir, LockFileName))
	if err != nil {
		return stats, err
	}
	defer lock.Unlock()

	db, err := store.Open(filepath.Join(dbDir, EntitiesFileName))
	if err != nil {
		return stats, err
	}
	defer db.Close()

	tracker := idtracker.New(defaultMaxNodeID)

	if err := loadWays(db, tracker, inputPath, &stats); err != nil {
		return stats, err
	}
	if err := loadNodesAndRelations(db, tracker, inputPath, &stats); err != nil {
		return stats, err
	}

	g, err := buildGrid(db)
	if err != nil {
		return stats, err
	}
	if err := os.WriteFile(filepath.Join(dbDir, GridFileName), g.Encode(), 0644); err != nil {
		return stats, errors.Wrapf(errs.IoError, "write grid file: %v", err)
	}

	sigolo.Infof("loaded %d nodes, %d ways, %d relations", stats.NodesLoaded, stats.WaysLoaded, stats.RelationsLoaded)
	return stats, nil
}

// loadWays is pass 1: decide acceptance per way, store accepted ways and
// mark their referenced node IDs.
func loadWays(db *store.DB, tracker *idtracker.Tracker, inputPath string, stats *Stats) error {
	if err := db.BeginWrite(); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			db.Commit() // best effort; the real error already propagated
		}
	}()

	r, err := pbf.Open(inputPath, pbf.Callbacks{
		Way: func(id int64, refs []int64, tags []pbf.Tag) error {
			if !acceptWay(tags) {
				return nil
			}
			for _, ref := range refs {
				if ref < 0 {
					return errors.Wrapf(errs.MalformedPbf, "way %d has negative node ref %d", id, ref)
				}
				if _, err := tracker.Set(uint64(ref)); err != nil {
					return errors.Wrapf(err, "way %d ref %d", id, ref)
				}
			}

			tagBytes, err := encodeTags(id, tags)
			if err != nil {
				return err
			}
			if err := db.PutWay(id, entity.Way{Refs: refs, Tags: tagBytes}); err != nil {
				return err
			}
			stats.WaysLoaded++
			return nil
		},
	})
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.Run(); err != nil {
		return errors.Wrap(err, "pass 1 (ways)")
	}

	committed = true
	return db.Commit()
}

// loadNodesAndRelations is pass 2: re-read the file, storing only tracked
// nodes and every relation. No Way callback is registered this pass, so way
// blocks produce no callbacks; the reader fast-forwards through the way
// section to find where relations begin, then rewinds to the first way
// block and decodes onward from there.
func loadNodesAndRelations(db *store.DB, tracker *idtracker.Tracker, inputPath string, stats *Stats) error {
	if err := db.BeginWrite(); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			db.Commit()
		}
	}()

	r, err := pbf.Open(inputPath, pbf.Callbacks{
		Node: func(id int64, lonNano, latNano int64, tags []pbf.Tag) error {
			if id < 0 || !tracker.Contains(uint64(id)) {
				return nil
			}
			tagBytes, err := encodeTags(id, tags)
			if err != nil {
				return err
			}
			n := entity.Node{Coord: coord.FromNanodegrees(lonNano, latNano), Tags: tagBytes}
			if err := db.PutNode(id, n); err != nil {
				return err
			}
			stats.NodesLoaded++
			return nil
		},
		Relation: func(id int64, members []pbf.Member, tags []pbf.Tag) error {
			tagBytes, err := encodeTags(id, tags)
			if err != nil {
				return err
			}

			entMembers := make([]entity.Member, len(members))
			for i, m := range members {
				entMembers[i] = entity.Member{Role: tagcodec.EncodeRole(m.Role), Type: m.Type, ID: m.ID}
			}

			if err := db.PutRelation(id, entity.Relation{Members: entMembers, Tags: tagBytes}); err != nil {
				return err
			}
			stats.RelationsLoaded++
			return nil
		},
	})
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.Run(); err != nil {
		return errors.Wrap(err, "pass 2 (nodes and relations)")
	}

	committed = true
	return db.Commit()
}

func encodeTags(id int64, tags []pbf.Tag) ([]byte, error) {
	kvs := make([]tagcodec.KeyVal, len(tags))
	for i, t := range tags {
		kvs[i] = tagcodec.KeyVal{Key: t.Key, Value: t.Value}
	}
	buf := tagcodec.EncodeTagList(kvs)
	if len(buf) > maxTagBytes {
		return nil, errors.Wrapf(errs.CapacityExceeded, "entity %d tag payload %d bytes exceeds %d", id, len(buf), maxTagBytes)
	}
	return buf, nil
}

// buildGrid walks the committed store and populates the spatial grid: each
// way by its first node's coordinate, each relation by its first member's
// resolved coordinate (nodes directly, ways via their first node, relations
// left unindexed per spec.md's open question on relation-in-relation
// indexing).
func buildGrid(db *store.DB) (*grid.Grid, error) {
	g := grid.New()

	err := db.ForEachWay(func(id int64, w entity.Way) error {
		if len(w.Refs) == 0 {
			return nil
		}
		n, found, err := db.GetNode(w.Refs[0])
		if err != nil {
			return err
		}
		if !found {
			sigolo.Warnf("way %d references node %d which was never loaded; leaving it unindexed", id, w.Refs[0])
			return nil
		}
		g.InsertWay(id, n.Coord)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "indexing ways")
	}

	err = db.ForEachRelation(func(id int64, r entity.Relation) error {
		c, ok := firstMemberCoord(db, r.Members)
		if !ok {
			return nil
		}
		g.InsertRelation(id, c)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "indexing relations")
	}

	return g, nil
}

func firstMemberCoord(db *store.DB, members []entity.Member) (coord.Coord, bool) {
	if len(members) == 0 {
		return coord.Coord{}, false
	}

	m := members[0]
	switch m.Type {
	case entity.MemberNode:
		n, found, err := db.GetNode(m.ID)
		if err != nil || !found {
			return coord.Coord{}, false
		}
		return n.Coord, true

	case entity.MemberWay:
		w, found, err := db.GetWay(m.ID)
		if err != nil || !found || len(w.Refs) == 0 {
			return coord.Coord{}, false
		}
		n, found, err := db.GetNode(w.Refs[0])
		if err != nil || !found {
			return coord.Coord{}, false
		}
		return n.Coord, true

	default:
		// A relation whose first member is itself a relation is left
		// unindexed; see spec.md §9's open question.
		return coord.Coord{}, false
	}
}
