// Package extract implements bounding-box extraction from a database built
// by internal/load: grid cell range → ways in those cells → their
// referenced nodes (deduplicated via the ID Tracker) → relations beginning
// in those cells, written out in the PBF-required node/way/relation order
// to either the PBF or vex format.
//
// Grounded on original_source/vex.c's three-stage extract loop (NODE, WAY,
// RELATION stages over the bin range) and on the teacher's query.Execute /
// WriteFeaturesAsGeoJsonFile split between "gather matching features" and
// "serialize them".
package extract

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"

	"osmstore/internal/coord"
	"osmstore/internal/entity"
	"osmstore/internal/errs"
	"osmstore/internal/grid"
	"osmstore/internal/idtracker"
	"osmstore/internal/load"
	"osmstore/internal/lockfile"
	"osmstore/internal/pbf"
	"osmstore/internal/store"
	"osmstore/internal/tagcodec"
	"osmstore/internal/vex"
)

// defaultMaxNodeID mirrors internal/load's ID Tracker capacity; extraction
// needs its own tracker instance to deduplicate node references across
// ways, reset per run per spec.md's ID Tracker contract.
const defaultMaxNodeID = 1 << 34

// Format selects the output serialization.
type Format int

const (
	FormatPBF Format = iota
	FormatVex
)

// BBox is a geographic bounding box in degrees.
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

func (b BBox) validate() error {
	if b.MinLat < -90 || b.MinLat > 90 || b.MaxLat < -90 || b.MaxLat > 90 {
		return errors.Wrapf(errs.RangeError, "latitude out of [-90,90]: %+v", b)
	}
	if b.MinLon < -180 || b.MinLon > 180 || b.MaxLon < -180 || b.MaxLon > 180 {
		return errors.Wrapf(errs.RangeError, "longitude out of [-180,180]: %+v", b)
	}
	if b.MinLat >= b.MaxLat {
		return errors.Wrapf(errs.RangeError, "min lat %f must be less than max lat %f", b.MinLat, b.MaxLat)
	}
	if b.MinLon >= b.MaxLon {
		return errors.Wrapf(errs.RangeError, "min lon %f must be less than max lon %f", b.MinLon, b.MaxLon)
	}
	return nil
}

// Extract reads the database at dbDir and writes every way whose first node
// falls in a grid cell overlapping bbox (so ways just outside bbox but in a
// border cell are included), the nodes those ways reference, and every
// relation beginning in one of the same grid cells, to out in the requested
// format.
func Extract(dbDir string, bbox BBox, out io.Writer, format Format) error {
	if err := bbox.validate(); err != nil {
		return err
	}

	lock, err := lockfile.AcquireShared(filepath.Join(dbDir, load.LockFileName))
	if err != nil {
		return err
	}
	defer lock.Unlock()

	db, err := store.Open(filepath.Join(dbDir, load.EntitiesFileName))
	if err != nil {
		return err
	}
	defer db.Close()

	gridData, err := os.ReadFile(filepath.Join(dbDir, load.GridFileName))
	if err != nil {
		return errors.Wrapf(errs.IoError, "read grid file: %v", err)
	}
	g, err := grid.Decode(gridData)
	if err != nil {
		return errors.Wrap(err, "decoding grid file")
	}

	cells := cellsInBBox(g, bbox)

	wayIDs := collectWays(g, cells)
	ways, nodeIDs, err := loadWaysAndNodeIDs(db, wayIDs)
	if err != nil {
		return err
	}

	relIDs := collectRelations(g, cells)

	sigolo.Infof("extracting %d nodes, %d ways, %d relations", len(nodeIDs), len(wayIDs), len(relIDs))

	switch format {
	case FormatVex:
		return writeVex(db, nodeIDs, wayIDs, ways, out)
	default:
		return writePBF(db, nodeIDs, wayIDs, ways, relIDs, out)
	}
}

func cellsInBBox(g *grid.Grid, bbox BBox) []grid.CellIndex {
	cmin := coord.FromDegrees(bbox.MinLon, bbox.MinLat)
	cmax := coord.FromDegrees(bbox.MaxLon, bbox.MaxLat)
	minX, minY := cmin.CellX(grid.Bits), cmin.CellY(grid.Bits)
	maxX, maxY := cmax.CellX(grid.Bits), cmax.CellY(grid.Bits)

	var out []grid.CellIndex
	for _, cell := range g.Cells() {
		if cell.X < minX || cell.X > maxX || cell.Y < minY || cell.Y > maxY {
			continue
		}
		out = append(out, cell)
	}
	return out
}

func collectWays(g *grid.Grid, cells []grid.CellIndex) []int64 {
	var ids []int64
	for _, cell := range cells {
		g.WaysInCell(cell, func(id int64) bool {
			ids = append(ids, id)
			return true
		})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func collectRelations(g *grid.Grid, cells []grid.CellIndex) []int64 {
	var ids []int64
	for _, cell := range cells {
		g.RelationsInCell(cell, func(id int64) bool {
			ids = append(ids, id)
			return true
		})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// loadWaysAndNodeIDs fetches every way in wayIDs and returns, alongside
// them, the sorted, deduplicated set of node IDs they reference -- the
// "iterate nodes of those ways (unique per ID Tracker)" step of §2's data
// flow.
func loadWaysAndNodeIDs(db *store.DB, wayIDs []int64) ([]entity.Way, []int64, error) {
	tracker := idtracker.New(defaultMaxNodeID)
	ways := make([]entity.Way, len(wayIDs))
	var nodeIDs []int64

	for i, id := range wayIDs {
		w, found, err := db.GetWay(id)
		if err != nil {
			return nil, nil, err
		}
		if !found {
			return nil, nil, errors.Wrapf(errs.MalformedPbf, "grid references way %d not present in store", id)
		}
		ways[i] = w

		for _, ref := range w.Refs {
			if ref < 0 {
				continue
			}
			wasSet, err := tracker.Set(uint64(ref))
			if err != nil {
				return nil, nil, err
			}
			if !wasSet {
				nodeIDs = append(nodeIDs, ref)
			}
		}
	}

	sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i] < nodeIDs[j] })
	return ways, nodeIDs, nil
}

func decodeTags(data []byte) ([]pbf.Tag, error) {
	kvs, _, err := tagcodec.DecodeTagList(data)
	if err != nil {
		return nil, err
	}
	tags := make([]pbf.Tag, len(kvs))
	for i, kv := range kvs {
		tags[i] = pbf.Tag{Key: kv.Key, Value: kv.Value}
	}
	return tags, nil
}

func writePBF(db *store.DB, nodeIDs, wayIDs []int64, ways []entity.Way, relIDs []int64, out io.Writer) error {
	w := pbf.NewWriter(out)
	if err := w.Begin(); err != nil {
		return err
	}

	for _, id := range nodeIDs {
		n, found, err := db.GetNode(id)
		if err != nil {
			return err
		}
		if !found {
			return errors.Wrapf(errs.MalformedPbf, "referenced node %d not present in store", id)
		}
		tags, err := decodeTags(n.Tags)
		if err != nil {
			return errors.Wrapf(err, "decoding tags for node %d", id)
		}
		lonNano, latNano := n.Coord.ToNanodegrees()
		if err := w.WriteNode(id, lonNano, latNano, tags); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for i, id := range wayIDs {
		tags, err := decodeTags(ways[i].Tags)
		if err != nil {
			return errors.Wrapf(err, "decoding tags for way %d", id)
		}
		if err := w.WriteWay(id, ways[i].Refs, tags); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, id := range relIDs {
		r, found, err := db.GetRelation(id)
		if err != nil {
			return err
		}
		if !found {
			continue // best-effort: a relation's grid entry can outlive a store that never held it
		}
		tags, err := decodeTags(r.Tags)
		if err != nil {
			return errors.Wrapf(err, "decoding tags for relation %d", id)
		}
		members := make([]pbf.Member, len(r.Members))
		for i, m := range r.Members {
			members[i] = pbf.Member{Type: m.Type, ID: m.ID, Role: tagcodec.DecodeRole(m.Role)}
		}
		if err := w.WriteRelation(id, members, tags); err != nil {
			return err
		}
	}
	return w.Flush()
}

// writeVex writes the custom binary format, which per §6 carries only
// nodes and ways.
func writeVex(db *store.DB, nodeIDs, wayIDs []int64, ways []entity.Way, out io.Writer) error {
	w := vex.NewWriter(out)

	for _, id := range nodeIDs {
		n, found, err := db.GetNode(id)
		if err != nil {
			return err
		}
		if !found {
			return errors.Wrapf(errs.MalformedPbf, "referenced node %d not present in store", id)
		}
		tags, err := decodeTags(n.Tags)
		if err != nil {
			return errors.Wrapf(err, "decoding tags for node %d", id)
		}
		if err := w.WriteNode(id, n.Coord.X, n.Coord.Y, tags); err != nil {
			return err
		}
	}

	for i, id := range wayIDs {
		tags, err := decodeTags(ways[i].Tags)
		if err != nil {
			return errors.Wrapf(err, "decoding tags for way %d", id)
		}
		if err := w.WriteWay(id, ways[i].Refs, tags); err != nil {
			return err
		}
	}
	return nil
}
