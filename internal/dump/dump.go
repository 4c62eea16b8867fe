// Package dump writes a plain-text summary of a database's Entity Store and
// Spatial Grid contents: entity counts, a handful of sample records per
// bucket, and a per-cell way/relation occupancy count. It exists purely as a
// debugging aid invoked by the dump CLI command; nothing under internal/load
// or internal/extract depends on it.
//
// Grounded on the teacher's index.WriteFeaturesAsGeoJsonFile (gather data,
// then format it to an io.Writer) and on its grid.go package comment style
// for describing the cell layout being dumped.
package dump

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"osmstore/internal/entity"
	"osmstore/internal/grid"
	"osmstore/internal/load"
	"osmstore/internal/lockfile"
	"osmstore/internal/store"
	"osmstore/internal/tagcodec"

	"os"
)

// maxSampleRecords bounds how many sample entities are printed per bucket so
// a dump of a planet-sized store stays readable.
const maxSampleRecords = 5

// Dump writes a textual report of the database at dbDir to out.
func Dump(dbDir string, out io.Writer) error {
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

	if err := dumpEntities(db, out); err != nil {
		return err
	}

	gridData, err := os.ReadFile(filepath.Join(dbDir, load.GridFileName))
	if err != nil {
		fmt.Fprintf(out, "\ngrid: unavailable (%v)\n", err)
		return nil
	}
	g, err := grid.Decode(gridData)
	if err != nil {
		return err
	}
	return dumpGrid(g, out)
}

func dumpEntities(db *store.DB, out io.Writer) error {
	var nodeCount, wayCount, relCount int64
	var nodeSamples []string
	var waySamples []string
	var relSamples []string

	err := db.ForEachNode(func(id int64, n entity.Node) error {
		nodeCount++
		if len(nodeSamples) < maxSampleRecords {
			lon, lat := n.Coord.Lon(), n.Coord.Lat()
			kvs, _, _ := tagcodec.DecodeTagList(n.Tags)
			nodeSamples = append(nodeSamples, fmt.Sprintf("  node %d (%.7f, %.7f) tags=%d", id, lon, lat, len(kvs)))
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = db.ForEachWay(func(id int64, w entity.Way) error {
		wayCount++
		if len(waySamples) < maxSampleRecords {
			waySamples = append(waySamples, fmt.Sprintf("  way %d refs=%d", id, len(w.Refs)))
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = db.ForEachRelation(func(id int64, r entity.Relation) error {
		relCount++
		if len(relSamples) < maxSampleRecords {
			relSamples = append(relSamples, fmt.Sprintf("  relation %d members=%d", id, len(r.Members)))
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "entities:\n")
	fmt.Fprintf(out, " nodes:     %d\n", nodeCount)
	for _, s := range nodeSamples {
		fmt.Fprintln(out, s)
	}
	fmt.Fprintf(out, " ways:      %d\n", wayCount)
	for _, s := range waySamples {
		fmt.Fprintln(out, s)
	}
	fmt.Fprintf(out, " relations: %d\n", relCount)
	for _, s := range relSamples {
		fmt.Fprintln(out, s)
	}
	return nil
}

func dumpGrid(g *grid.Grid, out io.Writer) error {
	cells := g.Cells()
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].X != cells[j].X {
			return cells[i].X < cells[j].X
		}
		return cells[i].Y < cells[j].Y
	})

	fmt.Fprintf(out, "\ngrid: %d populated cells (of %d x %d)\n", len(cells), grid.Dim, grid.Dim)

	shown := 0
	for _, cell := range cells {
		if shown >= maxSampleRecords {
			fmt.Fprintf(out, "  ... %d more cells\n", len(cells)-shown)
			break
		}
		var wayCount, relCount int
		g.WaysInCell(cell, func(int64) bool { wayCount++; return true })
		g.RelationsInCell(cell, func(int64) bool { relCount++; return true })
		fmt.Fprintf(out, "  cell (%d,%d): %d ways, %d relations\n", cell.X, cell.Y, wayCount, relCount)
		shown++
	}
	return nil
}
