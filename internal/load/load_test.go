package load

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"osmstore/internal/coord"
	"osmstore/internal/grid"
	"osmstore/internal/pbf"
	"osmstore/internal/store"
)

func writePBF(t *testing.T, fn func(w *pbf.Writer)) string {
	t.Helper()
	var buf bytes.Buffer
	w := pbf.NewWriter(&buf)
	if err := w.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	fn(w)
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	path := filepath.Join(t.TempDir(), "in.osm.pbf")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// S1: single-node roundtrip. A lone node with no referencing way is never
// tracked, so it should not survive the load at all -- the two-pass filter
// only keeps nodes referenced by an accepted way. This test instead checks
// that a node referenced by an accepted way is kept with its coordinates
// intact.
func TestLoadKeepsNodesReferencedByAcceptedWay(t *testing.T) {
	path := writePBF(t, func(w *pbf.Writer) {
		must(t, w.WriteNode(42, 13405000000, 52520000000, []pbf.Tag{{Key: "name", Value: "Berlin"}}))
		must(t, w.Flush())
		must(t, w.WriteWay(1, []int64{42}, []pbf.Tag{{Key: "highway", Value: "residential"}}))
	})

	dbDir := t.TempDir()
	stats, err := Load(dbDir, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stats.NodesLoaded != 1 || stats.WaysLoaded != 1 {
		t.Fatalf("stats: %+v", stats)
	}

	db, err := store.Open(filepath.Join(dbDir, EntitiesFileName))
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	defer db.Close()

	n, found, err := db.GetNode(42)
	if err != nil || !found {
		t.Fatalf("GetNode(42): found=%v err=%v", found, err)
	}
	lonNano, latNano := n.Coord.ToNanodegrees()
	if abs64(lonNano-13405000000) > 10 || abs64(latNano-52520000000) > 10 {
		t.Errorf("coord mismatch: got (%d,%d)", lonNano, latNano)
	}
}

// S2: way with ten nodes, tagged highway=residential, is accepted; all ten
// referenced node IDs are tracked and stored.
func TestLoadAcceptsHighwayWayAndItsNodes(t *testing.T) {
	path := writePBF(t, func(w *pbf.Writer) {
		for i := int64(1); i <= 10; i++ {
			must(t, w.WriteNode(i, i*1000, i*1000, nil))
		}
		must(t, w.Flush())
		refs := make([]int64, 10)
		for i := range refs {
			refs[i] = int64(i + 1)
		}
		must(t, w.WriteWay(100, refs, []pbf.Tag{{Key: "highway", Value: "residential"}}))
	})

	dbDir := t.TempDir()
	stats, err := Load(dbDir, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stats.NodesLoaded != 10 || stats.WaysLoaded != 1 {
		t.Fatalf("stats: %+v", stats)
	}
}

// S3: a way tagged building=yes is rejected; none of its node refs should
// be tracked, and the way itself should not be stored.
func TestLoadRejectsNonHighwayWay(t *testing.T) {
	path := writePBF(t, func(w *pbf.Writer) {
		must(t, w.WriteNode(1, 0, 0, nil))
		must(t, w.WriteNode(2, 0, 0, nil))
		must(t, w.Flush())
		must(t, w.WriteWay(5, []int64{1, 2}, []pbf.Tag{{Key: "building", Value: "yes"}}))
	})

	dbDir := t.TempDir()
	stats, err := Load(dbDir, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stats.WaysLoaded != 0 {
		t.Fatalf("expected the building way to be rejected, got %d ways", stats.WaysLoaded)
	}
	if stats.NodesLoaded != 0 {
		t.Fatalf("expected no nodes tracked for a rejected way, got %d", stats.NodesLoaded)
	}
}

// S4: a way blob preceding a node blob is an ordering violation the reader
// must reject.
func TestLoadRejectsOrderingViolation(t *testing.T) {
	var buf bytes.Buffer
	w := pbf.NewWriter(&buf)
	must(t, w.Begin())
	must(t, w.WriteWay(1, []int64{1}, []pbf.Tag{{Key: "highway", Value: "residential"}}))
	must(t, w.Flush())
	must(t, w.WriteNode(1, 0, 0, nil))
	must(t, w.Flush())

	path := filepath.Join(t.TempDir(), "bad.osm.pbf")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(t.TempDir(), path); err == nil {
		t.Fatal("expected an error for node-after-way ordering violation")
	}
}

// S6: ways planted in distinct cells end up in distinct grid cells after
// load, and each cell's chain holds only its own way.
func TestLoadPopulatesGridByFirstNodeCell(t *testing.T) {
	path := writePBF(t, func(w *pbf.Writer) {
		// Node 1 sits near (10,10), node 2 near (50,50).
		must(t, w.WriteNode(1, 10_000_000_000, 10_000_000_000, nil))
		must(t, w.WriteNode(2, 50_000_000_000, 50_000_000_000, nil))
		must(t, w.Flush())
		must(t, w.WriteWay(10, []int64{1}, []pbf.Tag{{Key: "highway", Value: "residential"}}))
		must(t, w.WriteWay(20, []int64{2}, []pbf.Tag{{Key: "highway", Value: "residential"}}))
	})

	dbDir := t.TempDir()
	if _, err := Load(dbDir, path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dbDir, GridFileName))
	if err != nil {
		t.Fatalf("ReadFile grid: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected a non-empty grid file")
	}

	g, err := grid.Decode(data)
	if err != nil {
		t.Fatalf("Decode grid: %v", err)
	}
	for _, c := range []struct {
		lon, lat float64
		way      int64
	}{{10, 10, 10}, {50, 50, 20}} {
		var got []int64
		g.WaysInCell(grid.CellIndexFor(coord.FromDegrees(c.lon, c.lat)), func(id int64) bool {
			got = append(got, id)
			return true
		})
		if len(got) != 1 || got[0] != c.way {
			t.Errorf("cell of (%v,%v): got ways %v, want [%d]", c.lon, c.lat, got, c.way)
		}
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
