package dump

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"osmstore/internal/load"
	"osmstore/internal/pbf"
)

func TestDumpReportsEntityAndGridCounts(t *testing.T) {
	var buf bytes.Buffer
	w := pbf.NewWriter(&buf)
	if err := w.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := w.WriteNode(1, 13405000000, 52520000000, []pbf.Tag{{Key: "name", Value: "Berlin"}}); err != nil {
		t.Fatalf("WriteNode: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := w.WriteWay(10, []int64{1}, []pbf.Tag{{Key: "highway", Value: "residential"}}); err != nil {
		t.Fatalf("WriteWay: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	inPath := filepath.Join(t.TempDir(), "in.osm.pbf")
	if err := os.WriteFile(inPath, buf.Bytes(), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dbDir := t.TempDir()
	if _, err := load.Load(dbDir, inPath); err != nil {
		t.Fatalf("Load: %v", err)
	}

	var report bytes.Buffer
	if err := Dump(dbDir, &report); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	out := report.String()
	if !strings.Contains(out, "nodes:     1") {
		t.Errorf("expected node count in report, got:\n%s", out)
	}
	if !strings.Contains(out, "ways:      1") {
		t.Errorf("expected way count in report, got:\n%s", out)
	}
	if !strings.Contains(out, "grid:") {
		t.Errorf("expected grid section in report, got:\n%s", out)
	}
}
