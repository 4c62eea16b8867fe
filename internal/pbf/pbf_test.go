package pbf

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"osmstore/internal/entity"
	"osmstore/internal/errs"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.osm.pbf")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestNodeWayRelationRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if err := w.WriteNode(1, 134050000, 525200000, []Tag{{Key: "name", Value: "Berlin"}}); err != nil {
		t.Fatalf("WriteNode: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush after nodes: %v", err)
	}

	if err := w.WriteWay(10, []int64{1}, []Tag{{Key: "highway", Value: "residential"}}); err != nil {
		t.Fatalf("WriteWay: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush after ways: %v", err)
	}

	if err := w.WriteRelation(100, []Member{{Type: entity.MemberWay, ID: 10, Role: "outer"}}, nil); err != nil {
		t.Fatalf("WriteRelation: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("final Flush: %v", err)
	}

	path := writeTempFile(t, buf.Bytes())

	var gotNodes []int64
	var gotWays []int64
	var gotRels []int64
	var wayRefs []int64
	var relMembers []Member

	r, err := Open(path, Callbacks{
		Node: func(id int64, lonNano, latNano int64, tags []Tag) error {
			gotNodes = append(gotNodes, id)
			if lonNano != 134050000 || latNano != 525200000 {
				t.Errorf("node %d coords: got (%d,%d)", id, lonNano, latNano)
			}
			return nil
		},
		Way: func(id int64, refs []int64, tags []Tag) error {
			gotWays = append(gotWays, id)
			wayRefs = append(wayRefs, refs...)
			return nil
		},
		Relation: func(id int64, members []Member, tags []Tag) error {
			gotRels = append(gotRels, id)
			relMembers = append(relMembers, members...)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(gotNodes) != 1 || gotNodes[0] != 1 {
		t.Errorf("nodes: got %v, want [1]", gotNodes)
	}
	if len(gotWays) != 1 || gotWays[0] != 10 {
		t.Errorf("ways: got %v, want [10]", gotWays)
	}
	if len(wayRefs) != 1 || wayRefs[0] != 1 {
		t.Errorf("way refs: got %v, want [1]", wayRefs)
	}
	if len(gotRels) != 1 || gotRels[0] != 100 {
		t.Errorf("relations: got %v, want [100]", gotRels)
	}
	if len(relMembers) != 1 || relMembers[0].ID != 10 || relMembers[0].Role != "outer" {
		t.Errorf("relation members: got %+v", relMembers)
	}
}

func TestOrderingViolationIsMalformed(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := w.WriteWay(1, []int64{1}, nil); err != nil {
		t.Fatalf("WriteWay: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := w.WriteNode(1, 0, 0, nil); err != nil {
		t.Fatalf("WriteNode: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	path := writeTempFile(t, buf.Bytes())
	r, err := Open(path, Callbacks{
		Node: func(int64, int64, int64, []Tag) error { return nil },
		Way:  func(int64, []int64, []Tag) error { return nil },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	err = r.Run()
	if !errors.Is(err, errs.MalformedPbf) {
		t.Errorf("expected MalformedPbf for node-after-way, got %v", err)
	}
}

func TestFastForwardSkipsUninterestingPhase(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	const nodeBlobCount = 2000
	for i := int64(1); i <= nodeBlobCount; i++ {
		if err := w.WriteNode(i, 0, 0, nil); err != nil {
			t.Fatalf("WriteNode(%d): %v", i, err)
		}
		if err := w.Flush(); err != nil {
			t.Fatalf("Flush node %d: %v", i, err)
		}
	}
	if err := w.WriteWay(5000, []int64{1, 2}, nil); err != nil {
		t.Fatalf("WriteWay: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush way: %v", err)
	}

	path := writeTempFile(t, buf.Bytes())

	wayCalls := 0
	r, err := Open(path, Callbacks{
		Way: func(id int64, refs []int64, tags []Tag) error {
			wayCalls++
			if id != 5000 {
				t.Errorf("unexpected way id %d", id)
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if wayCalls != 1 {
		t.Errorf("expected exactly 1 way callback, got %d", wayCalls)
	}
}

func TestNoApplicableCallbackStopsAfterPhaseTransition(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := w.WriteNode(1, 0, 0, nil); err != nil {
		t.Fatalf("WriteNode: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := w.WriteWay(2, []int64{1}, nil); err != nil {
		t.Fatalf("WriteWay: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	path := writeTempFile(t, buf.Bytes())
	nodeCalls := 0
	r, err := Open(path, Callbacks{
		Node: func(int64, int64, int64, []Tag) error { nodeCalls++; return nil },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if err := r.Run(); err != nil {
		t.Fatalf("Run should terminate cleanly once the way phase has no callback: %v", err)
	}
	if nodeCalls != 1 {
		t.Errorf("expected 1 node callback, got %d", nodeCalls)
	}
}

func TestManyElementsSpanMultipleBlocks(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	const n = maxBlockElements + 10
	for i := int64(1); i <= n; i++ {
		if err := w.WriteNode(i, i, i, nil); err != nil {
			t.Fatalf("WriteNode(%d): %v", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	path := writeTempFile(t, buf.Bytes())
	count := 0
	r, err := Open(path, Callbacks{
		Node: func(id int64, lonNano, latNano int64, tags []Tag) error {
			count++
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != n {
		t.Errorf("got %d nodes, want %d", count, n)
	}
}
