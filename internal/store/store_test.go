package store

import (
	"errors"
	"path/filepath"
	"testing"

	"osmstore/internal/coord"
	"osmstore/internal/entity"
	"osmstore/internal/errs"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "entities.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutGetNodeRoundTrip(t *testing.T) {
	db := openTestDB(t)

	n := entity.Node{Coord: coord.FromDegrees(7.5, 51.9), Tags: []byte{0x00}}
	if err := db.PutNode(1, n); err != nil {
		t.Fatalf("PutNode: %v", err)
	}

	got, found, err := db.GetNode(1)
	if err != nil || !found {
		t.Fatalf("GetNode: found=%v err=%v", found, err)
	}
	if got.Coord != n.Coord {
		t.Errorf("coord mismatch: got %v, want %v", got.Coord, n.Coord)
	}
}

func TestPutNodeOutOfOrderRejected(t *testing.T) {
	db := openTestDB(t)

	if err := db.PutNode(5, entity.Node{}); err != nil {
		t.Fatalf("PutNode(5): %v", err)
	}
	err := db.PutNode(5, entity.Node{})
	if !errors.Is(err, errs.OutOfOrderKey) {
		t.Errorf("expected OutOfOrderKey for duplicate id, got %v", err)
	}
	err = db.PutNode(3, entity.Node{})
	if !errors.Is(err, errs.OutOfOrderKey) {
		t.Errorf("expected OutOfOrderKey for descending id, got %v", err)
	}
}

func TestWayRefDeltaRoundTrip(t *testing.T) {
	db := openTestDB(t)

	w := entity.Way{Refs: []int64{100, 105, 90, 90, 200}, Tags: []byte{0x00}}
	if err := db.PutWay(1, w); err != nil {
		t.Fatalf("PutWay: %v", err)
	}

	got, found, err := db.GetWay(1)
	if err != nil || !found {
		t.Fatalf("GetWay: found=%v err=%v", found, err)
	}
	if len(got.Refs) != len(w.Refs) {
		t.Fatalf("ref count mismatch: got %v, want %v", got.Refs, w.Refs)
	}
	for i := range w.Refs {
		if got.Refs[i] != w.Refs[i] {
			t.Errorf("ref[%d]: got %d, want %d", i, got.Refs[i], w.Refs[i])
		}
	}
}

func TestRelationMemberRoundTrip(t *testing.T) {
	db := openTestDB(t)

	r := entity.Relation{
		Members: []entity.Member{
			{Role: 1, Type: entity.MemberWay, ID: 50},
			{Role: 2, Type: entity.MemberWay, ID: 10},
			{Role: 0, Type: entity.MemberNode, ID: 999},
		},
		Tags: []byte{0x00},
	}
	if err := db.PutRelation(1, r); err != nil {
		t.Fatalf("PutRelation: %v", err)
	}

	got, found, err := db.GetRelation(1)
	if err != nil || !found {
		t.Fatalf("GetRelation: found=%v err=%v", found, err)
	}
	if len(got.Members) != len(r.Members) {
		t.Fatalf("member count mismatch: got %v, want %v", got.Members, r.Members)
	}
	for i, m := range r.Members {
		if got.Members[i] != m {
			t.Errorf("member[%d]: got %+v, want %+v", i, got.Members[i], m)
		}
	}
}

func TestForEachNodeIsAscending(t *testing.T) {
	db := openTestDB(t)

	for _, id := range []int64{1, 2, 5, 9, 100} {
		if err := db.PutNode(id, entity.Node{}); err != nil {
			t.Fatalf("PutNode(%d): %v", id, err)
		}
	}

	var seen []int64
	err := db.ForEachNode(func(id int64, n entity.Node) error {
		seen = append(seen, id)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachNode: %v", err)
	}

	want := []int64{1, 2, 5, 9, 100}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("got %v, want %v", seen, want)
		}
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	db := openTestDB(t)

	_, found, err := db.GetNode(42)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if found {
		t.Error("expected found=false for missing node")
	}
}

func TestReopenPreservesLastID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.PutNode(7, entity.Node{}); err != nil {
		t.Fatalf("PutNode: %v", err)
	}
	db.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	err = reopened.PutNode(7, entity.Node{})
	if !errors.Is(err, errs.OutOfOrderKey) {
		t.Errorf("expected reopened db to reject id <= 7, got %v", err)
	}
	if err := reopened.PutNode(8, entity.Node{}); err != nil {
		t.Errorf("PutNode(8) after reopen: %v", err)
	}
}
