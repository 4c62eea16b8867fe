package strtable

import "testing"

func TestEmptyStringAtIndexZero(t *testing.T) {
	tbl := New()
	if tbl.Dedup("") != 0 {
		t.Error("empty string must always be index 0")
	}
}

func TestDedupReturnsStableIndices(t *testing.T) {
	tbl := New()

	a := tbl.Dedup("highway")
	b := tbl.Dedup("residential")
	aAgain := tbl.Dedup("highway")

	if a == b {
		t.Error("distinct strings must get distinct indices")
	}
	if a != aAgain {
		t.Errorf("Dedup should be stable: got %d then %d", a, aAgain)
	}

	strs := tbl.Strings()
	if strs[a] != "highway" || strs[b] != "residential" {
		t.Errorf("Strings() does not reflect assigned indices: %v", strs)
	}
}

func TestClearResetsTable(t *testing.T) {
	tbl := New()
	tbl.Dedup("highway")
	tbl.Clear()

	if len(tbl.Strings()) != 1 {
		t.Errorf("expected only the empty string after Clear, got %v", tbl.Strings())
	}
	if tbl.Dedup("highway") != 1 {
		t.Error("after Clear, a fresh string should get index 1 again")
	}
}
