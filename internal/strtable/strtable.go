// Package strtable implements the per-block string table the PBF writer
// needs: it assigns each distinct string (tag key, tag value, relation
// role) a stable index and emits the deduplicated table for inclusion in a
// PrimitiveBlock, exactly as every PBF block requires its own string table.
//
// The dedup mechanism (reverse map from string to index, parallel ordered
// slice for encode) mirrors the teacher's TagIndex keyReverseMap/keyMap
// pairing in index/tag.go, scoped to one block's lifetime instead of one
// file's.
package strtable

// Table is a single PBF block's string table under construction.
type Table struct {
	strings []string
	index   map[string]uint32
}

// New returns a freshly initialized table with the empty string at index 0,
// per PBF convention.
func New() *Table {
	t := &Table{}
	t.Init()
	return t
}

// Init (re)starts the table with only the empty string at index 0.
func (t *Table) Init() {
	t.strings = []string{""}
	t.index = map[string]uint32{"": 0}
}

// Dedup returns the existing index for s, or appends it and returns the new
// index.
func (t *Table) Dedup(s string) uint32 {
	if idx, ok := t.index[s]; ok {
		return idx
	}
	idx := uint32(len(t.strings))
	t.strings = append(t.strings, s)
	t.index[s] = idx
	return idx
}

// Strings returns the table's strings in index order, suitable for packing
// into a PrimitiveBlock's stringtable field.
func (t *Table) Strings() []string {
	return t.strings
}

// Clear resets the table for the next block.
func (t *Table) Clear() {
	t.Init()
}
