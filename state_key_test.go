package roadflow

import (
	"sort"
	"testing"
)

func TestStateKeyOrder(t *testing.T) {
	keys := []StateKey{
		NewPathStateKey(1, 3),
		NewLinkStateKey(2, 1),
		NewLinkStateKey(1, 7),
		NewPathStateKey(1, 2),
		NewLinkStateKey(1, 5),
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	correct := []StateKey{
		NewLinkStateKey(1, 5),
		NewLinkStateKey(1, 7),
		NewLinkStateKey(2, 1),
		NewPathStateKey(1, 2),
		NewPathStateKey(1, 3),
	}
	for i := range correct {
		if keys[i] != correct[i] {
			t.Errorf("Key #%d must be %s, but got %s", i, correct[i], keys[i])
		}
	}
}

func TestStateKeyEquality(t *testing.T) {
	a := StateKey{CommodityID: 1, PathOrLinkID: 4, IsPath: true}
	b := NewPathStateKey(1, 4)
	if a != b {
		t.Errorf("Keys %s and %s must be equal", a, b)
	}
	if a == NewLinkStateKey(1, 4) {
		t.Errorf("Path-keyed and link-keyed states must differ")
	}
	if a.Compare(b) != 0 {
		t.Errorf("Compare of equal keys must be 0, but got %d", a.Compare(b))
	}
}

func TestInsertStateKey(t *testing.T) {
	var keys []StateKey
	var added bool
	for _, key := range []StateKey{NewPathStateKey(1, 1), NewLinkStateKey(3, 1), NewLinkStateKey(1, 1)} {
		keys, added = insertStateKey(keys, key)
		if !added {
			t.Errorf("Key %s must be added", key)
		}
	}
	keys, added = insertStateKey(keys, NewLinkStateKey(3, 1))
	if added {
		t.Errorf("Duplicate key must not be added")
	}
	if len(keys) != 3 || keys[0] != NewLinkStateKey(1, 1) || keys[2] != NewPathStateKey(1, 1) {
		t.Errorf("Unexpected keys order: %v", keys)
	}
}
