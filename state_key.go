package roadflow

import "fmt"

// StateKey identifies one flow stream: a commodity either following a fixed path
// (IsPath == true, PathOrLinkID is a PathID) or routed hop-by-hop by the id of
// the next link it has to take.
type StateKey struct {
	CommodityID  CommodityID
	PathOrLinkID int
	IsPath       bool
}

func NewPathStateKey(commodityID CommodityID, pathID PathID) StateKey {
	return StateKey{CommodityID: commodityID, PathOrLinkID: int(pathID), IsPath: true}
}

func NewLinkStateKey(commodityID CommodityID, linkID LinkID) StateKey {
	return StateKey{CommodityID: commodityID, PathOrLinkID: int(linkID), IsPath: false}
}

// Compare returns -1, 0 or 1. Link-keyed states sort before path-keyed ones,
// ties break by commodity id and then by path-or-link id.
func (key StateKey) Compare(that StateKey) int {
	if key.IsPath != that.IsPath {
		if key.IsPath {
			return 1
		}
		return -1
	}
	if key.CommodityID != that.CommodityID {
		if key.CommodityID > that.CommodityID {
			return 1
		}
		return -1
	}
	if key.PathOrLinkID != that.PathOrLinkID {
		if key.PathOrLinkID > that.PathOrLinkID {
			return 1
		}
		return -1
	}
	return 0
}

func (key StateKey) Less(that StateKey) bool {
	return key.Compare(that) < 0
}

func (key StateKey) String() string {
	if key.IsPath {
		return fmt.Sprintf("c%d/p%d", key.CommodityID, key.PathOrLinkID)
	}
	return fmt.Sprintf("c%d/l%d", key.CommodityID, key.PathOrLinkID)
}

// insertStateKey adds key into sorted keys if it is not there yet
func insertStateKey(keys []StateKey, key StateKey) ([]StateKey, bool) {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid].Less(key) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(keys) && keys[lo] == key {
		return keys, false
	}
	keys = append(keys, StateKey{})
	copy(keys[lo+1:], keys[lo:])
	keys[lo] = key
	return keys, true
}
