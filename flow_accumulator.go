package roadflow

// FlowAccumulator keeps running totals of flow per state. One accumulator is
// owned by at most one lane group and may track several of its states.
type FlowAccumulator struct {
	keys   []StateKey
	amount map[StateKey]float64
}

func NewFlowAccumulator() *FlowAccumulator {
	return &FlowAccumulator{
		keys:   make([]StateKey, 0),
		amount: make(map[StateKey]float64),
	}
}

// AddKey starts tracking the given state. Tracking an already tracked state is a no-op.
func (acc *FlowAccumulator) AddKey(key StateKey) {
	var added bool
	acc.keys, added = insertStateKey(acc.keys, key)
	if added {
		acc.amount[key] = 0
	}
}

func (acc *FlowAccumulator) Keys() []StateKey {
	keys := make([]StateKey, len(acc.keys))
	copy(keys, acc.keys)
	return keys
}

func (acc *FlowAccumulator) Tracks(key StateKey) bool {
	_, ok := acc.amount[key]
	return ok
}

// Increment adds flow to the state's total. Untracked states are ignored.
func (acc *FlowAccumulator) Increment(key StateKey, flow float64) {
	if _, ok := acc.amount[key]; ok {
		acc.amount[key] += flow
	}
}

func (acc *FlowAccumulator) Reset() {
	for key := range acc.amount {
		acc.amount[key] = 0
	}
}

func (acc *FlowAccumulator) ForState(key StateKey) float64 {
	return acc.amount[key]
}

func (acc *FlowAccumulator) ForCommodity(commodityID CommodityID) float64 {
	total := 0.0
	for _, key := range acc.keys {
		if key.CommodityID == commodityID {
			total += acc.amount[key]
		}
	}
	return total
}

func (acc *FlowAccumulator) Total() float64 {
	total := 0.0
	for _, key := range acc.keys {
		total += acc.amount[key]
	}
	return total
}
