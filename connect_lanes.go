package roadflow

import (
	"sort"

	"github.com/paulmach/orb"
)

const (
	defaultRightMostLanes = 1
	defaultLeftMostLanes  = 1
)

// laneRange is an inclusive 1-based lane range
type laneRange struct {
	from int
	to   int
}

type connectionPair struct {
	in  laneRange
	out laneRange
}

// linkEnd is a link as seen from the node: lanes and euclidean geometry
type linkEnd struct {
	geom  orb.LineString
	lanes int
}

// sortedByAngle returns indices of links ordered from the leftmost turn to the rightmost one
func sortedByAngle(angles []float64) []int {
	indices := make([]int, len(angles))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool {
		return angles[indices[i]] > angles[indices[j]]
	})
	return indices
}

// getIntersectionsConnections distributes lanes of the incoming link among
// outcoming links. Lane 1 is the leftmost one. Leftmost turn gets the left
// lanes, rightmost turn gets the right lanes and the remaining turns share the
// middle. Result is indexed as outcoming.
func getIntersectionsConnections(incoming linkEnd, outcoming []linkEnd) []connectionPair {
	angles := make([]float64, len(outcoming))
	for i, out := range outcoming {
		angles[i] = angleBetweenLines(incoming.geom, out.geom)
	}
	order := sortedByAngle(angles)

	connections := make([]connectionPair, len(outcoming))
	inLanes := incoming.lanes
	if inLanes == 1 {
		left := order[0]
		connections[left] = connectionPair{laneRange{1, 1}, laneRange{1, 1}}
		for _, idx := range order[1:] {
			last := outcoming[idx].lanes
			connections[idx] = connectionPair{laneRange{1, 1}, laneRange{last, last}}
		}
		return connections
	}

	switch len(order) {
	case 1:
		// Full connection
		idx := order[0]
		n := min(inLanes, outcoming[idx].lanes)
		connections[idx] = connectionPair{laneRange{1, n}, laneRange{1, n}}
	case 2:
		// Default right, remaining left
		left := order[0]
		n := min(inLanes-defaultRightMostLanes, outcoming[left].lanes)
		connections[left] = connectionPair{laneRange{1, n}, laneRange{1, n}}
		right := order[1]
		rightLanes := outcoming[right].lanes
		connections[right] = connectionPair{
			laneRange{inLanes - defaultRightMostLanes + 1, inLanes},
			laneRange{rightLanes - defaultRightMostLanes + 1, rightLanes},
		}
	default:
		// Default left, default right, remaining middle
		left := order[0]
		connections[left] = connectionPair{laneRange{1, defaultLeftMostLanes}, laneRange{1, defaultLeftMostLanes}}

		middle := order[1 : len(order)-1]
		remaining := inLanes - defaultLeftMostLanes - defaultRightMostLanes
		switch {
		case remaining >= len(middle):
			// Round robin of the remaining lanes while middle links can take them
			assigned := make([]int, len(middle))
			capacity := make([]int, len(middle))
			free := 0
			for i, idx := range middle {
				capacity[i] = outcoming[idx].lanes
				free += capacity[i]
			}
			for remaining > 0 && free > 0 {
				for i := range middle {
					if capacity[i] == 0 || remaining == 0 {
						continue
					}
					capacity[i]--
					assigned[i]++
					remaining--
					free--
				}
			}
			lane := defaultLeftMostLanes + 1
			for i, idx := range middle {
				outLanes := outcoming[idx].lanes
				connections[idx] = connectionPair{
					laneRange{lane, lane + assigned[i] - 1},
					laneRange{outLanes - assigned[i] + 1, outLanes},
				}
				lane += assigned[i]
			}
		case inLanes < len(middle):
			// Not enough lanes: one lane per middle link, the rest share the rightmost lane
			for i, idx := range middle {
				lane := i + 1
				if lane > inLanes {
					lane = inLanes
				}
				outLanes := outcoming[idx].lanes
				connections[idx] = connectionPair{laneRange{lane, lane}, laneRange{outLanes, outLanes}}
			}
		default:
			lane := 1
			if inLanes-defaultLeftMostLanes == len(middle) {
				lane = defaultLeftMostLanes + 1
			}
			for _, idx := range middle {
				outLanes := outcoming[idx].lanes
				connections[idx] = connectionPair{laneRange{lane, lane}, laneRange{outLanes, outLanes}}
				lane++
			}
		}
		right := order[len(order)-1]
		rightLanes := outcoming[right].lanes
		connections[right] = connectionPair{
			laneRange{inLanes - defaultRightMostLanes + 1, inLanes},
			laneRange{rightLanes - defaultRightMostLanes + 1, rightLanes},
		}
	}
	return connections
}

// getSpansConnections joins several incoming links to a single outcoming
// one. The leftmost incoming link feeds the left lanes, the others feed the
// right lanes. Result is indexed as incoming.
func getSpansConnections(outcoming linkEnd, incoming []linkEnd) []connectionPair {
	angles := make([]float64, len(incoming))
	for i, in := range incoming {
		angles[i] = angleBetweenLines(in.geom, outcoming.geom)
	}
	order := sortedByAngle(angles)

	connections := make([]connectionPair, len(incoming))
	outLanes := outcoming.lanes
	left := order[0]
	leftLanes := incoming[left].lanes
	n := min(outLanes, leftLanes)
	connections[left] = connectionPair{laneRange{leftLanes - n + 1, leftLanes}, laneRange{1, n}}
	for _, idx := range order[1:] {
		inLanes := incoming[idx].lanes
		n := min(outLanes, inLanes)
		connections[idx] = connectionPair{laneRange{1, n}, laneRange{outLanes - n + 1, outLanes}}
	}
	return connections
}
